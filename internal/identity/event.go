package identity

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/Utkarshchaudhary009/Docverse/internal/util"
)

type wireEvent struct {
	ExternalRef string `json:"external_ref"`
	Email       string `json:"email"`
	FullName    string `json:"full_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	AvatarURL   string `json:"avatar_url"`
	Kind        string `json:"kind"`
}

// DecodeEvent parses an identity-provider event. Kinds may carry a "user." prefix, and a
// display name may come as first/last name instead of full_name.
func DecodeEvent(b []byte) (model.SyncEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return model.SyncEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	kind, ok := model.ParseSyncKind(w.Kind)
	if !ok {
		return model.SyncEvent{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, w.Kind)
	}
	ref := strings.TrimSpace(w.ExternalRef)
	if ref == "" {
		return model.SyncEvent{}, fmt.Errorf("%w: missing external_ref", ErrInvalidEvent)
	}

	name := strings.TrimSpace(w.FullName)
	if name == "" {
		name = util.FullName(w.FirstName, w.LastName)
	}
	return model.SyncEvent{
		ExternalRef: ref,
		Email:       w.Email,
		FullName:    name,
		AvatarURL:   strings.TrimSpace(w.AvatarURL),
		Kind:        kind,
	}, nil
}
