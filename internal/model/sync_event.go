package model

import "strings"

type SyncKind string

const (
	SyncCreated SyncKind = "created"
	SyncUpdated SyncKind = "updated"
	SyncDeleted SyncKind = "deleted"
)

// ParseSyncKind accepts both "created" and provider-style "user.created".
func ParseSyncKind(s string) (SyncKind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "user.")
	switch SyncKind(s) {
	case SyncCreated, SyncUpdated, SyncDeleted:
		return SyncKind(s), true
	default:
		return "", false
	}
}

// SyncEvent is the payload of an identity-provider event (Kafka topic identity.sync).
type SyncEvent struct {
	ExternalRef string   `json:"external_ref"`
	Email       string   `json:"email,omitempty"`
	FullName    string   `json:"full_name,omitempty"`
	AvatarURL   string   `json:"avatar_url,omitempty"`
	Kind        SyncKind `json:"kind"`
}
