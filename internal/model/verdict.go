package model

import "time"

// Verdict is the derived fact "this credential maps to identity X on tier T".
// It has the same shape whether it came from the cache or the store.
type Verdict struct {
	IdentityID   int64  `json:"identity_id"`
	ExternalRef  string `json:"external_ref"`
	CredentialID int64  `json:"credential_id"`
	Tier         Tier   `json:"tier"`
	Role         Role   `json:"role"`
	// ExpiresAt is set when the credential itself expires.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (v Verdict) IsAdmin() bool { return v.Role == RoleAdmin }

// Expired reports whether the underlying credential has expired at now.
func (v Verdict) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && !now.Before(*v.ExpiresAt)
}
