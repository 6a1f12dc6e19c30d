package model

import (
	"database/sql"
	"time"
)

type CredentialState string

const (
	CredentialActive  CredentialState = "active"
	CredentialRotated CredentialState = "rotated"
	CredentialRevoked CredentialState = "revoked"
)

func (s CredentialState) String() string { return string(s) }

// Terminal reports whether no further transition is allowed out of s.
func (s CredentialState) Terminal() bool {
	return s == CredentialRotated || s == CredentialRevoked
}

// CanTransition reports whether a credential may move from s to next.
func (s CredentialState) CanTransition(next CredentialState) bool {
	return s == CredentialActive && next.Terminal()
}

// Credential is the persisted record of an issued secret. Only the hash is stored.
type Credential struct {
	ID            int64           `db:"id"`
	IdentityID    int64           `db:"identity_id"`
	KeyHash       string          `db:"key_hash"`
	KeyPrefix     string          `db:"key_prefix"`
	Name          string          `db:"name"`
	State         CredentialState `db:"state"`
	IsActive      bool            `db:"is_active"`
	SupersededBy  sql.NullInt64   `db:"superseded_by"`
	DailyLimit    int64           `db:"daily_limit"`
	RequestsToday int64           `db:"requests_today"`
	LastResetAt   time.Time       `db:"last_reset_at"`
	ExpiresAt     sql.NullTime    `db:"expires_at"`
	LastUsedAt    sql.NullTime    `db:"last_used_at"`
	CreatedAt     time.Time       `db:"created_at"`
}

// Live reports whether the credential may authenticate at now.
func (c Credential) Live(now time.Time) bool {
	if !c.IsActive || c.State != CredentialActive {
		return false
	}
	if c.ExpiresAt.Valid && !now.Before(c.ExpiresAt.Time) {
		return false
	}
	return true
}

// CredentialGrant is a credential joined with the owner fields needed to build a Verdict.
type CredentialGrant struct {
	Credential
	ExternalRef    string         `db:"external_ref"`
	Tier           Tier           `db:"tier"`
	Role           Role           `db:"role"`
	IdentityStatus IdentityStatus `db:"identity_status"`
}

// Verdict returns the cacheable authorization fact for the grant.
func (g CredentialGrant) Verdict() Verdict {
	v := Verdict{
		IdentityID:   g.IdentityID,
		ExternalRef:  g.ExternalRef,
		CredentialID: g.ID,
		Tier:         g.Tier,
		Role:         g.Role,
	}
	if g.ExpiresAt.Valid {
		exp := g.ExpiresAt.Time
		v.ExpiresAt = &exp
	}
	return v
}
