package model

import "time"

type IdentityStatus string

const (
	IdentityActive    IdentityStatus = "active"
	IdentitySuspended IdentityStatus = "suspended"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the principal owning credentials and accruing usage.
type Identity struct {
	ID                  int64          `db:"id"`
	ExternalRef         string         `db:"external_ref"` // identity-provider user id
	Email               string         `db:"email"`
	FullName            string         `db:"full_name"`
	AvatarURL           string         `db:"avatar_url"`
	Tier                Tier           `db:"tier"`
	Status              IdentityStatus `db:"status"`
	Role                Role           `db:"role"`
	MonthlyRequestLimit int64          `db:"monthly_request_limit"`
	MonthlyRequestsUsed int64          `db:"monthly_requests_used"`
	DailyRequestLimit   int64          `db:"daily_request_limit"`
	DailyRequestsUsed   int64          `db:"daily_requests_used"`
	ResetAt             time.Time      `db:"reset_at"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

func (i Identity) Active() bool { return i.Status == IdentityActive }
