package model

import "time"

// UsageRecord is the immutable audit entry of one processed request.
// RequestID is the idempotency key.
type UsageRecord struct {
	RequestID    string    `db:"request_id"    json:"request_id"`
	IdentityID   int64     `db:"identity_id"   json:"identity_id"`
	CredentialID int64     `db:"credential_id" json:"credential_id"`
	OccurredAt   time.Time `db:"occurred_at"   json:"occurred_at"`
	Status       int       `db:"status"        json:"status"`
	Endpoint     string    `db:"endpoint"      json:"endpoint"`
	DurationMs   int64     `db:"duration_ms"   json:"duration_ms"`
	Origin       string    `db:"origin"        json:"origin"` // client ip
}

// DailyUsage is one row of the per-day aggregate report.
type DailyUsage struct {
	Day      time.Time `db:"day"      json:"day"`
	Requests uint64    `db:"requests" json:"requests"`
	Rejected uint64    `db:"rejected" json:"rejected"`
}
