package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/jmoiron/sqlx"
)

// UsageRepository persists the append-only audit trail and the counters derived from it.
type UsageRepository interface {
	Append(ctx context.Context, rec model.UsageRecord) (bool, error)
	ApplyCounters(ctx context.Context, rec model.UsageRecord) (bool, error)
	ListByIdentity(ctx context.Context, identityID int64, from, to time.Time, limit, offset int) ([]model.UsageRecord, error)
}

type UsageRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsageRepository(db *sqlx.DB) *UsageRepositoryImpl {
	return &UsageRepositoryImpl{db: db}
}

var _ UsageRepository = (*UsageRepositoryImpl)(nil)

// Append writes the record once. A replay of the same request_id is ignored and reported
// as (false, nil).
func (r *UsageRepositoryImpl) Append(ctx context.Context, rec model.UsageRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT IGNORE INTO usage_records
		    (request_id, identity_id, credential_id, occurred_at, status, endpoint, duration_ms, origin, counted)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, 0)
	`, rec.RequestID, rec.IdentityID, rec.CredentialID, rec.OccurredAt.UTC(), rec.Status, rec.Endpoint, rec.DurationMs, rec.Origin)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ApplyCounters increments identity and credential counters for an appended record.
// The counted flag flips in the same transaction as the increments, so a retry after a
// partial failure or a replay of the record cannot count twice. Returns false when the
// record was already counted (or never appended).
func (r *UsageRepositoryImpl) ApplyCounters(ctx context.Context, rec model.UsageRecord) (bool, error) {
	applied := false
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE usage_records SET counted = 1 WHERE request_id = ? AND counted = 0
		`, rec.RequestID)
		if err != nil {
			return fmt.Errorf("flip counted: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE identities
			   SET monthly_requests_used = monthly_requests_used + 1,
			       daily_requests_used   = daily_requests_used + 1
			 WHERE id = ?
		`, rec.IdentityID); err != nil {
			return fmt.Errorf("identity counters: %w", err)
		}

		ts := rec.OccurredAt.UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE credentials
			   SET requests_today = requests_today + 1,
			       last_used_at   = GREATEST(COALESCE(last_used_at, ?), ?)
			 WHERE id = ?
		`, ts, ts, rec.CredentialID); err != nil {
			return fmt.Errorf("credential counters: %w", err)
		}

		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ListByIdentity returns records in [from, to), newest first.
func (r *UsageRepositoryImpl) ListByIdentity(ctx context.Context, identityID int64, from, to time.Time, limit, offset int) ([]model.UsageRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var rows []model.UsageRecord
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT request_id, identity_id, credential_id, occurred_at, status, endpoint, duration_ms, origin
		  FROM usage_records
		 WHERE identity_id = ? AND occurred_at >= ? AND occurred_at < ?
		 ORDER BY occurred_at DESC
		 LIMIT ? OFFSET ?
	`, identityID, from.UTC(), to.UTC(), limit, offset); err != nil {
		return nil, err
	}
	return rows, nil
}
