package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHUsageRepository mirrors usage records into ClickHouse for reporting.
type CHUsageRepository interface {
	InsertBatch(ctx context.Context, recs []model.UsageRecord) error
	DailyCounts(ctx context.Context, identityID int64, from, to time.Time) ([]model.DailyUsage, error)
}

type chUsageRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHUsageRepository(ch *sqlx.DB) CHUsageRepository {
	return &chUsageRepository{ch: ch}
}

// InsertBatch sends recs as one ClickHouse block. The table is a ReplacingMergeTree keyed by
// request_id, so re-sent records collapse on merge and FINAL reads.
func (r *chUsageRepository) InsertBatch(ctx context.Context, recs []model.UsageRecord) error {
	if len(recs) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO docverse.usage_records
		    (request_id, identity_id, credential_id, occurred_at, status, endpoint, duration_ms, origin)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, rec := range recs {
		if _, err := stmt.ExecContext(ctx,
			rec.RequestID, rec.IdentityID, rec.CredentialID, rec.OccurredAt.UTC(),
			int32(rec.Status), rec.Endpoint, rec.DurationMs, rec.Origin,
		); err != nil {
			return fmt.Errorf("append batch row: %w", err)
		}
	}
	return tx.Commit()
}

func (r *chUsageRepository) DailyCounts(ctx context.Context, identityID int64, from, to time.Time) ([]model.DailyUsage, error) {
	var rows []model.DailyUsage
	if err := r.ch.SelectContext(ctx, &rows, `
		SELECT toStartOfDay(occurred_at) AS day,
		       count()                   AS requests,
		       countIf(status = 429)     AS rejected
		  FROM docverse.usage_records FINAL
		 WHERE identity_id = ? AND occurred_at >= ? AND occurred_at < ?
		 GROUP BY day
		 ORDER BY day
	`, identityID, from.UTC(), to.UTC()); err != nil {
		return nil, err
	}
	return rows, nil
}
