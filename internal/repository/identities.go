package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/jmoiron/sqlx"
)

type IdentitiesRepository interface {
	GetByID(ctx context.Context, id int64) (*model.Identity, error)
	GetByExternalRef(ctx context.Context, ref string) (*model.Identity, error)
	GetByEmail(ctx context.Context, email string) (*model.Identity, error)
	Create(ctx context.Context, ident model.Identity) (int64, error)
	UpdateProfile(ctx context.Context, ident model.Identity) error
	Delete(ctx context.Context, id int64) (bool, error)
	UpdateTier(ctx context.Context, id int64, tier model.Tier, dailyLimit int64) error
	ResetDaily(ctx context.Context) (int64, error)
	ResetMonthly(ctx context.Context) (int64, error)
}

type IdentitiesRepositoryImpl struct {
	db *sqlx.DB
}

func NewIdentitiesRepository(db *sqlx.DB) *IdentitiesRepositoryImpl {
	return &IdentitiesRepositoryImpl{db: db}
}

var _ IdentitiesRepository = (*IdentitiesRepositoryImpl)(nil)

const identityColumns = `
	id, external_ref, email, full_name, avatar_url, tier, status, role,
	monthly_request_limit, monthly_requests_used, daily_request_limit, daily_requests_used,
	reset_at, created_at, updated_at`

func (r *IdentitiesRepositoryImpl) getOne(ctx context.Context, where string, arg any) (*model.Identity, error) {
	var ident model.Identity
	err := r.db.GetContext(ctx, &ident, `SELECT `+identityColumns+` FROM identities WHERE `+where+` LIMIT 1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// GetByID returns nil, nil when the identity does not exist.
func (r *IdentitiesRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.Identity, error) {
	return r.getOne(ctx, "id = ?", id)
}

func (r *IdentitiesRepositoryImpl) GetByExternalRef(ctx context.Context, ref string) (*model.Identity, error) {
	return r.getOne(ctx, "external_ref = ?", ref)
}

func (r *IdentitiesRepositoryImpl) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return r.getOne(ctx, "email = ?", email)
}

// Create inserts an identity. A concurrent insert of the same external_ref resolves to the
// existing row, whose id is returned. A zero DailyRequestLimit takes the tier table's.
func (r *IdentitiesRepositoryImpl) Create(ctx context.Context, ident model.Identity) (int64, error) {
	policy := ident.Tier.Policy()
	if ident.DailyRequestLimit > 0 {
		policy.DailyLimit = ident.DailyRequestLimit
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO identities
		    (external_ref, email, full_name, avatar_url, tier, status, role,
		     monthly_request_limit, monthly_requests_used, daily_request_limit, daily_requests_used,
		     reset_at, created_at, updated_at)
		VALUES
		    (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, NOW(), NOW(), NOW())
		ON DUPLICATE KEY UPDATE id = LAST_INSERT_ID(id)
	`, ident.ExternalRef, ident.Email, ident.FullName, ident.AvatarURL, ident.Tier, ident.Status, ident.Role,
		policy.MonthlyLimit, policy.DailyLimit)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateProfile rewrites the provider-owned fields. Tier, role and counters are untouched.
func (r *IdentitiesRepositoryImpl) UpdateProfile(ctx context.Context, ident model.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE identities
		   SET external_ref = ?, email = ?, full_name = ?, avatar_url = ?, updated_at = NOW()
		 WHERE id = ?
	`, ident.ExternalRef, ident.Email, ident.FullName, ident.AvatarURL, ident.ID)
	return err
}

// Delete removes the identity; credentials go with it through ON DELETE CASCADE.
func (r *IdentitiesRepositoryImpl) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// UpdateTier moves the identity and every one of its credentials to tier with dailyLimit as
// the daily ceiling, in one transaction, so no credential keeps a stale ceiling once it commits.
func (r *IdentitiesRepositoryImpl) UpdateTier(ctx context.Context, id int64, tier model.Tier, dailyLimit int64) error {
	policy := tier.Policy()
	policy.DailyLimit = dailyLimit
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE identities
			   SET tier = ?, daily_request_limit = ?, monthly_request_limit = ?, updated_at = NOW()
			 WHERE id = ?
		`, tier, policy.DailyLimit, policy.MonthlyLimit, id)
		if err != nil {
			return fmt.Errorf("update identity tier: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists int
			if err := tx.GetContext(ctx, &exists, `SELECT 1 FROM identities WHERE id = ?`, id); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return ErrNotFound
				}
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE credentials SET daily_limit = ? WHERE identity_id = ?
		`, policy.DailyLimit, id); err != nil {
			return fmt.Errorf("update credential ceilings: %w", err)
		}
		return nil
	})
}

func (r *IdentitiesRepositoryImpl) ResetDaily(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities SET daily_requests_used = 0, updated_at = NOW() WHERE daily_requests_used > 0
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *IdentitiesRepositoryImpl) ResetMonthly(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE identities SET monthly_requests_used = 0, reset_at = NOW(), updated_at = NOW()
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
