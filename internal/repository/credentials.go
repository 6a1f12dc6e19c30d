package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/jmoiron/sqlx"
)

// CredentialsRepository is the durable credential store. Lookups go through the unique
// key_hash index; the plaintext secret never reaches this layer.
type CredentialsRepository interface {
	Create(ctx context.Context, c model.Credential) (int64, error)
	LookupByHash(ctx context.Context, hash string) (*model.CredentialGrant, error)
	GetForIdentity(ctx context.Context, identityID, id int64) (*model.Credential, error)
	ListByIdentity(ctx context.Context, identityID int64) ([]model.Credential, error)
	HashesByIdentity(ctx context.Context, identityID int64) ([]string, error)
	Rotate(ctx context.Context, oldID int64, next model.Credential) (int64, error)
	Revoke(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) (bool, error)
	ResetDaily(ctx context.Context) (int64, error)
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error)
}

type CredentialsRepositoryImpl struct {
	db *sqlx.DB
}

func NewCredentialsRepository(db *sqlx.DB) *CredentialsRepositoryImpl {
	return &CredentialsRepositoryImpl{db: db}
}

var _ CredentialsRepository = (*CredentialsRepositoryImpl)(nil)

const credentialColumns = `
	c.id, c.identity_id, c.key_hash, c.key_prefix, c.name, c.state, c.is_active, c.superseded_by,
	c.daily_limit, c.requests_today, c.last_reset_at, c.expires_at, c.last_used_at, c.created_at`

const insertCredential = `
	INSERT INTO credentials
	    (identity_id, key_hash, key_prefix, name, state, is_active, daily_limit,
	     requests_today, last_reset_at, expires_at, created_at)
	VALUES
	    (?, ?, ?, ?, 'active', 1, ?, 0, NOW(), ?, NOW())
`

func insertCredentialArgs(c model.Credential) []any {
	return []any{c.IdentityID, c.KeyHash, c.KeyPrefix, c.Name, c.DailyLimit, c.ExpiresAt}
}

// Create inserts an active credential and returns its id.
func (r *CredentialsRepositoryImpl) Create(ctx context.Context, c model.Credential) (int64, error) {
	res, err := r.db.ExecContext(ctx, insertCredential, insertCredentialArgs(c)...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// LookupByHash resolves a hash to its credential and owner. Returns nil, nil when unknown.
func (r *CredentialsRepositoryImpl) LookupByHash(ctx context.Context, hash string) (*model.CredentialGrant, error) {
	var g model.CredentialGrant
	err := r.db.GetContext(ctx, &g, `
		SELECT `+credentialColumns+`,
		       i.external_ref, i.tier, i.role, i.status AS identity_status
		  FROM credentials c
		  JOIN identities i ON i.id = c.identity_id
		 WHERE c.key_hash = ? LIMIT 1
	`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetForIdentity returns the credential only when identityID owns it.
func (r *CredentialsRepositoryImpl) GetForIdentity(ctx context.Context, identityID, id int64) (*model.Credential, error) {
	var c model.Credential
	err := r.db.GetContext(ctx, &c, `
		SELECT `+credentialColumns+` FROM credentials c WHERE c.id = ? AND c.identity_id = ? LIMIT 1
	`, id, identityID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CredentialsRepositoryImpl) ListByIdentity(ctx context.Context, identityID int64) ([]model.Credential, error) {
	var rows []model.Credential
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT `+credentialColumns+` FROM credentials c WHERE c.identity_id = ? ORDER BY c.created_at DESC, c.id DESC
	`, identityID); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CredentialsRepositoryImpl) HashesByIdentity(ctx context.Context, identityID int64) ([]string, error) {
	var hashes []string
	if err := r.db.SelectContext(ctx, &hashes, `
		SELECT key_hash FROM credentials WHERE identity_id = ?
	`, identityID); err != nil {
		return nil, err
	}
	return hashes, nil
}

// Rotate inserts next and retires oldID in one transaction. The old row is locked first, so
// two concurrent rotations of the same credential cannot both succeed.
func (r *CredentialsRepositoryImpl) Rotate(ctx context.Context, oldID int64, next model.Credential) (int64, error) {
	var newID int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var state model.CredentialState
		err := tx.GetContext(ctx, &state, `SELECT state FROM credentials WHERE id = ? FOR UPDATE`, oldID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock credential: %w", err)
		}
		if !state.CanTransition(model.CredentialRotated) {
			return ErrStateConflict
		}

		res, err := tx.ExecContext(ctx, insertCredential, insertCredentialArgs(next)...)
		if err != nil {
			return fmt.Errorf("insert rotated credential: %w", err)
		}
		if newID, err = res.LastInsertId(); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE credentials
			   SET state = 'rotated', is_active = 0, superseded_by = ?
			 WHERE id = ?
		`, newID, oldID); err != nil {
			return fmt.Errorf("retire credential: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return newID, nil
}

// Revoke moves an active credential to revoked. Anything else is a state conflict.
func (r *CredentialsRepositoryImpl) Revoke(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET state = 'revoked', is_active = 0 WHERE id = ? AND state = 'active'
	`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateConflict
	}
	return nil
}

func (r *CredentialsRepositoryImpl) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *CredentialsRepositoryImpl) ResetDaily(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE credentials SET requests_today = 0, last_reset_at = NOW() WHERE requests_today > 0
	`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes up to limit credentials that expired before the cutoff.
func (r *CredentialsRepositoryImpl) DeleteExpired(ctx context.Context, before time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM credentials WHERE expires_at IS NOT NULL AND expires_at < ? LIMIT ?
	`, before, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
