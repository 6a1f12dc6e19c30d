package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/cache"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/metrics"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/Utkarshchaudhary009/Docverse/internal/repository"
	"go.uber.org/zap"
)

var (
	ErrNotFound          = errors.New("credential not found")
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrInvalidTransition = errors.New("credential is no longer active")
)

const defaultName = "default"

// IdentityReader is the part of the identity store the manager needs.
type IdentityReader interface {
	GetByID(ctx context.Context, id int64) (*model.Identity, error)
}

// Issued carries a credential together with its plaintext secret. It is the only place the
// secret ever appears.
type Issued struct {
	Secret     string
	Credential model.Credential
}

type Manager struct {
	creds        repository.CredentialsRepository
	identities   IdentityReader
	cache        cache.VerdictCache
	ceilings     model.Ceilings
	secretPrefix string
	defaultTTL   time.Duration
	now          func() time.Time
	log          *zap.Logger
}

func NewManager(
	creds repository.CredentialsRepository,
	identities IdentityReader,
	verdicts cache.VerdictCache,
	ceilings model.Ceilings,
	secretPrefix string,
	defaultTTL time.Duration,
) *Manager {
	return &Manager{
		creds:        creds,
		identities:   identities,
		cache:        verdicts,
		ceilings:     ceilings,
		secretPrefix: secretPrefix,
		defaultTTL:   defaultTTL,
		now:          time.Now,
		log:          logger.Named("credential"),
	}
}

// Issue creates an active credential for identityID with the identity's tier ceiling.
// ttl <= 0 falls back to the configured default; a zero default never expires.
func (m *Manager) Issue(ctx context.Context, identityID int64, name string, ttl time.Duration) (Issued, error) {
	ident, err := m.identities.GetByID(ctx, identityID)
	if err != nil {
		return Issued{}, fmt.Errorf("load identity: %w", err)
	}
	if ident == nil {
		return Issued{}, ErrIdentityNotFound
	}

	sec, err := NewSecret(m.secretPrefix)
	if err != nil {
		return Issued{}, fmt.Errorf("generate secret: %w", err)
	}

	now := m.now().UTC()
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	c := model.Credential{
		IdentityID:  identityID,
		KeyHash:     sec.Hash,
		KeyPrefix:   sec.Prefix,
		Name:        normalizeName(name),
		State:       model.CredentialActive,
		IsActive:    true,
		DailyLimit:  m.ceilings.Daily(ident.Tier),
		LastResetAt: now,
		CreatedAt:   now,
	}
	if ttl > 0 {
		c.ExpiresAt = sql.NullTime{Time: now.Add(ttl), Valid: true}
	}

	if c.ID, err = m.creds.Create(ctx, c); err != nil {
		return Issued{}, fmt.Errorf("persist credential: %w", err)
	}

	metrics.CredentialEventsTotal.WithLabelValues("issued").Inc()
	m.log.Info("credential issued",
		zap.Int64("identity_id", identityID),
		zap.Int64("credential_id", c.ID),
		zap.String("key_prefix", c.KeyPrefix),
	)
	return Issued{Secret: sec.Raw, Credential: c}, nil
}

// Rotate replaces an active credential with a new one carrying the same name, ceiling and
// expiry. Both rows change in one transaction; the old verdict is evicted afterwards, so the
// old secret may keep working from cache for at most that gap but both secrets are never
// rejected at once.
func (m *Manager) Rotate(ctx context.Context, identityID, credentialID int64) (Issued, error) {
	old, err := m.owned(ctx, identityID, credentialID)
	if err != nil {
		return Issued{}, err
	}
	if !old.State.CanTransition(model.CredentialRotated) {
		return Issued{}, ErrInvalidTransition
	}

	sec, err := NewSecret(m.secretPrefix)
	if err != nil {
		return Issued{}, fmt.Errorf("generate secret: %w", err)
	}

	now := m.now().UTC()
	next := model.Credential{
		IdentityID:  identityID,
		KeyHash:     sec.Hash,
		KeyPrefix:   sec.Prefix,
		Name:        rotatedName(old.Name),
		State:       model.CredentialActive,
		IsActive:    true,
		DailyLimit:  old.DailyLimit,
		LastResetAt: now,
		ExpiresAt:   old.ExpiresAt,
		CreatedAt:   now,
	}

	next.ID, err = m.creds.Rotate(ctx, old.ID, next)
	if err != nil {
		return Issued{}, mapStoreErr(err)
	}
	m.evict(ctx, old.KeyHash)

	metrics.CredentialEventsTotal.WithLabelValues("rotated").Inc()
	m.log.Info("credential rotated",
		zap.Int64("identity_id", identityID),
		zap.Int64("old_credential_id", old.ID),
		zap.Int64("credential_id", next.ID),
	)
	return Issued{Secret: sec.Raw, Credential: next}, nil
}

// Revoke permanently disables an active credential.
func (m *Manager) Revoke(ctx context.Context, identityID, credentialID int64) error {
	c, err := m.owned(ctx, identityID, credentialID)
	if err != nil {
		return err
	}
	if !c.State.CanTransition(model.CredentialRevoked) {
		return ErrInvalidTransition
	}
	if err := m.creds.Revoke(ctx, c.ID); err != nil {
		return mapStoreErr(err)
	}
	m.evict(ctx, c.KeyHash)

	metrics.CredentialEventsTotal.WithLabelValues("revoked").Inc()
	m.log.Info("credential revoked", zap.Int64("identity_id", identityID), zap.Int64("credential_id", c.ID))
	return nil
}

// Delete removes the credential in any state.
func (m *Manager) Delete(ctx context.Context, identityID, credentialID int64) error {
	c, err := m.owned(ctx, identityID, credentialID)
	if err != nil {
		return err
	}
	deleted, err := m.creds.Delete(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	m.evict(ctx, c.KeyHash)

	metrics.CredentialEventsTotal.WithLabelValues("deleted").Inc()
	m.log.Info("credential deleted", zap.Int64("identity_id", identityID), zap.Int64("credential_id", c.ID))
	return nil
}

func (m *Manager) List(ctx context.Context, identityID int64) ([]model.Credential, error) {
	return m.creds.ListByIdentity(ctx, identityID)
}

// CleanupExpired deletes up to limit credentials that expired more than retention ago.
func (m *Manager) CleanupExpired(ctx context.Context, retention time.Duration, limit int) (int64, error) {
	if limit <= 0 {
		limit = 200
	}
	n, err := m.creds.DeleteExpired(ctx, m.now().UTC().Add(-retention), limit)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.CredentialEventsTotal.WithLabelValues("deleted").Add(float64(n))
		m.log.Info("expired credentials removed", zap.Int64("count", n))
	}
	return n, nil
}

func (m *Manager) owned(ctx context.Context, identityID, credentialID int64) (*model.Credential, error) {
	c, err := m.creds.GetForIdentity(ctx, identityID, credentialID)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

// evict drops the cached verdict. A failure only widens the window to the cache TTL.
func (m *Manager) evict(ctx context.Context, hashes ...string) {
	if err := m.cache.Delete(context.WithoutCancel(ctx), hashes...); err != nil {
		m.log.Warn("verdict eviction failed", zap.Int("count", len(hashes)), zap.Error(err))
	}
}

func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrStateConflict):
		return ErrInvalidTransition
	default:
		return err
	}
}

func normalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	if len(name) > 100 {
		name = name[:100]
	}
	return name
}

func rotatedName(old string) string {
	return normalizeName(strings.TrimSuffix(old, " (Rotated)") + " (Rotated)")
}
