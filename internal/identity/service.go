package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/Utkarshchaudhary009/Docverse/internal/cache"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/Utkarshchaudhary009/Docverse/internal/repository"
	"github.com/Utkarshchaudhary009/Docverse/internal/util"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("identity not found")
	ErrInvalidEvent = errors.New("invalid sync event")
	ErrInvalidTier  = errors.New("invalid tier")
)

// HashLister lists the credential hashes owned by an identity.
type HashLister interface {
	HashesByIdentity(ctx context.Context, identityID int64) ([]string, error)
}

// Service applies identity-provider events and tier changes. Every change that alters what
// a credential resolves to ends by evicting that identity's cached verdicts.
type Service struct {
	identities repository.IdentitiesRepository
	creds      HashLister
	cache      cache.VerdictCache
	ceilings   model.Ceilings
	log        *zap.Logger
}

func NewService(identities repository.IdentitiesRepository, creds HashLister, verdicts cache.VerdictCache, ceilings model.Ceilings) *Service {
	return &Service{identities: identities, creds: creds, cache: verdicts, ceilings: ceilings, log: logger.Named("identity")}
}

// Apply brings the local identity in line with ev. Applying the same event again leaves
// the same end state.
func (s *Service) Apply(ctx context.Context, ev model.SyncEvent) error {
	if ev.ExternalRef == "" {
		return fmt.Errorf("%w: missing external_ref", ErrInvalidEvent)
	}
	switch ev.Kind {
	case model.SyncCreated, model.SyncUpdated:
		_, err := s.upsert(ctx, ev)
		return err
	case model.SyncDeleted:
		return s.remove(ctx, ev.ExternalRef)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
}

func (s *Service) upsert(ctx context.Context, ev model.SyncEvent) (*model.Identity, error) {
	email := util.NormalizeEmail(ev.Email)

	ident, err := s.identities.GetByExternalRef(ctx, ev.ExternalRef)
	if err != nil {
		return nil, fmt.Errorf("lookup by ref: %w", err)
	}
	if ident == nil && email != "" {
		// an identity created before the provider knew it (seeded, or an earlier account)
		// is linked by email instead of duplicated
		if ident, err = s.identities.GetByEmail(ctx, email); err != nil {
			return nil, fmt.Errorf("lookup by email: %w", err)
		}
	}

	if ident == nil {
		fresh := model.Identity{
			ExternalRef: ev.ExternalRef,
			Email:       email,
			FullName:    ev.FullName,
			AvatarURL:   ev.AvatarURL,
			Tier:        model.TierFree,
			Status:      model.IdentityActive,
			Role:        model.RoleUser,
		}
		fresh.DailyRequestLimit = s.ceilings.Daily(fresh.Tier)
		fresh.MonthlyRequestLimit = fresh.Tier.MonthlyLimit()
		if fresh.ID, err = s.identities.Create(ctx, fresh); err != nil {
			return nil, fmt.Errorf("create identity: %w", err)
		}
		s.log.Info("identity created", zap.String("external_ref", ev.ExternalRef), zap.Int64("identity_id", fresh.ID))
		return &fresh, nil
	}

	next := *ident
	next.ExternalRef = ev.ExternalRef
	if email != "" {
		next.Email = email
	}
	if ev.FullName != "" {
		next.FullName = ev.FullName
	}
	if ev.AvatarURL != "" {
		next.AvatarURL = ev.AvatarURL
	}
	if next == *ident {
		return ident, nil
	}
	if err := s.identities.UpdateProfile(ctx, next); err != nil {
		return nil, fmt.Errorf("update identity: %w", err)
	}
	if next.ExternalRef != ident.ExternalRef {
		// cached verdicts carry the external ref
		s.evict(ctx, ident.ID)
	}
	s.log.Info("identity updated", zap.String("external_ref", ev.ExternalRef), zap.Int64("identity_id", ident.ID))
	return &next, nil
}

func (s *Service) remove(ctx context.Context, ref string) error {
	ident, err := s.identities.GetByExternalRef(ctx, ref)
	if err != nil {
		return fmt.Errorf("lookup by ref: %w", err)
	}
	if ident == nil {
		return nil
	}

	// hashes must be collected before the cascade removes the rows
	hashes, err := s.creds.HashesByIdentity(ctx, ident.ID)
	if err != nil {
		return fmt.Errorf("list credential hashes: %w", err)
	}
	if _, err := s.identities.Delete(ctx, ident.ID); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	s.evictHashes(ctx, hashes)

	s.log.Info("identity deleted",
		zap.String("external_ref", ref),
		zap.Int64("identity_id", ident.ID),
		zap.Int("credentials", len(hashes)),
	)
	return nil
}

// ChangeTier moves the identity and all of its credentials to tier. The next request made
// with any of its credentials is limited under the new tier.
func (s *Service) ChangeTier(ctx context.Context, ref string, tier model.Tier) (*model.Identity, error) {
	if !tier.Valid() {
		return nil, ErrInvalidTier
	}
	ident, err := s.identities.GetByExternalRef(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("lookup by ref: %w", err)
	}
	if ident == nil {
		return nil, ErrNotFound
	}

	daily := s.ceilings.Daily(tier)
	if err := s.identities.UpdateTier(ctx, ident.ID, tier, daily); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update tier: %w", err)
	}
	s.evict(ctx, ident.ID)

	from := ident.Tier
	ident.Tier = tier
	ident.DailyRequestLimit = daily
	ident.MonthlyRequestLimit = tier.MonthlyLimit()

	s.log.Info("tier changed",
		zap.Int64("identity_id", ident.ID),
		zap.Stringer("from", from),
		zap.Stringer("to", tier),
	)
	return ident, nil
}

func (s *Service) evict(ctx context.Context, identityID int64) {
	hashes, err := s.creds.HashesByIdentity(ctx, identityID)
	if err != nil {
		s.log.Warn("list credential hashes for eviction", zap.Int64("identity_id", identityID), zap.Error(err))
		return
	}
	s.evictHashes(ctx, hashes)
}

func (s *Service) evictHashes(ctx context.Context, hashes []string) {
	if err := s.cache.Delete(context.WithoutCancel(ctx), hashes...); err != nil {
		s.log.Warn("verdict eviction failed", zap.Int("count", len(hashes)), zap.Error(err))
	}
}
