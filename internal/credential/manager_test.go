package credential

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/auth"
	"github.com/Utkarshchaudhary009/Docverse/internal/cache"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/Utkarshchaudhary009/Docverse/internal/repository"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore keeps credentials and identities in memory with the same state rules as MySQL.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	creds      map[int64]*model.Credential
	identities map[int64]*model.Identity
}

func newMemStore(idents ...model.Identity) *memStore {
	s := &memStore{creds: map[int64]*model.Credential{}, identities: map[int64]*model.Identity{}}
	for i := range idents {
		s.identities[idents[i].ID] = &idents[i]
	}
	return s
}

func (s *memStore) GetByID(_ context.Context, id int64) (*model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.identities[id]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) Create(_ context.Context, c model.Credential) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(c), nil
}

func (s *memStore) insert(c model.Credential) int64 {
	s.nextID++
	c.ID = s.nextID
	c.State = model.CredentialActive
	c.IsActive = true
	s.creds[c.ID] = &c
	return c.ID
}

func (s *memStore) LookupByHash(_ context.Context, hash string) (*model.CredentialGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.creds {
		if c.KeyHash == hash {
			ident := s.identities[c.IdentityID]
			return &model.CredentialGrant{
				Credential:     *c,
				ExternalRef:    ident.ExternalRef,
				Tier:           ident.Tier,
				Role:           ident.Role,
				IdentityStatus: ident.Status,
			}, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetForIdentity(_ context.Context, identityID, id int64) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.creds[id]; ok && c.IdentityID == identityID {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *memStore) ListByIdentity(_ context.Context, identityID int64) ([]model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Credential
	for _, c := range s.creds {
		if c.IdentityID == identityID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) HashesByIdentity(_ context.Context, identityID int64) ([]string, error) {
	cs, _ := s.ListByIdentity(context.Background(), identityID)
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.KeyHash)
	}
	return out, nil
}

func (s *memStore) Rotate(_ context.Context, oldID int64, next model.Credential) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.creds[oldID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if !old.State.CanTransition(model.CredentialRotated) {
		return 0, repository.ErrStateConflict
	}
	id := s.insert(next)
	old.State = model.CredentialRotated
	old.IsActive = false
	old.SupersededBy.Int64, old.SupersededBy.Valid = id, true
	return id, nil
}

func (s *memStore) Revoke(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok || c.State != model.CredentialActive {
		return repository.ErrStateConflict
	}
	c.State = model.CredentialRevoked
	c.IsActive = false
	return nil
}

func (s *memStore) Delete(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.creds[id]
	delete(s.creds, id)
	return ok, nil
}

func (s *memStore) ResetDaily(context.Context) (int64, error) { return 0, nil }

func (s *memStore) DeleteExpired(_ context.Context, before time.Time, limit int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.creds {
		if int(n) == limit {
			break
		}
		if c.ExpiresAt.Valid && c.ExpiresAt.Time.Before(before) {
			delete(s.creds, id)
			n++
		}
	}
	return n, nil
}

var _ repository.CredentialsRepository = (*memStore)(nil)

type fixture struct {
	store *memStore
	mgr   *Manager
	auth  *auth.Authenticator
	mr    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rds.Close() })

	store := newMemStore(
		model.Identity{ID: 1, ExternalRef: "user_1", Tier: model.TierFree, Status: model.IdentityActive, Role: model.RoleUser},
		model.Identity{ID: 2, ExternalRef: "user_2", Tier: model.TierPro, Status: model.IdentityActive, Role: model.RoleUser},
	)
	verdicts := cache.NewRedisVerdictCache(rds, "verdict:", time.Second)
	return &fixture{
		store: store,
		mgr:   NewManager(store, store, verdicts, nil, "sk_live_", 0),
		auth:  auth.New(verdicts, store, auth.Options{CacheTTL: time.Minute}),
		mr:    mr,
	}
}

func TestNewSecretShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		s, err := NewSecret("sk_live_")
		require.NoError(t, err)
		require.Len(t, s.Raw, len("sk_live_")+32)
		assert.True(t, strings.HasPrefix(s.Raw, "sk_live_"))
		assert.Equal(t, s.Raw[:10], s.Prefix)
		assert.Equal(t, auth.Digest(s.Raw), s.Hash)
		assert.Len(t, s.Hash, 64)
		for _, r := range s.Raw[len("sk_live_"):] {
			assert.True(t, (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), string(r))
		}
		assert.False(t, seen[s.Raw])
		seen[s.Raw] = true
	}
}

func TestIssueUsesTierCeilingAndStoresOnlyHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss, err := f.mgr.Issue(ctx, 2, "  ci  ", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "ci", iss.Credential.Name)
	assert.Equal(t, model.TierPro.DailyLimit(), iss.Credential.DailyLimit)
	assert.True(t, iss.Credential.ExpiresAt.Valid)

	stored, err := f.store.GetForIdentity(ctx, 2, iss.Credential.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.NotContains(t, stored.KeyHash, iss.Secret)
	assert.Equal(t, auth.Digest(iss.Secret), stored.KeyHash)

	l, err := f.auth.Authenticate(ctx, iss.Secret)
	require.NoError(t, err)
	assert.Equal(t, int64(2), l.Verdict.IdentityID)
	assert.Equal(t, model.TierPro, l.Verdict.Tier)

	_, err = f.mgr.Issue(ctx, 99, "", 0)
	assert.ErrorIs(t, err, ErrIdentityNotFound)
}

func TestIssueUsesConfiguredCeiling(t *testing.T) {
	f := newFixture(t)
	f.mgr.ceilings = model.Ceilings{model.TierPro: 25_000}
	ctx := context.Background()

	iss, err := f.mgr.Issue(ctx, 2, "ci", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(25_000), iss.Credential.DailyLimit)

	iss, err = f.mgr.Issue(ctx, 1, "ci", 0)
	require.NoError(t, err)
	assert.Equal(t, model.TierFree.DailyLimit(), iss.Credential.DailyLimit)
}

func TestRotationSwapsSecretsWithoutGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss, err := f.mgr.Issue(ctx, 1, "laptop", 0)
	require.NoError(t, err)

	// warm the cache so rotation has to evict
	l, err := f.auth.Authenticate(ctx, iss.Secret)
	require.NoError(t, err)
	require.Equal(t, auth.SourceStore, l.Source)
	l, err = f.auth.Authenticate(ctx, iss.Secret)
	require.NoError(t, err)
	require.Equal(t, auth.SourceCache, l.Source)

	rot, err := f.mgr.Rotate(ctx, 1, iss.Credential.ID)
	require.NoError(t, err)
	assert.Equal(t, "laptop (Rotated)", rot.Credential.Name)
	assert.NotEqual(t, iss.Secret, rot.Secret)

	_, err = f.auth.Authenticate(ctx, iss.Secret)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential, "old secret must stop working once rotation returns")

	l, err = f.auth.Authenticate(ctx, rot.Secret)
	require.NoError(t, err)
	assert.Equal(t, rot.Credential.ID, l.Verdict.CredentialID)

	old, _ := f.store.GetForIdentity(ctx, 1, iss.Credential.ID)
	assert.Equal(t, model.CredentialRotated, old.State)
	assert.Equal(t, rot.Credential.ID, old.SupersededBy.Int64)

	_, err = f.mgr.Rotate(ctx, 1, iss.Credential.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "rotated is terminal")
	assert.ErrorIs(t, f.mgr.Revoke(ctx, 1, iss.Credential.ID), ErrInvalidTransition)
}

func TestConcurrentAuthenticationDuringRotation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss, err := f.mgr.Issue(ctx, 1, "svc", 0)
	require.NoError(t, err)

	stop := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := f.auth.Authenticate(ctx, iss.Secret); err != nil && !errors.Is(err, auth.ErrInvalidCredential) {
				errs <- err
				return
			}
		}
	}()

	rot, err := f.mgr.Rotate(ctx, 1, iss.Credential.ID)
	require.NoError(t, err)
	_, err = f.auth.Authenticate(ctx, rot.Secret)
	assert.NoError(t, err, "the new secret must work the moment rotation returns")

	close(stop)
	for err := range errs {
		t.Fatalf("unexpected authentication error: %v", err)
	}
}

func TestRevokeAndDeleteInvalidateCachedVerdicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.mgr.Issue(ctx, 1, "a", 0)
	require.NoError(t, err)
	b, err := f.mgr.Issue(ctx, 1, "b", 0)
	require.NoError(t, err)
	for _, s := range []string{a.Secret, b.Secret} {
		_, err := f.auth.Authenticate(ctx, s)
		require.NoError(t, err)
	}

	require.NoError(t, f.mgr.Revoke(ctx, 1, a.Credential.ID))
	_, err = f.auth.Authenticate(ctx, a.Secret)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	assert.ErrorIs(t, f.mgr.Revoke(ctx, 1, a.Credential.ID), ErrInvalidTransition)

	require.NoError(t, f.mgr.Delete(ctx, 1, b.Credential.ID))
	_, err = f.auth.Authenticate(ctx, b.Secret)
	assert.ErrorIs(t, err, auth.ErrInvalidCredential)
	assert.ErrorIs(t, f.mgr.Delete(ctx, 1, b.Credential.ID), ErrNotFound)
}

func TestCredentialsAreScopedToOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	iss, err := f.mgr.Issue(ctx, 1, "mine", 0)
	require.NoError(t, err)

	_, err = f.mgr.Rotate(ctx, 2, iss.Credential.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.mgr.Revoke(ctx, 2, iss.Credential.ID), ErrNotFound)

	list, err := f.mgr.List(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	f.mgr.now = func() time.Time { return base }

	_, err := f.mgr.Issue(ctx, 1, "short", time.Hour)
	require.NoError(t, err)
	_, err = f.mgr.Issue(ctx, 1, "forever", 0)
	require.NoError(t, err)

	f.mgr.now = func() time.Time { return base.Add(48 * time.Hour) }
	n, err := f.mgr.CleanupExpired(ctx, 24*time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	list, _ := f.mgr.List(ctx, 1)
	require.Len(t, list, 1)
	assert.Equal(t, "forever", list[0].Name)
}
