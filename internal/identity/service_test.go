package identity

import (
	"context"
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

// memRepo is an identity table plus a credential hash index with cascade on delete.
type memRepo struct {
	mu      sync.Mutex
	nextID  int64
	byID    map[int64]*model.Identity
	hashes  map[string]int64 // credential hash -> identity id
	creates int
	updates int
}

func newMemRepo() *memRepo {
	return &memRepo{byID: map[int64]*model.Identity{}, hashes: map[string]int64{}}
}

func (r *memRepo) find(match func(*model.Identity) bool) *model.Identity {
	for _, i := range r.byID {
		if match(i) {
			cp := *i
			return &cp
		}
	}
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id int64) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(i *model.Identity) bool { return i.ID == id }), nil
}

func (r *memRepo) GetByExternalRef(_ context.Context, ref string) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(i *model.Identity) bool { return i.ExternalRef == ref }), nil
}

func (r *memRepo) GetByEmail(_ context.Context, email string) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(func(i *model.Identity) bool { return i.Email == email }), nil
}

func (r *memRepo) Create(_ context.Context, ident model.Identity) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates++
	r.nextID++
	ident.ID = r.nextID
	p := ident.Tier.Policy()
	if ident.DailyRequestLimit <= 0 {
		ident.DailyRequestLimit = p.DailyLimit
	}
	ident.MonthlyRequestLimit = p.MonthlyLimit
	r.byID[ident.ID] = &ident
	return ident.ID, nil
}

func (r *memRepo) UpdateProfile(_ context.Context, ident model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates++
	cur := r.byID[ident.ID]
	cur.ExternalRef, cur.Email, cur.FullName, cur.AvatarURL = ident.ExternalRef, ident.Email, ident.FullName, ident.AvatarURL
	return nil
}

func (r *memRepo) Delete(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[id]
	delete(r.byID, id)
	for h, owner := range r.hashes {
		if owner == id {
			delete(r.hashes, h)
		}
	}
	return ok, nil
}

func (r *memRepo) UpdateTier(_ context.Context, id int64, tier model.Tier, dailyLimit int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	i.Tier, i.DailyRequestLimit = tier, dailyLimit
	return nil
}

func (r *memRepo) ResetDaily(context.Context) (int64, error)   { return 0, nil }
func (r *memRepo) ResetMonthly(context.Context) (int64, error) { return 0, nil }

func (r *memRepo) HashesByIdentity(_ context.Context, identityID int64) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for h, owner := range r.hashes {
		if owner == identityID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *memRepo) LookupByHash(_ context.Context, hash string) (*model.CredentialGrant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.hashes[hash]
	if !ok {
		return nil, nil
	}
	i := r.byID[owner]
	return &model.CredentialGrant{
		Credential:     model.Credential{ID: 1, IdentityID: owner, KeyHash: hash, State: model.CredentialActive, IsActive: true},
		ExternalRef:    i.ExternalRef,
		Tier:           i.Tier,
		Role:           i.Role,
		IdentityStatus: i.Status,
	}, nil
}

var _ repository.IdentitiesRepository = (*memRepo)(nil)

func newService(t *testing.T) (*Service, *memRepo, *auth.Authenticator) {
	t.Helper()
	return newServiceWithCeilings(t, nil)
}

func newServiceWithCeilings(t *testing.T, ceilings model.Ceilings) (*Service, *memRepo, *auth.Authenticator) {
	t.Helper()
	mr := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rds.Close() })

	repo := newMemRepo()
	verdicts := cache.NewRedisVerdictCache(rds, "verdict:", time.Second)
	return NewService(repo, repo, verdicts, ceilings), repo, auth.New(verdicts, repo, auth.Options{CacheTTL: time.Minute})
}

func TestCreateEventIsIdempotent(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()
	ev := model.SyncEvent{ExternalRef: "user_a", Email: " A@Example.com ", FullName: "Ada L", Kind: model.SyncCreated}

	require.NoError(t, svc.Apply(ctx, ev))
	require.NoError(t, svc.Apply(ctx, ev))

	assert.Equal(t, 1, repo.creates)
	assert.Zero(t, repo.updates)
	got, _ := repo.GetByExternalRef(ctx, "user_a")
	require.NotNil(t, got)
	assert.Equal(t, "a@example.com", got.Email)
	assert.Equal(t, model.TierFree, got.Tier)
	assert.Equal(t, model.RoleUser, got.Role)
}

func TestUpdateKeepsTierAndLinksByEmail(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	id, _ := repo.Create(ctx, model.Identity{ExternalRef: "seed_1", Email: "b@example.com", Tier: model.TierPro, Status: model.IdentityActive})

	require.NoError(t, svc.Apply(ctx, model.SyncEvent{ExternalRef: "user_b", Email: "B@example.com", AvatarURL: "https://img/b", Kind: model.SyncUpdated}))
	require.NoError(t, svc.Apply(ctx, model.SyncEvent{ExternalRef: "user_b", Email: "B@example.com", AvatarURL: "https://img/b", Kind: model.SyncUpdated}))

	got, _ := repo.GetByID(ctx, id)
	assert.Equal(t, "user_b", got.ExternalRef)
	assert.Equal(t, "https://img/b", got.AvatarURL)
	assert.Equal(t, model.TierPro, got.Tier)
	assert.Equal(t, 1, repo.creates)
	assert.Equal(t, 1, repo.updates, "the replay changes nothing")
}

func TestInvalidEvents(t *testing.T) {
	svc, _, _ := newService(t)
	assert.ErrorIs(t, svc.Apply(context.Background(), model.SyncEvent{Kind: model.SyncCreated}), ErrInvalidEvent)
	assert.ErrorIs(t, svc.Apply(context.Background(), model.SyncEvent{ExternalRef: "x", Kind: "renamed"}), ErrInvalidEvent)
}

func TestDeletionRevokesEveryCredential(t *testing.T) {
	svc, repo, a := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Apply(ctx, model.SyncEvent{ExternalRef: "user_c", Email: "c@example.com", Kind: model.SyncCreated}))
	owner, _ := repo.GetByExternalRef(ctx, "user_c")
	secrets := []string{"sk_live_one", "sk_live_two"}
	for _, s := range secrets {
		repo.hashes[auth.Digest(s)] = owner.ID
		_, err := a.Authenticate(ctx, s)
		require.NoError(t, err)
	}

	del := model.SyncEvent{ExternalRef: "user_c", Kind: model.SyncDeleted}
	require.NoError(t, svc.Apply(ctx, del))
	require.NoError(t, svc.Apply(ctx, del), "replayed deletion is a no-op")

	for _, s := range secrets {
		_, err := a.Authenticate(ctx, s)
		assert.ErrorIs(t, err, auth.ErrInvalidCredential, s)
	}
	got, _ := repo.GetByExternalRef(ctx, "user_c")
	assert.Nil(t, got)
}

func TestChangeTierEvictsCachedVerdicts(t *testing.T) {
	svc, repo, a := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Apply(ctx, model.SyncEvent{ExternalRef: "user_d", Kind: model.SyncCreated}))
	owner, _ := repo.GetByExternalRef(ctx, "user_d")
	repo.hashes[auth.Digest("sk_live_d")] = owner.ID

	l, err := a.Authenticate(ctx, "sk_live_d")
	require.NoError(t, err)
	require.Equal(t, model.TierFree, l.Verdict.Tier)

	updated, err := svc.ChangeTier(ctx, "user_d", model.TierPro)
	require.NoError(t, err)
	assert.Equal(t, model.TierPro, updated.Tier)
	assert.Equal(t, model.TierPro.DailyLimit(), updated.DailyRequestLimit)

	l, err = a.Authenticate(ctx, "sk_live_d")
	require.NoError(t, err)
	assert.Equal(t, auth.SourceStore, l.Source)
	assert.Equal(t, model.TierPro, l.Verdict.Tier)

	_, err = svc.ChangeTier(ctx, "nobody", model.TierPro)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = svc.ChangeTier(ctx, "user_d", model.Tier(42))
	assert.ErrorIs(t, err, ErrInvalidTier)
}

func TestDecodeEvent(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"external_ref":"user_9","email":"e@x.io","first_name":"Grace","last_name":"Hopper","kind":"user.updated"}`))
	require.NoError(t, err)
	assert.Equal(t, model.SyncUpdated, ev.Kind)
	assert.Equal(t, "Grace Hopper", ev.FullName)

	for _, raw := range []string{
		`{"external_ref":"user_9","kind":"user.banned"}`,
		`{"kind":"created"}`,
		`[]`,
	} {
		_, err := DecodeEvent([]byte(raw))
		assert.ErrorIs(t, err, ErrInvalidEvent, raw)
	}
}

func TestConfiguredCeilingsAreStored(t *testing.T) {
	svc, repo, _ := newServiceWithCeilings(t, model.Ceilings{model.TierFree: 50, model.TierPro: 20_000})
	ctx := context.Background()

	require.NoError(t, svc.Apply(ctx, model.SyncEvent{ExternalRef: "user_e", Kind: model.SyncCreated}))
	got, _ := repo.GetByExternalRef(ctx, "user_e")
	require.NotNil(t, got)
	assert.Equal(t, int64(50), got.DailyRequestLimit)

	updated, err := svc.ChangeTier(ctx, "user_e", model.TierPro)
	require.NoError(t, err)
	assert.Equal(t, int64(20_000), updated.DailyRequestLimit)
	assert.Equal(t, model.TierPro.MonthlyLimit(), updated.MonthlyRequestLimit)

	got, _ = repo.GetByExternalRef(ctx, "user_e")
	assert.Equal(t, int64(20_000), got.DailyRequestLimit)

	// tiers without an override keep the table value
	updated, err = svc.ChangeTier(ctx, "user_e", model.TierDeveloper)
	require.NoError(t, err)
	assert.Equal(t, model.TierDeveloper.DailyLimit(), updated.DailyRequestLimit)
}
