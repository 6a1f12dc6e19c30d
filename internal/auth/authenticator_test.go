package auth

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]model.Verdict
	getErr  error
	sets    int
}

func newFakeCache() *fakeCache { return &fakeCache{entries: map[string]model.Verdict{}} }

func (c *fakeCache) Get(_ context.Context, d string) (model.Verdict, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return model.Verdict{}, false, c.getErr
	}
	v, ok := c.entries[d]
	return v, ok, nil
}

func (c *fakeCache) Set(_ context.Context, d string, v model.Verdict, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	c.entries[d] = v
	return nil
}

func (c *fakeCache) Delete(_ context.Context, ds ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range ds {
		delete(c.entries, d)
	}
	return nil
}

type fakeStore struct {
	grants  map[string]*model.CredentialGrant
	err     error
	calls   atomic.Int32
	release chan struct{}
}

func (s *fakeStore) LookupByHash(ctx context.Context, hash string) (*model.CredentialGrant, error) {
	s.calls.Add(1)
	if s.release != nil {
		<-s.release
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.grants[hash], nil
}

func grant(id int64, mutate func(*model.CredentialGrant)) *model.CredentialGrant {
	g := &model.CredentialGrant{
		Credential: model.Credential{
			ID:         id,
			IdentityID: 100 + id,
			State:      model.CredentialActive,
			IsActive:   true,
			DailyLimit: 100,
		},
		ExternalRef:    "user_x",
		Tier:           model.TierDeveloper,
		Role:           model.RoleUser,
		IdentityStatus: model.IdentityActive,
	}
	if mutate != nil {
		mutate(g)
	}
	return g
}

func newAuth(c *fakeCache, s *fakeStore) *Authenticator {
	return New(c, s, Options{CacheTTL: time.Minute, StoreTimeout: time.Second, Now: func() time.Time { return now }})
}

func TestColdThenWarmCacheYieldSameVerdict(t *testing.T) {
	c := newFakeCache()
	s := &fakeStore{grants: map[string]*model.CredentialGrant{Digest("sk_live_good"): grant(1, nil)}}
	a := newAuth(c, s)

	cold, err := a.Authenticate(context.Background(), "sk_live_good")
	require.NoError(t, err)
	assert.Equal(t, SourceStore, cold.Source)
	assert.Equal(t, int64(101), cold.Verdict.IdentityID)
	assert.Equal(t, model.TierDeveloper, cold.Verdict.Tier)

	warm, err := a.Authenticate(context.Background(), "  sk_live_good ")
	require.NoError(t, err)
	assert.Equal(t, SourceCache, warm.Source)
	assert.Equal(t, cold.Verdict, warm.Verdict)
	assert.Equal(t, int32(1), s.calls.Load(), "warm path must not touch the store")
}

func TestRejectionsAreUniform(t *testing.T) {
	past := sql.NullTime{Time: now.Add(-time.Minute), Valid: true}
	future := sql.NullTime{Time: now.Add(time.Hour), Valid: true}
	grants := map[string]*model.CredentialGrant{
		Digest("revoked"):   grant(2, func(g *model.CredentialGrant) { g.State = model.CredentialRevoked; g.IsActive = false }),
		Digest("rotated"):   grant(3, func(g *model.CredentialGrant) { g.State = model.CredentialRotated; g.IsActive = false }),
		Digest("inactive"):  grant(4, func(g *model.CredentialGrant) { g.IsActive = false }),
		Digest("expired"):   grant(5, func(g *model.CredentialGrant) { g.ExpiresAt = past }),
		Digest("suspended"): grant(6, func(g *model.CredentialGrant) { g.IdentityStatus = model.IdentitySuspended }),
		Digest("valid"):     grant(7, func(g *model.CredentialGrant) { g.ExpiresAt = future }),
	}
	c := newFakeCache()
	a := newAuth(c, &fakeStore{grants: grants})

	for _, raw := range []string{"unknown", "revoked", "rotated", "inactive", "expired", "suspended"} {
		l, err := a.Authenticate(context.Background(), raw)
		assert.ErrorIs(t, err, ErrInvalidCredential, raw)
		assert.Equal(t, SourceMiss, l.Source, raw)
	}
	assert.Zero(t, c.sets, "rejections are never cached")

	_, err := a.Authenticate(context.Background(), "valid")
	assert.NoError(t, err)
}

func TestMissingCredential(t *testing.T) {
	a := newAuth(newFakeCache(), &fakeStore{})
	for _, raw := range []string{"", "   "} {
		_, err := a.Authenticate(context.Background(), raw)
		assert.ErrorIs(t, err, ErrMissingCredential)
	}
}

func TestCacheFailureDegradesToStore(t *testing.T) {
	c := newFakeCache()
	c.getErr = errors.New("i/o timeout")
	s := &fakeStore{grants: map[string]*model.CredentialGrant{Digest("k"): grant(1, nil)}}

	l, err := newAuth(c, s).Authenticate(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, SourceStore, l.Source)
}

func TestStoreFailureIsDependencyUnavailable(t *testing.T) {
	s := &fakeStore{err: errors.New("connection refused")}

	_, err := newAuth(newFakeCache(), s).Authenticate(context.Background(), "k")
	assert.ErrorIs(t, err, ErrDependencyUnavailable)
	assert.NotErrorIs(t, err, ErrInvalidCredential)
}

func TestStoreLookupSurvivesCallerCancellation(t *testing.T) {
	s := &fakeStore{grants: map[string]*model.CredentialGrant{Digest("k"): grant(1, nil)}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAuth(newFakeCache(), s).Authenticate(ctx, "k")
	assert.NoError(t, err)
}

func TestStampedeSharesOneStoreLookup(t *testing.T) {
	c := newFakeCache()
	s := &fakeStore{
		grants:  map[string]*model.CredentialGrant{Digest("fresh"): grant(1, nil)},
		release: make(chan struct{}),
	}
	a := newAuth(c, s)

	const callers = 20
	var (
		started sync.WaitGroup
		done    sync.WaitGroup
		ok      atomic.Int32
	)
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer done.Done()
			started.Done()
			if _, err := a.Authenticate(context.Background(), "fresh"); err == nil {
				ok.Add(1)
			}
		}()
	}
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(s.release)
	done.Wait()

	assert.Equal(t, int32(callers), ok.Load())
	assert.Equal(t, int32(1), s.calls.Load())
	assert.Equal(t, 1, c.sets)
}

func TestExpiredCachedVerdictIsNotTrusted(t *testing.T) {
	exp := now.Add(-time.Second)
	c := newFakeCache()
	c.entries[Digest("k")] = model.Verdict{IdentityID: 1, CredentialID: 1, ExpiresAt: &exp}
	s := &fakeStore{grants: map[string]*model.CredentialGrant{
		Digest("k"): grant(1, func(g *model.CredentialGrant) { g.ExpiresAt = sql.NullTime{Time: exp, Valid: true} }),
	}}

	_, err := newAuth(c, s).Authenticate(context.Background(), "k")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestCacheTTLNeverOutlivesCredential(t *testing.T) {
	a := newAuth(newFakeCache(), &fakeStore{})
	exp := now.Add(10 * time.Second)

	assert.Equal(t, 10*time.Second, a.ttlFor(model.Verdict{ExpiresAt: &exp}))
	assert.Equal(t, time.Minute, a.ttlFor(model.Verdict{}))
}
