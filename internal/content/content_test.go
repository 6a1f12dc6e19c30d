package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/config"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(2, 10*time.Second)
	b.now = func() time.Time { return now }

	b.Failure()
	assert.True(t, b.Ready())
	b.Failure()
	assert.False(t, b.Ready())
	assert.False(t, b.Acquire())

	now = now.Add(11 * time.Second)
	assert.True(t, b.Ready())
	assert.True(t, b.Acquire(), "first caller gets the trial slot")
	assert.False(t, b.Acquire(), "only one trial call at a time")

	b.Failure()
	assert.False(t, b.Ready(), "a failed trial call reopens")

	now = now.Add(11 * time.Second)
	require.True(t, b.Acquire())
	b.Success()
	assert.True(t, b.Acquire())
	assert.True(t, b.Acquire())
}

func TestQueryNormalize(t *testing.T) {
	q, err := Query{Library: " React ", Text: " hooks "}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "react", q.Library)
	assert.Equal(t, "hooks", q.Text)
	assert.Equal(t, defaultTopK, q.TopK)

	q, err = Query{Library: "go", Text: "x", TopK: 500}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, maxTopK, q.TopK)

	_, err = Query{Library: "go"}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidQuery)
	_, err = Query{Text: "x"}.Normalize()
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func contentServer(t *testing.T, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		var q Query
		if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(Result{
			Context: "ctx:" + q.Library + ":" + q.Tier.String(),
			Matches: []Match{{ID: "1", Score: 0.9, Text: q.Text}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPoolSkipsFailingEndpoint(t *testing.T) {
	var badHits, goodHits atomic.Int32
	bad := contentServer(t, http.StatusBadGateway, &badHits)
	good := contentServer(t, http.StatusOK, &goodHits)

	pool := NewPool([]*Endpoint{
		NewEndpoint("bad", bad.URL, "/query", time.Second, NewBreaker(1, time.Minute)),
		NewEndpoint("good", good.URL, "/query", time.Second, NewBreaker(1, time.Minute)),
	}, 2)

	for i := 0; i < 5; i++ {
		res, err := pool.Retrieve(context.Background(), Query{IdentityRef: "u", Tier: model.TierPro, Library: "react", Text: "useEffect"})
		require.NoError(t, err)
		assert.Equal(t, "ctx:react:pro", res.Context)
		require.Len(t, res.Matches, 1)
	}
	assert.Equal(t, int32(1), badHits.Load(), "the breaker keeps traffic off the failing endpoint")
	assert.Equal(t, int32(5), goodHits.Load())
}

func TestCancelledCallsDoNotTripBreaker(t *testing.T) {
	var hits atomic.Int32
	srv := contentServer(t, http.StatusOK, &hits)
	b := NewBreaker(1, time.Minute)
	ep := NewEndpoint("slow", srv.URL, "", time.Second, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		require.True(t, ep.Acquire())
		_, err := ep.Retrieve(ctx, Query{Library: "go", Text: "x"})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.True(t, ep.Ready(), "abandoned calls say nothing about the endpoint")

	// a lapsed deadline still counts
	dctx, dcancel := context.WithTimeout(context.Background(), -time.Second)
	defer dcancel()
	_, err := ep.Retrieve(dctx, Query{Library: "go", Text: "x"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, ep.Ready())
}

func TestReleaseFreesTrialSlot(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker(1, 10*time.Second)
	b.now = func() time.Time { return now }

	b.Failure()
	now = now.Add(11 * time.Second)
	require.True(t, b.Acquire())
	require.False(t, b.Ready())

	b.Release()
	assert.True(t, b.Ready())
	assert.True(t, b.Acquire(), "the next caller takes the trial slot")
	assert.False(t, b.Acquire())
}

func TestPoolWithoutHealthyEndpoints(t *testing.T) {
	var hits atomic.Int32
	bad := contentServer(t, http.StatusInternalServerError, &hits)
	pool := NewPool([]*Endpoint{NewEndpoint("bad", bad.URL, "", time.Second, NewBreaker(1, time.Minute))}, 3)

	_, err := pool.Retrieve(context.Background(), Query{Library: "go", Text: "x"})
	assert.Error(t, err)
	_, err = pool.Retrieve(context.Background(), Query{Library: "go", Text: "x"})
	assert.ErrorIs(t, err, ErrNoHealthy)
}

func TestNewFromConfig(t *testing.T) {
	_, isStatic := NewFromConfig(config.ContentConfig{Static: true}).(Static)
	assert.True(t, isStatic)

	_, isStatic = NewFromConfig(config.ContentConfig{Endpoints: []config.EndpointConfig{{Name: "off", BaseURL: "http://x"}}}).(Static)
	assert.True(t, isStatic, "disabled endpoints fall back to static")

	_, isPool := NewFromConfig(config.ContentConfig{Endpoints: []config.EndpointConfig{{Name: "on", Enabled: true, BaseURL: "http://x"}}}).(*Pool)
	assert.True(t, isPool)
}

func TestStaticRetriever(t *testing.T) {
	res, err := Static{}.Retrieve(context.Background(), Query{Library: "react", Text: "hooks"})
	require.NoError(t, err)
	assert.Contains(t, res.Context, "react")
	assert.Len(t, res.Matches, 1)
}
