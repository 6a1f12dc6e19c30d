package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/cache"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/metrics"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential covers unknown, inactive, rotated, revoked and expired
	// credentials as well as suspended owners. Callers never learn which.
	ErrInvalidCredential     = errors.New("invalid credential")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

type Source uint8

const (
	SourceMiss Source = iota
	SourceCache
	SourceStore
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceStore:
		return "store"
	default:
		return "miss"
	}
}

// Lookup is the result of resolving a credential. Verdict has the same shape whatever the
// Source, so callers never branch on where it came from.
type Lookup struct {
	Source  Source
	Verdict model.Verdict
}

// GrantStore is the subset of the credential store the authenticator reads.
type GrantStore interface {
	LookupByHash(ctx context.Context, hash string) (*model.CredentialGrant, error)
}

type Options struct {
	CacheTTL     time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

type Authenticator struct {
	cache cache.VerdictCache
	store GrantStore
	opts  Options
	group singleflight.Group
	log   *zap.Logger
}

func New(c cache.VerdictCache, store GrantStore, opts Options) *Authenticator {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Minute
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Authenticator{cache: c, store: store, opts: opts, log: logger.Named("auth")}
}

// Digest is the one-way hash under which a secret is stored and cached.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authenticate resolves a raw secret to a Verdict, trusting a cached verdict when there is
// one and otherwise verifying against the store and caching the result.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (Lookup, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Lookup{}, ErrMissingCredential
	}
	digest := Digest(raw)

	v, found, err := a.cache.Get(ctx, digest)
	switch {
	case err != nil:
		metrics.AuthLookupsTotal.WithLabelValues("cache", "error").Inc()
		a.log.Warn("verdict cache unavailable, falling back to store", zap.Error(err))
	case found && !v.Expired(a.opts.Now()):
		metrics.AuthLookupsTotal.WithLabelValues("cache", "hit").Inc()
		return Lookup{Source: SourceCache, Verdict: v}, nil
	default:
		metrics.AuthLookupsTotal.WithLabelValues("cache", "miss").Inc()
	}

	// Concurrent first requests for one secret share a single store lookup. The shared
	// call must not die with whichever request happened to start it.
	res, err, shared := a.group.Do(digest, func() (any, error) {
		return a.resolve(context.WithoutCancel(ctx), digest)
	})
	if err != nil {
		return Lookup{}, err
	}
	v = res.(model.Verdict)

	if !shared {
		if err := a.cache.Set(ctx, digest, v, a.ttlFor(v)); err != nil {
			a.log.Warn("verdict cache write failed", zap.Int64("credential_id", v.CredentialID), zap.Error(err))
		}
	}
	return Lookup{Source: SourceStore, Verdict: v}, nil
}

// ttlFor keeps a cached verdict from outliving the credential it describes.
func (a *Authenticator) ttlFor(v model.Verdict) time.Duration {
	ttl := a.opts.CacheTTL
	if v.ExpiresAt != nil {
		if left := v.ExpiresAt.Sub(a.opts.Now()); left < ttl {
			ttl = left
		}
	}
	return ttl
}

func (a *Authenticator) resolve(ctx context.Context, digest string) (model.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opts.StoreTimeout)
	defer cancel()

	g, err := a.store.LookupByHash(ctx, digest)
	if err != nil {
		metrics.AuthLookupsTotal.WithLabelValues("store", "error").Inc()
		a.log.Error("credential store lookup failed", zap.Error(err))
		return model.Verdict{}, ErrDependencyUnavailable
	}
	if reason := a.reject(g); reason != "" {
		metrics.AuthLookupsTotal.WithLabelValues("store", "invalid").Inc()
		fields := []zap.Field{zap.String("reason", reason)}
		if g != nil {
			fields = append(fields, zap.Int64("credential_id", g.ID))
		}
		a.log.Info("credential rejected", fields...)
		return model.Verdict{}, ErrInvalidCredential
	}
	metrics.AuthLookupsTotal.WithLabelValues("store", "hit").Inc()
	return g.Verdict(), nil
}

// reject names why g may not authenticate, or returns "" when it may.
func (a *Authenticator) reject(g *model.CredentialGrant) string {
	switch {
	case g == nil:
		return "unknown"
	case g.State != model.CredentialActive:
		return string(g.State)
	case !g.IsActive:
		return "inactive"
	case !g.Live(a.opts.Now()):
		return "expired"
	case g.IdentityStatus != model.IdentityActive:
		return "identity " + string(g.IdentityStatus)
	}
	return ""
}
