package content

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/config"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"go.uber.org/zap"
)

var (
	ErrNoHealthy   = errors.New("no healthy content endpoints")
	ErrNotAcquired = errors.New("content endpoint not acquired")
)

// Pool spreads queries round robin over the endpoints whose breakers are closed, retrying
// on another endpoint up to maxAttempts times.
type Pool struct {
	endpoints   []*Endpoint
	rr          atomic.Uint64
	maxAttempts int
	log         *zap.Logger
}

func NewPool(endpoints []*Endpoint, maxAttempts int) *Pool {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	return &Pool{endpoints: endpoints, maxAttempts: maxAttempts, log: logger.Named("content")}
}

// NewFromConfig returns Static when configured so or when no endpoint is enabled.
func NewFromConfig(cfg config.ContentConfig) Retriever {
	var eps []*Endpoint
	for _, e := range cfg.Endpoints {
		if !e.Enabled {
			continue
		}
		eps = append(eps, NewEndpoint(
			e.Name, e.BaseURL, e.QueryPath,
			msDuration(e.TimeoutMs),
			NewBreaker(e.Breaker.FailThreshold, msDuration(e.Breaker.OpenForMs)),
		))
	}
	if cfg.Static || len(eps) == 0 {
		return Static{}
	}
	return NewPool(eps, cfg.MaxAttempts)
}

func (p *Pool) pick() (*Endpoint, error) {
	healthy := make([]*Endpoint, 0, len(p.endpoints))
	for _, e := range p.endpoints {
		if e.Ready() {
			healthy = append(healthy, e)
		}
	}
	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}
	x := p.rr.Add(1)
	return healthy[int((x-1)%uint64(len(healthy)))], nil
}

func (p *Pool) Retrieve(ctx context.Context, q Query) (Result, error) {
	var last error
	for i := 0; i < p.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		e, err := p.pick()
		if err != nil {
			return Result{}, err
		}
		if !e.Acquire() {
			last = ErrNotAcquired
			continue
		}
		res, err := e.Retrieve(ctx, q)
		if err == nil {
			return res, nil
		}
		p.log.Warn("content endpoint failed", zap.String("endpoint", e.Name()), zap.Int("attempt", i+1), zap.Error(err))
		last = err
	}
	return Result{}, last
}

func msDuration(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
