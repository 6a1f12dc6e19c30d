package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/metrics"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/Utkarshchaudhary009/Docverse/internal/util"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrUnavailable   = errors.New("rate limiter unavailable")
)

// slidingLog prunes entries that left the window, counts the rest and admits the request
// only while the count is below the ceiling. It runs atomically inside Redis.
//
// KEYS[1] sorted set of admitted requests (score = admission time in ms)
// ARGV: now_ms, window_ms, limit, member
// returns {allowed, remaining, reset_after_ms}
var slidingLog = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit  = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)

if count >= limit then
  local reset = window
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    reset = tonumber(oldest[2]) + window - now
  end
  return {0, 0, reset}
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
return {1, limit - count - 1, window}
`)

// Decision is the outcome of one admission test. Remaining is advisory and is -1 when the
// counter store could not be consulted.
type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	ResetAfter time.Duration
}

type Options struct {
	Prefix   string
	Window   time.Duration
	Timeout  time.Duration
	FailOpen bool
	// Ceilings overrides the tier table per tier. Missing tiers use their daily limit.
	Ceilings model.Ceilings
}

// Limiter enforces a per-identity sliding window whose ceiling depends on the tier.
// Counters are namespaced by tier, so a tier change moves the identity to a fresh window.
type Limiter struct {
	rds  redis.Scripter
	opts Options
	log  *zap.Logger
}

func New(rds redis.Scripter, opts Options) *Limiter {
	if opts.Prefix == "" {
		opts.Prefix = "ratelimit"
	}
	if opts.Window <= 0 {
		opts.Window = 24 * time.Hour
	}
	return &Limiter{rds: rds, opts: opts, log: logger.Named("ratelimit")}
}

// Ceiling returns the number of admissions the tier grants per window.
func (l *Limiter) Ceiling(tier model.Tier) int64 {
	return l.opts.Ceilings.Daily(tier)
}

func (l *Limiter) key(identityID int64, tier model.Tier) string {
	return l.opts.Prefix + ":" + tier.String() + ":" + strconv.FormatInt(identityID, 10)
}

// Allow tests and consumes one admission for identityID at the current time.
func (l *Limiter) Allow(ctx context.Context, identityID int64, tier model.Tier) (Decision, error) {
	return l.AllowAt(ctx, identityID, tier, time.Now())
}

// AllowAt is Allow with an explicit clock. Calls for one key must use non-decreasing times.
//
// A rejected admission returns ErrQuotaExceeded. When Redis fails the decision follows the
// configured policy: rejected with ErrUnavailable, or admitted with Remaining -1.
func (l *Limiter) AllowAt(ctx context.Context, identityID int64, tier model.Tier, now time.Time) (Decision, error) {
	limit := l.Ceiling(tier)
	d := Decision{Limit: limit}

	if l.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.opts.Timeout)
		defer cancel()
	}

	res, err := slidingLog.Run(ctx, l.rds,
		[]string{l.key(identityID, tier)},
		now.UnixMilli(), l.opts.Window.Milliseconds(), limit, util.NewAt(now),
	).Int64Slice()
	if err == nil && len(res) != 3 {
		err = fmt.Errorf("unexpected script reply %v", res)
	}
	if err != nil {
		return l.degrade(d, identityID, err)
	}

	d.Allowed = res[0] == 1
	d.Remaining = res[1]
	d.ResetAfter = time.Duration(res[2]) * time.Millisecond
	if !d.Allowed {
		return d, ErrQuotaExceeded
	}
	return d, nil
}

func (l *Limiter) degrade(d Decision, identityID int64, cause error) (Decision, error) {
	d.Remaining = -1
	if l.opts.FailOpen {
		metrics.LimiterErrorsTotal.WithLabelValues("fail_open").Inc()
		l.log.Warn("counter store failed, admitting", zap.Int64("identity_id", identityID), zap.Error(cause))
		d.Allowed = true
		return d, nil
	}
	metrics.LimiterErrorsTotal.WithLabelValues("fail_closed").Inc()
	l.log.Error("counter store failed, rejecting", zap.Int64("identity_id", identityID), zap.Error(cause))
	return d, fmt.Errorf("%w: %v", ErrUnavailable, cause)
}
