package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/auth"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/metrics"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/Utkarshchaudhary009/Docverse/internal/ratelimit"
	"github.com/Utkarshchaudhary009/Docverse/internal/usage"
	"github.com/Utkarshchaudhary009/Docverse/internal/util"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	ctxVerdict  = "verdict"
	ctxDecision = "decision"
	ctxStarted  = "decision_started"

	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderLimit     = "X-RateLimit-Limit"
)

type Authenticator interface {
	Authenticate(ctx context.Context, raw string) (auth.Lookup, error)
}

type Limiter interface {
	Allow(ctx context.Context, identityID int64, tier model.Tier) (ratelimit.Decision, error)
}

type Recorder interface {
	Submit(rec model.UsageRecord) *usage.Task
}

// VerdictFromCtx returns the verdict stored by Authenticate.
func VerdictFromCtx(c echo.Context) (model.Verdict, bool) {
	v, ok := c.Get(ctxVerdict).(model.Verdict)
	return v, ok
}

// DecisionFromCtx returns the admission decision stored by Limit.
func DecisionFromCtx(c echo.Context) (ratelimit.Decision, bool) {
	d, ok := c.Get(ctxDecision).(ratelimit.Decision)
	return d, ok
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

// Authenticate resolves the credential in header and stores the verdict. Every kind of
// invalid credential gets the same 401.
func Authenticate(a Authenticator, header string) echo.MiddlewareFunc {
	if header == "" {
		header = "X-API-Key"
	}
	log := logger.Named("http.auth")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(ctxStarted, time.Now())
			lk, err := a.Authenticate(c.Request().Context(), c.Request().Header.Get(header))
			switch {
			case err == nil:
			case errors.Is(err, auth.ErrMissingCredential):
				metrics.DecisionsTotal.WithLabelValues("missing").Inc()
				return errorJSON(c, http.StatusUnauthorized, "missing credential")
			case errors.Is(err, auth.ErrInvalidCredential):
				metrics.DecisionsTotal.WithLabelValues("invalid").Inc()
				return errorJSON(c, http.StatusUnauthorized, "invalid credential")
			default:
				metrics.DecisionsTotal.WithLabelValues("unavailable").Inc()
				log.Error("authentication unavailable", zap.String("path", c.Path()), zap.Error(err))
				return errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
			}
			c.Set(ctxVerdict, lk.Verdict)
			return next(c)
		}
	}
}

// Limit consumes one admission for the authenticated identity. It must run after
// Authenticate.
func Limit(l Limiter) echo.MiddlewareFunc {
	log := logger.Named("http.ratelimit")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			v, ok := VerdictFromCtx(c)
			if !ok {
				return errorJSON(c, http.StatusUnauthorized, "missing credential")
			}

			d, err := l.Allow(c.Request().Context(), v.IdentityID, v.Tier)
			if started, ok := c.Get(ctxStarted).(time.Time); ok {
				metrics.DecisionLatency.Observe(time.Since(started).Seconds())
			}
			c.Set(ctxDecision, d)

			switch {
			case err == nil:
			case errors.Is(err, ratelimit.ErrQuotaExceeded):
				metrics.DecisionsTotal.WithLabelValues("quota").Inc()
				h := c.Response().Header()
				h.Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
				h.Set(HeaderRemaining, "0")
				if d.ResetAfter > 0 {
					h.Set(echo.HeaderRetryAfter, strconv.FormatInt(int64((d.ResetAfter+time.Second-1)/time.Second), 10))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":     "quota exceeded",
					"remaining": 0,
				})
			default:
				metrics.DecisionsTotal.WithLabelValues("unavailable").Inc()
				log.Error("admission unavailable", zap.Int64("identity_id", v.IdentityID), zap.Error(err))
				return errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
			}

			metrics.DecisionsTotal.WithLabelValues("admitted").Inc()
			if d.Remaining >= 0 {
				h := c.Response().Header()
				h.Set(HeaderLimit, strconv.FormatInt(d.Limit, 10))
				h.Set(HeaderRemaining, strconv.FormatInt(d.Remaining, 10))
			}
			return next(c)
		}
	}
}

// Record hands a usage record to r once the request is decided. It must sit between
// Authenticate and Limit so quota rejections are recorded too. Requests the limiter could
// not decide are not recorded.
func Record(r Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			v, ok := VerdictFromCtx(c)
			if !ok {
				return err
			}
			d, ok := DecisionFromCtx(c)
			if !ok {
				return err
			}
			status := statusOf(c, err)
			if !d.Allowed && status != http.StatusTooManyRequests {
				return err
			}

			reqID, ok := RequestIDFromCtx(c)
			if !ok {
				reqID = util.New()
			}
			r.Submit(model.UsageRecord{
				RequestID:    reqID,
				IdentityID:   v.IdentityID,
				CredentialID: v.CredentialID,
				OccurredAt:   start.UTC(),
				Status:       status,
				Endpoint:     c.Request().Method + " " + c.Path(),
				DurationMs:   time.Since(start).Milliseconds(),
				Origin:       c.RealIP(),
			})
			return err
		}
	}
}

func statusOf(c echo.Context, err error) int {
	if err == nil {
		if s := c.Response().Status; s != 0 {
			return s
		}
		return http.StatusOK
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

// RequireAdmin rejects verdicts without the admin role. It must run after Authenticate.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			v, ok := VerdictFromCtx(c)
			if !ok || !v.IsAdmin() {
				return errorJSON(c, http.StatusForbidden, "forbidden")
			}
			return next(c)
		}
	}
}
