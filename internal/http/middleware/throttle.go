package middleware

import (
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

// IPThrottle is an in-process token bucket per client IP for low-volume management routes.
type IPThrottle struct {
	rps   rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
	swept    time.Time
	now      func() time.Time
}

func NewIPThrottle(rps float64, burst int) *IPThrottle {
	if burst <= 0 {
		burst = 1
	}
	return &IPThrottle{
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// Allow reports whether ip may make a request now.
func (t *IPThrottle) Allow(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.swept) > t.idle {
		for k, v := range t.visitors {
			if now.Sub(v.seen) > t.idle {
				delete(t.visitors, k)
			}
		}
		t.swept = now
	}

	v, ok := t.visitors[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(t.rps, t.burst)}
		t.visitors[ip] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func (t *IPThrottle) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if t.rps <= 0 {
				return next(c)
			}
			if !t.Allow(c.RealIP()) {
				return errorJSON(c, http.StatusTooManyRequests, "too many requests")
			}
			return next(c)
		}
	}
}
