package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/http/middleware"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	echo "github.com/labstack/echo/v4"
)

type UsageLister interface {
	ListByIdentity(ctx context.Context, identityID int64, from, to time.Time, limit, offset int) ([]model.UsageRecord, error)
}

type DailyReporter interface {
	DailyCounts(ctx context.Context, identityID int64, from, to time.Time) ([]model.DailyUsage, error)
}

const defaultUsageRange = 30 * 24 * time.Hour

// parseRange reads from/to as RFC 3339 timestamps or YYYY-MM-DD dates. Missing bounds
// default to the last 30 days.
func parseRange(c echo.Context, now time.Time) (from, to time.Time, ok bool) {
	parse := func(raw string) (time.Time, bool) {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC(), true
		}
		if t, err := time.Parse(time.DateOnly, raw); err == nil {
			return t, true
		}
		return time.Time{}, false
	}

	to = now.UTC()
	if raw := c.QueryParam("to"); raw != "" {
		if to, ok = parse(raw); !ok {
			return
		}
	}
	from = to.Add(-defaultUsageRange)
	if raw := c.QueryParam("from"); raw != "" {
		if from, ok = parse(raw); !ok {
			return
		}
	}
	return from, to, !from.After(to)
}

func listUsageHandler(repo UsageLister) echo.HandlerFunc {
	return func(c echo.Context) error {
		v, ok := middleware.VerdictFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}

		limit := 50
		offset := 0
		if raw := c.QueryParam("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if raw := c.QueryParam("offset"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
				offset = n
			}
		}
		from, to, ok := parseRange(c, time.Now())
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad range"})
		}

		recs, err := repo.ListByIdentity(c.Request().Context(), v.IdentityID, from, to, limit, offset)
		if err != nil {
			c.Logger().Errorf("usage list failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if recs == nil {
			recs = []model.UsageRecord{}
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"from":    from,
			"to":      to,
			"count":   len(recs),
			"records": recs,
		})
	}
}

func dailyUsageHandler(reports DailyReporter) echo.HandlerFunc {
	return func(c echo.Context) error {
		v, ok := middleware.VerdictFromCtx(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		if reports == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "reporting disabled"})
		}
		from, to, ok := parseRange(c, time.Now())
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad range"})
		}

		days, err := reports.DailyCounts(c.Request().Context(), v.IdentityID, from, to)
		if err != nil {
			c.Logger().Errorf("clickhouse daily counts failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}
		if days == nil {
			days = []model.DailyUsage{}
		}
		return c.JSON(http.StatusOK, map[string]any{"from": from, "to": to, "days": days})
	}
}
