package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Utkarshchaudhary009/Docverse/internal/identity"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/labstack/echo/v4"
)

// IdentityAdmin covers the privileged identity operations.
type IdentityAdmin interface {
	Apply(ctx context.Context, ev model.SyncEvent) error
	ChangeTier(ctx context.Context, ref string, tier model.Tier) (*model.Identity, error)
}

type tierReq struct {
	Tier string `json:"tier"`
}

func changeTierHandler(svc IdentityAdmin) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req tierReq
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		tier, ok := model.ParseTier(req.Tier)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid tier"})
		}

		ident, err := svc.ChangeTier(c.Request().Context(), c.Param("ref"), tier)
		switch {
		case errors.Is(err, identity.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "identity not found"})
		case errors.Is(err, identity.ErrInvalidTier):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid tier"})
		case err != nil:
			c.Logger().Errorf("tier change failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"external_ref":          ident.ExternalRef,
			"tier":                  ident.Tier.String(),
			"daily_request_limit":   ident.DailyRequestLimit,
			"monthly_request_limit": ident.MonthlyRequestLimit,
		})
	}
}

// applyEventHandler accepts identity-provider events pushed over HTTP. It is the synchronous
// counterpart of the identity-sync worker.
func applyEventHandler(svc IdentityAdmin) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := io.ReadAll(io.LimitReader(c.Request().Body, 64<<10))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		ev, err := identity.DecodeEvent(body)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}

		if err := svc.Apply(c.Request().Context(), ev); err != nil {
			if errors.Is(err, identity.ErrInvalidEvent) {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			}
			c.Logger().Errorf("identity event failed: %v", err)
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		return c.JSON(http.StatusOK, map[string]any{
			"applied":      true,
			"kind":         string(ev.Kind),
			"external_ref": ev.ExternalRef,
		})
	}
}
