package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/credential"
	"github.com/Utkarshchaudhary009/Docverse/internal/http/middleware"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/labstack/echo/v4"
)

// CredentialManager is the credential lifecycle as seen by the owner of the credentials.
type CredentialManager interface {
	Issue(ctx context.Context, identityID int64, name string, ttl time.Duration) (credential.Issued, error)
	Rotate(ctx context.Context, identityID, credentialID int64) (credential.Issued, error)
	Revoke(ctx context.Context, identityID, credentialID int64) error
	Delete(ctx context.Context, identityID, credentialID int64) error
	List(ctx context.Context, identityID int64) ([]model.Credential, error)
}

type credentialView struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	Prefix        string     `json:"prefix"`
	State         string     `json:"state"`
	DailyLimit    int64      `json:"daily_limit"`
	RequestsToday int64      `json:"requests_today"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	// Secret is only ever set on the response that created it.
	Secret string `json:"secret,omitempty"`
}

func viewOf(cr model.Credential) credentialView {
	v := credentialView{
		ID:            cr.ID,
		Name:          cr.Name,
		Prefix:        cr.KeyPrefix,
		State:         cr.State.String(),
		DailyLimit:    cr.DailyLimit,
		RequestsToday: cr.RequestsToday,
		CreatedAt:     cr.CreatedAt,
	}
	if cr.ExpiresAt.Valid {
		t := cr.ExpiresAt.Time
		v.ExpiresAt = &t
	}
	if cr.LastUsedAt.Valid {
		t := cr.LastUsedAt.Time
		v.LastUsedAt = &t
	}
	return v
}

func issuedView(is credential.Issued) credentialView {
	v := viewOf(is.Credential)
	v.Secret = is.Secret
	return v
}

type issueReq struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

func credentialError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, credential.ErrNotFound), errors.Is(err, credential.ErrIdentityNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, credential.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": "credential is no longer active"})
	default:
		c.Logger().Errorf("credential operation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
	}
}

// owner returns the authenticated identity and the :id path parameter.
func owner(c echo.Context) (identityID, credentialID int64, ok bool) {
	v, found := middleware.VerdictFromCtx(c)
	if !found {
		return 0, 0, false
	}
	if raw := c.Param("id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return v.IdentityID, 0, false
		}
		credentialID = id
	}
	return v.IdentityID, credentialID, true
}

func listCredentialsHandler(m CredentialManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		identityID, _, ok := owner(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		creds, err := m.List(c.Request().Context(), identityID)
		if err != nil {
			return credentialError(c, err)
		}
		out := make([]credentialView, 0, len(creds))
		for _, cr := range creds {
			out = append(out, viewOf(cr))
		}
		return c.JSON(http.StatusOK, map[string]any{"credentials": out})
	}
}

func issueCredentialHandler(m CredentialManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		identityID, _, ok := owner(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		var req issueReq
		if err := c.Bind(&req); err != nil || req.ExpiresInDays < 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
		}
		ttl := time.Duration(req.ExpiresInDays) * 24 * time.Hour

		is, err := m.Issue(c.Request().Context(), identityID, req.Name, ttl)
		if err != nil {
			return credentialError(c, err)
		}
		return c.JSON(http.StatusCreated, issuedView(is))
	}
}

func rotateCredentialHandler(m CredentialManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		identityID, credentialID, ok := owner(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad credential id"})
		}
		is, err := m.Rotate(c.Request().Context(), identityID, credentialID)
		if err != nil {
			return credentialError(c, err)
		}
		return c.JSON(http.StatusOK, issuedView(is))
	}
}

func revokeCredentialHandler(m CredentialManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		identityID, credentialID, ok := owner(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad credential id"})
		}
		if err := m.Revoke(c.Request().Context(), identityID, credentialID); err != nil {
			return credentialError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"revoked": true, "id": credentialID})
	}
}

func deleteCredentialHandler(m CredentialManager) echo.HandlerFunc {
	return func(c echo.Context) error {
		identityID, credentialID, ok := owner(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad credential id"})
		}
		if err := m.Delete(c.Request().Context(), identityID, credentialID); err != nil {
			return credentialError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
