package middleware

import (
	"github.com/Utkarshchaudhary009/Docverse/internal/util"
	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
)

const ctxRequestID = "request_id"

// RequestID assigns every request a server-minted ULID, echoed in X-Request-Id. An inbound
// X-Request-Id is discarded: the id keys the usage record, so clients must not choose it.
func RequestID() echo.MiddlewareFunc {
	assign := echoMid.RequestIDWithConfig(echoMid.RequestIDConfig{
		Generator: util.New,
		RequestIDHandler: func(c echo.Context, id string) {
			c.Set(ctxRequestID, id)
		},
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := assign(next)
		return func(c echo.Context) error {
			c.Request().Header.Del(echo.HeaderXRequestID)
			return h(c)
		}
	}
}

// RequestIDFromCtx returns the id assigned by RequestID.
func RequestIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxRequestID).(string)
	return id, ok && id != ""
}
