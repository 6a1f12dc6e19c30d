package http

import (
	"context"
	"net/http"

	"github.com/Utkarshchaudhary009/Docverse/internal/config"
	"github.com/Utkarshchaudhary009/Docverse/internal/content"
	"github.com/Utkarshchaudhary009/Docverse/internal/http/middleware"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/metrics"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Deps are the collaborators behind the routes. Reports may be nil when ClickHouse is not
// configured.
type Deps struct {
	Authenticator middleware.Authenticator
	Limiter       middleware.Limiter
	Recorder      middleware.Recorder
	Retriever     content.Retriever
	Credentials   CredentialManager
	Identities    IdentityAdmin
	Usage         UsageLister
	Reports       DailyReporter
}

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, d Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	lvl := gommonLevel(cfg.Log.Level)
	e.Logger.SetLevel(lvl)
	log.SetLevel(lvl)

	e.Use(
		middleware.RequestID(),
		echoMid.Recover(),
		echoMid.Logger(),
	)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	authMW := middleware.Authenticate(d.Authenticator, cfg.HTTP.CredentialHeader)
	throttle := middleware.NewIPThrottle(cfg.HTTP.ManagementRPS, cfg.HTTP.ManagementBurst).Middleware()

	// gateway routes: authenticated, recorded, quota-counted
	gw := e.Group("/v1/libraries", authMW, middleware.Record(d.Recorder), middleware.Limit(d.Limiter))
	gw.POST("/:lib/query", queryHandler(d.Retriever))

	// management routes: authenticated, not quota-counted
	mgmt := e.Group("/v1", throttle, authMW)
	mgmt.GET("/credentials", listCredentialsHandler(d.Credentials))
	mgmt.POST("/credentials", issueCredentialHandler(d.Credentials))
	mgmt.POST("/credentials/:id/rotate", rotateCredentialHandler(d.Credentials))
	mgmt.POST("/credentials/:id/revoke", revokeCredentialHandler(d.Credentials))
	mgmt.DELETE("/credentials/:id", deleteCredentialHandler(d.Credentials))
	mgmt.GET("/usage", listUsageHandler(d.Usage))
	mgmt.GET("/usage/daily", dailyUsageHandler(d.Reports))

	admin := e.Group("/admin", throttle, authMW, middleware.RequireAdmin())
	admin.PUT("/identities/:ref/tier", changeTierHandler(d.Identities))
	admin.POST("/identities/events", applyEventHandler(d.Identities))

	return &Server{e: e}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

func gommonLevel(level string) log.Lvl {
	switch level {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	default:
		return log.INFO
	}
}
