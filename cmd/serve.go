package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/auth"
	"github.com/Utkarshchaudhary009/Docverse/internal/cache"
	"github.com/Utkarshchaudhary009/Docverse/internal/config"
	"github.com/Utkarshchaudhary009/Docverse/internal/content"
	"github.com/Utkarshchaudhary009/Docverse/internal/credential"
	"github.com/Utkarshchaudhary009/Docverse/internal/db"
	httpSrv "github.com/Utkarshchaudhary009/Docverse/internal/http"
	"github.com/Utkarshchaudhary009/Docverse/internal/identity"
	"github.com/Utkarshchaudhary009/Docverse/internal/kafka"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/ratelimit"
	"github.com/Utkarshchaudhary009/Docverse/internal/repository"
	"github.com/Utkarshchaudhary009/Docverse/internal/usage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log)
		defer logger.Sync()
		log := logger.Named("serve")

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		var reports httpSrv.DailyReporter
		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
			if err != nil {
				return fmt.Errorf("clickhouse connect: %w", err)
			}
			defer func() {
				_ = chDB.Close()
			}()
			reports = repository.NewCHUsageRepository(chDB)
		}

		// repos (MySQL)
		identitiesRepo := repository.NewIdentitiesRepository(mysqlDB)
		credentialsRepo := repository.NewCredentialsRepository(mysqlDB)
		usageRepo := repository.NewUsageRepository(mysqlDB)

		ceilings, err := cfg.RateLimit.Ceilings()
		if err != nil {
			return err
		}

		// decision layer
		verdicts := cache.NewRedisVerdictCache(redisClient, cfg.Auth.CachePrefix, cfg.Auth.CacheTimeout)
		authn := auth.New(verdicts, credentialsRepo, auth.Options{
			CacheTTL:     cfg.Auth.CacheTTL,
			StoreTimeout: cfg.Auth.StoreTimeout,
		})
		limiter := ratelimit.New(redisClient, ratelimit.Options{
			Prefix:   cfg.RateLimit.Prefix,
			Window:   cfg.RateLimit.Window,
			Timeout:  cfg.RateLimit.Timeout,
			FailOpen: cfg.RateLimit.FailOpen,
			Ceilings: ceilings,
		})

		// usage sink
		var sink usage.Sink = usage.NewAccountant(usageRepo)
		if cfg.Usage.Sink == "kafka" {
			producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.UsageTopic)
			defer func() { _ = producer.Close() }()
			sink = usage.NewKafkaSink(producer)
		}
		recorder := usage.NewRecorder(sink, usage.Options{
			Workers:      cfg.Usage.Workers,
			QueueSize:    cfg.Usage.QueueSize,
			WriteTimeout: cfg.Usage.WriteTimeout,
			MaxAttempts:  cfg.Usage.MaxAttempts,
			RetryBackoff: cfg.Usage.RetryBackoff,
		})

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Authenticator: authn,
			Limiter:       limiter,
			Recorder:      recorder,
			Retriever:     content.NewFromConfig(cfg.Content),
			Credentials: credential.NewManager(credentialsRepo, identitiesRepo, verdicts, ceilings,
				cfg.Credentials.SecretPrefix, cfg.Credentials.DefaultTTL),
			Identities: identity.NewService(identitiesRepo, credentialsRepo, verdicts, ceilings),
			Usage:      usageRepo,
			Reports:    reports,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil {
				log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		// responses are out; let pending usage records land before the stores close
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer drainCancel()
		if err := recorder.Close(drainCtx); err != nil {
			log.Warn("usage recorder did not drain", zap.Error(err))
		}

		return nil
	},
}
