package worker

import (
	"fmt"

	"github.com/Utkarshchaudhary009/Docverse/internal/cache"
	"github.com/Utkarshchaudhary009/Docverse/internal/db"
	"github.com/Utkarshchaudhary009/Docverse/internal/identity"
	"github.com/Utkarshchaudhary009/Docverse/internal/kafka"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/repository"
	"github.com/Utkarshchaudhary009/Docverse/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var identitySyncCmd = &cobra.Command{
	Use:   "identity-sync",
	Short: "Apply identity-provider events from Kafka",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, ctx, stop, err := setup(cmd)
		if err != nil {
			return err
		}
		defer stop()
		defer logger.Sync()

		dbx, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer dbx.Close()

		redisClient, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		ceilings, err := cfg.RateLimit.Ceilings()
		if err != nil {
			return err
		}

		svc := identity.NewService(
			repository.NewIdentitiesRepository(dbx),
			repository.NewCredentialsRepository(dbx),
			cache.NewRedisVerdictCache(redisClient, cfg.Auth.CachePrefix, cfg.Auth.CacheTimeout),
			ceilings,
		)

		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.IdentityTopic)
		defer consumer.Close()

		logger.Log.Info(">> identity sync worker starting", zap.String("topic", cfg.Kafka.IdentityTopic))
		return worker.NewIdentitySyncWorker(consumer, svc).Run(ctx)
	},
}
