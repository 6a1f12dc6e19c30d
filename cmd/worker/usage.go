package worker

import (
	"fmt"

	"github.com/Utkarshchaudhary009/Docverse/internal/db"
	"github.com/Utkarshchaudhary009/Docverse/internal/kafka"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/repository"
	"github.com/Utkarshchaudhary009/Docverse/internal/usage"
	"github.com/Utkarshchaudhary009/Docverse/internal/worker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Apply usage records from Kafka to MySQL and batch them into ClickHouse",
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

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.UsageTopic)
		defer consumer.Close()

		w := worker.NewUsageWorker(
			consumer,
			usage.NewAccountant(repository.NewUsageRepository(dbx)),
			repository.NewCHUsageRepository(chDB),
		)

		// tune knobs
		if cfg.Worker.WorkerCount > 0 {
			w.Workers = cfg.Worker.WorkerCount
		}
		if cfg.Worker.BatchSize > 0 {
			w.BatchSize = cfg.Worker.BatchSize
		}
		if cfg.Worker.BatchWait > 0 {
			w.BatchWait = cfg.Worker.BatchWait
		}
		if cfg.Usage.WriteTimeout > 0 {
			w.WriteTimeout = cfg.Usage.WriteTimeout
		}
		if cfg.Usage.RetryBackoff > 0 {
			w.RetryBackoff = cfg.Usage.RetryBackoff
		}
		if cfg.Usage.MaxBackoff > 0 {
			w.MaxBackoff = cfg.Usage.MaxBackoff
		}

		logger.Log.Info(">> usage worker starting",
			zap.String("topic", cfg.Kafka.UsageTopic),
			zap.Int("workers", w.Workers),
			zap.Int("batch_size", w.BatchSize),
			zap.Duration("batch_wait", w.BatchWait),
		)
		return w.Run(ctx)
	},
}
