package worker

import (
	"fmt"

	"github.com/Utkarshchaudhary009/Docverse/internal/credential"
	"github.com/Utkarshchaudhary009/Docverse/internal/db"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/repository"
	"github.com/Utkarshchaudhary009/Docverse/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runOnce string

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run periodic counter resets and expired-credential cleanup",
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

		ceilings, err := cfg.RateLimit.Ceilings()
		if err != nil {
			return err
		}

		identities := repository.NewIdentitiesRepository(dbx)
		creds := repository.NewCredentialsRepository(dbx)
		// expired verdicts are already refused on cache hits, so cleanup needs no cache
		mgr := credential.NewManager(creds, identities, nil, ceilings, cfg.Credentials.SecretPrefix, cfg.Credentials.DefaultTTL)

		s := scheduler.New(scheduler.Jobs(cfg.Scheduler, identities, creds, mgr)...)

		if runOnce != "" {
			n, err := s.RunNow(ctx, runOnce)
			if err != nil {
				return err
			}
			logger.Log.Info(">> job finished", zap.String("job", runOnce), zap.Int64("rows", n))
			return nil
		}

		if err := s.Start(ctx); err != nil {
			return err
		}
		logger.Log.Info(">> scheduler started", zap.Times("next_runs", s.NextRuns()))
		<-ctx.Done()
		s.Stop()
		return nil
	},
}

func init() {
	schedulerCmd.Flags().StringVar(&runOnce, "run", "", "run one job now and exit (daily-reset | monthly-reset | expired-cleanup)")
}
