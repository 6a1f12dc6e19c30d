package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Utkarshchaudhary009/Docverse/internal/cache"
	"github.com/Utkarshchaudhary009/Docverse/internal/config"
	"github.com/Utkarshchaudhary009/Docverse/internal/credential"
	"github.com/Utkarshchaudhary009/Docverse/internal/db"
	"github.com/Utkarshchaudhary009/Docverse/internal/logger"
	"github.com/Utkarshchaudhary009/Docverse/internal/model"
	"github.com/Utkarshchaudhary009/Docverse/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo identities and print their secrets",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.Log)

		// 2) connect MySQL and Redis
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		redisClient, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		ceilings, err := cfg.RateLimit.Ceilings()
		if err != nil {
			return err
		}

		identities := repository.NewIdentitiesRepository(sqlDB)
		mgr := credential.NewManager(
			repository.NewCredentialsRepository(sqlDB),
			identities,
			cache.NewRedisVerdictCache(redisClient, cfg.Auth.CachePrefix, cfg.Auth.CacheTimeout),
			ceilings,
			cfg.Credentials.SecretPrefix,
			cfg.Credentials.DefaultTTL,
		)

		logger.Log.Info(">> Seeding demo identities...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, ident := range demoIdentities() {
			ident.DailyRequestLimit = ceilings.Daily(ident.Tier)
			id, err := identities.Create(ctx, ident)
			if err != nil {
				return fmt.Errorf("insert identity %q: %w", ident.ExternalRef, err)
			}
			is, err := mgr.Issue(ctx, id, "seed", 0)
			if err != nil {
				return fmt.Errorf("issue credential for %q: %w", ident.ExternalRef, err)
			}
			fmt.Printf("%-16s %-10s %s\n", ident.ExternalRef, ident.Tier, is.Secret)
		}

		logger.Log.Info(">> Seed completed", zap.Int("identities", len(demoIdentities())))
		return nil
	},
}

// demoIdentities are deterministic; re-running seed keeps the identities and issues fresh
// credentials.
func demoIdentities() []model.Identity {
	mk := func(ref, email, name string, tier model.Tier, role model.Role) model.Identity {
		return model.Identity{
			ExternalRef: ref,
			Email:       email,
			FullName:    name,
			Tier:        tier,
			Status:      model.IdentityActive,
			Role:        role,
		}
	}
	return []model.Identity{
		mk("seed_free", "free@docverse.dev", "Free Tier", model.TierFree, model.RoleUser),
		mk("seed_developer", "developer@docverse.dev", "Developer Tier", model.TierDeveloper, model.RoleUser),
		mk("seed_pro", "pro@docverse.dev", "Pro Tier", model.TierPro, model.RoleUser),
		mk("seed_admin", "admin@docverse.dev", "Gateway Admin", model.TierPro, model.RoleAdmin),
	}
}
