package migrate

import (
	"context"
	"fmt"

	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

// MaybeRunDev applies the embedded migrations when running in dev with the
// auto-migrate flag on. Other environments run cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	fsys := Migrations()
	if err := Validate(fsys); err != nil {
		return fmt.Errorf("embedded migrations invalid: %w", err)
	}

	applied, err := Up(ctx, sqlDB, fsys)
	if err != nil {
		return err
	}

	versions := make([]int64, 0, len(applied))
	for _, a := range applied {
		versions = append(versions, a.Version)
	}
	logg.Info(logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"applied":  len(applied),
		"versions": versions,
	}), "dev migrations applied")
	return nil
}
