package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/migrate"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|create|validate")
	dir := flag.String("dir", "", "read migrations from this directory instead of the embedded set")
	name := flag.String("name", "", "migration name (for create)")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=version")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	var fsys fs.FS = migrate.Migrations()
	source := "embedded"
	if *dir != "" {
		fsys = os.DirFS(*dir)
		source = *dir
	}
	ctx = logg.WithFields(ctx, map[string]any{
		"env":    cfg.App.Env,
		"cmd":    *cmd,
		"source": source,
	})

	switch *cmd {
	case "create":
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, *name, time.Now())
		exitOnErr(ctx, logg, "create migration", err)
		logg.Info(logg.WithField(ctx, "path", path), "migration created")
		return
	case "validate":
		exitOnErr(ctx, logg, "validate migrations", migrate.Validate(fsys))
		logg.Info(ctx, "migrations valid")
		return
	}

	exitOnErr(ctx, logg, "validate migrations", migrate.Validate(fsys))

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	switch *cmd {
	case "up":
		applied, err := migrate.Up(ctx, sqlDB, fsys)
		exitOnErr(ctx, logg, "goose up", err)
		logApplied(ctx, logg, applied)
	case "down":
		applied, err := migrate.Down(ctx, sqlDB, fsys)
		exitOnErr(ctx, logg, "goose down", err)
		if applied != nil {
			logApplied(ctx, logg, []migrate.Applied{*applied})
		}
	case "version":
		target, err := strconv.ParseInt(*version, 10, 64)
		if err != nil || target < 0 {
			exitOnErr(ctx, logg, "parse -version", fmt.Errorf("invalid version %q", *version))
		}
		applied, err := migrate.To(ctx, sqlDB, fsys, target)
		exitOnErr(ctx, logg, "goose version", err)
		logApplied(ctx, logg, applied)
	case "status":
		statuses, err := migrate.ListStatus(ctx, sqlDB, fsys)
		exitOnErr(ctx, logg, "goose status", err)
		for _, st := range statuses {
			state := "pending"
			if st.Applied {
				state = "applied"
			}
			fmt.Printf("%-16d %-8s %s\n", st.Version, state, st.Path)
		}
	default:
		exitOnErr(ctx, logg, "dispatch", fmt.Errorf("unknown -cmd value %q", *cmd))
	}
}

func logApplied(ctx context.Context, logg *logger.Logger, applied []migrate.Applied) {
	if len(applied) == 0 {
		logg.Info(ctx, "schema already at target version")
		return
	}
	for _, a := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version": a.Version,
			"path":    a.Path,
			"empty":   a.Empty,
		}), "migration applied")
	}
}

func exitOnErr(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, step+" failed", err)
	os.Exit(1)
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
