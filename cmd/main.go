package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"orbitsync/internal/caldav"
	"orbitsync/internal/config"
	"orbitsync/internal/convert"
	"orbitsync/internal/engine"
	"orbitsync/internal/google"
	"orbitsync/internal/models"
	"orbitsync/internal/provider"
	"orbitsync/internal/resolver"
	"orbitsync/internal/skylight"
	"orbitsync/internal/store"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "orbitsync",
		Usage: "Synchronize events between calendar providers through a canonical store.",
		Commands: []*cli.Command{
			syncCommand(),
			reconcileCommand(),
			doctorCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the synchronization process for all configured syncs.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run one sync cycle and exit."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Run sync every N seconds. Overrides --once."},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c.Bool("dry-run"))
			if err != nil {
				return err
			}
			defer env.db.Close()

			if c.Bool("dry-run") {
				env.logger.Info("Performing a dry run. No changes will be made.")
			}

			if c.IsSet("watch") && !c.Bool("once") {
				interval := time.Duration(c.Int("watch")) * time.Second
				env.logger.Info("Starting watcher.", "interval", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for ; true; <-ticker.C {
					if err := runAll(c.Context, env, engine.ModeRun); err != nil {
						env.logger.Error("Sync cycle failed", "error", err)
					}
				}
				return nil
			}

			env.logger.Info("Running a single sync cycle.")
			return runAll(c.Context, env, engine.ModeRun)
		},
	}
}

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Force a fresh cross-provider reconciliation, then sync once.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be merged without making changes."},
		},
		Action: func(c *cli.Context) error {
			env, err := setup(c.Bool("dry-run"))
			if err != nil {
				return err
			}
			defer env.db.Close()
			return runAll(c.Context, env, engine.ModeReconcile)
		},
	}
}

func doctorCommand() *cli.Command {
	return &cli.Command{
		Name:  "doctor",
		Usage: "Check that the database and every configured provider are reachable.",
		Action: func(c *cli.Context) error {
			env, err := setup(false)
			if err != nil {
				return err
			}
			defer env.db.Close()

			env.logger.Info("Checking provider readiness.", "syncs", len(env.defs))
			results := env.engine.CheckReadiness(c.Context, env.defs)

			failed := 0
			for providerID, err := range results {
				if err != nil {
					failed++
					fmt.Printf("  FAIL %s: %v\n", providerID, err)
				} else {
					fmt.Printf("  ok   %s\n", providerID)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d providers failed readiness checks", failed, len(results))
			}
			env.logger.Info("All providers ready.", "count", len(results))
			return nil
		},
	}
}

// environment bundles everything a command needs after setup.
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *store.DB
	engine *engine.Engine
	defs   []*models.SyncDefinition
}

func setup(dryRun bool) (*environment, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)

	defs, err := config.LoadDefinitions(cfg.SyncFile)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("no sync definitions found in %s", cfg.SyncFile)
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	registry := provider.NewRegistry()
	registry.Register(models.ProviderCalDAV, caldav.New)
	registry.Register(models.ProviderSkylight, skylight.New)
	registry.Register(models.ProviderGoogle, google.New)
	logger.Debug("Provider adapters registered", "types", registry.Types())

	res := resolver.New(cfg.ProviderPriority)
	res.Threshold = cfg.ConflictThreshold

	eng := engine.New(
		store.New(db, logger),
		registry,
		convert.New(logger),
		res,
		logger,
		engine.Options{
			DryRun:           dryRun,
			RunRetention:     cfg.RunRetention,
			DedupWindow:      cfg.DedupWindow,
			MappingRetention: cfg.MappingRetention,
		},
	)

	return &environment{cfg: cfg, logger: logger, db: db, engine: eng, defs: defs}, nil
}

// runAll executes every sync definition, concurrently across definitions.
// Directions within one definition stay sequential inside the engine.
func runAll(ctx context.Context, env *environment, mode string) error {
	var mu sync.Mutex
	var failed int
	var group errgroup.Group

	for _, def := range env.defs {
		group.Go(func() error {
			summary, err := env.engine.RunSync(ctx, def, mode)
			if err != nil {
				env.logger.Error("Sync failed", "sync_id", def.ID, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			env.logger.Info("Sync finished", "sync_id", def.ID, "status", summary.Status,
				"directions", len(summary.Runs))
			if summary.Status == models.RunStatusError {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	group.Wait()

	if failed > 0 {
		return fmt.Errorf("%d of %d syncs failed", failed, len(env.defs))
	}
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
