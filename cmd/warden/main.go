// Command warden runs the moderation core: timed mutes and bans, supervised
// reviews, and the ops HTTP endpoints.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"warden/internal/moderation/handler"
	"warden/internal/moderation/ports"
	filestore "warden/internal/moderation/store/file"
	pgstore "warden/internal/moderation/store/postgres"
	redisstore "warden/internal/moderation/store/redis"
	"warden/internal/platform/config"
	"warden/internal/platform/postgres"
	platformredis "warden/internal/platform/redis"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Timed restrictions and supervised review for online communities",
	Long: `warden tracks mutes, bans and reviews per subject, expires them on
schedule and escalates unresolved reviews to bans.

Process settings come from WARDEN_* environment variables; moderation
settings (intervals, durations, permissions, messages) from the YAML file
named by --config or WARDEN_CONFIG.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "moderation config file (overrides WARDEN_CONFIG)")
	rootCmd.AddCommand(serveCmd, inspectCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and the moderation file.
func loadConfig() (config.Config, error) {
	cfg := config.FromEnv()
	if configPath != "" {
		cfg.ConfigFile = configPath
	}
	if err := cfg.Moderation.LoadFile(cfg.ConfigFile); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// backend is an opened restriction store with its probe and cleanup.
type backend struct {
	store  ports.RestrictionStore
	health handler.HealthCheck
	close  func()
}

func openBackend(ctx context.Context, cfg config.Config, log *slog.Logger) (backend, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		client, err := platformredis.New(ctx, cfg.Redis)
		if err != nil {
			return backend{}, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store, err := redisstore.New(client.Client,
			redisstore.WithKeyPrefix(cfg.Store.KeyPrefix),
			redisstore.WithLogger(log),
		)
		if err != nil {
			_ = client.Close()
			return backend{}, err
		}
		return backend{
			store:  store,
			health: client.Health,
			close:  func() { _ = client.Close() },
		}, nil

	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Postgres)
		if err != nil {
			return backend{}, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		store, err := pgstore.New(db)
		if err != nil {
			_ = db.Close()
			return backend{}, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return backend{}, err
		}
		return backend{
			store:  store,
			health: pingDB(db),
			close:  func() { _ = db.Close() },
		}, nil

	default:
		store, err := filestore.New(cfg.Store.DataDir, filestore.WithLogger(log))
		if err != nil {
			return backend{}, err
		}
		return backend{store: store, close: func() {}}, nil
	}
}

func pingDB(db *sql.DB) handler.HealthCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
