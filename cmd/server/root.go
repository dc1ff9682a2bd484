package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/points-ledger/api"
	"github.com/warp/points-ledger/config"
	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/ledger/store"
	"github.com/warp/points-ledger/points"
	"github.com/warp/points-ledger/store/bolt"
	"github.com/warp/points-ledger/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "Learning points ledger",
	Long: `Append-only points ledger for a learning platform. Awards points for
lessons, quizzes and daily logins, tracks learning streaks and records
every balance change with its idempotency key.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a TOML config file")
	rootCmd.PersistentFlags().String("db", "", "Store path (overrides storage.path)")
	rootCmd.PersistentFlags().String("driver", "", "Store driver: sqlite, bolt or memory (overrides storage.driver)")
}

// ─── shared wiring ──────────────────────────────────────────────────────────

// loadConfig applies file, env and then persistent flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	if db, _ := cmd.Flags().GetString("db"); db != "" {
		cfg.Storage.Path = db
	}
	if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if cmd.Flags().Changed("db") || cmd.Flags().Changed("driver") {
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// backend is an opened store plus its optional health check.
type backend struct {
	store  ledger.TxStore
	pinger api.Pinger
}

func (b *backend) close() error {
	if c, ok := b.store.(ledger.Closer); ok {
		return c.Close()
	}
	return nil
}

func openStore(cfg config.StorageConfig) (*backend, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return &backend{store: store.NewMemory()}, nil

	case config.DriverBolt:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		s, err := bolt.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &backend{store: s}, nil

	case config.DriverSQLite:
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &backend{store: s, pinger: s}, nil
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}

func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return nil
}

// coordinatorOptions turns the ledger and rules sections into Coordinator
// options. The scenario loader reuses them.
func coordinatorOptions(cfg config.Config, logger *zap.Logger) ([]points.Option, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return []points.Option{
		points.WithRules(cfg.Rules.Rules()),
		points.WithLocation(loc),
		points.WithHistoryLimit(cfg.Ledger.HistoryLimit),
		points.WithLogger(logger),
	}, nil
}

// session is the setup shared by the inspection commands.
type session struct {
	backend *backend
	coord   *points.Coordinator
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	opts, err := coordinatorOptions(cfg, zap.NewNop())
	if err != nil {
		return nil, err
	}
	b, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	return &session{backend: b, coord: points.New(b.store, opts...)}, nil
}

func (s *session) Close() error { return s.backend.close() }
