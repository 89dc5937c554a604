package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/meshbridge/pkg/cache"
	filecache "github.com/pario-ai/meshbridge/pkg/cache/file"
	rediscache "github.com/pario-ai/meshbridge/pkg/cache/redis"
	sqlitecache "github.com/pario-ai/meshbridge/pkg/cache/sqlite"
	"github.com/pario-ai/meshbridge/pkg/config"
	"github.com/pario-ai/meshbridge/pkg/generate"
	"github.com/pario-ai/meshbridge/pkg/logging"
	"github.com/pario-ai/meshbridge/pkg/materialize"
	"github.com/pario-ai/meshbridge/pkg/metrics"
	"github.com/pario-ai/meshbridge/pkg/remote"
	"github.com/pario-ai/meshbridge/pkg/session"
	"github.com/pario-ai/meshbridge/pkg/tracker"
)

// loadConfig reads --config. A missing file is fine unless the flag was set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadOrDefault(path, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openCache builds the configured cache backend.
func openCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "", "file":
		c, err := filecache.New(cfg.CacheIndexPath())
		if err != nil {
			return nil, err
		}
		return c, nil
	case "sqlite":
		c, err := sqlitecache.New(cfg.CacheDBPath())
		if err != nil {
			return nil, err
		}
		return c, nil
	case "redis":
		r := cfg.Cache.Redis
		c, err := rediscache.New(ctx, rediscache.Options{
			Addr:     r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// app holds the wired components for one command invocation.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	cache   cache.Cache
	ledger  *tracker.SQLiteTracker
	remote  *remote.GradioClient
	metrics *metrics.Collector
	svc     *generate.Service
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	a.cache, err = openCache(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}
	store, err := session.NewFileStore(cfg.SessionsDir())
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []generate.Option{generate.WithLogger(logger), generate.WithMetrics(a.metrics)}
	if cfg.Ledger.Enabled {
		a.ledger, err = tracker.New(cfg.LedgerDBPath())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		opts = append(opts, generate.WithLedger(a.ledger))
	}

	a.remote = remote.NewGradioClient(remote.Config{
		BaseURL:         cfg.Remote.BaseURL,
		APIPrefix:       cfg.Remote.APIPrefix,
		APIName:         cfg.Remote.APIName,
		HFToken:         cfg.Remote.HFToken,
		RequestTimeout:  cfg.Remote.RequestTimeout,
		DownloadTimeout: cfg.Remote.DownloadTimeout,
		DownloadDir:     filepath.Join(cfg.DataDir, "downloads"),
	}, logger)
	mat := materialize.New(materialize.Config{
		AssetDir:        cfg.ModelsDir(),
		ServiceBaseURL:  a.remote.BaseURL(),
		DownloadTimeout: cfg.Remote.DownloadTimeout,
	}, a.remote, logger)

	a.svc = generate.New(generate.Config{
		StaticPrefix:     cfg.StaticPrefix,
		Placeholder:      cfg.PlaceholderPath(),
		BatchConcurrency: cfg.Generate.BatchConcurrency,
	}, a.remote, mat, a.cache, store, opts...)
	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.ledger != nil {
		_ = a.ledger.Close()
	}
	_ = a.logger.Sync()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
