// Command shippo-extract replicates Shippo objects to stdout as a
// stream of schema, record, and state messages.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/parcelworks/shippo-extract/pkg/client"
	"github.com/parcelworks/shippo-extract/pkg/config"
	"github.com/parcelworks/shippo-extract/pkg/logging"
	"github.com/parcelworks/shippo-extract/pkg/metrics"
	"github.com/parcelworks/shippo-extract/pkg/singer"
	"github.com/parcelworks/shippo-extract/pkg/state"
	"github.com/parcelworks/shippo-extract/pkg/sync"
)

var (
	cfgFile   string
	statePath string
	logLevel  string
	pretty    bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shippo-extract",
		Short: "Incremental Shippo data extractor",
		Long: `shippo-extract replicates addresses, parcels, shipments, transactions,
and refunds from the Shippo API. Records and state checkpoints are written
to stdout as JSON lines; logs go to stderr.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runExtract,
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "path to config file (all keys also readable from SHIPPO_* environment variables)")
	cmd.Flags().StringVar(&statePath, "state", "", "override state.path for the file backend")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "human-readable console logs instead of JSON")

	return cmd
}

func runExtract(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if statePath != "" {
		cfg.State.Path = statePath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if pretty {
		cfg.Logging.Pretty = true
	}
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Pretty: cfg.Logging.Pretty,
		Output: os.Stderr,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ln, err := metrics.Listen(cfg.Metrics.Port); err != nil {
		return err
	} else if ln != nil {
		defer ln.Close()
		logger.Info().Str("addr", ln.Addr().String()).Msg("Metrics listener started")
	}

	store, closeStore, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	apiClient, err := client.New(cfg.ClientConfig())
	if err != nil {
		return err
	}

	syncCfg, err := cfg.SyncConfig()
	if err != nil {
		return err
	}

	syncer, err := sync.New(apiClient, singer.NewWriter(os.Stdout), store, syncCfg)
	if err != nil {
		return err
	}

	return syncer.Run(ctx)
}

// buildStore wires the configured checkpoint backend. The returned
// closer is a no-op for the file backend.
func buildStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (state.CheckpointStore, func(), error) {
	switch cfg.State.Backend {
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.State.Redis.Addr,
			Password: cfg.State.Redis.Password,
			DB:       cfg.State.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.State.Redis.Addr, err)
		}
		logger.Info().Str("addr", cfg.State.Redis.Addr).Msg("Connected to redis state backend")
		return state.NewRedisStore(rdb, cfg.State.Redis.Key), func() { rdb.Close() }, nil
	default:
		logger.Info().Str("path", cfg.State.Path).Msg("Using file state backend")
		return state.NewFileStore(cfg.State.Path), func() {}, nil
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shippo-extract: %v\n", err)
		os.Exit(1)
	}
}
