package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dnssentinel/sentinel-brain/internal/api"
	"github.com/dnssentinel/sentinel-brain/internal/config"
	"github.com/dnssentinel/sentinel-brain/internal/engine"
	"github.com/dnssentinel/sentinel-brain/internal/metrics"
	"github.com/dnssentinel/sentinel-brain/internal/migrations"
	"github.com/dnssentinel/sentinel-brain/internal/models"
	"github.com/dnssentinel/sentinel-brain/internal/repo"
	"github.com/dnssentinel/sentinel-brain/internal/services"
	"github.com/dnssentinel/sentinel-brain/internal/trigger"
	"github.com/dnssentinel/sentinel-brain/internal/utils"
)

// Version is set via ldflags during build.
var Version = "dev"

var configPath string

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "sentinel-brain",
	Short:         "Reasoning layer of DNS Sentinel",
	Long:          "sentinel-brain turns multi-region DNS probe telemetry into validated remediation decisions for the execution layer.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (defaults to $SENTINEL_CONFIG)")

	analyzeCmd.Flags().String("target", "", "DNS target to assess")
	analyzeCmd.Flags().String("as-of", "", "Window end as RFC3339 (defaults to now)")
	analyzeCmd.Flags().StringSlice("action-id", nil, "Recent change id eligible for rollback (repeatable)")
	_ = analyzeCmd.MarkFlagRequired("target")

	replayCmd.Flags().String("incident", "", "Stored incident id to replay")
	_ = replayCmd.MarkFlagRequired("incident")

	historyCmd.Flags().String("target", "", "DNS target whose audit trail to mine")
	historyCmd.Flags().Int("limit", 200, "Number of recent audit records to read")
	_ = historyCmd.MarkFlagRequired("target")

	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	playbooksCmd.AddCommand(playbooksSyncCmd)
	rootCmd.AddCommand(serveCmd, analyzeCmd, replayCmd, historyCmd, migrateCmd, playbooksCmd)
}

func loadConfig(logOut io.Writer) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, utils.NewLoggerTo(logOut, cfg.Logging.Level, cfg.Logging.JSON), nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC service, trigger consumer and metrics endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(os.Stdout)
		if err != nil {
			return err
		}
		logger.Info("starting sentinel-brain", slog.String("address", cfg.Server.Address), slog.String("version", Version))

		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		server, err := api.NewServer(cfg.Server, services.NewSentinelService(logger, a.pipeline))
		if err != nil {
			return fmt.Errorf("create gRPC server: %w", err)
		}

		var wg sync.WaitGroup
		var httpServer *http.Server
		if cfg.Server.MetricsAddress != "" {
			httpServer = api.NewHTTPServer(cfg.Server.MetricsAddress, prometheus.DefaultGatherer, a.hub, a.history, logger)
			go func() {
				logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server exited", slog.Any("error", err))
					stop()
				}
			}()
		}

		if cfg.Trigger.Enabled {
			consumer, err := trigger.New(a.redis, a.pipeline, trigger.Options{
				Stream:           cfg.Trigger.Stream,
				Group:            cfg.Trigger.Group,
				Consumer:         cfg.Trigger.Consumer,
				Block:            cfg.Trigger.Block,
				MaxCycleAttempts: cfg.Trigger.MaxCycleAttempts,
				RatePerTarget:    cfg.Trigger.RatePerTarget,
				Burst:            cfg.Trigger.Burst,
				CycleTimeout:     cfg.Trigger.CycleTimeout,
				Logger:           logger,
			})
			if err != nil {
				return fmt.Errorf("create trigger consumer: %w", err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := consumer.Run(ctx); err != nil {
					logger.Error("trigger consumer exited", slog.Any("error", err))
					stop()
				}
			}()
		}

		go func() {
			if serveErr := server.Start(); serveErr != nil {
				logger.Error("gRPC server exited", slog.Any("error", serveErr))
				stop()
			}
		}()

		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server shutdown", slog.Any("error", err))
			}
		}
		wg.Wait()
		logger.Info("sentinel-brain stopped")
		return nil
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze --target TARGET",
	Short: "Run one analysis cycle and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		asOfRaw, _ := cmd.Flags().GetString("as-of")
		actionIDs, _ := cmd.Flags().GetStringSlice("action-id")

		asOf, err := utils.OptionalRFC3339(asOfRaw)
		if err != nil {
			return fmt.Errorf("--as-of: %w", err)
		}
		return runOnce(cmd.Context(), func(ctx context.Context, p *engine.Pipeline) (models.CycleResult, error) {
			return p.Analyze(ctx, models.AnalyzeRequest{Target: target, AsOf: asOf, RecentActionIDs: actionIDs})
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay --incident ID",
	Short: "Replay a stored incident without reaching the execution layer",
	RunE: func(cmd *cobra.Command, args []string) error {
		incident, _ := cmd.Flags().GetString("incident")
		return runOnce(cmd.Context(), func(ctx context.Context, p *engine.Pipeline) (models.CycleResult, error) {
			return p.Replay(ctx, models.ReplayRequest{IncidentID: incident})
		})
	},
}

func runOnce(parent context.Context, run func(context.Context, *engine.Pipeline) (models.CycleResult, error)) error {
	cfg, logger, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	timeout := cfg.Trigger.CycleTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	res, cycleErr := run(ctx, a.pipeline)
	if cycleErr != nil && !errors.Is(cycleErr, engine.ErrRejected) {
		return cycleErr
	}
	out, err := api.ToResultStruct(res)
	if err != nil {
		return err
	}
	body, err := out.MarshalJSON()
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return cycleErr
}

var historyCmd = &cobra.Command{
	Use:   "history --target TARGET",
	Short: "Summarise recurring regions and flaps from the audit trail",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("target")
		limit, _ := cmd.Flags().GetInt("limit")
		cfg, logger, err := loadConfig(os.Stderr)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		a, err := buildApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.history.MineTarget(ctx, target, limit)
		if err != nil {
			return err
		}
		body, err := json.MarshalIndent(summary, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(body))
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachPostgres(func(r migrations.Runner) error { return r.Up(cmd.Context()) })
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return forEachPostgres(func(r migrations.Runner) error { return r.Status() })
	},
}

// forEachPostgres runs fn once per distinct Postgres DSN in the config.
func forEachPostgres(fn func(migrations.Runner) error) error {
	cfg, logger, err := loadConfig(os.Stdout)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, target := range []struct{ driver, dsn string }{
		{cfg.Telemetry.Driver, cfg.Telemetry.DSN},
		{cfg.Audit.Driver, cfg.Audit.DSN},
	} {
		if target.driver != "postgres" || target.dsn == "" || seen[target.dsn] {
			continue
		}
		seen[target.dsn] = true
		runner, err := migrations.New(target.dsn, logger)
		if err != nil {
			return err
		}
		if err := fn(runner); err != nil {
			return err
		}
	}
	if len(seen) == 0 {
		logger.Info("no postgres stores configured; nothing to migrate")
	}
	return nil
}

var playbooksCmd = &cobra.Command{
	Use:   "playbooks",
	Short: "Manage the playbook index",
}

var playbooksSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload the playbook file to Weaviate",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(os.Stdout)
		if err != nil {
			return err
		}
		if cfg.Weaviate.Endpoint == "" {
			return errors.New("weaviate.endpoint is required")
		}
		entries, err := loadPlaybooks(cfg, engine.NewHashingEncoder(cfg.Engine.EmbeddingDims))
		if err != nil {
			return err
		}
		weaviate := repo.NewWeaviateRepo(cfg.Weaviate.Endpoint, cfg.Weaviate.APIKey, cfg.Weaviate.Class, cfg.Weaviate.Timeout, nil, 0)
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		if err := weaviate.StorePlaybooks(ctx, entries); err != nil {
			return err
		}
		logger.Info("playbooks synced", slog.Int("entries", len(entries)), slog.String("class", cfg.Weaviate.Class))
		return nil
	},
}
