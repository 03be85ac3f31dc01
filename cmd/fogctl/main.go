package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"codeberg.org/mutker/fogctl/internal/alert"
	"codeberg.org/mutker/fogctl/internal/api"
	"codeberg.org/mutker/fogctl/internal/config"
	"codeberg.org/mutker/fogctl/internal/engine"
	"codeberg.org/mutker/fogctl/internal/environment"
	"codeberg.org/mutker/fogctl/internal/errors"
	"codeberg.org/mutker/fogctl/internal/gpu"
	"codeberg.org/mutker/fogctl/internal/logger"
	"codeberg.org/mutker/fogctl/internal/metrics"
	"codeberg.org/mutker/fogctl/internal/pid"
	"codeberg.org/mutker/fogctl/internal/store"
	"codeberg.org/mutker/fogctl/internal/telemetry"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(cfg.PIDFile); err != nil {
		if errors.HasCode(err, errors.ErrAlreadyRunning) {
			logger.Fatal().Str("pid_file", cfg.PIDFile).Msg("Another instance is already running")
		}
		logger.Fatal().Err(err).Msg("Failed to write PID file")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, cfg)
	cleanup(cfg)

	if err != nil {
		logger.Error().Err(err).Msg("Exiting with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Default()
	clk := clock.RealClock{}

	st, err := store.New(cfg.Store, log.With("store"), store.WithClock(clk))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close store")
		}
	}()

	var rec *metrics.Recorder
	if cfg.Metrics.Enabled {
		rec = metrics.New()
		if err := rec.RegisterStore(storeStats(st)); err != nil {
			return err
		}
	}

	profiles, err := environment.NewRegistryFromConfig(cfg.Environment)
	if err != nil {
		return err
	}

	opts := []engine.Option{
		engine.WithClock(clk),
		engine.WithLogger(log.With("engine")),
		engine.WithStore(st),
		engine.WithMetrics(rec),
		engine.WithProfiles(profiles),
	}

	var notifier *alert.WebhookNotifier
	if cfg.Notify.Enabled() {
		notifier, err = alert.NewWebhookNotifier(cfg.Notify, alert.WithClock(clk), alert.WithLogger(log.With("notify")))
		if err != nil {
			return err
		}
		opts = append(opts, engine.WithNotifier(notifier))
	}

	eng, err := engine.New(cfg.Engine(), opts...)
	if err != nil {
		return err
	}

	if restored, err := eng.RestoreTrends(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to restore trend indices, starting from zero")
	} else if !restored {
		logger.Debug().Msg("No trend snapshot found, starting from zero")
	}

	serverOpts := []api.Option{api.WithLogger(log.With("api"))}
	if rec != nil {
		serverOpts = append(serverOpts, api.WithMetrics(cfg.Metrics.Path, rec.Handler()))
	}
	server, err := api.New(cfg.Server, eng, serverOpts...)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx)
	})

	g.Go(func() error {
		return tickTrends(gctx, clk, cfg, eng)
	})

	if notifier != nil {
		g.Go(func() error {
			return notifier.Run(gctx)
		})
	}

	if cfg.Probe.Enabled {
		probe, err := gpu.NewProbe(cfg.Probe, gpu.NewNVMLSensor(), func(ctx context.Context, p telemetry.Payload) error {
			_, err := eng.Process(ctx, p)
			return err
		}, gpu.WithClock(clk), gpu.WithLogger(log.With("probe")))
		if err != nil {
			return err
		}

		g.Go(func() error {
			return probe.Run(gctx)
		})
	}

	logger.Info().
		Str("listen", cfg.Server.ListenAddr).
		Bool("store", cfg.Store.Enabled).
		Bool("metrics", cfg.Metrics.Enabled).
		Bool("probe", cfg.Probe.Enabled).
		Str("manual_fallback", string(cfg.Control.ManualFallback)).
		Msg("fogctl started")

	return g.Wait()
}

// tickTrends advances the trend indices independent of telemetry arrival.
func tickTrends(ctx context.Context, clk clock.WithTicker, cfg *config.Config, eng *engine.Engine) error {
	ticker := clk.NewTicker(cfg.Trend.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if _, err := eng.TickTrends(ctx); err != nil {
				logger.Debug().Err(err).Msg("Trend tick skipped")
			}
		}
	}
}

func storeStats(st store.Store) func() metrics.StoreStats {
	return func() metrics.StoreStats {
		s := st.Stats()
		return metrics.StoreStats{
			Pending:        s.Pending,
			Dropped:        s.Dropped,
			FlushFailures:  s.FlushFailures,
			RecordsWritten: s.RecordsWritten,
		}
	}
}

func cleanup(cfg *config.Config) {
	if err := pid.Remove(cfg.PIDFile); err != nil {
		logger.Error().Err(err).Msg("Failed to remove PID file")
	}
	logger.Info().Msg("Exiting...")
}
