package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/kscreen/internal/account"
	"github.com/goodtune/kscreen/internal/config"
	"github.com/goodtune/kscreen/internal/events"
	"github.com/goodtune/kscreen/internal/history"
	"github.com/goodtune/kscreen/internal/metrics"
	"github.com/goodtune/kscreen/internal/overlay"
	"github.com/goodtune/kscreen/internal/poller"
	"github.com/goodtune/kscreen/internal/policy"
	"github.com/goodtune/kscreen/internal/scheduler"
	"github.com/goodtune/kscreen/internal/storage"
	"github.com/goodtune/kscreen/internal/storage/bolt"
	"github.com/goodtune/kscreen/internal/storage/redis"
	"github.com/goodtune/kscreen/internal/storage/sqlite"
	"github.com/goodtune/kscreen/internal/systemd"
	"github.com/goodtune/kscreen/internal/usage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the kscreen daemon",
	Long:  `Start the poll loop, the history scheduler and the metrics endpoint.`,
	RunE:  runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting kscreen")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	kv, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()
	store := storage.NewObserved(kv)

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	location, err := cfg.Policy.LoadLocation()
	if err != nil {
		return fmt.Errorf("failed to load time zone: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Rule Engine
	engine, err := policy.NewEngine(policy.Config{
		StartupDelay: config.ParseDuration(cfg.Policy.StartupDelay, policy.DefaultStartupDelay),
		Location:     location,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Rule Engine: %w", err)
	}

	rules := policy.NewRuleRepository(store, logger)
	if err := rules.Reload(ctx, engine, cfg.Policy.RulesFile); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	stopWatch := rules.Watch(store, engine)
	defer stopWatch()

	logger.Info().
		Int("rules", len(engine.Rules())).
		Str("location", location.String()).
		Msg("Rule Engine initialized")

	// Linked account, informational only
	if user, err := account.NewStore(store, logger).Get(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to read linked user")
	} else if user != nil {
		logger.Info().Str("user_id", user.ID).Str("device_id", user.DeviceID).Msg("Device linked")
	}

	// Initialize Session Tracker and History Store
	tracker := usage.NewTracker(usage.NewEventLog(), logger)

	hist := history.NewStore(store, logger)
	hist.SetLocation(location)
	stopHistory := hist.Subscribe(func(kind history.Kind) {
		logger.Debug().Str("kind", string(kind)).Msg("History updated")
	})
	defer stopHistory()

	// Initialize Poll Controller
	source, err := openSource(cfg.Source, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event source: %w", err)
	}

	presenter, err := overlay.New(cfg.Presenter.Type, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize presenter: %w", err)
	}

	controller := poller.NewController(poller.Config{
		PollInterval: config.ParseDuration(cfg.Tracker.PollInterval, poller.DefaultPollInterval),
		InitialDelay: config.ParseDuration(cfg.Tracker.InitialDelay, poller.DefaultInitialDelay),
		WindowWidth:  config.ParseDuration(cfg.Tracker.WindowWidth, 300*time.Millisecond),
		Lookback:     config.ParseDuration(cfg.Tracker.Lookback, poller.DefaultLookback),
	}, source, tracker, engine, presenter, logger)
	controller.SetHistory(hist)

	watchdog, err := systemd.NewWatchdog()
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read systemd watchdog settings")
	}
	if watchdog != nil {
		logger.Info().Dur("interval", watchdog.Interval()).Msg("Systemd watchdog enabled")
		controller.OnTick(func(poller.TickResult, error) {
			if err := watchdog.Ping(time.Now()); err != nil {
				logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
			}
		})
	}

	// Initialize Scheduler
	sched := scheduler.NewScheduler(scheduler.Config{
		HeartbeatInterval: config.ParseDuration(cfg.History.HeartbeatInterval, scheduler.DefaultHeartbeatInterval),
		PruneInterval:     config.ParseDuration(cfg.History.PruneInterval, scheduler.DefaultPruneInterval),
		EventRetention:    config.ParseDuration(cfg.Tracker.EventRetention, scheduler.DefaultEventRetention),
	}, tracker, hist, controller, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// Initialize Metrics Server
	var metricsServer *metrics.Server
	if cfg.Server.MetricsEnabled {
		metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
		metricsServer = metrics.NewServer(metricsAddr, logger)

		// Use systemd socket-activated listener if available
		if sdListeners.Activated && sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}

		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start Metrics Server: %w", err)
		}
	}

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- controller.Run(ctx)
	}()

	logger.Info().
		Str("source", cfg.Source.Type).
		Str("presenter", cfg.Presenter.Type).
		Msg("kscreen startup complete")

	// Notify systemd that we're ready
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

wait:
	for {
		select {
		case err := <-loopDone:
			if err != nil {
				logger.Error().Err(err).Msg("Poll loop exited")
			}
			break wait

		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				logger.Info().Msg("SIGHUP received, reloading rules...")
				_ = systemd.NotifyReloading()
				if err := rules.Reload(ctx, engine, cfg.Policy.RulesFile); err != nil {
					logger.Error().Err(err).Msg("Failed to reload rules")
				} else {
					logger.Info().Int("rules", len(engine.Rules())).Msg("Rules reloaded successfully")
				}
				_ = systemd.NotifyReady()
				continue
			}

			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			cancel()
			<-loopDone
			break wait
		}
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	sched.Stop()

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping Metrics Server")
		}
	}

	logger.Info().Int64("watermark", controller.Watermark()).Msg("kscreen stopped")
	return nil
}

// openStorage opens the configured KV backend
func openStorage(cfg config.StorageConfig) (storage.KVStore, error) {
	switch cfg.Type {
	case "bolt", "":
		return bolt.Open(cfg.Path)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	case "memory":
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// openSource opens the configured usage event source
func openSource(cfg config.SourceConfig, logger zerolog.Logger) (events.Source, error) {
	switch cfg.Type {
	case "file", "":
		return events.NewFileSource(cfg.Path, logger), nil
	case "memory":
		return events.NewMemorySource(), nil
	default:
		return nil, fmt.Errorf("unsupported source type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
