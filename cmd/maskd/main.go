package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-mask/internal/api"
	"github.com/raaihank/sentinel-mask/internal/audit"
	"github.com/raaihank/sentinel-mask/internal/config"
	"github.com/raaihank/sentinel-mask/internal/generation"
	"github.com/raaihank/sentinel-mask/internal/logger"
	"github.com/raaihank/sentinel-mask/internal/metrics"
	"github.com/raaihank/sentinel-mask/internal/ratelimit"
	"github.com/raaihank/sentinel-mask/internal/session"
	"github.com/raaihank/sentinel-mask/internal/stats"
	"github.com/raaihank/sentinel-mask/internal/websocket"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		envFile     = flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.Bool("health-check", false, "Perform health check and exit")
		healthURL   = flag.String("health-url", "http://localhost:8080/health", "URL probed by -health-check")
		watchConfig = flag.Bool("watch", true, "Reload privacy settings when the configuration file changes")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("sentinel-mask %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck {
		performHealthCheck(*healthURL)
		return
	}

	// a missing .env is normal outside development
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting sentinel-mask",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)
	api.Version = version

	opts, cleanup, err := buildOptions(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer cleanup()

	server, err := api.New(cfg, log, opts)
	if err != nil {
		log.Fatal("Failed to create API server", zap.Error(err))
	}

	if *watchConfig {
		err := config.Watch(func(next *config.Config) {
			if err := server.Reload(next.Privacy); err != nil {
				log.Error("Failed to apply configuration change", zap.Error(err))
			}
		}, func(err error) {
			log.Warn("Ignoring configuration change", zap.Error(err))
		})
		if err != nil {
			log.Info("Configuration hot reload disabled", zap.String("reason", err.Error()))
		}
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- server.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil {
			log.Error("Server error", zap.Error(err))
		}
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Stop(ctx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			os.Exit(1)
		}

		log.Info("Server shutdown complete")
	}
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}
	return logger.New(loggerConfig)
}

// buildOptions connects the optional collaborators enabled in cfg. The
// returned cleanup closes whatever was opened.
func buildOptions(cfg *config.Config, log *logger.Logger) (api.Options, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("Failed to close service", zap.Error(err))
			}
		}
	}

	opts := api.Options{
		Sessions: session.NewStore(cfg.Session, log),
	}

	if cfg.Stats.Enabled {
		recorder, err := stats.NewRecorder(cfg.Stats, log)
		if err != nil {
			cleanup()
			return opts, nil, fmt.Errorf("failed to initialize stats: %w", err)
		}
		closers = append(closers, recorder.Close)
		opts.Stats = recorder
	}

	if cfg.Audit.Enabled {
		store, err := audit.NewStore(cfg.Audit, log)
		if err != nil {
			cleanup()
			return opts, nil, fmt.Errorf("failed to initialize audit log: %w", err)
		}
		closers = append(closers, store.Close)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = store.Migrate(ctx)
		cancel()
		if err != nil {
			cleanup()
			return opts, nil, fmt.Errorf("failed to migrate audit log: %w", err)
		}
		opts.Audit = store
	}

	if cfg.Metrics.Enabled {
		opts.Metrics = metrics.New(nil)
	}

	if cfg.WebSocket.Enabled {
		opts.Hub = websocket.NewHub(cfg.WebSocket, log)
	}

	if cfg.RateLimit.Enabled {
		opts.Limiter = ratelimit.New(cfg.RateLimit)
	}

	// the default base URL is only usable with a key; a custom one may be a
	// local server that needs none
	if cfg.Upstream.APIKey != "" || cfg.Upstream.BaseURL != config.GetDefaults().Upstream.BaseURL {
		opts.Generator = generation.NewClient(cfg.Upstream, log)
	} else {
		log.Info("No generation service configured, /v1/chat is disabled")
	}

	return opts, cleanup, nil
}

// performHealthCheck performs a health check against the running server
func performHealthCheck(url string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
	os.Exit(0)
}
