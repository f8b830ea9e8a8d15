package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/mirror_downloader/internal/config"
	"github.com/italolelis/mirror_downloader/internal/downloader"
	"github.com/italolelis/mirror_downloader/internal/http/rest"
	"github.com/italolelis/mirror_downloader/internal/listing"
	"github.com/italolelis/mirror_downloader/internal/listing/ftp"
	"github.com/italolelis/mirror_downloader/internal/logctx"
	"github.com/italolelis/mirror_downloader/internal/mirror"
	"github.com/italolelis/mirror_downloader/internal/notifier"
	"github.com/italolelis/mirror_downloader/internal/storage"
	"github.com/italolelis/mirror_downloader/internal/storage/sqlite"
	"github.com/italolelis/mirror_downloader/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("mirror downloader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	// =========================================================================
	// Start Journal
	var journal storage.PassRepository

	if cfg.JournalEnabled {
		database, err := sqlite.InitDB(cfg.DBPath)
		if err != nil {
			logger.Error("DB error", "err", err)

			return err
		}
		defer database.Close()

		journal = sqlite.NewInstrumentedPassRepository(database, tel)
	}

	// =========================================================================
	// Start Mirror
	m, err := buildMirror(cfg, journal, tel)
	if err != nil {
		return err
	}
	defer m.Close()

	// =========================================================================
	// Start Notification
	setupNotifications(ctx, m, cfg)

	if cfg.RunOnce {
		return runOnce(ctx, m)
	}

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, m, journal, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for mirror passes...",
		"base_url", cfg.BaseURL,
		"remote_dir", cfg.RemoteDir,
		"target_dir", cfg.TargetDir,
		"update_interval", cfg.UpdateInterval.String(),
	)

	// =========================================================================
	// Start Main Loop
	ticker := time.NewTicker(cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-serverErrors:
			return fmt.Errorf("server error: %w", err)
		case <-ctx.Done():
			logger.Info("start shutdown")

			// Give outstanding requests a deadline for completion.
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
			defer cancel()

			if err := server.Shutdown(ctx); err != nil {
				logger.Error("failed to gracefully shutdown the server", "err", err)

				if err = server.Close(); err != nil {
					return fmt.Errorf("could not stop server gracefully: %w", err)
				}
			}

			return nil
		case <-ticker.C:
			if _, err := m.Sync(ctx); err != nil {
				logger.Error("mirror pass failed", "err", err)
			}
		}
	}
}

// runOnce performs a single pass and maps an unclean result to a non-zero
// exit so cron-style callers can detect it.
func runOnce(ctx context.Context, m *mirror.Mirror) error {
	summary, err := m.Sync(ctx)
	if err != nil {
		return err
	}

	if !summary.Clean() {
		return fmt.Errorf("pass finished with %d failed and %d mismatched files", summary.Failed, summary.Mismatched)
	}

	return nil
}

func buildMirror(cfg *config.Config, journal storage.PassRepository, tel *telemetry.Telemetry) (*mirror.Mirror, error) {
	lister, err := buildLister(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build lister: %w", err)
	}

	httpClient := &http.Client{
		Timeout:   cfg.DownloadTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	engine := downloader.NewEngine(httpClient, cfg.MaxParallel)

	return mirror.New(
		lister,
		engine,
		downloader.NewRetryCoordinator(engine),
		journal,
		tel,
		mirror.Config{
			BaseURL:         cfg.BaseURL,
			RemoteDir:       cfg.RemoteDir,
			TargetDir:       cfg.TargetDir,
			Prefix:          cfg.Prefix,
			Suffix:          cfg.Suffix,
			MaxRetries:      cfg.MaxRetries,
			VerifyChecksums: cfg.VerifyChecksums,
			ChecksumExt:     cfg.ChecksumExt,
			ChecksumField:   cfg.ChecksumField,
		},
	), nil
}

func buildLister(cfg *config.Config) (listing.Lister, error) {
	addr, err := cfg.FTPAddress()
	if err != nil {
		return nil, err
	}

	return ftp.NewClient(addr, cfg.FTPUsername, cfg.FTPPassword, cfg.FTPTimeout), nil
}

func setupNotifications(ctx context.Context, m *mirror.Mirror, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier
	if cfg.DiscordWebhookURL != "" {
		notif = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}
	}

	go func() {
		for summary := range m.OnPassCompleted {
			if notif == nil {
				continue
			}

			var content string
			if summary.Clean() {
				if summary.Succeeded == 0 {
					continue // nothing new, nothing to say
				}

				content = fmt.Sprintf("✅ Mirror pass finished: %d files downloaded", summary.Succeeded)
			} else {
				content = fmt.Sprintf("❌ Mirror pass left %d failed and %d mismatched files",
					summary.Failed, summary.Mismatched)
			}

			if notifyErr := notif.Notify(content); notifyErr != nil {
				logger.Error("failed to send notification", "err", notifyErr)
			}
		}
	}()
}

// setupServer prepares the handlers and middlewares for the status API.
func setupServer(ctx context.Context, m *mirror.Mirror, journal storage.PassRepository, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)
	r.Mount("/", rest.NewStatusHandler(m, journal).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
