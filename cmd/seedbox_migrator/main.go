package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/italolelis/seedbox_migrator/internal/config"
	"github.com/italolelis/seedbox_migrator/internal/dc/deluge"
	"github.com/italolelis/seedbox_migrator/internal/dc/transmission"
	"github.com/italolelis/seedbox_migrator/internal/logctx"
	"github.com/italolelis/seedbox_migrator/internal/migrate"
	"github.com/italolelis/seedbox_migrator/internal/notifier"
	"github.com/italolelis/seedbox_migrator/internal/telemetry"
	"github.com/urfave/cli/v3"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app := &cli.Command{
		Name:    "seedbox_migrator",
		Usage:   "Move completed torrents from Deluge to Transmission",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "load environment variables from `FILE` before reading the configuration",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override LOG_LEVEL (DEBUG, INFO, WARN, ERROR)",
			},
		},
		Action: run,
	}

	if err := app.Run(ctx, os.Args); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.LoadConfig(cmd.StringSlice("env-file")...)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	level := cfg.SlogLevel()
	if cmd.IsSet("log-level") {
		level = config.ParseLevel(cmd.String("log-level"))
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
	)).With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	ctx = logctx.WithLogger(ctx, logger)

	logger.Info("seedbox migrator starting...", "version", version, "log_level", level.String())

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "seedbox_migrator",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	if tel.Enabled() {
		server := setupMetricsServer(ctx, tel, cfg)

		go func() {
			logger.Info("serving metrics", "host", cfg.Telemetry.BindAddress)

			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "err", err)
			}
		}()

		defer stopMetricsServer(ctx, server, cfg.Telemetry.Linger)
	}

	// =========================================================================
	// Build Clients
	httpClient := newHTTPClient(cfg, tel)

	source := migrate.NewInstrumentedSourceClient(
		deluge.NewClient(cfg.Deluge.URL, cfg.Deluge.Password, cfg.Deluge.ConfigDir, httpClient),
		tel, "deluge",
	)

	dest := migrate.NewInstrumentedDestinationClient(
		transmission.NewClient(cfg.Transmission.URL, cfg.Transmission.Username, cfg.Transmission.Password, httpClient),
		tel, "transmission",
	)

	// =========================================================================
	// Run Migration
	migrator := migrate.NewMigrator(source, dest, migrate.Config{
		SourceBaseDir:      cfg.Deluge.DataDir,
		DestinationBaseDir: cfg.Transmission.DataDir,
		AllowEmpty:         cfg.AllowEmpty,
	}, tel)

	summary, runErr := migrator.Run(ctx)

	notifySummary(ctx, cfg, summary, runErr)

	if runErr != nil {
		return runErr
	}

	logger.Info("finished adding torrents to transmission", summary.Attrs()...)

	return nil
}

func newHTTPClient(cfg *config.Config, tel *telemetry.Telemetry) *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: tel.Transport(base),
	}
}

func setupMetricsServer(ctx context.Context, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID, telemetry.HTTPLogging)
	r.Method(http.MethodGet, "/metrics", tel.Handler())

	return &http.Server{
		Addr:              cfg.Telemetry.BindAddress,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// stopMetricsServer keeps /metrics up for linger so a scraper can collect the
// final values of a short-lived run, then shuts the server down.
func stopMetricsServer(ctx context.Context, server *http.Server, linger time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	if linger > 0 {
		logger.Info("keeping metrics endpoint up", "linger", linger.String())

		select {
		case <-ctx.Done():
		case <-time.After(linger):
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to gracefully shutdown the metrics server", "err", err)

		if err = server.Close(); err != nil {
			logger.Error("could not stop metrics server", "err", err)
		}
	}
}

func notifySummary(ctx context.Context, cfg *config.Config, summary *migrate.Summary, runErr error) {
	if cfg.DiscordWebhookURL == "" {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}

	content := "✅ Deluge → Transmission migration finished: " + summary.String()
	if runErr != nil {
		content = "❌ Deluge → Transmission migration aborted after " + summary.String() + ": " + runErr.Error()
	}

	if err := notif.Notify(context.WithoutCancel(ctx), content); err != nil {
		logger.Error("failed to send notification", "err", err)
	}
}
