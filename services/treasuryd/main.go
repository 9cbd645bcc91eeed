package treasuryd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"revledger/config"
	"revledger/core/events"
	"revledger/core/state"
	"revledger/gateway/middleware"
	"revledger/integrations/audit"
	"revledger/integrations/webhooks"
	"revledger/native/escrow"
	"revledger/native/treasury"
	"revledger/observability"
	"revledger/observability/logging"
	telemetry "revledger/observability/otel"
	"revledger/services/payoutd"
	"revledger/services/payoutd/wallet"
	"revledger/storage"
)

// Main initialises and runs the treasury daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "treasuryd.toml", "path to treasuryd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser := logging.Setup("treasuryd", cfg.Environment, logging.Options{
		Level:      logging.ParseLevel(cfg.Log.Level),
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	defer func() { _ = logCloser.Close() }()
	logger.Info("treasuryd configuration loaded", configAttrs(cfg)...)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "treasuryd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := openLedger(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() { _ = db.Close() }()

	if journal := strings.TrimSpace(cfg.Payouts.Journal); journal != "" {
		if err := os.MkdirAll(filepath.Dir(journal), 0o755); err != nil {
			return fmt.Errorf("create journal dir: %w", err)
		}
	}
	opts, journal, err := cfg.Payouts.Options()
	if err != nil {
		return fmt.Errorf("open payout journal: %w", err)
	}
	if journal != nil {
		defer func() { _ = journal.Close() }()
	}
	// The settlement wallet is injected by the deployment; until then every
	// transfer is rejected and claims restore the holder's balance.
	opts = append(opts, payoutd.WithWallet(wallet.Unconfigured()), payoutd.WithLogger(logger))
	processor := payoutd.NewProcessor(opts...)
	if cfg.Payouts.PauseOnStart {
		processor.Pause()
	}

	emitters := events.Multi{observability.Events()}
	if driver := strings.TrimSpace(cfg.Audit.Driver); driver != "" {
		gormDB, err := audit.Open(driver, cfg.Audit.DSN)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		if sqlDB, err := gormDB.DB(); err == nil {
			defer func() { _ = sqlDB.Close() }()
		}
		sink, err := audit.NewSink(gormDB, logger)
		if err != nil {
			return fmt.Errorf("init audit sink: %w", err)
		}
		emitters = append(emitters, sink)
	}
	if endpoint := strings.TrimSpace(cfg.Webhook.Endpoint); endpoint != "" {
		dispatcher, err := webhooks.NewDispatcher(endpoint, []byte(cfg.Webhook.Secret),
			webhooks.WithLogger(logger),
			webhooks.WithHTTPClient(&http.Client{
				Timeout:   15 * time.Second,
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			}),
		)
		if err != nil {
			return fmt.Errorf("init webhooks: %w", err)
		}
		defer dispatcher.Close()
		emitters = append(emitters, dispatcher)
	}

	mem := escrow.NewMemEscrow()
	factory := treasury.NewFactory(treasury.Deps{
		Escrow:  mem,
		Payer:   processor,
		Emitter: emitters,
		Store:   state.NewLedgerStore(db),
		Logger:  logger,
	})

	manifest, err := LoadManifest(cfg.ManagersFile)
	if err != nil {
		return err
	}
	if err := manifest.Apply(factory, mem); err != nil {
		return fmt.Errorf("deploy managers: %w", err)
	}

	srv := New(Config{
		Factory:   factory,
		Escrow:    mem,
		Processor: processor,
		Auth: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ScopeClaim: cfg.Auth.ScopeClaim,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		}, logger),
		Limiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			"api": {RequestsPerMinute: cfg.RateLimit.RequestsPerMinute, Burst: cfg.RateLimit.Burst},
		}, logger),
		Observe: middleware.NewObservability("treasuryd", cfg.Log.Level == "debug", logger),
		Logger:  logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(srv.Handler(), "treasuryd"),
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("treasuryd listening", slog.String("addr", cfg.ListenAddress), slog.Int("managers", len(factory.List())))
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// configAttrs summarises the effective configuration for the startup log with
// credentials masked.
func configAttrs(cfg *config.Config) []any {
	return []any{
		slog.String("environment", cfg.Environment),
		slog.String("listen", cfg.ListenAddress),
		slog.String("storage", cfg.Storage.Backend),
		slog.Bool("auth_enabled", cfg.Auth.Enabled),
		logging.MaskField("hmac_secret", cfg.Auth.HMACSecret),
		slog.String("audit_driver", cfg.Audit.Driver),
		logging.MaskField("dsn", cfg.Audit.DSN),
		slog.String("webhook_endpoint", cfg.Webhook.Endpoint),
		logging.MaskField("webhook_secret", cfg.Webhook.Secret),
	}
}

func openLedger(cfg config.Storage) (storage.Database, error) {
	switch cfg.Backend {
	case storage.BackendBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
	case storage.BackendLevelDB:
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, err
		}
	}
	return storage.Open(cfg.Backend, cfg.Path)
}
