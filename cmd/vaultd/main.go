package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"flashvault/cmd/internal/vaultstate"
	"flashvault/config"
	"flashvault/integrations/webhooks"
	"flashvault/observability/logging"
	telemetry "flashvault/observability/otel"
	"flashvault/rpc"
	"flashvault/storage/journal"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configFile := flag.String("config", "./vault.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	env := strings.TrimSpace(os.Getenv("VAULT_ENV"))
	if env == "" {
		env = cfg.Log.Env
	}
	logger := logging.SetupWithOptions("vaultd", env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, env, logger); err != nil {
		logger.Error("vaultd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, env string, logger *slog.Logger) error {
	logEffectiveConfig(logger, cfg)
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "vaultd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	db, err := vaultstate.OpenDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	vault, err := vaultstate.Open(db, cfg, logger)
	if err != nil {
		return err
	}

	eventLog, err := journal.Open(journal.Config{Dir: cfg.Vault.JournalDir, SyncWrites: true}, logger)
	if err != nil {
		return fmt.Errorf("open event journal: %w", err)
	}
	defer eventLog.Close()
	vault.SetSink(vaultstate.Sink(eventLog))

	if cfg.Webhook.URL != "" {
		opts := []webhooks.Option{webhooks.WithEventTypes(cfg.Webhook.Events...), webhooks.WithLogger(logger)}
		if cfg.Webhook.MaxAttempts > 0 {
			opts = append(opts, webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0))
		}
		dispatcher, err := webhooks.NewDispatcher(cfg.Webhook.URL, []byte(cfg.Webhook.Secret), opts...)
		if err != nil {
			return fmt.Errorf("init webhooks: %w", err)
		}
		defer dispatcher.Close()
		eventLog.OnAppend(dispatcher.Listener())
	}

	idem, err := rpc.OpenIdempotencyStore(cfg.RPC.IdempotencyDB, 0, logger)
	if err != nil {
		return err
	}
	defer idem.Close()

	if strings.TrimSpace(cfg.RPC.JWTSecret) == "" {
		logger.Warn("rpc.jwt_secret is empty; authenticated routes will reject every request")
	}
	server := rpc.NewServer(rpc.Config{
		Listen:             cfg.RPC.Listen,
		JWTSecret:          cfg.RPC.JWTSecret,
		JWTIssuer:          cfg.RPC.JWTIssuer,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		ReadTimeout:        time.Duration(cfg.RPC.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:       time.Duration(cfg.RPC.WriteTimeoutSeconds) * time.Second,
	}, vault, eventLog, idem, logger)

	logger.Info("vaultd started",
		slog.String("vault", vault.Address().String()),
		slog.String("owner", cfg.Vault.Owner),
		slog.String("listen", cfg.RPC.Listen),
		slog.String("version", version))
	if err := server.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// logEffectiveConfig records the settings the daemon runs with. Secrets and
// credential-bearing URLs are masked.
func logEffectiveConfig(logger *slog.Logger, cfg *config.Config) {
	logger.Info("effective configuration",
		slog.Group("vault",
			slog.String("owner", cfg.Vault.Owner),
			slog.String("data_dir", cfg.Vault.DataDir),
			slog.String("journal_dir", cfg.Vault.JournalDir),
			slog.String("pause_policy", cfg.Vault.PausePolicy),
		),
		slog.Group("rpc",
			slog.String("listen", cfg.RPC.Listen),
			logging.MaskField("jwt_secret", cfg.RPC.JWTSecret),
			slog.String("jwt_issuer", cfg.RPC.JWTIssuer),
			slog.Float64("rate_limit_per_second", cfg.RPC.RateLimitPerSecond),
			slog.Int("rate_limit_burst", cfg.RPC.RateLimitBurst),
		),
		slog.Group("webhook",
			logging.MaskURL("url", cfg.Webhook.URL),
			logging.MaskField("webhook_secret", cfg.Webhook.Secret),
			slog.Any("events", cfg.Webhook.Events),
			slog.Int("max_attempts", cfg.Webhook.MaxAttempts),
		),
		slog.Group("telemetry",
			logging.MaskURL("endpoint", cfg.Telemetry.Endpoint),
			logging.MaskField("headers", cfg.Telemetry.Headers),
		),
		slog.Group("gas",
			logging.MaskURL("api_url", cfg.Gas.APIURL),
			logging.MaskURL("node_url", cfg.Gas.NodeURL),
		),
	)
}
