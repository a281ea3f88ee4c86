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

	"tgeledger/config"
	"tgeledger/core"
	"tgeledger/core/events"
	"tgeledger/crypto"
	"tgeledger/integrations/indexer"
	"tgeledger/integrations/webhooks"
	"tgeledger/observability"
	"tgeledger/observability/logging"
	telemetry "tgeledger/observability/otel"
	"tgeledger/rpc"
	"tgeledger/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	tokenFor := flag.String("issue-token", "", "Print a bearer token for the given address and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of tokens printed by -issue-token")
	exportDir := flag.String("export", "", "Write holder and notification exports to this directory and exit")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	if *tokenFor != "" {
		caller, err := crypto.ParseAddress(*tokenFor)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid address: %v\n", err)
			os.Exit(1)
		}
		token, err := rpc.IssueToken(cfg.RPC, caller, *tokenTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "issue token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logger := logging.SetupWithOptions(logging.Options{
		Service:    "saled",
		Env:        cfg.Environment,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *exportDir != "" {
		if err := runExport(ctx, cfg, *exportDir, logger); err != nil {
			logger.Error("export failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("saled stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	providers, err := telemetry.Start(ctx, telemetry.Config{
		ServiceName: "saled",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.OTLPInsecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.OTLPHeaders),
		Metrics:     cfg.Telemetry.EnableMetrics,
		Traces:      cfg.Telemetry.EnableTraces,
		SampleRatio: cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	db, err := storage.Open(cfg.StorageBackend, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	feed := events.NewFeed()
	emitters := events.Multi{feed, observability.Events()}

	if cfg.Indexer.Enabled {
		gormDB, err := indexer.Open(cfg.Indexer.DSN)
		if err != nil {
			return fmt.Errorf("open indexer: %w", err)
		}
		idx, err := indexer.New(gormDB, logger.With(slog.String("component", "indexer")))
		if err != nil {
			return err
		}
		defer idx.Close()
		emitters = append(emitters, idx)
		logger.Info("notification indexer enabled", slog.Uint64("last_sequence", idx.LastSequence()))
	}

	if url := strings.TrimSpace(cfg.Webhook.URL); url != "" {
		opts := []webhooks.Option{
			webhooks.WithTypes(cfg.Webhook.Types...),
			webhooks.WithLogger(logger.With(slog.String("component", "webhooks"))),
		}
		if cfg.Webhook.MaxAttempts > 0 {
			opts = append(opts, webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0))
		}
		dispatcher, err := webhooks.NewDispatcher(url, []byte(cfg.Webhook.Secret), opts...)
		if err != nil {
			return fmt.Errorf("webhook dispatcher: %w", err)
		}
		defer func() {
			dispatcher.Close()
			delivered, failed, dropped := dispatcher.Stats()
			logger.Info("webhook dispatcher closed",
				slog.Uint64("delivered", delivered),
				slog.Uint64("failed", failed),
				slog.Uint64("dropped", dropped))
		}()
		emitters = append(emitters, dispatcher)
		logger.Info("webhook forwarding enabled",
			slog.String("url", url),
			logging.MaskField("webhook_secret", cfg.Webhook.Secret))
	}

	runtime, err := core.NewRuntime(db,
		core.WithLogger(logger.With(slog.String("component", "ledger"))),
		core.WithEmitter(emitters),
		core.WithAsset(cfg.Asset))
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	if !runtime.Deployed() {
		if err := deploy(ctx, runtime, cfg, logger); err != nil {
			return err
		}
	} else {
		logger.Info("ledger loaded", slog.String("address", crypto.Bech32(runtime.Address())))
	}

	server, err := rpc.NewServer(runtime, feed, cfg.RPC, logger.With(slog.String("component", "rpc")))
	if err != nil {
		return err
	}
	logger.Info("rpc listening",
		slog.String("address", cfg.RPCAddress),
		slog.Bool("anonymous_reads", cfg.RPC.AllowAnonymousReads),
		logging.MaskField("jwt_secret", cfg.RPC.JWTSecret))
	if err := server.Serve(ctx, cfg.RPCAddress); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// deploy funds the genesis accounts and creates the ledger from the sale
// section. It only runs against an empty store.
func deploy(ctx context.Context, runtime *core.Runtime, cfg *config.Config, logger *slog.Logger) error {
	balances, err := cfg.GenesisBalances()
	if err != nil {
		return err
	}
	for _, balance := range balances {
		if err := runtime.Fund(balance.Address, balance.Amount); err != nil {
			return fmt.Errorf("fund %s: %w", balance.Address.Hex(), err)
		}
	}
	saleCfg, err := cfg.Sale.Build()
	if err != nil {
		return err
	}
	addr, err := runtime.DeployWithConfig(ctx, saleCfg.Owner, nil, saleCfg)
	if err != nil {
		return fmt.Errorf("deploy ledger: %w", err)
	}
	logger.Info("ledger created",
		slog.String("address", crypto.Bech32(addr)),
		slog.Int("genesis_accounts", len(balances)))
	return nil
}
