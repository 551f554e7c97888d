package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"charityledger/cmd/internal/passphrase"
	"charityledger/config"
	"charityledger/core"
	"charityledger/core/payout"
	"charityledger/crypto"
	"charityledger/observability/logging"
	telemetry "charityledger/observability/otel"
	"charityledger/rpc"
	"charityledger/storage"
)

const (
	ownerPassEnv    = "CHARITY_OWNER_PASS"
	environmentEnv  = "CHARITY_ENV"
	shutdownTimeout = 10 * time.Second
)

var errNoListener = errors.New("charityd: listener required")

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	passSource := passphrase.NewSource(ownerPassEnv, "owner keystore")
	cfg, err := config.Load(*configFile, config.WithKeystorePassphraseSource(passSource.Get))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	env := strings.TrimSpace(os.Getenv(environmentEnv))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("charityd", env, logging.Options{
		File:  cfg.LogFile,
		Level: logging.ParseLevel(cfg.LogLevel),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", cfg.RPCAddress)
	if err != nil {
		logger.Error("failed to bind RPC address", slog.String("addr", cfg.RPCAddress), slog.Any("error", err))
		os.Exit(1)
	}
	if err := run(ctx, cfg, env, logger, ln); err != nil {
		logger.Error("charityd terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

// run wires storage, the ledger node and the RPC server, then serves on ln
// until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, env string, logger *slog.Logger, ln net.Listener) error {
	if ln == nil {
		return errNoListener
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "charityd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.Open(cfg.Backend, cfg.StoragePath())
	if err != nil {
		return fmt.Errorf("open %s storage: %w", cfg.Backend, err)
	}
	defer db.Close()

	node, err := buildNode(cfg, db, logger)
	if err != nil {
		return err
	}

	server, err := rpc.NewServer(node, rpcServerConfig(cfg, logger))
	if err != nil {
		return fmt.Errorf("init RPC server: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ln) }()
	logger.Info("charity ledger running",
		slog.String("addr", ln.Addr().String()),
		slog.String("backend", cfg.Backend),
		slog.Uint64("chainId", cfg.ChainID))

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown RPC server: %w", err)
	}
	if err := <-serveErr; err != nil {
		return err
	}
	logger.Info("charity ledger stopped")
	return nil
}

func buildNode(cfg *config.Config, db storage.Database, logger *slog.Logger) (*core.Node, error) {
	owner, err := crypto.ParseAddress(cfg.Owner)
	if err != nil {
		return nil, fmt.Errorf("owner address: %w", err)
	}
	vault, err := crypto.ParseAddress(cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("vault address: %w", err)
	}
	allocs, err := cfg.Allocations()
	if err != nil {
		return nil, err
	}

	opts := []core.Option{core.WithLogger(logger)}
	if url := strings.TrimSpace(cfg.Payout.WebhookURL); url != "" {
		token := ""
		if name := strings.TrimSpace(cfg.Payout.TokenEnv); name != "" {
			token = os.Getenv(name)
		}
		wallet, err := payout.NewWebhookWallet(url, token, time.Duration(cfg.Payout.TimeoutSeconds)*time.Second)
		if err != nil {
			return nil, fmt.Errorf("payout wallet: %w", err)
		}
		opts = append(opts, core.WithWallet(wallet))
	}

	node, err := core.NewNode(db, cfg.ChainID, vault, opts...)
	if err != nil {
		return nil, err
	}
	if err := node.InitGenesis(owner, allocs); err != nil {
		return nil, err
	}
	return node, nil
}

func rpcServerConfig(cfg *config.Config, logger *slog.Logger) rpc.ServerConfig {
	secret := ""
	if name := strings.TrimSpace(cfg.RPC.JWTSecretEnv); name != "" {
		secret = os.Getenv(name)
	}
	if secret == "" {
		logger.Info("admin RPC methods disabled; no JWT secret configured")
	}
	return rpc.ServerConfig{
		JWTSecret:          secret,
		JWTIssuer:          cfg.RPC.JWTIssuer,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
		AllowedOrigins:     append([]string{}, cfg.RPC.AllowedOrigins...),
		TrustProxyHeaders:  cfg.RPC.TrustProxyHeaders,
		MaxBodyBytes:       cfg.RPC.MaxBodyBytes,
		ReadTimeout:        time.Duration(cfg.RPC.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:       time.Duration(cfg.RPC.WriteTimeoutSeconds) * time.Second,
		Logger:             logger,
	}
}
