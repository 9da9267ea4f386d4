package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dropmarket/config"
	"dropmarket/core"
	"dropmarket/core/pricing"
	"dropmarket/native/coupon"
	"dropmarket/observability/logging"
	telemetry "dropmarket/observability/otel"
	"dropmarket/rpc"
	"dropmarket/storage"
)

const serviceName = "marketd"

func main() {
	if err := run(); err != nil {
		slog.Error("marketd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.toml", "path to marketd configuration")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.Setup(serviceName, cfg.Log.Environment, cfg.Log.Level)
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Log.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	var client *ethclient.Client
	if cfg.Chain.RPCURL != "" {
		client, err = dialChain(cfg.Chain.RPCURL)
		if err != nil {
			return err
		}
		defer client.Close()
	}

	feed, err := buildFeed(cfg, client)
	if err != nil {
		return err
	}

	fee := cfg.FeeBps
	opts := core.Options{
		Owner:     common.HexToAddress(cfg.Owner),
		FeeBps:    &fee,
		Heartbeat: time.Duration(cfg.HeartbeatSeconds) * time.Second,
		Feed:      feed,
		Verifier:  coupon.PreimageVerifier{},
		Logger:    logger,
	}
	if cfg.Treasury != "" {
		opts.Treasury = common.HexToAddress(cfg.Treasury)
	}
	if client != nil {
		opts.Caller = client
	}
	operator, err := core.NewOperator(db, opts)
	if err != nil {
		return fmt.Errorf("open market: %w", err)
	}
	admin := operator.Admin()
	logger.Info("market opened",
		slog.String("owner", admin.Owner.Hex()),
		slog.String("treasury", admin.Treasury.Hex()),
		slog.Uint64("feeBps", admin.FeeBps),
		slog.String("root", operator.StateRoot().Hex()),
	)

	api := rpc.New(rpc.Config{
		Operator: operator,
		Auth: rpc.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.JWTSecret(),
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
			MutationTokens:    cfg.RateLimit.MutationTokens,
		},
		ServiceName: serviceName,
		Logger:      logger,
	})
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      api.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("marketd listening", slog.String("address", cfg.ListenAddress))
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
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func openDatabase(dir string) (storage.Database, error) {
	if dir == "" {
		return storage.NewMemDB(), nil
	}
	db, err := storage.NewLevelDB(dir)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", dir, err)
	}
	return db, nil
}

// dialChain connects to the EVM endpoint over a traced HTTP transport.
func dialChain(url string) (*ethclient.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   30 * time.Second,
	}
	rpcClient, err := gethrpc.DialOptions(ctx, url, gethrpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return ethclient.NewClient(rpcClient), nil
}

func buildFeed(cfg *config.Config, client *ethclient.Client) (pricing.RoundFeed, error) {
	if cfg.Oracle.Mode == config.OracleModeChainlink {
		if client == nil {
			return nil, fmt.Errorf("chainlink oracle requires Chain.RPCURL")
		}
		return pricing.NewChainlinkFeed(client, common.HexToAddress(cfg.Oracle.FeedAddress))
	}
	manual := pricing.NewManualFeed(cfg.Oracle.ManualDecimals)
	if cfg.Oracle.ManualAnswer != "" {
		answer, ok := new(big.Int).SetString(cfg.Oracle.ManualAnswer, 10)
		if !ok {
			return nil, fmt.Errorf("parse Oracle.ManualAnswer %q", cfg.Oracle.ManualAnswer)
		}
		if _, err := manual.Publish(answer, time.Now()); err != nil {
			return nil, fmt.Errorf("seed manual feed: %w", err)
		}
	}
	return manual, nil
}
