// Command payflow runs one payment end to end: it connects a JSON-RPC wallet,
// creates an intent with the backend, submits the transfer, waits for the receipt
// and asks the backend to verify it.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sigweihq/walletpay/pkg/backend"
	"github.com/sigweihq/walletpay/pkg/chains"
	"github.com/sigweihq/walletpay/pkg/chains/evm"
	"github.com/sigweihq/walletpay/pkg/config"
	"github.com/sigweihq/walletpay/pkg/confirmation"
	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/coordinator"
	"github.com/sigweihq/walletpay/pkg/metrics"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/transaction"
	"github.com/sigweihq/walletpay/pkg/types"
	"github.com/sigweihq/walletpay/pkg/wallet"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	amount := flag.String("amount", "", "amount to pay in ETH, e.g. 0.5")
	description := flag.String("description", "", "payment description")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payment, err := run(ctx, cfg, logger, *amount, *description)
	if payment != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(payment)
	}
	if err != nil {
		logger.Error("Payment failed", "kind", string(payerr.KindOf(err)), "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, amount, description string) (*types.Payment, error) {
	if strings.TrimSpace(amount) == "" {
		return nil, payerr.New(payerr.KindValidation, "-amount is required")
	}

	recorder, shutdown := startMetrics(cfg, logger)
	defer shutdown()

	provider, err := wallet.DialRPCProvider(ctx, cfg.WalletRPCURL, cfg.AccountPollInterval, logger)
	if err != nil {
		return nil, err
	}
	defer provider.Close()

	connector := wallet.NewConnector(provider, logger)
	defer connector.Disconnect()

	// Receipts come from configured chain endpoints when the wallet's chain has any,
	// otherwise from the wallet itself
	endpoints := cfg.ChainEndpoints
	if cfg.OfficialEndpoints {
		endpoints = evm.MergeOfficialEndpoints(endpoints)
	}
	registry := chains.NewRegistry()
	for _, err := range evm.RegisterEndpoints(registry, endpoints) {
		logger.Warn("Skipping chain endpoints", "error", err)
	}
	prioritizeEndpoints(ctx, registry, logger)
	receipts := chains.NewRouter(registry, func() int64 { return connector.Session().ChainID }, wallet.ReceiptSource(provider))

	client, err := backend.NewClient(&backend.Config{URL: cfg.BackendURL, Logger: logger})
	if err != nil {
		return nil, err
	}

	coord, err := coordinator.New(coordinator.Config{
		Connector:           connector,
		Intents:             client.Intents,
		Submitter:           transaction.NewSubmitter(provider, logger),
		Watcher:             confirmation.NewWatcher(receipts, logger),
		Verifier:            client.Verification,
		Logger:              logger,
		Metrics:             recorder,
		PollInterval:        cfg.PollInterval,
		ConfirmationTimeout: cfg.ConfirmationTimeout,
	})
	if err != nil {
		return nil, err
	}
	defer coord.Close()

	session, restored, err := coord.Restore(ctx)
	if err != nil {
		return nil, err
	}
	if !restored {
		if session, err = coord.Connect(ctx); err != nil {
			return nil, err
		}
	}
	logger.Info("Wallet ready", "account", session.Account.Hex(), "chain_id", session.ChainID, "restored", restored)

	payment, err := coord.Pay(ctx, amount, description)
	if err != nil {
		return &payment, err
	}

	if record, err := client.Status.Get(ctx, payment.Intent.ID); err != nil {
		logger.Warn("Could not read payment status", "intent_id", payment.Intent.ID, "error", err)
	} else {
		logger.Info("Backend payment status", "intent_id", record.ID, "status", record.Status, "tx_hash", record.TxHash)
	}
	return &payment, nil
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// startMetrics serves Prometheus metrics when a listen address is configured
func startMetrics(cfg config.Config, logger *slog.Logger) (metrics.Recorder, func()) {
	if cfg.Metrics.Listen == "" {
		return metrics.NoopRecorder{}, func() {}
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: constants.ResponseHeaderTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	logger.Info("Serving metrics", "addr", cfg.Metrics.Listen)

	return recorder, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// prioritizeEndpoints health checks every registered RPC endpoint, healthy ones first
func prioritizeEndpoints(ctx context.Context, registry *chains.Registry, logger *slog.Logger) {
	for _, chainID := range registry.SupportedChains() {
		adapter, err := registry.Get(chainID)
		if err != nil {
			continue
		}
		evmAdapter, ok := adapter.(*evm.Adapter)
		if !ok {
			continue
		}
		healthy, unhealthy := evmAdapter.RPC().Prioritize(ctx)
		logger.Info("Endpoint health check completed",
			"network", evmAdapter.Network(),
			"healthy", healthy,
			"unhealthy", unhealthy)
	}
}
