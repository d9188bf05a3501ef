package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/utils"
	"gopkg.in/yaml.v3"
)

// Config holds everything needed to run a payment flow
type Config struct {
	BackendURL          string             `yaml:"backendURL"`
	WalletRPCURL        string             `yaml:"walletRPCURL"`
	PollInterval        time.Duration      `yaml:"pollInterval"`
	ConfirmationTimeout time.Duration      `yaml:"confirmationTimeout"`
	AccountPollInterval time.Duration      `yaml:"accountPollInterval"`
	LogLevel            string             `yaml:"logLevel"`
	LogFormat           string             `yaml:"logFormat"`
	Metrics             MetricsConfig      `yaml:"metrics"`
	ChainEndpoints      map[int64][]string `yaml:"chainEndpoints"`
	// OfficialEndpoints adds the built-in public RPC endpoints to ChainEndpoints
	OfficialEndpoints bool `yaml:"officialEndpoints"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		BackendURL:          constants.DefaultBackendURL,
		WalletRPCURL:        constants.DefaultWalletRPCURL,
		PollInterval:        constants.DefaultPollInterval,
		ConfirmationTimeout: constants.DefaultConfirmationTimeout,
		AccountPollInterval: constants.DefaultAccountPollInterval,
		LogLevel:            constants.DefaultLogLevel,
		LogFormat:           "text",
		Metrics:             MetricsConfig{Listen: constants.DefaultMetricsListenAddress},
	}
}

// Load aggregates configuration from defaults, an optional YAML file and the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.BackendURL = envOr("WALLETPAY_BACKEND_URL", cfg.BackendURL)
	cfg.WalletRPCURL = envOr("WALLETPAY_WALLET_RPC_URL", cfg.WalletRPCURL)
	cfg.LogLevel = envOr("WALLETPAY_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("WALLETPAY_LOG_FORMAT", cfg.LogFormat)
	cfg.Metrics.Listen = envOr("WALLETPAY_METRICS_LISTEN", cfg.Metrics.Listen)

	var err error
	if cfg.OfficialEndpoints, err = envOrBool("WALLETPAY_OFFICIAL_ENDPOINTS", cfg.OfficialEndpoints); err != nil {
		return err
	}
	if cfg.PollInterval, err = envOrDuration("WALLETPAY_POLL_INTERVAL", cfg.PollInterval); err != nil {
		return err
	}
	if cfg.ConfirmationTimeout, err = envOrDuration("WALLETPAY_CONFIRMATION_TIMEOUT", cfg.ConfirmationTimeout); err != nil {
		return err
	}
	if cfg.AccountPollInterval, err = envOrDuration("WALLETPAY_ACCOUNT_POLL_INTERVAL", cfg.AccountPollInterval); err != nil {
		return err
	}
	return nil
}

// Validate checks the configuration for values the payment flow cannot run with
func (c Config) Validate() error {
	var errs []error
	if err := utils.ValidateBackendURL(c.BackendURL); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.WalletRPCURL) == "" {
		errs = append(errs, errors.New("wallet RPC URL is required"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll interval must be positive, got %s", c.PollInterval))
	}
	if c.ConfirmationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("confirmation timeout must be positive, got %s", c.ConfirmationTimeout))
	}
	if c.AccountPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("account poll interval must be positive, got %s", c.AccountPollInterval))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	for chainID, endpoints := range c.ChainEndpoints {
		if len(endpoints) == 0 {
			errs = append(errs, fmt.Errorf("chain %d has no endpoints", chainID))
		}
	}
	return errors.Join(errs...)
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func envOrBool(key string, fallback bool) (bool, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}
