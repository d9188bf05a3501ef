// Package backend talks to the payment backend that issues and verifies payment intents.
package backend

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/utils"
)

// BackendError codes produced by this package in addition to HTTP status codes
const (
	CodeMalformedResponse = "malformed_response"
	CodeAmountMismatch    = "amount_mismatch"
	CodeCreateFailed      = "create_failed"
	CodeNotFound          = "not_found"
)

// Config configures a backend client
type Config struct {
	URL        string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client provides access to the payment backend.
// The sub-clients share one HTTP client and base URL.
type Client struct {
	URL        string
	HTTPClient *http.Client

	// Intents mints payment intents. Endpoint: POST /create_payment
	Intents *IntentClient

	// Verification reports confirmed transactions. Endpoint: POST /verify_payment
	Verification *VerificationClient

	// Status reads a payment record. Endpoint: GET /payment_status/<id>
	Status *StatusClient
}

// NewClient creates a backend client with all sub-clients initialized
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{URL: constants.DefaultBackendURL}
	}
	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" {
		baseURL = constants.DefaultBackendURL
	}
	if err := utils.ValidateBackendURL(baseURL); err != nil {
		return nil, payerr.Wrap(payerr.KindValidation, err, "invalid backend URL")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = utils.CreateHTTPClientWithTimeouts()
		if cfg.Timeout > 0 {
			httpClient.Timeout = cfg.Timeout
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	return &Client{
		URL:          baseURL,
		HTTPClient:   httpClient,
		Intents:      newIntentClient(baseURL, httpClient, validate, logger),
		Verification: newVerificationClient(baseURL, httpClient, logger),
		Status:       newStatusClient(baseURL, httpClient, validate),
	}, nil
}
