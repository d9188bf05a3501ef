package backend

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const receiverHex = "0x9999999999999999999999999999999999999999"

var txHash = common.HexToHash("0xabcdef")

// newBackend starts a fake payment backend serving mux and returns a client for it
func newBackend(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(body))
}

func createHandler(t *testing.T, calls *atomic.Int32, respond func(req types.CreatePaymentRequest) (int, any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		var req types.CreatePaymentRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		status, body := respond(req)
		writeJSON(t, w, status, body)
	}
}

func payment(amountEth, amountWei, receiver string) map[string]any {
	return map[string]any{
		"id":               "a1b2c3d4e5f60718",
		"amount_eth":       json.Number(amountEth),
		"amount_wei":       json.Number(amountWei),
		"description":      "test",
		"status":           "pending",
		"created_at":       "2024-05-01T12:00:00",
		"receiver_address": receiver,
	}
}

func TestNewClient(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		client, err := NewClient(nil)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:5000", client.URL)
		assert.NotNil(t, client.Intents)
		assert.NotNil(t, client.Verification)
		assert.NotNil(t, client.Status)
	})

	t.Run("trims trailing slash", func(t *testing.T) {
		client, err := NewClient(&Config{URL: "https://pay.example.com/"})
		require.NoError(t, err)
		assert.Equal(t, "https://pay.example.com", client.URL)
	})

	t.Run("rejects insecure URL", func(t *testing.T) {
		_, err := NewClient(&Config{URL: "http://pay.example.com"})
		assert.ErrorIs(t, err, payerr.ErrValidation)
	})
}

func TestCreateIntent(t *testing.T) {
	var calls atomic.Int32
	var got types.CreatePaymentRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/create_payment", createHandler(t, &calls, func(req types.CreatePaymentRequest) (int, any) {
		got = req
		return http.StatusOK, map[string]any{
			"success": true,
			"payment": payment("0.5", "500000000000000000", receiverHex),
		}
	}))
	client := newBackend(t, mux)

	intent, err := client.Intents.Create(context.Background(), "0.5", "test")
	require.NoError(t, err)

	assert.Equal(t, "a1b2c3d4e5f60718", intent.ID)
	assert.Equal(t, "0.5", intent.AmountDisplay)
	assert.Equal(t, "500000000000000000", intent.AmountBaseUnits.String())
	assert.Equal(t, "test", intent.Description)
	assert.Equal(t, common.HexToAddress(receiverHex), intent.ReceiverAddress)

	assert.Equal(t, types.CreatePaymentRequest{Amount: "0.5", Description: "test"}, got)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateIntentBaseUnits(t *testing.T) {
	tests := []struct {
		amount string
		wei    string
	}{
		{"1", "1000000000000000000"},
		{"0.000000000000000001", "1"},
		{"0.1", "100000000000000000"},
		{"12.345678901234567891", "12345678901234567891"},
		{"0.0000000000000000015", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			mux := http.NewServeMux()
			var calls atomic.Int32
			mux.HandleFunc("/create_payment", createHandler(t, &calls, func(req types.CreatePaymentRequest) (int, any) {
				return http.StatusOK, map[string]any{
					"success": true,
					"payment": payment(req.Amount, tt.wei, receiverHex),
				}
			}))
			client := newBackend(t, mux)

			intent, err := client.Intents.Create(context.Background(), tt.amount, "")
			require.NoError(t, err)
			assert.Equal(t, tt.wei, intent.AmountBaseUnits.String())
		})
	}
}

func TestCreateIntentRejectsInvalidAmount(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/create_payment", createHandler(t, &calls, func(types.CreatePaymentRequest) (int, any) {
		return http.StatusOK, map[string]any{"success": false}
	}))
	client := newBackend(t, mux)

	for _, amount := range []string{"", "   ", "abc", "0", "-1", "NaN", "Infinity", "1e", "0.0000000000000000001", "1e400", "1e99999999",
		"200000000000000000000000000000000000000000000000000000000000"} {
		t.Run(amount, func(t *testing.T) {
			_, err := client.Intents.Create(context.Background(), amount, "test")
			assert.ErrorIs(t, err, payerr.ErrValidation)
		})
	}
	assert.Zero(t, calls.Load(), "backend must not be contacted for invalid input")
}

// floatWei converts an amount the way a backend going through float64 does
func floatWei(t *testing.T, amount string) string {
	f, err := strconv.ParseFloat(amount, 64)
	require.NoError(t, err)
	wei := new(big.Float).SetPrec(256).SetFloat64(f)
	wei.Mul(wei, new(big.Float).SetPrec(256).SetInt64(1_000_000_000_000_000_000))
	n, _ := wei.Int(nil)
	return n.String()
}

func TestCreateIntentFloatBackendPrecision(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/create_payment", createHandler(t, &calls, func(req types.CreatePaymentRequest) (int, any) {
		return http.StatusOK, map[string]any{"success": true, "payment": payment(req.Amount, floatWei(t, req.Amount), receiverHex)}
	}))
	client := newBackend(t, mux)

	intent, err := client.Intents.Create(context.Background(), "0.5", "test")
	require.NoError(t, err)
	assert.Equal(t, "500000000000000000", intent.AmountBaseUnits.String())

	// 19 significant digits do not survive float64
	_, err = client.Intents.Create(context.Background(), "1.000000000000000001", "test")
	require.ErrorIs(t, err, payerr.ErrBackend)
	var pe *payerr.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeAmountMismatch, pe.Code)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCreateIntentBackendErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		wantCode string
		wantMsg  string
	}{
		{
			name:     "not successful",
			status:   http.StatusOK,
			body:     map[string]any{"success": false, "error": "Invalid amount"},
			wantCode: CodeCreateFailed,
			wantMsg:  "Invalid amount",
		},
		{
			name:     "server error",
			status:   http.StatusInternalServerError,
			body:     map[string]any{"success": false, "error": "database unavailable"},
			wantCode: "500",
			wantMsg:  "database unavailable",
		},
		{
			name:     "bad receiver",
			status:   http.StatusOK,
			body:     map[string]any{"success": true, "payment": payment("0.5", "500000000000000000", "0xYourWalletAddressHere")},
			wantCode: CodeMalformedResponse,
		},
		{
			name:     "missing id",
			status:   http.StatusOK,
			body:     map[string]any{"success": true, "payment": map[string]any{"amount_eth": 0.5, "amount_wei": 500000000000000000, "receiver_address": receiverHex}},
			wantCode: CodeMalformedResponse,
		},
		{
			name:     "amount mismatch",
			status:   http.StatusOK,
			body:     map[string]any{"success": true, "payment": payment("0.5", "499999999999999999", receiverHex)},
			wantCode: CodeAmountMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			mux := http.NewServeMux()
			mux.HandleFunc("/create_payment", createHandler(t, &calls, func(types.CreatePaymentRequest) (int, any) {
				return tt.status, tt.body
			}))
			client := newBackend(t, mux)

			_, err := client.Intents.Create(context.Background(), "0.5", "test")
			require.ErrorIs(t, err, payerr.ErrBackend)

			var pe *payerr.Error
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantCode, pe.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, pe.Message)
			}
		})
	}
}

func TestCreateIntentMalformedBody(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/create_payment", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": tru`))
	})
	client := newBackend(t, mux)

	_, err := client.Intents.Create(context.Background(), "0.5", "test")
	var pe *payerr.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, payerr.KindBackend, pe.Kind)
	assert.Equal(t, CodeMalformedResponse, pe.Code)
}

func TestCreateIntentNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	client, err := NewClient(&Config{URL: srv.URL})
	require.NoError(t, err)
	srv.Close()

	_, err = client.Intents.Create(context.Background(), "0.5", "test")
	assert.ErrorIs(t, err, payerr.ErrNetwork)
}

func TestVerify(t *testing.T) {
	var calls atomic.Int32
	var got types.VerifyPaymentRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/verify_payment", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(t, w, http.StatusOK, map[string]any{"success": true, "message": "Payment confirmed"})
	})
	client := newBackend(t, mux)
	v := client.Verification

	// Not confirmed yet
	_, err := v.Verify(context.Background(), "pay_1", txHash)
	assert.ErrorIs(t, err, payerr.ErrInvalidState)
	assert.Zero(t, calls.Load())

	v.MarkConfirmed("pay_1", txHash)

	// Confirmed hash belongs to a different transaction
	_, err = v.Verify(context.Background(), "pay_1", common.HexToHash("0x01"))
	assert.ErrorIs(t, err, payerr.ErrInvalidState)
	assert.Zero(t, calls.Load())

	result, err := v.Verify(context.Background(), "pay_1", txHash)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, "Payment confirmed", result.Message)
	assert.Equal(t, types.VerifyPaymentRequest{PaymentID: "pay_1", TxHash: txHash.Hex()}, got)
	assert.True(t, v.IsVerified("pay_1"))

	// Verification is terminal
	_, err = v.Verify(context.Background(), "pay_1", txHash)
	assert.ErrorIs(t, err, payerr.ErrInvalidState)
	assert.Equal(t, int32(1), calls.Load())
}

func TestVerifyFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"rejected by backend", http.StatusOK, map[string]any{"success": false, "error": "Insufficient amount"}, payerr.ErrVerificationMismatch},
		{"server error", http.StatusServiceUnavailable, map[string]any{"error": "try later"}, payerr.ErrBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/verify_payment", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(t, w, tt.status, tt.body)
			})
			client := newBackend(t, mux)
			v := client.Verification
			v.MarkConfirmed("pay_1", txHash)

			result, err := v.Verify(context.Background(), "pay_1", txHash)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, result.Verified)
			assert.False(t, v.IsVerified("pay_1"))
		})
	}
}

func TestPaymentStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/payment_status/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/payment_status/a1b2c3d4e5f60718" {
			writeJSON(t, w, http.StatusOK, map[string]any{"success": false, "error": "Payment not found"})
			return
		}
		p := payment("0.5", "500000000000000000", receiverHex)
		p["status"] = "completed"
		p["tx_hash"] = txHash.Hex()
		writeJSON(t, w, http.StatusOK, map[string]any{"success": true, "payment": p})
	})
	client := newBackend(t, mux)

	p, err := client.Status.Get(context.Background(), "a1b2c3d4e5f60718")
	require.NoError(t, err)
	assert.Equal(t, "completed", p.Status)
	assert.Equal(t, txHash.Hex(), p.TxHash)
	assert.Equal(t, "500000000000000000", p.AmountWei.String())

	_, err = client.Status.Get(context.Background(), "missing")
	var pe *payerr.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, CodeNotFound, pe.Code)
	assert.Equal(t, "Payment not found", pe.Message)

	_, err = client.Status.Get(context.Background(), "")
	assert.ErrorIs(t, err, payerr.ErrValidation)
}

func TestStatusCodeOf(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/create_payment", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})
	client := newBackend(t, mux)

	_, err := client.Intents.Create(context.Background(), "1", "")
	assert.Equal(t, http.StatusBadGateway, StatusCodeOf(err))
	assert.Zero(t, StatusCodeOf(payerr.New(payerr.KindNetwork, "boom")))
}
