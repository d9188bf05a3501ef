package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/types"
	"github.com/sigweihq/walletpay/pkg/utils"
)

// IntentClient mints payment intents
type IntentClient struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
	logger     *slog.Logger
}

func newIntentClient(baseURL string, httpClient *http.Client, validate *validator.Validate, logger *slog.Logger) *IntentClient {
	return &IntentClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		validate:   validate,
		logger:     logger,
	}
}

// Create asks the backend for a payment intent of amountDisplay ether.
// The amount is validated locally first and the backend is not contacted for invalid input.
// The backend's amount_wei must equal round(amount * 10^18) exactly. Backends that convert
// through a float64 (to_wei(float(amount))) lose precision past about 17 significant digits,
// so such amounts fail with amount_mismatch.
// POST /create_payment
func (c *IntentClient) Create(ctx context.Context, amountDisplay, description string) (types.PaymentIntent, error) {
	amount, err := utils.ParseAmount(amountDisplay)
	if err != nil {
		return types.PaymentIntent{}, err
	}
	wei, err := utils.ToWei(amount)
	if err != nil {
		return types.PaymentIntent{}, err
	}

	reqBody := types.CreatePaymentRequest{
		Amount:      amount.String(),
		Description: description,
	}

	var resp types.CreatePaymentResponse
	if err := httpRequest(ctx, c.httpClient, http.MethodPost, fmt.Sprintf("%s/create_payment", c.baseURL), reqBody, &resp); err != nil {
		return types.PaymentIntent{}, err
	}

	if !resp.Success || resp.Payment == nil {
		reason := resp.Error
		if reason == "" {
			reason = "backend did not create a payment"
		}
		return types.PaymentIntent{}, payerr.Backend(CodeCreateFailed, reason)
	}

	payment := resp.Payment
	if err := c.validate.Struct(payment); err != nil {
		return types.PaymentIntent{}, &payerr.Error{
			Kind:    payerr.KindBackend,
			Code:    CodeMalformedResponse,
			Message: "backend returned an invalid payment",
			Err:     err,
		}
	}

	backendWei, err := utils.ParseBigInt(payment.AmountWei.String())
	if err != nil {
		return types.PaymentIntent{}, &payerr.Error{
			Kind:    payerr.KindBackend,
			Code:    CodeMalformedResponse,
			Message: "backend returned an invalid amount_wei",
			Err:     err,
		}
	}
	if backendWei.Cmp(wei) != 0 {
		return types.PaymentIntent{}, payerr.Backend(CodeAmountMismatch,
			fmt.Sprintf("backend amount %s wei does not match requested %s wei", backendWei, wei))
	}

	display := payment.AmountEth.String()
	if display == "" {
		display = amount.String()
	}

	intent := types.PaymentIntent{
		ID:              payment.ID,
		AmountDisplay:   display,
		AmountBaseUnits: wei,
		Description:     description,
		ReceiverAddress: common.HexToAddress(payment.ReceiverAddress),
	}

	c.logger.Info("Payment intent created",
		"intent_id", intent.ID,
		"amount", intent.AmountDisplay,
		"receiver", intent.ReceiverAddress.Hex())

	return intent, nil
}
