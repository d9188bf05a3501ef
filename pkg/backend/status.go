package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/types"
)

// StatusClient reads payment records from the backend
type StatusClient struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
}

func newStatusClient(baseURL string, httpClient *http.Client, validate *validator.Validate) *StatusClient {
	return &StatusClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		validate:   validate,
	}
}

// Get returns the backend's record for paymentID
// GET /payment_status/<id>
func (c *StatusClient) Get(ctx context.Context, paymentID string) (*types.PaymentPayload, error) {
	if paymentID == "" {
		return nil, payerr.New(payerr.KindValidation, "payment id cannot be empty")
	}

	var resp types.PaymentStatusResponse
	endpoint := fmt.Sprintf("%s/payment_status/%s", c.baseURL, url.PathEscape(paymentID))
	if err := httpRequest(ctx, c.httpClient, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}

	if !resp.Success || resp.Payment == nil {
		reason := resp.Error
		if reason == "" {
			reason = "payment not found"
		}
		return nil, payerr.Backend(CodeNotFound, reason)
	}
	if err := c.validate.Struct(resp.Payment); err != nil {
		return nil, &payerr.Error{
			Kind:    payerr.KindBackend,
			Code:    CodeMalformedResponse,
			Message: "backend returned an invalid payment",
			Err:     err,
		}
	}
	return resp.Payment, nil
}
