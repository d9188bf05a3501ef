package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/payerr"
)

// httpRequest is the shared request path for every backend call.
// Transport failures are NetworkErrors, non-2xx answers and undecodable bodies are BackendErrors.
func httpRequest(ctx context.Context, client *http.Client, method, url string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return payerr.Wrap(payerr.KindNetwork, err, "failed to reach backend")
	}
	defer resp.Body.Close()

	limitedReader := io.LimitReader(resp.Body, int64(constants.MaxResponseBodySize))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(limitedReader)
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       bodyBytes,
		}
		return &payerr.Error{
			Kind:    payerr.KindBackend,
			Code:    strconv.Itoa(resp.StatusCode),
			Message: httpErr.Reason(),
			Err:     httpErr,
		}
	}

	if result != nil {
		if err := json.NewDecoder(limitedReader).Decode(result); err != nil {
			return &payerr.Error{
				Kind:    payerr.KindBackend,
				Code:    CodeMalformedResponse,
				Message: "failed to decode backend response",
				Err:     err,
			}
		}
	}

	return nil
}

// HTTPError represents a non-2xx backend answer
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Reason())
}

// Reason returns the backend's error message when the body carries one
func (e *HTTPError) Reason() string {
	if len(e.Body) > 0 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.Unmarshal(e.Body, &errResp); err == nil {
			if errResp.Error != "" {
				return errResp.Error
			}
			if errResp.Message != "" {
				return errResp.Message
			}
		}
		return string(e.Body)
	}
	return e.Status
}

// StatusCodeOf returns the HTTP status of a backend error, or 0
func StatusCodeOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
