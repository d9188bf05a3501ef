package wallet

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/stretchr/testify/assert"
)

type codedError struct {
	code int
}

func (e codedError) Error() string  { return fmt.Sprintf("provider error %d", e.code) }
func (e codedError) ErrorCode() int { return e.code }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want payerr.Kind
	}{
		{"user rejected", codedError{4001}, payerr.KindUserRejected},
		{"unauthorized", codedError{4100}, payerr.KindUserRejected},
		{"unsupported method", codedError{4200}, payerr.KindProviderUnavailable},
		{"disconnected", codedError{4900}, payerr.KindProviderUnavailable},
		{"chain disconnected", codedError{4901}, payerr.KindProviderUnavailable},
		{"internal error", codedError{-32603}, payerr.KindNetwork},
		{"transport error", errors.New("connection refused"), payerr.KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError(tt.err, "eth_sendTransaction")
			assert.Equal(t, tt.want, payerr.KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassifyErrorPassesThrough(t *testing.T) {
	assert.NoError(t, classifyError(nil, "eth_accounts"))
	assert.ErrorIs(t, classifyError(context.Canceled, "eth_accounts"), context.Canceled)
	assert.Equal(t, payerr.Kind(""), payerr.KindOf(classifyError(context.DeadlineExceeded, "eth_accounts")))
}

func TestIsMethodNotFound(t *testing.T) {
	assert.True(t, isMethodNotFound(codedError{-32601}))
	assert.False(t, isMethodNotFound(codedError{4001}))
	assert.False(t, isMethodNotFound(errors.New("boom")))
	assert.False(t, isMethodNotFound(nil))
}
