package utils

import (
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/payerr"
)

// ParseAmount validates that amount is a positive finite decimal of bounded magnitude
func ParseAmount(amount string) (decimal.Decimal, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return decimal.Zero, payerr.New(payerr.KindValidation, "amount cannot be empty")
	}
	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, payerr.Wrap(payerr.KindValidation, err, "invalid amount format %q", amount)
	}
	// Exponents outside the window are refused before any scaling
	if exp := dec.Exponent(); exp < -constants.MaxAmountExponent || exp > constants.MaxAmountExponent {
		return decimal.Zero, payerr.New(payerr.KindValidation, "amount %s is out of range", amount)
	}
	if !dec.IsPositive() {
		return decimal.Zero, payerr.New(payerr.KindValidation, "amount must be positive, got %s", amount)
	}
	return dec, nil
}

// ToBaseUnits converts a display amount to base units, round(amount * 10^decimals)
func ToBaseUnits(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Round(0).BigInt()
}

// ToWei converts a parsed ether amount to wei. The result must be at least one wei
// and fit in a uint256.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	wei := ToBaseUnits(amount, constants.EtherDecimals)
	if wei.Sign() <= 0 {
		return nil, payerr.New(payerr.KindValidation, "amount %s is below the smallest unit", amount)
	}
	if wei.BitLen() > constants.MaxBaseUnitBits {
		return nil, payerr.New(payerr.KindValidation, "amount %s exceeds the largest transferable value", amount)
	}
	return wei, nil
}

// ParseAmountToWei validates a display amount and converts it to wei
func ParseAmountToWei(amount string) (*big.Int, error) {
	dec, err := ParseAmount(amount)
	if err != nil {
		return nil, err
	}
	return ToWei(dec)
}

// FormatBaseUnits formats base units as a display amount with the given decimals
func FormatBaseUnits(amount *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(amount, -decimals).String()
}

// EncodeQuantity encodes an integer the way JSON-RPC providers expect numeric values (0x-prefixed hex)
func EncodeQuantity(value *big.Int) string {
	return hexutil.EncodeBig(value)
}

// ParseBigInt parses a base-10 integer string
func ParseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}

	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", value)
	}
	return n, nil
}

func CreateHTTPClientWithTimeouts() *http.Client {
	return &http.Client{
		Timeout: constants.BackendTimeout,
		Transport: &http.Transport{
			TLSHandshakeTimeout:   constants.TLSHandshakeTimeout,
			ResponseHeaderTimeout: constants.ResponseHeaderTimeout,
			ExpectContinueTimeout: constants.ExpectContinueTimeout,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse // Disable redirects to prevent redirect-based SSRF
		},
	}
}

// ValidateBackendURL validates that a backend URL is secure.
// Plain HTTP is only accepted for loopback hosts.
func ValidateBackendURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid backend URL %q", raw)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		switch u.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return nil
		}
	}
	return fmt.Errorf("backend URL must use HTTPS: %s", raw)
}
