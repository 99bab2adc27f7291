package validator

import (
	"errors"
	"fmt"
	"math/big"
	"regexp"
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidAsset  = errors.New("invalid asset identifier")
	ErrInvalidHolder = errors.New("invalid holder identifier")
)

// RequestValidator checks API request fields before they reach the ledger.
// Amounts travel as base-10 strings so big integers survive JSON.
type RequestValidator struct {
	assetRegex  *regexp.Regexp
	holderRegex *regexp.Regexp
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		assetRegex:  regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`),
		holderRegex: regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`),
	}
}

// ParseAmount parses a positive base-10 amount string.
func (v *RequestValidator) ParseAmount(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a base-10 integer", ErrInvalidAmount, raw)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return amount, nil
}

// ParseNonNegative parses a zero-or-positive base-10 amount string.
func (v *RequestValidator) ParseNonNegative(raw string) (*big.Int, error) {
	if raw == "" {
		return nil, fmt.Errorf("%w: value is required", ErrInvalidAmount)
	}
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a base-10 integer", ErrInvalidAmount, raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: value must be non-negative", ErrInvalidAmount)
	}
	return amount, nil
}

func (v *RequestValidator) ValidateAsset(asset string) error {
	if !v.assetRegex.MatchString(asset) {
		return fmt.Errorf("%w: %q", ErrInvalidAsset, asset)
	}
	return nil
}

func (v *RequestValidator) ValidateHolder(holder string) error {
	if !v.holderRegex.MatchString(holder) {
		return fmt.Errorf("%w: %q", ErrInvalidHolder, holder)
	}
	return nil
}
