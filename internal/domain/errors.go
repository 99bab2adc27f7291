package domain

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrInvalidDecimals         = errors.New("invalid decimals")
	ErrInvalidPriceSource      = errors.New("invalid price source")
	ErrInvalidAsset            = errors.New("invalid asset identifier")
	ErrAssetNotSupported       = errors.New("asset not supported")
	ErrInvalidPrice            = errors.New("invalid price")
	ErrBankCapExceeded         = errors.New("bank cap exceeded")
	ErrWithdrawalLimitExceeded = errors.New("withdrawal limit exceeded")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrTransferFailed          = errors.New("transfer failed")
	ErrWithdrawalFailed        = errors.New("withdrawal failed")
	ErrUnauthorized            = errors.New("unauthorized")
)

// CapError reports a deposit that would push outstanding USD deposits over the
// bank cap. AvailableUSD is the remaining headroom at the time of the check.
type CapError struct {
	RequestedUSD *big.Int
	AvailableUSD *big.Int
}

func (e *CapError) Error() string {
	return fmt.Sprintf("bank cap exceeded: requested %s USD, available %s USD", e.RequestedUSD, e.AvailableUSD)
}

func (e *CapError) Unwrap() error { return ErrBankCapExceeded }

// LimitError reports a withdrawal whose USD value exceeds the per-transaction
// withdrawal limit.
type LimitError struct {
	RequestedUSD *big.Int
	LimitUSD     *big.Int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("withdrawal limit exceeded: requested %s USD, limit %s USD", e.RequestedUSD, e.LimitUSD)
}

func (e *LimitError) Unwrap() error { return ErrWithdrawalLimitExceeded }

// BalanceError reports a withdrawal larger than the holder's recorded balance.
type BalanceError struct {
	Asset     Asset
	Holder    Holder
	Requested *big.Int
	Available *big.Int
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: holder %s asset %s requested %s, available %s",
		e.Holder, e.Asset, e.Requested, e.Available)
}

func (e *BalanceError) Unwrap() error { return ErrInsufficientBalance }

// PriceError reports a non-positive or otherwise unusable quote.
type PriceError struct {
	Asset Asset
	Quote *big.Int
}

func (e *PriceError) Error() string {
	return fmt.Sprintf("invalid price for asset %s: quote %s", e.Asset, e.Quote)
}

func (e *PriceError) Unwrap() error { return ErrInvalidPrice }

// AuthError reports a caller lacking the role an operation requires.
type AuthError struct {
	Role   string
	Caller Holder
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("unauthorized: caller %s lacks role %s", e.Caller, e.Role)
}

func (e *AuthError) Unwrap() error { return ErrUnauthorized }
