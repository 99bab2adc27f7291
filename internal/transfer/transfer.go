package transfer

import (
	"context"
	"math/big"

	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
)

// Transferer moves custody of an asset between the ledger and external
// accounts. Pull draws funds from a holder into the ledger's custody, Push
// releases custody to a holder, Custody reports the amount the ledger actually
// holds (as distinct from the bookkeeping sum of holder balances).
//
// For the native asset custody arrives with the call itself, so the ledger
// never pulls it; the surrounding transport is responsible for delivering the
// accompanying payment before invoking a deposit.
type Transferer interface {
	Pull(ctx context.Context, asset domain.Asset, from domain.Holder, amount *big.Int) error
	Push(ctx context.Context, asset domain.Asset, to domain.Holder, amount *big.Int) error
	Custody(ctx context.Context, asset domain.Asset) (*big.Int, error)
}
