package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
	"github.com/mtds-alfa/kipu-bank-v2/internal/registry"
)

// Read-only views. None of these mutate state, even though the USD-denominated
// ones invoke the price-quote collaborator.

// Balance reports the holder's recorded balance for asset in native units.
func (l *Ledger) Balance(asset domain.Asset, holder domain.Holder) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if balance, ok := l.balances[asset][holder]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// UsdBalance reports the holder's balance for asset converted at the current
// quote. It is recomputed on every call, never cached.
func (l *Ledger) UsdBalance(ctx context.Context, asset domain.Asset, holder domain.Holder) (*big.Int, error) {
	info, err := l.registry.Info(asset)
	if err != nil {
		return nil, err
	}

	balance := l.Balance(asset, holder)
	if balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return l.converter.UsdValue(ctx, asset, info.Source, info.Decimals, balance)
}

// TotalUsdBalance sums the holder's per-asset balances across all registered
// assets, each converted at the current quote.
func (l *Ledger) TotalUsdBalance(ctx context.Context, holder domain.Holder) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range l.registry.Assets() {
		usd, err := l.UsdBalance(ctx, asset, holder)
		if err != nil {
			return nil, err
		}
		total.Add(total, usd)
	}
	return total, nil
}

// TokenPrice reports the current raw quote for asset.
func (l *Ledger) TokenPrice(ctx context.Context, asset domain.Asset) (*big.Int, uint8, error) {
	info, err := l.registry.Info(asset)
	if err != nil {
		return nil, 0, err
	}
	quote, err := info.Source.LatestQuote(ctx)
	if err != nil {
		return nil, 0, err
	}
	return quote.Price, quote.Decimals, nil
}

// TotalValueLocked sums the ledger's actual custody of every registered asset,
// converted at current quotes. It reflects custody only, not the per-holder
// bookkeeping, so an emergency sweep shows up here immediately.
func (l *Ledger) TotalValueLocked(ctx context.Context) (*big.Int, error) {
	total := big.NewInt(0)
	for _, asset := range l.registry.Assets() {
		info, err := l.registry.Info(asset)
		if err != nil {
			return nil, err
		}
		held, err := l.transfer.Custody(ctx, asset)
		if err != nil {
			return nil, err
		}
		if held.Sign() == 0 {
			continue
		}
		usd, err := l.converter.UsdValue(ctx, asset, info.Source, info.Decimals, held)
		if err != nil {
			return nil, err
		}
		total.Add(total, usd)
	}
	return total, nil
}

// CalculateUsdValue converts an arbitrary amount of asset at the current quote.
func (l *Ledger) CalculateUsdValue(ctx context.Context, asset domain.Asset, amount *big.Int) (*big.Int, error) {
	info, err := l.registry.Info(asset)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: amount must be non-negative", domain.ErrInvalidAmount)
	}
	return l.converter.UsdValue(ctx, asset, info.Source, info.Decimals, amount)
}

func (l *Ledger) SupportedAssets() []domain.Asset { return l.registry.Assets() }

func (l *Ledger) NativeAsset() domain.Asset { return l.registry.Native() }

func (l *Ledger) SupportedAssetCount() int { return l.registry.Count() }

func (l *Ledger) AssetInfo(asset domain.Asset) (registry.Entry, error) {
	return l.registry.Info(asset)
}

func (l *Ledger) BankCap() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.bankCapUSD)
}

func (l *Ledger) WithdrawalLimit() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.withdrawalLimitUSD)
}

// TotalDepositsUSD is the live outstanding USD figure the cap is enforced
// against.
func (l *Ledger) TotalDepositsUSD() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.totalDepositsUSD)
}

// TotalWithdrawalsUSD is a monotone audit counter.
func (l *Ledger) TotalWithdrawalsUSD() *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.totalWithdrawalsUSD)
}

// HolderDepositsUSD reports the holder's USD aggregate. It drifts from the
// literal sum of current USD-valued balances because withdrawals deduct at the
// withdrawal-time price with a zero clamp; treat it as approximate.
func (l *Ledger) HolderDepositsUSD(holder domain.Holder) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if total, ok := l.perHolderDepositsUSD[holder]; ok {
		return new(big.Int).Set(total)
	}
	return big.NewInt(0)
}
