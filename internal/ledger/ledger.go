package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/mtds-alfa/kipu-bank-v2/internal/access"
	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
	"github.com/mtds-alfa/kipu-bank-v2/internal/pricing"
	"github.com/mtds-alfa/kipu-bank-v2/internal/registry"
	"github.com/mtds-alfa/kipu-bank-v2/internal/transfer"
)

// Notifier receives ledger events. A failed operation never publishes.
type Notifier interface {
	Publish(event domain.Event)
}

// Params carries the construction-time ledger configuration.
type Params struct {
	Admin              domain.Holder
	BankCapUSD         *big.Int
	WithdrawalLimitUSD *big.Int
}

// Ledger is the accounting core: per-(asset, holder) balances, USD aggregates,
// cap and limit enforcement, and the deposit/withdraw protocol.
//
// mu serializes all access to the mutable state. The lock is deliberately not
// held across external collaborator calls (quotes, pull, push); atomicity over
// the external boundary is reconstructed with exact inverse deltas, so a failed
// transfer leaves every balance and aggregate at its pre-call value. Because
// withdrawal effects are committed before the push, a collaborator that
// re-enters Withdraw observes the already-decremented balance and fails the
// balance check instead of double-spending.
type Ledger struct {
	registry  *registry.Registry
	converter *pricing.Converter
	access    access.Controller
	transfer  transfer.Transferer
	notifier  Notifier
	logger    *slog.Logger

	mu                   sync.Mutex
	balances             map[domain.Asset]map[domain.Holder]*big.Int
	totalDepositsUSD     *big.Int
	totalWithdrawalsUSD  *big.Int
	perHolderDepositsUSD map[domain.Holder]*big.Int
	bankCapUSD           *big.Int
	withdrawalLimitUSD   *big.Int
}

func NewLedger(
	params Params,
	reg *registry.Registry,
	converter *pricing.Converter,
	ctrl access.Controller,
	mover transfer.Transferer,
	notifier Notifier,
	logger *slog.Logger,
) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	bankCap := params.BankCapUSD
	if bankCap == nil {
		bankCap = big.NewInt(0)
	}
	limit := params.WithdrawalLimitUSD
	if limit == nil {
		limit = big.NewInt(0)
	}
	// The configured admin always holds the admin role, regardless of how the
	// controller was seeded.
	if !params.Admin.IsZero() {
		ctrl.Grant(access.RoleAdmin, params.Admin)
	}

	return &Ledger{
		registry:             reg,
		converter:            converter,
		access:               ctrl,
		transfer:             mover,
		notifier:             notifier,
		logger:               logger,
		balances:             make(map[domain.Asset]map[domain.Holder]*big.Int),
		totalDepositsUSD:     big.NewInt(0),
		totalWithdrawalsUSD:  big.NewInt(0),
		perHolderDepositsUSD: make(map[domain.Holder]*big.Int),
		bankCapUSD:           new(big.Int).Set(bankCap),
		withdrawalLimitUSD:   new(big.Int).Set(limit),
	}
}

// Deposit credits amount of asset to caller. For the native asset the
// accompanying payment must equal amount exactly (custody arrives with the
// call); for third-party assets custody is pulled from the caller before any
// bookkeeping mutation. The USD value at the current quote is returned.
func (l *Ledger) Deposit(ctx context.Context, caller domain.Holder, asset domain.Asset, amount, payment *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: deposit amount must be positive", domain.ErrInvalidAmount)
	}

	info, err := l.registry.Info(asset)
	if err != nil {
		return nil, err
	}

	usd, err := l.converter.UsdValue(ctx, asset, info.Source, info.Decimals, amount)
	if err != nil {
		return nil, err
	}

	native := asset == l.registry.Native()
	if native && (payment == nil || payment.Cmp(amount) != 0) {
		got := payment
		if got == nil {
			got = big.NewInt(0)
		}
		return nil, fmt.Errorf("%w: payment %s does not match deposit amount %s", domain.ErrInvalidAmount, got, amount)
	}

	// Reserve cap headroom while holding the lock so concurrent deposits
	// cannot jointly slip past the cap during the external pull. The
	// reservation is released exactly if the pull fails.
	l.mu.Lock()
	newTotal := new(big.Int).Add(l.totalDepositsUSD, usd)
	if newTotal.Cmp(l.bankCapUSD) > 0 {
		available := new(big.Int).Sub(l.bankCapUSD, l.totalDepositsUSD)
		if available.Sign() < 0 {
			available.SetInt64(0)
		}
		l.mu.Unlock()
		return nil, &domain.CapError{RequestedUSD: usd, AvailableUSD: available}
	}
	l.totalDepositsUSD = newTotal
	l.mu.Unlock()

	if !native {
		if err := l.transfer.Pull(ctx, asset, caller, amount); err != nil {
			l.mu.Lock()
			l.totalDepositsUSD.Sub(l.totalDepositsUSD, usd)
			l.mu.Unlock()
			return nil, fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
		}
	}

	l.mu.Lock()
	balance := l.balanceLocked(asset, caller)
	balance.Add(balance, amount)
	l.addPerHolderUSDLocked(caller, usd)
	l.mu.Unlock()

	l.logger.Info("deposit completed",
		slog.String("holder", string(caller)),
		slog.String("asset", string(asset)),
		slog.String("amount", amount.String()),
		slog.String("usd_value", usd.String()))

	l.publish(domain.NewEvent(domain.EventDeposited, domain.Deposited{
		Holder:   caller,
		Asset:    asset,
		Amount:   new(big.Int).Set(amount),
		UsdValue: new(big.Int).Set(usd),
	}))
	return usd, nil
}

// Withdraw debits amount of asset from caller and pushes custody to them. The
// USD value is computed at the current quote, not the deposit-time quote.
// Bookkeeping is mutated before the external push; if the push fails the exact
// inverse deltas are re-applied, leaving state at its pre-call values.
func (l *Ledger) Withdraw(ctx context.Context, caller domain.Holder, asset domain.Asset, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", domain.ErrInvalidAmount)
	}

	info, err := l.registry.Info(asset)
	if err != nil {
		return nil, err
	}

	usd, err := l.converter.UsdValue(ctx, asset, info.Source, info.Decimals, amount)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if usd.Cmp(l.withdrawalLimitUSD) > 0 {
		limit := new(big.Int).Set(l.withdrawalLimitUSD)
		l.mu.Unlock()
		return nil, &domain.LimitError{RequestedUSD: usd, LimitUSD: limit}
	}

	balance := l.balanceLocked(asset, caller)
	if balance.Cmp(amount) < 0 {
		available := new(big.Int).Set(balance)
		l.mu.Unlock()
		return nil, &domain.BalanceError{
			Asset:     asset,
			Holder:    caller,
			Requested: new(big.Int).Set(amount),
			Available: available,
		}
	}

	// Effects before interactions. The journal records the exact applied
	// deltas so a failed push can restore the pre-call state, including the
	// clamped deductions.
	balance.Sub(balance, amount)
	l.totalWithdrawalsUSD.Add(l.totalWithdrawalsUSD, usd)
	released := l.subTotalDepositsUSDLocked(usd)
	deducted := l.subPerHolderUSDLocked(caller, usd)
	l.mu.Unlock()

	if err := l.transfer.Push(ctx, asset, caller, amount); err != nil {
		l.mu.Lock()
		restored := l.balanceLocked(asset, caller)
		restored.Add(restored, amount)
		l.totalWithdrawalsUSD.Sub(l.totalWithdrawalsUSD, usd)
		l.totalDepositsUSD.Add(l.totalDepositsUSD, released)
		l.addPerHolderUSDLocked(caller, deducted)
		l.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", domain.ErrWithdrawalFailed, err)
	}

	l.logger.Info("withdrawal completed",
		slog.String("holder", string(caller)),
		slog.String("asset", string(asset)),
		slog.String("amount", amount.String()),
		slog.String("usd_value", usd.String()))

	l.publish(domain.NewEvent(domain.EventWithdrawn, domain.Withdrawn{
		Holder:   caller,
		Asset:    asset,
		Amount:   new(big.Int).Set(amount),
		UsdValue: new(big.Int).Set(usd),
	}))
	return usd, nil
}

// EmergencyWithdraw sweeps the ledger's entire custody of asset to the calling
// admin without touching any holder's balance entry. It deliberately breaks the
// per-holder accounting invariant for that asset: recorded balances become
// unbacked. Operational escape hatch only.
func (l *Ledger) EmergencyWithdraw(ctx context.Context, caller domain.Holder, asset domain.Asset) (*big.Int, error) {
	if !l.access.HasRole(access.RoleAdmin, caller) {
		return nil, &domain.AuthError{Role: string(access.RoleAdmin), Caller: caller}
	}
	info, err := l.registry.Info(asset)
	if err != nil {
		return nil, err
	}

	held, err := l.transfer.Custody(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("query custody of %s: %w", asset, err)
	}
	if held.Sign() == 0 {
		return big.NewInt(0), nil
	}

	if err := l.transfer.Push(ctx, asset, caller, held); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWithdrawalFailed, err)
	}

	// Best effort: the sweep proceeds even when the quote is unusable.
	usd, err := l.converter.UsdValue(ctx, asset, info.Source, info.Decimals, held)
	if err != nil {
		usd = big.NewInt(0)
	}

	l.logger.Warn("emergency withdrawal executed; holder balances for this asset are no longer backed",
		slog.String("admin", string(caller)),
		slog.String("asset", string(asset)),
		slog.String("amount", held.String()))

	l.publish(domain.NewEvent(domain.EventWithdrawn, domain.Withdrawn{
		Holder:   caller,
		Asset:    asset,
		Amount:   new(big.Int).Set(held),
		UsdValue: usd,
	}))
	return held, nil
}

// balanceLocked returns the live balance entry for (asset, holder), creating a
// zero entry if absent. Caller must hold mu.
func (l *Ledger) balanceLocked(asset domain.Asset, holder domain.Holder) *big.Int {
	holders, ok := l.balances[asset]
	if !ok {
		holders = make(map[domain.Holder]*big.Int)
		l.balances[asset] = holders
	}
	balance, ok := holders[holder]
	if !ok {
		balance = big.NewInt(0)
		holders[holder] = balance
	}
	return balance
}

func (l *Ledger) addPerHolderUSDLocked(holder domain.Holder, usd *big.Int) {
	total, ok := l.perHolderDepositsUSD[holder]
	if !ok {
		total = big.NewInt(0)
		l.perHolderDepositsUSD[holder] = total
	}
	total.Add(total, usd)
}

// subTotalDepositsUSDLocked releases cap headroom on withdrawal, clamping at
// zero (USD value fluctuates between deposit and withdrawal, so the outstanding
// figure can be smaller than the withdrawal's current valuation). Returns the
// amount actually released.
func (l *Ledger) subTotalDepositsUSDLocked(usd *big.Int) *big.Int {
	released := new(big.Int).Set(usd)
	if l.totalDepositsUSD.Cmp(usd) < 0 {
		released.Set(l.totalDepositsUSD)
	}
	l.totalDepositsUSD.Sub(l.totalDepositsUSD, released)
	return released
}

// subPerHolderUSDLocked decrements the holder's USD aggregate, clamping at
// zero (USD value fluctuates between deposit and withdrawal, so the aggregate
// is not a true running total). Returns the amount actually deducted.
func (l *Ledger) subPerHolderUSDLocked(holder domain.Holder, usd *big.Int) *big.Int {
	total, ok := l.perHolderDepositsUSD[holder]
	if !ok {
		return big.NewInt(0)
	}
	deducted := new(big.Int).Set(usd)
	if total.Cmp(usd) < 0 {
		deducted.Set(total)
	}
	total.Sub(total, deducted)
	return deducted
}

func (l *Ledger) publish(event domain.Event) {
	if l.notifier != nil {
		l.notifier.Publish(event)
	}
}
