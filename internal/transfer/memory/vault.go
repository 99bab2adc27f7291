package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
	"github.com/mtds-alfa/kipu-bank-v2/internal/transfer"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransfer   = errors.New("invalid transfer")
)

// custodyAccount is the vault-internal account holding the ledger's custody.
const custodyAccount domain.Holder = "__custody__"

// Vault is an in-memory Transferer. It models the external token contracts:
// every account's holdings per asset, including the ledger's own custody
// account. Mint is the faucet for local runs and tests.
type Vault struct {
	mu       sync.Mutex
	balances map[domain.Asset]map[domain.Holder]*big.Int
}

var _ transfer.Transferer = (*Vault)(nil)

func NewVault() *Vault {
	return &Vault{balances: make(map[domain.Asset]map[domain.Holder]*big.Int)}
}

func (v *Vault) Pull(ctx context.Context, asset domain.Asset, from domain.Holder, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.move(asset, from, custodyAccount, amount)
}

func (v *Vault) Push(ctx context.Context, asset domain.Asset, to domain.Holder, amount *big.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.move(asset, custodyAccount, to, amount)
}

func (v *Vault) Custody(ctx context.Context, asset domain.Asset) (*big.Int, error) {
	return v.BalanceOf(asset, custodyAccount), nil
}

// BalanceOf reports an external account's holdings of asset.
func (v *Vault) BalanceOf(asset domain.Asset, holder domain.Holder) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if held, ok := v.balances[asset][holder]; ok {
		return new(big.Int).Set(held)
	}
	return big.NewInt(0)
}

// Mint credits holder with amount of asset out of thin air.
func (v *Vault) Mint(asset domain.Asset, holder domain.Holder, amount *big.Int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.credit(asset, holder, amount)
}

func (v *Vault) move(asset domain.Asset, from, to domain.Holder, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}

	held := v.balances[asset][from]
	if held == nil || held.Cmp(amount) < 0 {
		return fmt.Errorf("%w: account %s asset %s", ErrInsufficientFunds, from, asset)
	}

	held.Sub(held, amount)
	v.credit(asset, to, amount)
	return nil
}

func (v *Vault) credit(asset domain.Asset, holder domain.Holder, amount *big.Int) {
	accounts, ok := v.balances[asset]
	if !ok {
		accounts = make(map[domain.Holder]*big.Int)
		v.balances[asset] = accounts
	}
	held, ok := accounts[holder]
	if !ok {
		held = big.NewInt(0)
		accounts[holder] = held
	}
	held.Add(held, amount)
}
