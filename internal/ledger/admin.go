package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/mtds-alfa/kipu-bank-v2/internal/access"
	"github.com/mtds-alfa/kipu-bank-v2/internal/domain"
	"github.com/mtds-alfa/kipu-bank-v2/internal/pricing"
)

// Administrative operations. Authorization is checked before any other
// validation. Parameter setters accept any non-negative value: a cap below the
// current outstanding deposits simply blocks future deposits until raised.

func (l *Ledger) SetBankCap(ctx context.Context, caller domain.Holder, capUSD *big.Int) error {
	if err := l.requireRole(access.RoleAdmin, caller); err != nil {
		return err
	}
	if capUSD == nil || capUSD.Sign() < 0 {
		return fmt.Errorf("%w: bank cap must be non-negative", domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	l.bankCapUSD = new(big.Int).Set(capUSD)
	l.mu.Unlock()

	l.logger.Info("bank cap updated",
		slog.String("caller", string(caller)),
		slog.String("cap_usd", capUSD.String()))
	return nil
}

func (l *Ledger) SetWithdrawalLimit(ctx context.Context, caller domain.Holder, limitUSD *big.Int) error {
	if err := l.requireRole(access.RoleAdmin, caller); err != nil {
		return err
	}
	if limitUSD == nil || limitUSD.Sign() < 0 {
		return fmt.Errorf("%w: withdrawal limit must be non-negative", domain.ErrInvalidAmount)
	}

	l.mu.Lock()
	l.withdrawalLimitUSD = new(big.Int).Set(limitUSD)
	l.mu.Unlock()

	l.logger.Info("withdrawal limit updated",
		slog.String("caller", string(caller)),
		slog.String("limit_usd", limitUSD.String()))
	return nil
}

// AddToken registers a third-party token; operators and admins may call it.
func (l *Ledger) AddToken(ctx context.Context, caller domain.Holder, asset domain.Asset, source pricing.Source, decimals uint8) error {
	if err := l.requireOperator(caller); err != nil {
		return err
	}
	return l.registry.Add(asset, source, decimals)
}

func (l *Ledger) RemoveToken(ctx context.Context, caller domain.Holder, asset domain.Asset) error {
	if err := l.requireOperator(caller); err != nil {
		return err
	}
	return l.registry.Remove(asset)
}

func (l *Ledger) GrantAdmin(ctx context.Context, caller, addr domain.Holder) error {
	return l.changeRole(caller, addr, access.RoleAdmin, true)
}

func (l *Ledger) RevokeAdmin(ctx context.Context, caller, addr domain.Holder) error {
	return l.changeRole(caller, addr, access.RoleAdmin, false)
}

func (l *Ledger) GrantOperator(ctx context.Context, caller, addr domain.Holder) error {
	return l.changeRole(caller, addr, access.RoleOperator, true)
}

func (l *Ledger) RevokeOperator(ctx context.Context, caller, addr domain.Holder) error {
	return l.changeRole(caller, addr, access.RoleOperator, false)
}

func (l *Ledger) changeRole(caller, addr domain.Holder, role access.Role, grant bool) error {
	if err := l.requireRole(access.RoleAdmin, caller); err != nil {
		return err
	}

	if grant {
		l.access.Grant(role, addr)
	} else {
		l.access.Revoke(role, addr)
	}

	l.logger.Info("role changed",
		slog.String("caller", string(caller)),
		slog.String("address", string(addr)),
		slog.String("role", string(role)),
		slog.Bool("granted", grant))

	switch role {
	case access.RoleAdmin:
		l.publish(domain.NewEvent(domain.EventAdminRoleChanged, domain.AdminRoleChanged{Address: addr, Granted: grant}))
	case access.RoleOperator:
		l.publish(domain.NewEvent(domain.EventOperatorRoleChanged, domain.OperatorRoleChanged{Address: addr, Granted: grant}))
	}
	return nil
}

func (l *Ledger) requireRole(role access.Role, caller domain.Holder) error {
	if !l.access.HasRole(role, caller) {
		return &domain.AuthError{Role: string(role), Caller: caller}
	}
	return nil
}

func (l *Ledger) requireOperator(caller domain.Holder) error {
	if l.access.HasRole(access.RoleOperator, caller) || l.access.HasRole(access.RoleAdmin, caller) {
		return nil
	}
	return &domain.AuthError{Role: string(access.RoleOperator), Caller: caller}
}
