package memory

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
)

func TestVault_PullPush(t *testing.T) {
	v := NewVault()
	v.Mint("tok", "alice", big.NewInt(100))

	if err := v.Pull(context.Background(), "tok", "alice", big.NewInt(60)); err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	custody, _ := v.Custody(context.Background(), "tok")
	if custody.Cmp(big.NewInt(60)) != 0 {
		t.Errorf("expected custody 60, got %s", custody)
	}
	if got := v.BalanceOf("tok", "alice"); got.Cmp(big.NewInt(40)) != 0 {
		t.Errorf("expected alice 40, got %s", got)
	}

	if err := v.Push(context.Background(), "tok", "bob", big.NewInt(25)); err != nil {
		t.Fatalf("push failed: %v", err)
	}
	custody, _ = v.Custody(context.Background(), "tok")
	if custody.Cmp(big.NewInt(35)) != 0 {
		t.Errorf("expected custody 35, got %s", custody)
	}
	if got := v.BalanceOf("tok", "bob"); got.Cmp(big.NewInt(25)) != 0 {
		t.Errorf("expected bob 25, got %s", got)
	}
}

func TestVault_PullInsufficientFunds(t *testing.T) {
	v := NewVault()
	v.Mint("tok", "alice", big.NewInt(10))

	err := v.Pull(context.Background(), "tok", "alice", big.NewInt(11))

	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := v.BalanceOf("tok", "alice"); got.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("balance changed on failed pull: %s", got)
	}
}

func TestVault_PushFromEmptyCustody(t *testing.T) {
	v := NewVault()

	if err := v.Push(context.Background(), "tok", "alice", big.NewInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestVault_InvalidAmounts(t *testing.T) {
	v := NewVault()
	v.Mint("tok", "alice", big.NewInt(10))

	if err := v.Pull(context.Background(), "tok", "alice", big.NewInt(0)); !errors.Is(err, ErrInvalidTransfer) {
		t.Errorf("expected ErrInvalidTransfer for zero, got %v", err)
	}
	if err := v.Pull(context.Background(), "tok", "alice", big.NewInt(-5)); !errors.Is(err, ErrInvalidTransfer) {
		t.Errorf("expected ErrInvalidTransfer for negative, got %v", err)
	}
	if err := v.Pull(context.Background(), "tok", "alice", nil); !errors.Is(err, ErrInvalidTransfer) {
		t.Errorf("expected ErrInvalidTransfer for nil, got %v", err)
	}
}

func TestVault_BalanceOfReturnsCopy(t *testing.T) {
	v := NewVault()
	v.Mint("tok", "alice", big.NewInt(10))

	got := v.BalanceOf("tok", "alice")
	got.SetInt64(999)

	if v.BalanceOf("tok", "alice").Cmp(big.NewInt(10)) != 0 {
		t.Error("BalanceOf leaked internal state")
	}
}

func TestVault_ConcurrentTransfers(t *testing.T) {
	v := NewVault()
	v.Mint("tok", "alice", big.NewInt(1000))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := v.Pull(context.Background(), "tok", "alice", big.NewInt(1)); err != nil {
					t.Errorf("pull failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	custody, _ := v.Custody(context.Background(), "tok")
	if custody.Cmp(big.NewInt(100)) != 0 {
		t.Errorf("expected custody 100, got %s", custody)
	}
	if got := v.BalanceOf("tok", "alice"); got.Cmp(big.NewInt(900)) != 0 {
		t.Errorf("expected alice 900, got %s", got)
	}
}
