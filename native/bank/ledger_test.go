package bank

import (
	"errors"
	"math/big"
	"testing"

	"flashvault/crypto"
)

var (
	alice = crypto.DeriveAddress("alice")
	bob   = crypto.DeriveAddress("bob")
)

func TestTransferMovesValueAndRunsReceiver(t *testing.T) {
	l := NewLedger()
	if err := l.Mint(alice, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	var seen *big.Int
	var balanceDuringHook *big.Int
	l.SetReceiver(bob, ReceiverFunc(func(from crypto.Address, amount *big.Int) error {
		seen = amount
		balanceDuringHook = l.Balance(bob)
		return nil
	}))
	if err := l.Transfer(alice, bob, big.NewInt(4)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if seen == nil || seen.Int64() != 4 {
		t.Fatalf("receiver not invoked with amount")
	}
	if balanceDuringHook.Int64() != 4 {
		t.Fatalf("receiver must observe the credited balance, got %s", balanceDuringHook)
	}
	if l.Balance(alice).Int64() != 6 || l.Balance(bob).Int64() != 4 {
		t.Fatalf("unexpected balances %s/%s", l.Balance(alice), l.Balance(bob))
	}
}

func TestTransferRejectsOverdraft(t *testing.T) {
	l := NewLedger()
	err := l.Transfer(alice, bob, big.NewInt(1))
	if !IsInsufficientBalance(err) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestReceiverErrorPropagates(t *testing.T) {
	l := NewLedger()
	_ = l.Mint(alice, big.NewInt(3))
	boom := errors.New("boom")
	l.SetReceiver(bob, ReceiverFunc(func(crypto.Address, *big.Int) error { return boom }))
	snap := l.Snapshot()
	if err := l.Transfer(alice, bob, big.NewInt(3)); !errors.Is(err, boom) {
		t.Fatalf("expected receiver error, got %v", err)
	}
	l.RevertToSnapshot(snap)
	if l.Balance(alice).Int64() != 3 || l.Balance(bob).Sign() != 0 {
		t.Fatalf("revert did not restore balances")
	}
}

func TestExportImport(t *testing.T) {
	l := NewLedger()
	_ = l.Mint(alice, big.NewInt(5))
	_ = l.Mint(bob, big.NewInt(7))
	restored := NewLedger()
	restored.Import(l.Export())
	if restored.Balance(alice).Int64() != 5 || restored.Balance(bob).Int64() != 7 {
		t.Fatalf("import mismatch")
	}
}
