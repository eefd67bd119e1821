package token

import (
	"errors"
	"math/big"
	"testing"

	"flashvault/crypto"
)

var (
	alice = crypto.DeriveAddress("alice")
	bob   = crypto.DeriveAddress("bob")
	vault = crypto.DeriveAddress("vault")
)

func newRegistryWithToken(t *testing.T) (*Registry, crypto.Address) {
	t.Helper()
	r := NewRegistry()
	meta, err := r.Register(crypto.ZeroAddress, "usdc", 6)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Mint(meta.Address, alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	return r, meta.Address
}

func TestNormalizeSymbol(t *testing.T) {
	got, err := NormalizeSymbol(" ｕｓｄｃ ")
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got != "USDC" {
		t.Fatalf("expected USDC, got %q", got)
	}
	for _, bad := range []string{"", "   ", "WAY-TOO-LONG-SYMBOL-NAME", "US DC", "$$"} {
		if _, err := NormalizeSymbol(bad); !errors.Is(err, ErrInvalidSymbol) {
			t.Fatalf("expected invalid symbol for %q, got %v", bad, err)
		}
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r, usdc := newRegistryWithToken(t)
	if _, err := r.Register(usdc, "OTHER", 18); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected duplicate address error, got %v", err)
	}
	if _, err := r.Register(crypto.DeriveAddress("x"), "USDC", 18); !errors.Is(err, ErrDuplicateToken) {
		t.Fatalf("expected duplicate symbol error, got %v", err)
	}
	addr, ok := r.BySymbol("Usdc")
	if !ok || addr != usdc {
		t.Fatalf("symbol lookup failed")
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	r, usdc := newRegistryWithToken(t)
	if err := r.TransferFrom(usdc, vault, alice, vault, big.NewInt(10)); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected allowance error, got %v", err)
	}
	if err := r.Approve(usdc, alice, vault, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := r.TransferFrom(usdc, vault, alice, vault, big.NewInt(120)); err != nil {
		t.Fatalf("transferFrom: %v", err)
	}
	if r.Allowance(usdc, alice, vault).Int64() != 180 {
		t.Fatalf("allowance not consumed: %s", r.Allowance(usdc, alice, vault))
	}
	if r.BalanceOf(usdc, vault).Int64() != 120 || r.BalanceOf(usdc, alice).Int64() != 880 {
		t.Fatalf("unexpected balances")
	}
}

func TestTransferRejectsOverdraftAndZeroRecipient(t *testing.T) {
	r, usdc := newRegistryWithToken(t)
	if err := r.Transfer(usdc, bob, alice, big.NewInt(1)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if err := r.Transfer(usdc, alice, crypto.ZeroAddress, big.NewInt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected zero address error, got %v", err)
	}
	if err := r.Transfer(crypto.DeriveAddress("nope"), alice, bob, big.NewInt(1)); !errors.Is(err, ErrUnknownToken) {
		t.Fatalf("expected unknown token, got %v", err)
	}
}

func TestRevertRestoresLedgers(t *testing.T) {
	r, usdc := newRegistryWithToken(t)
	r.DiscardUndo()
	snap := r.Snapshot()
	_ = r.Approve(usdc, alice, bob, big.NewInt(5))
	_ = r.TransferFrom(usdc, bob, alice, bob, big.NewInt(5))
	_ = r.Mint(usdc, bob, big.NewInt(1))
	weth, _ := r.Register(crypto.ZeroAddress, "WETH", 18)
	r.RevertToSnapshot(snap)
	if r.BalanceOf(usdc, alice).Int64() != 1_000 || r.BalanceOf(usdc, bob).Sign() != 0 {
		t.Fatalf("balances not reverted")
	}
	if r.Allowance(usdc, alice, bob).Sign() != 0 || r.TotalSupply(usdc).Int64() != 1_000 {
		t.Fatalf("allowance or supply not reverted")
	}
	if _, ok := r.Lookup(weth.Address); ok {
		t.Fatalf("registration not reverted")
	}
}

func TestExportImport(t *testing.T) {
	r, usdc := newRegistryWithToken(t)
	_ = r.Approve(usdc, alice, vault, big.NewInt(9))
	restored := NewRegistry()
	restored.Import(r.Export())
	if restored.BalanceOf(usdc, alice).Int64() != 1_000 || restored.Allowance(usdc, alice, vault).Int64() != 9 {
		t.Fatalf("import mismatch")
	}
	if addr, ok := restored.BySymbol("USDC"); !ok || addr != usdc {
		t.Fatalf("symbol index not rebuilt")
	}
}
