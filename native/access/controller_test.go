package access

import (
	"errors"
	"math/big"
	"testing"

	"flashvault/core/events"
	"flashvault/core/state"
	"flashvault/crypto"
	"flashvault/native/bank"
	nativecommon "flashvault/native/common"
	"flashvault/native/token"
)

var (
	vaultAddr = crypto.DeriveAddress("vault")
	ownerAddr = crypto.DeriveAddress("owner")
	stranger  = crypto.DeriveAddress("stranger")
	nominee   = crypto.DeriveAddress("nominee")
)

type fixture struct {
	ctrl     *Controller
	vault    *state.Vault
	bank     *bank.Ledger
	tokens   *token.Registry
	usdc     crypto.Address
	recorder *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		vault:    state.NewVault(ownerAddr),
		bank:     bank.NewLedger(),
		tokens:   token.NewRegistry(),
		recorder: &events.Recorder{},
	}
	meta, err := f.tokens.Register(crypto.ZeroAddress, "USDC", 6)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	f.usdc = meta.Address
	f.ctrl = NewController(vaultAddr)
	f.ctrl.SetState(f.vault)
	f.ctrl.SetBank(f.bank)
	f.ctrl.SetTokens(f.tokens)
	f.ctrl.SetEmitter(f.recorder)
	return f
}

func TestAdminOperationsRequireOwner(t *testing.T) {
	f := newFixture(t)
	checks := map[string]error{
		"whitelist": f.ctrl.SetTokenWhitelist(stranger, f.usdc, true),
		"slippage":  f.ctrl.SetSlippageTolerance(stranger, 10),
		"pause":     f.ctrl.Pause(stranger),
		"unpause":   f.ctrl.Unpause(stranger),
		"transfer":  f.ctrl.TransferOwnership(stranger, nominee),
	}
	_, rescueErr := f.ctrl.Rescue(stranger, f.usdc)
	checks["rescue"] = rescueErr
	_, nativeErr := f.ctrl.RescueNative(stranger)
	checks["rescueNative"] = nativeErr
	for name, err := range checks {
		if !errors.Is(err, nativecommon.ErrUnauthorized) {
			t.Fatalf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}
	if f.vault.Paused() || f.vault.IsWhitelisted(f.usdc) || f.vault.SlippageBps() != state.DefaultSlippageBps {
		t.Fatalf("unauthorized calls changed state")
	}
	if len(f.recorder.Events) != 0 {
		t.Fatalf("unauthorized calls emitted events")
	}
}

func TestWhitelistRejectsZeroToken(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.SetTokenWhitelist(ownerAddr, crypto.ZeroAddress, true); !errors.Is(err, nativecommon.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if err := f.ctrl.SetTokenWhitelist(ownerAddr, f.usdc, true); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if !f.ctrl.IsWhitelisted(f.usdc) {
		t.Fatalf("token not whitelisted")
	}
	if err := f.ctrl.SetTokenWhitelist(ownerAddr, f.usdc, false); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if f.ctrl.IsWhitelisted(f.usdc) {
		t.Fatalf("token still whitelisted")
	}
}

func TestSlippageCeiling(t *testing.T) {
	f := newFixture(t)
	err := f.ctrl.SetSlippageTolerance(ownerAddr, 1_001)
	if !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for 1001, got %v", err)
	}
	if err := f.ctrl.SetSlippageTolerance(ownerAddr, 1_000); err != nil {
		t.Fatalf("ceiling must be accepted: %v", err)
	}
	if f.vault.SlippageBps() != 1_000 {
		t.Fatalf("tolerance not updated")
	}
	updates := f.recorder.OfType(events.TypeSlippageUpdated)
	if len(updates) != 1 {
		t.Fatalf("expected one SlippageUpdated event")
	}
	if ev := updates[0].(events.SlippageUpdated); ev.Previous != 50 || ev.Current != 1_000 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestPauseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		if err := f.ctrl.Pause(ownerAddr); err != nil {
			t.Fatalf("pause #%d: %v", i, err)
		}
	}
	if !f.vault.Paused() {
		t.Fatalf("vault not paused")
	}
	if len(f.recorder.OfType(events.TypePaused)) != 1 {
		t.Fatalf("re-pausing must not emit a second event")
	}
	for i := 0; i < 2; i++ {
		if err := f.ctrl.Unpause(ownerAddr); err != nil {
			t.Fatalf("unpause #%d: %v", i, err)
		}
	}
	if f.vault.Paused() || len(f.recorder.OfType(events.TypeUnpaused)) != 1 {
		t.Fatalf("unpause not idempotent")
	}
}

func TestRescueSweepsOnlyResidual(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ctrl.Rescue(ownerAddr, f.usdc); !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount with nothing to rescue, got %v", err)
	}
	// 70 custodied for a user, 30 sent to the vault directly.
	if err := f.tokens.Mint(f.usdc, vaultAddr, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.vault.CreditToken(f.usdc, stranger, big.NewInt(70))

	swept, err := f.ctrl.Rescue(ownerAddr, f.usdc)
	if err != nil {
		t.Fatalf("rescue: %v", err)
	}
	if swept.Int64() != 30 {
		t.Fatalf("expected residual 30, got %s", swept)
	}
	if f.tokens.BalanceOf(f.usdc, ownerAddr).Int64() != 30 || f.tokens.BalanceOf(f.usdc, vaultAddr).Int64() != 70 {
		t.Fatalf("rescue touched custodied funds")
	}
	if _, err := f.ctrl.Rescue(ownerAddr, f.usdc); !errors.Is(err, nativecommon.ErrInvalidAmount) {
		t.Fatalf("second rescue must fail, got %v", err)
	}
	if _, err := f.ctrl.Rescue(ownerAddr, crypto.ZeroAddress); !errors.Is(err, nativecommon.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestRescueNative(t *testing.T) {
	f := newFixture(t)
	if err := f.bank.Mint(vaultAddr, big.NewInt(15)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.vault.Credit(stranger, big.NewInt(10))
	swept, err := f.ctrl.RescueNative(ownerAddr)
	if err != nil {
		t.Fatalf("rescue native: %v", err)
	}
	if swept.Int64() != 5 || f.bank.Balance(ownerAddr).Int64() != 5 {
		t.Fatalf("unexpected sweep %s", swept)
	}
}

func TestTwoStepOwnershipTransfer(t *testing.T) {
	f := newFixture(t)
	if err := f.ctrl.TransferOwnership(ownerAddr, crypto.ZeroAddress); !errors.Is(err, nativecommon.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if err := f.ctrl.TransferOwnership(ownerAddr, nominee); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if f.vault.Owner() != ownerAddr {
		t.Fatalf("ownership must not move before acceptance")
	}
	if err := f.ctrl.AcceptOwnership(stranger); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-nominee, got %v", err)
	}
	if err := f.ctrl.AcceptOwnership(nominee); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if f.vault.Owner() != nominee || !f.vault.PendingOwner().IsZero() {
		t.Fatalf("ownership not transferred")
	}
	if err := f.ctrl.Pause(ownerAddr); !errors.Is(err, nativecommon.ErrUnauthorized) {
		t.Fatalf("previous owner must lose admin rights, got %v", err)
	}
	if err := f.ctrl.Pause(nominee); err != nil {
		t.Fatalf("new owner pause: %v", err)
	}
}

func TestResidualFloorsAtZero(t *testing.T) {
	if Residual(big.NewInt(3), big.NewInt(5)).Sign() != 0 {
		t.Fatalf("residual must not be negative")
	}
	if Residual(nil, nil).Sign() != 0 {
		t.Fatalf("nil held is zero")
	}
}
