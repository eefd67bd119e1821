package venue

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"flashvault/crypto"
	"flashvault/native/flashswap"
	"flashvault/native/token"
)

var (
	venueAddr = crypto.DeriveAddress("venue")
	lp        = crypto.DeriveAddress("lp")
	trader    = crypto.DeriveAddress("trader")
)

func newVenue(t *testing.T) (*AMM, *token.Registry, crypto.Address, crypto.Address) {
	t.Helper()
	reg := token.NewRegistry()
	weth, _ := reg.Register(crypto.ZeroAddress, "WETH", 18)
	usdc, _ := reg.Register(crypto.ZeroAddress, "USDC", 6)
	for _, tok := range []crypto.Address{weth.Address, usdc.Address} {
		if err := reg.Mint(tok, lp, big.NewInt(10_000_000)); err != nil {
			t.Fatalf("mint lp: %v", err)
		}
		if err := reg.Mint(tok, trader, big.NewInt(1_000_000)); err != nil {
			t.Fatalf("mint trader: %v", err)
		}
	}
	amm := NewAMM(venueAddr, reg, DefaultFeeBps)
	if err := amm.AddLiquidity(lp, weth.Address, usdc.Address, big.NewInt(1_000_000), big.NewInt(2_000_000)); err != nil {
		t.Fatalf("add liquidity: %v", err)
	}
	return amm, reg, weth.Address, usdc.Address
}

func TestQuoteConstantProduct(t *testing.T) {
	amm, _, weth, usdc := newVenue(t)
	out, err := amm.Quote(weth, usdc, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 10000*9970*2000000 / (1000000*10000 + 10000*9970) = 19743
	if out.Int64() != 19_743 {
		t.Fatalf("unexpected quote %s", out)
	}
	inRes, outRes, ok := amm.Reserves(usdc, weth)
	if !ok || inRes.Int64() != 2_000_000 || outRes.Int64() != 1_000_000 {
		t.Fatalf("reserves must be ordered by input token")
	}
	if _, err := amm.Quote(weth, crypto.DeriveAddress("x"), big.NewInt(1)); !errors.Is(err, ErrUnknownPair) {
		t.Fatalf("expected ErrUnknownPair, got %v", err)
	}
}

func TestSwapPaysQuotedAmount(t *testing.T) {
	amm, reg, weth, usdc := newVenue(t)
	quoted, _ := amm.Quote(weth, usdc, big.NewInt(10_000))
	if err := reg.Transfer(weth, trader, venueAddr, big.NewInt(10_000)); err != nil {
		t.Fatalf("fund swap: %v", err)
	}
	req := flashswap.SwapRequest{TokenIn: weth, TokenOut: usdc, AmountIn: big.NewInt(10_000), Recipient: trader}
	if err := amm.Swap(context.Background(), req); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if got := reg.BalanceOf(usdc, trader); got.Int64() != 1_000_000+quoted.Int64() {
		t.Fatalf("trader received %s", got)
	}
	inRes, outRes, _ := amm.Reserves(weth, usdc)
	if inRes.Int64() != 1_010_000 || outRes.Int64() != 2_000_000-quoted.Int64() {
		t.Fatalf("reserves not updated: %s/%s", inRes, outRes)
	}
}

func TestSwapRefundsUnusedInput(t *testing.T) {
	amm, reg, weth, usdc := newVenue(t)
	_ = reg.Transfer(weth, trader, venueAddr, big.NewInt(10_000))
	req := flashswap.SwapRequest{
		TokenIn: weth, TokenOut: usdc, AmountIn: big.NewInt(10_000), Recipient: trader,
		Data: []byte(`{"maxInput":"4000"}`),
	}
	if err := amm.Swap(context.Background(), req); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if got := reg.BalanceOf(weth, trader); got.Int64() != 1_000_000-4_000 {
		t.Fatalf("expected 6000 refunded, trader holds %s", got)
	}
}

func TestSwapRejectsExpiredRouteAndMissingInput(t *testing.T) {
	amm, reg, weth, usdc := newVenue(t)
	amm.SetNowFunc(func() time.Time { return time.Unix(2_000, 0) })
	req := flashswap.SwapRequest{TokenIn: weth, TokenOut: usdc, Recipient: trader}
	if err := amm.Swap(context.Background(), req); !errors.Is(err, ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", err)
	}
	_ = reg.Transfer(weth, trader, venueAddr, big.NewInt(1_000))
	req.Data = []byte(`{"deadline":1000}`)
	if err := amm.Swap(context.Background(), req); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	req.Data = []byte(`not json`)
	if err := amm.Swap(context.Background(), req); !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute, got %v", err)
	}
}

func TestExportImportPreservesOrientation(t *testing.T) {
	amm, reg, weth, usdc := newVenue(t)
	restored := NewAMM(venueAddr, reg, DefaultFeeBps)
	restored.Import(amm.Export())
	in, out, ok := restored.Reserves(weth, usdc)
	if !ok || in.Int64() != 1_000_000 || out.Int64() != 2_000_000 {
		t.Fatalf("unexpected reserves after import: %s/%s", in, out)
	}
}
