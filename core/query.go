package core

import (
	"math/big"

	"flashvault/crypto"
	"flashvault/native/access"
	"flashvault/native/flashswap"
	"flashvault/native/token"
)

// Balance returns owner's custodied native balance.
func (v *Vault) Balance(owner crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.custody.Balance(owner)
}

// TokenBalance returns owner's custodied balance of tok.
func (v *Vault) TokenBalance(tok, owner crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.custody.TokenBalance(tok, owner)
}

// NativeBalance returns addr's native balance outside custody.
func (v *Vault) NativeBalance(addr crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bank.Balance(addr)
}

// WalletBalance returns holder's token balance outside custody.
func (v *Vault) WalletBalance(tok, holder crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tokens.BalanceOf(tok, holder)
}

// Allowance returns spender's remaining allowance over owner's tok.
func (v *Vault) Allowance(tok, owner, spender crypto.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tokens.Allowance(tok, owner, spender)
}

// Tokens lists the registered tokens.
func (v *Vault) Tokens() []token.Metadata {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tokens.Tokens()
}

// TokenBySymbol resolves a registered symbol.
func (v *Vault) TokenBySymbol(symbol string) (crypto.Address, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.tokens.BySymbol(symbol)
}

// Config returns the access controller settings.
func (v *Vault) Config() access.Config {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.access.Snapshot()
}

// Quote estimates the output of swapping amountIn through the venue and the
// minimum the current tolerance would accept.
func (v *Vault) Quote(tokenIn, tokenOut crypto.Address, amountIn *big.Int) (*flashswap.Quote, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flash.Quote(tokenIn, tokenOut, amountIn)
}

// TokenStats is the per-token part of Stats.
type TokenStats struct {
	Token      crypto.Address
	Symbol     string
	Locked     *big.Int
	Held       *big.Int
	Residual   *big.Int
	PoolFees   *big.Int
	PoolLiquid *big.Int
}

// Stats summarises the ledger for conservation checks and monitoring.
type Stats struct {
	TotalDeposits    *big.Int
	TotalWithdrawals *big.Int
	Custodied        *big.Int
	NativeHeld       *big.Int
	SwapCount        uint64
	Tokens           []TokenStats
}

// Stats returns the current conservation counters.
func (v *Vault) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	totals := v.custody.Totals()
	out := Stats{
		TotalDeposits:    totals.Deposits,
		TotalWithdrawals: totals.Withdrawals,
		Custodied:        totals.Custodied,
		NativeHeld:       v.bank.Balance(v.opts.Address),
		SwapCount:        v.state.SwapCount(),
	}
	for _, meta := range v.tokens.Tokens() {
		held := v.tokens.BalanceOf(meta.Address, v.opts.Address)
		locked := v.state.LockedTotal(meta.Address)
		out.Tokens = append(out.Tokens, TokenStats{
			Token:      meta.Address,
			Symbol:     meta.Symbol,
			Locked:     locked,
			Held:       held,
			Residual:   access.Residual(held, locked),
			PoolFees:   v.pool.FeesEarned(meta.Address),
			PoolLiquid: v.pool.Liquidity(meta.Address),
		})
	}
	return out
}
