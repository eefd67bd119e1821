package core

import (
	"fmt"

	"flashvault/core/genesis"
	"flashvault/crypto"
)

// Fresh reports whether the vault started without a persisted snapshot and
// has not been seeded yet.
func (v *Vault) Fresh() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fresh
}

// ApplyGenesis seeds a fresh vault: it registers and whitelists tokens, mints
// the initial allocations, funds the flash-loan pool and opens the venue
// pairs. It fails on a vault that was restored from storage.
func (v *Vault) ApplyGenesis(plan *genesis.Plan) error {
	if plan == nil {
		return fmt.Errorf("core: genesis plan must not be nil")
	}
	if !v.Fresh() {
		return errGenesisApplied
	}
	err := v.exec("genesis", func() error {
		addrs := make(map[string]crypto.Address, len(plan.Tokens))
		for _, t := range plan.Tokens {
			meta, err := v.tokens.Register(t.Address, t.Symbol, t.Decimals)
			if err != nil {
				return fmt.Errorf("genesis: token %s: %w", t.Symbol, err)
			}
			addrs[meta.Symbol] = meta.Address
			if t.Whitelisted {
				v.state.SetWhitelisted(meta.Address, true)
			}
		}
		for _, a := range plan.Native {
			if err := v.bank.Mint(a.Holder, a.Amount); err != nil {
				return fmt.Errorf("genesis: native allocation %s: %w", a.Holder, err)
			}
		}
		for _, a := range plan.Alloc {
			if err := v.tokens.Mint(addrs[a.Symbol], a.Holder, a.Amount); err != nil {
				return fmt.Errorf("genesis: %s allocation %s: %w", a.Symbol, a.Holder, err)
			}
		}
		for _, a := range plan.Pool {
			if err := v.tokens.Mint(addrs[a.Symbol], v.opts.PoolAddress, a.Amount); err != nil {
				return fmt.Errorf("genesis: pool %s: %w", a.Symbol, err)
			}
		}
		for _, p := range plan.Pairs {
			tokenA, tokenB := addrs[p.SymbolA], addrs[p.SymbolB]
			if err := v.tokens.Mint(tokenA, GenesisLPAddress, p.ReserveA); err != nil {
				return fmt.Errorf("genesis: pair %s/%s: %w", p.SymbolA, p.SymbolB, err)
			}
			if err := v.tokens.Mint(tokenB, GenesisLPAddress, p.ReserveB); err != nil {
				return fmt.Errorf("genesis: pair %s/%s: %w", p.SymbolA, p.SymbolB, err)
			}
			if err := v.amm.AddLiquidity(GenesisLPAddress, tokenA, tokenB, p.ReserveA, p.ReserveB); err != nil {
				return fmt.Errorf("genesis: pair %s/%s: %w", p.SymbolA, p.SymbolB, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.fresh = false
	v.mu.Unlock()
	v.logger.Info("genesis applied", "tokens", len(plan.Tokens), "pairs", len(plan.Pairs))
	return nil
}
