package token

import (
	"bytes"
	"math/big"
	"sort"

	"flashvault/core/state"
	"flashvault/crypto"
)

// Export returns the stored form of every token ledger.
func (r *Registry) Export() []state.StoredToken {
	out := make([]state.StoredToken, 0, len(r.tokens))
	for _, meta := range r.Tokens() {
		l := r.tokens[meta.Address]
		stored := state.StoredToken{
			Address:  meta.Address,
			Symbol:   meta.Symbol,
			Decimals: meta.Decimals,
			Supply:   new(big.Int).Set(l.supply),
		}
		for holder, bal := range l.balances {
			stored.Balances = append(stored.Balances, state.StoredBalance{Owner: holder, Amount: new(big.Int).Set(bal)})
		}
		sort.Slice(stored.Balances, func(i, j int) bool {
			return bytes.Compare(stored.Balances[i].Owner[:], stored.Balances[j].Owner[:]) < 0
		})
		for key, amount := range l.allowances {
			stored.Allowances = append(stored.Allowances, state.StoredAllowance{
				Owner:   key.owner,
				Spender: key.spender,
				Amount:  new(big.Int).Set(amount),
			})
		}
		sort.Slice(stored.Allowances, func(i, j int) bool {
			a, b := stored.Allowances[i], stored.Allowances[j]
			if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
				return c < 0
			}
			return bytes.Compare(a.Spender[:], b.Spender[:]) < 0
		})
		out = append(out, stored)
	}
	return out
}

// Import replaces the registry contents with stored ledgers.
func (r *Registry) Import(stored []state.StoredToken) {
	r.tokens = make(map[crypto.Address]*ledger, len(stored))
	r.bySymbol = make(map[string]crypto.Address, len(stored))
	for _, st := range stored {
		l := &ledger{
			meta:       Metadata{Address: st.Address, Symbol: st.Symbol, Decimals: st.Decimals},
			supply:     cloneOrZero(st.Supply),
			balances:   make(map[crypto.Address]*big.Int, len(st.Balances)),
			allowances: make(map[allowanceKey]*big.Int, len(st.Allowances)),
		}
		for _, bal := range st.Balances {
			if bal.Amount != nil && bal.Amount.Sign() > 0 {
				l.balances[bal.Owner] = new(big.Int).Set(bal.Amount)
			}
		}
		for _, a := range st.Allowances {
			if a.Amount != nil && a.Amount.Sign() > 0 {
				l.allowances[allowanceKey{owner: a.Owner, spender: a.Spender}] = new(big.Int).Set(a.Amount)
			}
		}
		r.tokens[st.Address] = l
		r.bySymbol[st.Symbol] = st.Address
	}
	r.undo.DiscardUndo()
}
