package state

import (
	"bytes"
	"errors"
	"math/big"
	"sort"

	"flashvault/crypto"
)

// DefaultSlippageBps is the tolerance a freshly deployed vault starts with.
const DefaultSlippageBps uint32 = 50

var errNegativeBalance = errors.New("state: balance would become negative")

// Vault is the aggregate state shared by the custody ledger, the access
// controller and the flash-swap engine. Engines mutate it only through the
// methods below so that every change is journaled and can be reverted.
type Vault struct {
	owner        crypto.Address
	pendingOwner crypto.Address
	paused       bool
	slippageBps  uint32

	whitelist map[crypto.Address]bool
	balances  map[crypto.Address]*big.Int
	tokens    map[crypto.Address]map[crypto.Address]*big.Int
	locked    map[crypto.Address]*big.Int

	totalDeposits    *big.Int
	totalWithdrawals *big.Int
	swapCount        uint64

	undo UndoLog
}

// NewVault returns an empty vault owned by owner.
func NewVault(owner crypto.Address) *Vault {
	return &Vault{
		owner:            owner,
		slippageBps:      DefaultSlippageBps,
		whitelist:        make(map[crypto.Address]bool),
		balances:         make(map[crypto.Address]*big.Int),
		tokens:           make(map[crypto.Address]map[crypto.Address]*big.Int),
		locked:           make(map[crypto.Address]*big.Int),
		totalDeposits:    big.NewInt(0),
		totalWithdrawals: big.NewInt(0),
	}
}

// Snapshot implements Revertible.
func (v *Vault) Snapshot() int { return v.undo.Snapshot() }

// RevertToSnapshot implements Revertible.
func (v *Vault) RevertToSnapshot(id int) { v.undo.RevertToSnapshot(id) }

// DiscardUndo drops the journal after a commit.
func (v *Vault) DiscardUndo() { v.undo.DiscardUndo() }

// --- ownership and switches ---

func (v *Vault) Owner() crypto.Address        { return v.owner }
func (v *Vault) PendingOwner() crypto.Address { return v.pendingOwner }
func (v *Vault) Paused() bool                 { return v.paused }
func (v *Vault) SlippageBps() uint32          { return v.slippageBps }
func (v *Vault) SwapCount() uint64            { return v.swapCount }

func (v *Vault) SetOwner(owner crypto.Address) {
	prev := v.owner
	v.owner = owner
	v.undo.Record(func() { v.owner = prev })
}

func (v *Vault) SetPendingOwner(pending crypto.Address) {
	prev := v.pendingOwner
	v.pendingOwner = pending
	v.undo.Record(func() { v.pendingOwner = prev })
}

func (v *Vault) SetPaused(paused bool) {
	prev := v.paused
	v.paused = paused
	v.undo.Record(func() { v.paused = prev })
}

func (v *Vault) SetSlippageBps(bps uint32) {
	prev := v.slippageBps
	v.slippageBps = bps
	v.undo.Record(func() { v.slippageBps = prev })
}

// IncrementSwapCount bumps the executed swap counter.
func (v *Vault) IncrementSwapCount() {
	v.swapCount++
	v.undo.Record(func() { v.swapCount-- })
}

// --- whitelist ---

func (v *Vault) IsWhitelisted(token crypto.Address) bool {
	return v.whitelist[token]
}

// SetWhitelisted adds or removes token from the whitelist.
func (v *Vault) SetWhitelisted(token crypto.Address, allowed bool) {
	prev, existed := v.whitelist[token]
	if allowed {
		v.whitelist[token] = true
	} else {
		delete(v.whitelist, token)
	}
	v.undo.Record(func() {
		if existed {
			v.whitelist[token] = prev
		} else {
			delete(v.whitelist, token)
		}
	})
}

// Whitelist returns the whitelisted tokens in byte order.
func (v *Vault) Whitelist() []crypto.Address {
	out := make([]crypto.Address, 0, len(v.whitelist))
	for token, ok := range v.whitelist {
		if ok {
			out = append(out, token)
		}
	}
	sortAddresses(out)
	return out
}

// --- native currency custody ---

// Balance returns a copy of owner's custodied native balance.
func (v *Vault) Balance(owner crypto.Address) *big.Int {
	return cloneOrZero(v.balances[owner])
}

// Credit increases owner's custodied balance and the deposit total.
func (v *Vault) Credit(owner crypto.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	v.setBalance(owner, new(big.Int).Add(v.Balance(owner), amount))
	v.setTotal(&v.totalDeposits, new(big.Int).Add(v.totalDeposits, amount))
}

// Debit decreases owner's custodied balance and increases the withdrawal
// total. It refuses to drive the balance negative.
func (v *Vault) Debit(owner crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	next := new(big.Int).Sub(v.Balance(owner), amount)
	if next.Sign() < 0 {
		return errNegativeBalance
	}
	v.setBalance(owner, next)
	v.setTotal(&v.totalWithdrawals, new(big.Int).Add(v.totalWithdrawals, amount))
	return nil
}

func (v *Vault) setBalance(owner crypto.Address, amount *big.Int) {
	prev, existed := v.balances[owner]
	if amount.Sign() == 0 {
		delete(v.balances, owner)
	} else {
		v.balances[owner] = amount
	}
	v.undo.Record(func() {
		if existed {
			v.balances[owner] = prev
		} else {
			delete(v.balances, owner)
		}
	})
}

func (v *Vault) setTotal(field **big.Int, amount *big.Int) {
	prev := *field
	*field = amount
	v.undo.Record(func() { *field = prev })
}

// TotalDeposits returns the cumulative native amount ever credited.
func (v *Vault) TotalDeposits() *big.Int { return cloneOrZero(v.totalDeposits) }

// TotalWithdrawals returns the cumulative native amount ever debited.
func (v *Vault) TotalWithdrawals() *big.Int { return cloneOrZero(v.totalWithdrawals) }

// BalanceSum returns the sum of every custodied native balance.
func (v *Vault) BalanceSum() *big.Int {
	sum := big.NewInt(0)
	for _, bal := range v.balances {
		sum.Add(sum, bal)
	}
	return sum
}

// --- token custody ---

// TokenBalance returns a copy of owner's custodied balance of token.
func (v *Vault) TokenBalance(token, owner crypto.Address) *big.Int {
	holders := v.tokens[token]
	if holders == nil {
		return big.NewInt(0)
	}
	return cloneOrZero(holders[owner])
}

// LockedTotal returns the sum of all custodied balances of token.
func (v *Vault) LockedTotal(token crypto.Address) *big.Int {
	return cloneOrZero(v.locked[token])
}

// CreditToken increases owner's custodied token balance and the locked total.
func (v *Vault) CreditToken(token, owner crypto.Address, amount *big.Int) {
	if amount == nil || amount.Sign() == 0 {
		return
	}
	v.setTokenBalance(token, owner, new(big.Int).Add(v.TokenBalance(token, owner), amount))
	v.setLocked(token, new(big.Int).Add(v.LockedTotal(token), amount))
}

// DebitToken decreases owner's custodied token balance and the locked total.
func (v *Vault) DebitToken(token, owner crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	next := new(big.Int).Sub(v.TokenBalance(token, owner), amount)
	if next.Sign() < 0 {
		return errNegativeBalance
	}
	v.setTokenBalance(token, owner, next)
	v.setLocked(token, new(big.Int).Sub(v.LockedTotal(token), amount))
	return nil
}

func (v *Vault) setTokenBalance(token, owner crypto.Address, amount *big.Int) {
	holders, hadHolders := v.tokens[token]
	if !hadHolders {
		holders = make(map[crypto.Address]*big.Int)
		v.tokens[token] = holders
	}
	prev, existed := holders[owner]
	if amount.Sign() == 0 {
		delete(holders, owner)
	} else {
		holders[owner] = amount
	}
	v.undo.Record(func() {
		if existed {
			holders[owner] = prev
		} else {
			delete(holders, owner)
		}
		if !hadHolders {
			delete(v.tokens, token)
		}
	})
}

func (v *Vault) setLocked(token crypto.Address, amount *big.Int) {
	prev, existed := v.locked[token]
	if amount.Sign() == 0 {
		delete(v.locked, token)
	} else {
		v.locked[token] = amount
	}
	v.undo.Record(func() {
		if existed {
			v.locked[token] = prev
		} else {
			delete(v.locked, token)
		}
	})
}

// LockedTokens lists every token with a non-zero locked total.
func (v *Vault) LockedTokens() []crypto.Address {
	out := make([]crypto.Address, 0, len(v.locked))
	for token := range v.locked {
		out = append(out, token)
	}
	sortAddresses(out)
	return out
}

// TokenHolderSum recomputes the locked total of token from individual
// balances. It is used to verify the locked-total bookkeeping.
func (v *Vault) TokenHolderSum(token crypto.Address) *big.Int {
	sum := big.NewInt(0)
	for _, bal := range v.tokens[token] {
		sum.Add(sum, bal)
	}
	return sum
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func sortAddresses(list []crypto.Address) {
	sort.Slice(list, func(i, j int) bool { return bytes.Compare(list[i][:], list[j][:]) < 0 })
}
