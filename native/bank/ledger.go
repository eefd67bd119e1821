package bank

import (
	"errors"
	"fmt"
	"math/big"

	"flashvault/core/state"
	"flashvault/crypto"
)

var (
	errInvalidAmount       = errors.New("bank: amount must be non-negative")
	errInsufficientBalance = errors.New("bank: insufficient balance")
)

// Receiver is implemented by identities that run code when they receive
// native currency. A receiver may call back into the vault; the error it
// returns aborts the transfer.
type Receiver interface {
	OnReceive(from crypto.Address, amount *big.Int) error
}

// ReceiverFunc adapts a function to Receiver.
type ReceiverFunc func(from crypto.Address, amount *big.Int) error

// OnReceive implements Receiver.
func (f ReceiverFunc) OnReceive(from crypto.Address, amount *big.Int) error {
	return f(from, amount)
}

// Ledger tracks the native-currency balance of every identity outside the
// vault's custody accounting.
type Ledger struct {
	balances  map[crypto.Address]*big.Int
	receivers map[crypto.Address]Receiver
	undo      state.UndoLog
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances:  make(map[crypto.Address]*big.Int),
		receivers: make(map[crypto.Address]Receiver),
	}
}

// Snapshot implements state.Revertible.
func (l *Ledger) Snapshot() int { return l.undo.Snapshot() }

// RevertToSnapshot implements state.Revertible.
func (l *Ledger) RevertToSnapshot(id int) { l.undo.RevertToSnapshot(id) }

// DiscardUndo drops the undo history after a commit.
func (l *Ledger) DiscardUndo() { l.undo.DiscardUndo() }

// SetReceiver registers code to run when addr receives native currency. A
// nil receiver removes the registration. Registrations are not journaled.
func (l *Ledger) SetReceiver(addr crypto.Address, r Receiver) {
	if r == nil {
		delete(l.receivers, addr)
		return
	}
	l.receivers[addr] = r
}

// Balance returns a copy of addr's balance.
func (l *Ledger) Balance(addr crypto.Address) *big.Int {
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Mint credits addr out of thin air. Only genesis allocation and tests use it.
func (l *Ledger) Mint(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	l.set(addr, new(big.Int).Add(l.Balance(addr), amount))
	return nil
}

// Transfer moves amount from one identity to another and then invokes the
// recipient's receiver, if any. The balance update happens before the hook
// runs.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	available := l.Balance(from)
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s have %s", errInsufficientBalance, amount, available)
	}
	if from != to && amount.Sign() > 0 {
		l.set(from, new(big.Int).Sub(available, amount))
		l.set(to, new(big.Int).Add(l.Balance(to), amount))
	}
	if r, ok := l.receivers[to]; ok {
		if err := r.OnReceive(from, new(big.Int).Set(amount)); err != nil {
			return fmt.Errorf("bank: receiver rejected transfer: %w", err)
		}
	}
	return nil
}

// IsInsufficientBalance reports whether err came from an underfunded transfer.
func IsInsufficientBalance(err error) bool {
	return errors.Is(err, errInsufficientBalance)
}

func (l *Ledger) set(addr crypto.Address, amount *big.Int) {
	prev, existed := l.balances[addr]
	if amount.Sign() == 0 {
		delete(l.balances, addr)
	} else {
		l.balances[addr] = amount
	}
	l.undo.Record(func() {
		if existed {
			l.balances[addr] = prev
		} else {
			delete(l.balances, addr)
		}
	})
}

// Export returns the stored form of the ledger in address order.
func (l *Ledger) Export() []state.StoredBalance {
	out := make([]state.StoredBalance, 0, len(l.balances))
	for addr, bal := range l.balances {
		out = append(out, state.StoredBalance{Owner: addr, Amount: new(big.Int).Set(bal)})
	}
	sortBalances(out)
	return out
}

// Import replaces the ledger contents with stored balances.
func (l *Ledger) Import(stored []state.StoredBalance) {
	l.balances = make(map[crypto.Address]*big.Int, len(stored))
	for _, bal := range stored {
		if bal.Amount != nil && bal.Amount.Sign() > 0 {
			l.balances[bal.Owner] = new(big.Int).Set(bal.Amount)
		}
	}
	l.undo.DiscardUndo()
}
