package lender

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"flashvault/core/state"
	"flashvault/crypto"
	"flashvault/native/flashswap"
)

// DefaultFeeBps matches the classic 0.09% flash-loan premium.
const DefaultFeeBps uint32 = 9

var (
	errInvalidAmount         = errors.New("lender: amount must be positive")
	errInsufficientLiquidity = errors.New("lender: insufficient liquidity")
	errUnknownObligation     = errors.New("lender: unknown or settled obligation")
	errZeroBorrower          = errors.New("lender: zero borrower")
)

var basisPoints = big.NewInt(10_000)

// Tokens is the ledger surface the pool needs.
type Tokens interface {
	BalanceOf(token, holder crypto.Address) *big.Int
	Transfer(token, from, to crypto.Address, amount *big.Int) error
}

type tokenLedger struct {
	borrowed *big.Int
	fees     *big.Int
	loans    uint64
}

// Pool is an in-process flash-loan provider. Liquidity is whatever balance of
// a token the pool address holds; every loan must be repaid within the call
// that opened it.
type Pool struct {
	self        crypto.Address
	tokens      Tokens
	feeBps      uint32
	nextID      uint64
	outstanding map[uint64]*flashswap.Obligation
	ledgers     map[crypto.Address]*tokenLedger
	undo        state.UndoLog
}

// NewPool returns a pool holding its liquidity at self.
func NewPool(self crypto.Address, tokens Tokens, feeBps uint32) *Pool {
	return &Pool{
		self:        self,
		tokens:      tokens,
		feeBps:      feeBps,
		outstanding: make(map[uint64]*flashswap.Obligation),
		ledgers:     make(map[crypto.Address]*tokenLedger),
	}
}

// Address returns the identity holding the pool's liquidity.
func (p *Pool) Address() crypto.Address { return p.self }

// FeeBps returns the configured premium.
func (p *Pool) FeeBps() uint32 { return p.feeBps }

// Snapshot implements state.Revertible.
func (p *Pool) Snapshot() int { return p.undo.Snapshot() }

// RevertToSnapshot implements state.Revertible.
func (p *Pool) RevertToSnapshot(id int) { p.undo.RevertToSnapshot(id) }

// DiscardUndo drops the undo history after a commit.
func (p *Pool) DiscardUndo() { p.undo.DiscardUndo() }

// Liquidity returns the amount of token available to borrow.
func (p *Pool) Liquidity(token crypto.Address) *big.Int {
	return p.tokens.BalanceOf(token, p.self)
}

// Fee implements flashswap.Provider. The premium is rounded down.
func (p *Pool) Fee(_ crypto.Address, amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 || p.feeBps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, big.NewInt(int64(p.feeBps)))
	return fee.Quo(fee, basisPoints)
}

// Borrow implements flashswap.Provider.
func (p *Pool) Borrow(token, borrower crypto.Address, amount *big.Int) (*flashswap.Obligation, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if borrower.IsZero() {
		return nil, errZeroBorrower
	}
	available := p.Liquidity(token)
	if available.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: need %s have %s", errInsufficientLiquidity, amount, available)
	}
	if err := p.tokens.Transfer(token, p.self, borrower, amount); err != nil {
		return nil, fmt.Errorf("lender: disburse: %w", err)
	}
	p.nextID++
	id := p.nextID
	ob := &flashswap.Obligation{
		ID:        id,
		Token:     token,
		Borrower:  borrower,
		Principal: new(big.Int).Set(amount),
		Fee:       p.Fee(token, amount),
	}
	p.outstanding[id] = ob
	p.undo.Record(func() {
		delete(p.outstanding, id)
		p.nextID--
	})
	return ob, nil
}

// Repay implements flashswap.Provider by collecting the obligation total from
// the borrower.
func (p *Pool) Repay(ob *flashswap.Obligation) error {
	if ob == nil {
		return errUnknownObligation
	}
	stored, ok := p.outstanding[ob.ID]
	if !ok {
		return fmt.Errorf("%w: #%d", errUnknownObligation, ob.ID)
	}
	if err := p.tokens.Transfer(stored.Token, stored.Borrower, p.self, stored.Total()); err != nil {
		return fmt.Errorf("lender: collect repayment: %w", err)
	}
	delete(p.outstanding, stored.ID)
	p.undo.Record(func() { p.outstanding[stored.ID] = stored })
	p.account(stored)
	return nil
}

func (p *Pool) account(ob *flashswap.Obligation) {
	l, existed := p.ledgers[ob.Token]
	if !existed {
		l = &tokenLedger{borrowed: big.NewInt(0), fees: big.NewInt(0)}
		p.ledgers[ob.Token] = l
	}
	prevBorrowed, prevFees, prevLoans := l.borrowed, l.fees, l.loans
	l.borrowed = new(big.Int).Add(l.borrowed, ob.Principal)
	l.fees = new(big.Int).Add(l.fees, ob.Fee)
	l.loans++
	p.undo.Record(func() {
		l.borrowed, l.fees, l.loans = prevBorrowed, prevFees, prevLoans
		if !existed {
			delete(p.ledgers, ob.Token)
		}
	})
}

// Outstanding returns the number of open obligations. It is zero whenever no
// call is in flight.
func (p *Pool) Outstanding() int { return len(p.outstanding) }

// FeesEarned returns the cumulative premium collected in token.
func (p *Pool) FeesEarned(token crypto.Address) *big.Int {
	if l, ok := p.ledgers[token]; ok {
		return new(big.Int).Set(l.fees)
	}
	return big.NewInt(0)
}

// Export returns the stored form of the pool accounting.
func (p *Pool) Export() []state.StoredPoolLedger {
	out := make([]state.StoredPoolLedger, 0, len(p.ledgers))
	for token, l := range p.ledgers {
		out = append(out, state.StoredPoolLedger{
			Token:    token,
			Borrowed: new(big.Int).Set(l.borrowed),
			Fees:     new(big.Int).Set(l.fees),
			Loans:    l.loans,
		})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Token[:], out[j].Token[:]) < 0 })
	return out
}

// Import restores pool accounting from its stored form.
func (p *Pool) Import(stored []state.StoredPoolLedger) {
	p.ledgers = make(map[crypto.Address]*tokenLedger, len(stored))
	for _, st := range stored {
		l := &tokenLedger{borrowed: big.NewInt(0), fees: big.NewInt(0), loans: st.Loans}
		if st.Borrowed != nil {
			l.borrowed.Set(st.Borrowed)
		}
		if st.Fees != nil {
			l.fees.Set(st.Fees)
		}
		p.ledgers[st.Token] = l
	}
	p.undo.DiscardUndo()
}
