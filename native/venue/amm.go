package venue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"flashvault/core/state"
	"flashvault/crypto"
	"flashvault/native/flashswap"
)

// DefaultFeeBps is the swap fee charged on the input amount.
const DefaultFeeBps uint32 = 30

var (
	ErrUnknownPair           = errors.New("venue: no pool for pair")
	ErrInsufficientLiquidity = errors.New("venue: insufficient liquidity")
	ErrNoInput               = errors.New("venue: no input received")
	ErrExpired               = errors.New("venue: route deadline passed")
	ErrInvalidRoute          = errors.New("venue: invalid route data")
	errInvalidAmount         = errors.New("venue: amount must be positive")
)

var basisPoints = big.NewInt(10_000)

// Tokens is the ledger surface the venue needs.
type Tokens interface {
	BalanceOf(token, holder crypto.Address) *big.Int
	Transfer(token, from, to crypto.Address, amount *big.Int) error
}

// Route is the JSON form of the opaque swap data the venue understands.
// Unknown fields are ignored; empty data selects defaults.
type Route struct {
	// Deadline is a unix timestamp after which the swap is refused.
	Deadline int64 `json:"deadline,omitempty"`
	// MaxInput caps how much of the received input is used. The unused
	// remainder is refunded to the recipient.
	MaxInput string `json:"maxInput,omitempty"`
}

type pairKey struct {
	a crypto.Address
	b crypto.Address
}

func keyFor(x, y crypto.Address) pairKey {
	if bytes.Compare(x[:], y[:]) < 0 {
		return pairKey{a: x, b: y}
	}
	return pairKey{a: y, b: x}
}

type pair struct {
	reserveA *big.Int
	reserveB *big.Int
}

func (p *pair) reserves(k pairKey, tokenIn crypto.Address) (in, out *big.Int) {
	if tokenIn == k.a {
		return p.reserveA, p.reserveB
	}
	return p.reserveB, p.reserveA
}

// AMM is an in-process constant-product swap venue. Reserves are tracked per
// pair; the venue's raw token balance minus tracked reserves is the input of
// the swap in progress.
type AMM struct {
	self   crypto.Address
	tokens Tokens
	feeBps uint32
	pairs  map[pairKey]*pair
	nowFn  func() time.Time
	undo   state.UndoLog
}

// NewAMM returns a venue holding its reserves at self.
func NewAMM(self crypto.Address, tokens Tokens, feeBps uint32) *AMM {
	return &AMM{
		self:   self,
		tokens: tokens,
		feeBps: feeBps,
		pairs:  make(map[pairKey]*pair),
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the clock used for deadline checks.
func (m *AMM) SetNowFunc(now func() time.Time) {
	if now != nil {
		m.nowFn = now
	}
}

// Address implements flashswap.Venue.
func (m *AMM) Address() crypto.Address { return m.self }

// Snapshot implements state.Revertible.
func (m *AMM) Snapshot() int { return m.undo.Snapshot() }

// RevertToSnapshot implements state.Revertible.
func (m *AMM) RevertToSnapshot(id int) { m.undo.RevertToSnapshot(id) }

// DiscardUndo drops the undo history after a commit.
func (m *AMM) DiscardUndo() { m.undo.DiscardUndo() }

// AddLiquidity moves reserves from provider into the pair's pool, creating
// the pair on first use.
func (m *AMM) AddLiquidity(provider, tokenA, tokenB crypto.Address, amountA, amountB *big.Int) error {
	if amountA == nil || amountB == nil || amountA.Sign() <= 0 || amountB.Sign() <= 0 {
		return errInvalidAmount
	}
	if tokenA == tokenB {
		return fmt.Errorf("venue: identical tokens")
	}
	if err := m.tokens.Transfer(tokenA, provider, m.self, amountA); err != nil {
		return fmt.Errorf("venue: fund %s: %w", tokenA, err)
	}
	if err := m.tokens.Transfer(tokenB, provider, m.self, amountB); err != nil {
		return fmt.Errorf("venue: fund %s: %w", tokenB, err)
	}
	k := keyFor(tokenA, tokenB)
	p, existed := m.pairs[k]
	if !existed {
		p = &pair{reserveA: big.NewInt(0), reserveB: big.NewInt(0)}
		m.pairs[k] = p
	}
	addA, addB := amountA, amountB
	if tokenA != k.a {
		addA, addB = amountB, amountA
	}
	m.setReserves(p, new(big.Int).Add(p.reserveA, addA), new(big.Int).Add(p.reserveB, addB))
	if !existed {
		m.undo.Record(func() { delete(m.pairs, k) })
	}
	return nil
}

// Reserves returns the reserves of the pair ordered as (tokenIn, tokenOut).
func (m *AMM) Reserves(tokenIn, tokenOut crypto.Address) (*big.Int, *big.Int, bool) {
	k := keyFor(tokenIn, tokenOut)
	p, ok := m.pairs[k]
	if !ok {
		return big.NewInt(0), big.NewInt(0), false
	}
	in, out := p.reserves(k, tokenIn)
	return new(big.Int).Set(in), new(big.Int).Set(out), true
}

// Quote implements flashswap.Venue using the constant-product formula with
// the input fee applied.
func (m *AMM) Quote(tokenIn, tokenOut crypto.Address, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	reserveIn, reserveOut, ok := m.Reserves(tokenIn, tokenOut)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownPair, tokenIn, tokenOut)
	}
	return m.amountOut(amountIn, reserveIn, reserveOut)
}

func (m *AMM) amountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientLiquidity
	}
	withFee := new(big.Int).Mul(amountIn, big.NewInt(int64(10_000-m.feeBps)))
	numerator := new(big.Int).Mul(withFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, basisPoints)
	denominator.Add(denominator, withFee)
	out := numerator.Quo(numerator, denominator)
	if out.Sign() <= 0 || out.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientLiquidity
	}
	return out, nil
}

// Swap implements flashswap.Venue. The input must already have been
// transferred to the venue.
func (m *AMM) Swap(ctx context.Context, req flashswap.SwapRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	route, err := ParseRoute(req.Data)
	if err != nil {
		return err
	}
	if route.Deadline > 0 && m.nowFn().Unix() > route.Deadline {
		return fmt.Errorf("%w: %d", ErrExpired, route.Deadline)
	}
	k := keyFor(req.TokenIn, req.TokenOut)
	p, ok := m.pairs[k]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownPair, req.TokenIn, req.TokenOut)
	}
	received := new(big.Int).Sub(m.tokens.BalanceOf(req.TokenIn, m.self), m.tracked(req.TokenIn))
	if received.Sign() <= 0 {
		return ErrNoInput
	}
	used := received
	if route.MaxInput != "" {
		limit, ok := new(big.Int).SetString(route.MaxInput, 10)
		if !ok || limit.Sign() <= 0 {
			return fmt.Errorf("%w: maxInput %q", ErrInvalidRoute, route.MaxInput)
		}
		if limit.Cmp(used) < 0 {
			used = limit
		}
	}
	reserveIn, reserveOut := p.reserves(k, req.TokenIn)
	out, err := m.amountOut(used, reserveIn, reserveOut)
	if err != nil {
		return err
	}
	nextIn := new(big.Int).Add(reserveIn, used)
	nextOut := new(big.Int).Sub(reserveOut, out)
	if req.TokenIn == k.a {
		m.setReserves(p, nextIn, nextOut)
	} else {
		m.setReserves(p, nextOut, nextIn)
	}
	if err := m.tokens.Transfer(req.TokenOut, m.self, req.Recipient, out); err != nil {
		return fmt.Errorf("venue: pay out: %w", err)
	}
	if refund := new(big.Int).Sub(received, used); refund.Sign() > 0 {
		if err := m.tokens.Transfer(req.TokenIn, m.self, req.Recipient, refund); err != nil {
			return fmt.Errorf("venue: refund: %w", err)
		}
	}
	return nil
}

// tracked sums the reserves of token across every pair.
func (m *AMM) tracked(token crypto.Address) *big.Int {
	sum := big.NewInt(0)
	for k, p := range m.pairs {
		switch token {
		case k.a:
			sum.Add(sum, p.reserveA)
		case k.b:
			sum.Add(sum, p.reserveB)
		}
	}
	return sum
}

func (m *AMM) setReserves(p *pair, a, b *big.Int) {
	prevA, prevB := p.reserveA, p.reserveB
	p.reserveA, p.reserveB = a, b
	m.undo.Record(func() { p.reserveA, p.reserveB = prevA, prevB })
}

// ParseRoute decodes swap data. Empty data yields the zero Route.
func ParseRoute(data []byte) (Route, error) {
	var route Route
	if len(bytes.TrimSpace(data)) == 0 {
		return route, nil
	}
	if err := json.Unmarshal(data, &route); err != nil {
		return Route{}, fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}
	return route, nil
}

// Export returns the stored form of every pair.
func (m *AMM) Export() []state.StoredPair {
	out := make([]state.StoredPair, 0, len(m.pairs))
	for k, p := range m.pairs {
		out = append(out, state.StoredPair{
			TokenA:   k.a,
			TokenB:   k.b,
			ReserveA: new(big.Int).Set(p.reserveA),
			ReserveB: new(big.Int).Set(p.reserveB),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].TokenA[:], out[j].TokenA[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].TokenB[:], out[j].TokenB[:]) < 0
	})
	return out
}

// Import restores pairs from their stored form.
func (m *AMM) Import(stored []state.StoredPair) {
	m.pairs = make(map[pairKey]*pair, len(stored))
	for _, st := range stored {
		k := keyFor(st.TokenA, st.TokenB)
		p := &pair{reserveA: big.NewInt(0), reserveB: big.NewInt(0)}
		if st.ReserveA != nil {
			p.reserveA.Set(st.ReserveA)
		}
		if st.ReserveB != nil {
			p.reserveB.Set(st.ReserveB)
		}
		if k.a != st.TokenA {
			p.reserveA, p.reserveB = p.reserveB, p.reserveA
		}
		m.pairs[k] = p
	}
	m.undo.DiscardUndo()
}
