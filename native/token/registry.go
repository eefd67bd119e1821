package token

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"flashvault/core/state"
	"flashvault/crypto"
)

var (
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrDuplicateToken        = errors.New("token: already registered")
	ErrInvalidSymbol         = errors.New("token: invalid symbol")
	ErrInvalidAmount         = errors.New("token: amount must be non-negative")
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrZeroAddress           = errors.New("token: zero address")
)

const maxSymbolLength = 16

// Metadata describes a registered token.
type Metadata struct {
	Address  crypto.Address
	Symbol   string
	Decimals uint8
}

type allowanceKey struct {
	owner   crypto.Address
	spender crypto.Address
}

type ledger struct {
	meta       Metadata
	supply     *big.Int
	balances   map[crypto.Address]*big.Int
	allowances map[allowanceKey]*big.Int
}

// Registry holds the ERC-20 style ledgers of every token the host knows about.
type Registry struct {
	tokens   map[crypto.Address]*ledger
	bySymbol map[string]crypto.Address
	undo     state.UndoLog
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tokens:   make(map[crypto.Address]*ledger),
		bySymbol: make(map[string]crypto.Address),
	}
}

// Snapshot implements state.Revertible.
func (r *Registry) Snapshot() int { return r.undo.Snapshot() }

// RevertToSnapshot implements state.Revertible.
func (r *Registry) RevertToSnapshot(id int) { r.undo.RevertToSnapshot(id) }

// DiscardUndo drops the undo history after a commit.
func (r *Registry) DiscardUndo() { r.undo.DiscardUndo() }

// NormalizeSymbol applies NFKC normalisation, trims and upper-cases symbol.
func NormalizeSymbol(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(norm.NFKC.String(symbol)))
	if normalized == "" || len(normalized) > maxSymbolLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	for _, r := range normalized {
		if !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') && r != '.' && r != '-' {
			return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
		}
	}
	return normalized, nil
}

// DefaultAddress is the address assigned to a normalised symbol registered
// without an explicit one.
func DefaultAddress(symbol string) crypto.Address {
	return crypto.DeriveAddress("token:" + symbol)
}

// Register adds a token. When addr is zero a deterministic address is derived
// from the symbol.
func (r *Registry) Register(addr crypto.Address, symbol string, decimals uint8) (Metadata, error) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return Metadata{}, err
	}
	if addr.IsZero() {
		addr = DefaultAddress(normalized)
	}
	if _, exists := r.tokens[addr]; exists {
		return Metadata{}, fmt.Errorf("%w: %s", ErrDuplicateToken, addr)
	}
	if _, exists := r.bySymbol[normalized]; exists {
		return Metadata{}, fmt.Errorf("%w: symbol %s", ErrDuplicateToken, normalized)
	}
	meta := Metadata{Address: addr, Symbol: normalized, Decimals: decimals}
	r.tokens[addr] = &ledger{
		meta:       meta,
		supply:     big.NewInt(0),
		balances:   make(map[crypto.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
	}
	r.bySymbol[normalized] = addr
	r.undo.Record(func() {
		delete(r.tokens, addr)
		delete(r.bySymbol, normalized)
	})
	return meta, nil
}

// Lookup returns the metadata of token.
func (r *Registry) Lookup(token crypto.Address) (Metadata, bool) {
	l, ok := r.tokens[token]
	if !ok {
		return Metadata{}, false
	}
	return l.meta, true
}

// BySymbol resolves a symbol to its token address.
func (r *Registry) BySymbol(symbol string) (crypto.Address, bool) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return crypto.ZeroAddress, false
	}
	addr, ok := r.bySymbol[normalized]
	return addr, ok
}

// Tokens lists every registered token in address order.
func (r *Registry) Tokens() []Metadata {
	out := make([]Metadata, 0, len(r.tokens))
	for _, l := range r.tokens {
		out = append(out, l.meta)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0 })
	return out
}

// TotalSupply returns the minted supply of token.
func (r *Registry) TotalSupply(token crypto.Address) *big.Int {
	l, ok := r.tokens[token]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(l.supply)
}

// BalanceOf returns holder's balance of token. Unknown tokens report zero.
func (r *Registry) BalanceOf(token, holder crypto.Address) *big.Int {
	l, ok := r.tokens[token]
	if !ok {
		return big.NewInt(0)
	}
	return cloneOrZero(l.balances[holder])
}

// Allowance returns how much spender may move out of owner's balance.
func (r *Registry) Allowance(token, owner, spender crypto.Address) *big.Int {
	l, ok := r.tokens[token]
	if !ok {
		return big.NewInt(0)
	}
	return cloneOrZero(l.allowances[allowanceKey{owner: owner, spender: spender}])
}

// Mint creates amount of token in to's balance.
func (r *Registry) Mint(token, to crypto.Address, amount *big.Int) error {
	l, err := r.ledger(token)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	r.setBalance(l, to, new(big.Int).Add(cloneOrZero(l.balances[to]), amount))
	prev := l.supply
	l.supply = new(big.Int).Add(prev, amount)
	r.undo.Record(func() { l.supply = prev })
	return nil
}

// Transfer moves amount of token from one holder to another.
func (r *Registry) Transfer(token, from, to crypto.Address, amount *big.Int) error {
	l, err := r.ledger(token)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	return r.move(l, from, to, amount)
}

// Approve sets spender's allowance over owner's balance to amount.
func (r *Registry) Approve(token, owner, spender crypto.Address, amount *big.Int) error {
	l, err := r.ledger(token)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if spender.IsZero() {
		return ErrZeroAddress
	}
	r.setAllowance(l, allowanceKey{owner: owner, spender: spender}, new(big.Int).Set(amount))
	return nil
}

// TransferFrom moves amount from from to to on behalf of spender, consuming
// allowance.
func (r *Registry) TransferFrom(token, spender, from, to crypto.Address, amount *big.Int) error {
	l, err := r.ledger(token)
	if err != nil {
		return err
	}
	if err := checkAmount(amount); err != nil {
		return err
	}
	if to.IsZero() {
		return ErrZeroAddress
	}
	key := allowanceKey{owner: from, spender: spender}
	allowance := cloneOrZero(l.allowances[key])
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s have %s", ErrInsufficientAllowance, amount, allowance)
	}
	if err := r.move(l, from, to, amount); err != nil {
		return err
	}
	r.setAllowance(l, key, allowance.Sub(allowance, amount))
	return nil
}

func (r *Registry) move(l *ledger, from, to crypto.Address, amount *big.Int) error {
	available := cloneOrZero(l.balances[from])
	if available.Cmp(amount) < 0 {
		return fmt.Errorf("%w: need %s have %s", ErrInsufficientBalance, amount, available)
	}
	if from == to || amount.Sign() == 0 {
		return nil
	}
	r.setBalance(l, from, available.Sub(available, amount))
	r.setBalance(l, to, new(big.Int).Add(cloneOrZero(l.balances[to]), amount))
	return nil
}

func (r *Registry) ledger(token crypto.Address) (*ledger, error) {
	l, ok := r.tokens[token]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return l, nil
}

func (r *Registry) setBalance(l *ledger, holder crypto.Address, amount *big.Int) {
	prev, existed := l.balances[holder]
	if amount.Sign() == 0 {
		delete(l.balances, holder)
	} else {
		l.balances[holder] = amount
	}
	r.undo.Record(func() {
		if existed {
			l.balances[holder] = prev
		} else {
			delete(l.balances, holder)
		}
	})
}

func (r *Registry) setAllowance(l *ledger, key allowanceKey, amount *big.Int) {
	prev, existed := l.allowances[key]
	if amount.Sign() == 0 {
		delete(l.allowances, key)
	} else {
		l.allowances[key] = amount
	}
	r.undo.Record(func() {
		if existed {
			l.allowances[key] = prev
		} else {
			delete(l.allowances, key)
		}
	})
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
