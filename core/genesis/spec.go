// core/genesis/spec.go
package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"flashvault/crypto"
	"flashvault/native/token"
)

// NativeSymbol selects the native currency in allocation maps.
const NativeSymbol = "NATIVE"

// GenesisSpec is the JSON document describing the initial ledgers of a fresh
// vault deployment.
type GenesisSpec struct {
	Tokens []TokenSpec                   `json:"tokens"`
	Alloc  map[string]map[string]string `json:"alloc"` // addr -> symbol -> amount
	Pool   map[string]string            `json:"pool,omitempty"`
	Pairs  []PairSpec                   `json:"pairs,omitempty"`
}

type TokenSpec struct {
	Symbol      string `json:"symbol"`
	Address     string `json:"address,omitempty"`
	Decimals    uint8  `json:"decimals"`
	Whitelisted bool   `json:"whitelisted"`
}

// PairSpec seeds one venue pool. Reserves are minted to the genesis
// liquidity provider.
type PairSpec struct {
	TokenA   string `json:"tokenA"`
	TokenB   string `json:"tokenB"`
	ReserveA string `json:"reserveA"`
	ReserveB string `json:"reserveB"`
}

// Plan is the validated, deterministic form of a GenesisSpec.
type Plan struct {
	Tokens []Token
	Native []Allocation
	Alloc  []TokenAllocation
	Pool   []TokenAllocation
	Pairs  []Pair
}

type Token struct {
	Symbol      string
	Address     crypto.Address
	Decimals    uint8
	Whitelisted bool
}

type Allocation struct {
	Holder crypto.Address
	Amount *big.Int
}

type TokenAllocation struct {
	Symbol string
	Holder crypto.Address
	Amount *big.Int
}

type Pair struct {
	SymbolA  string
	SymbolB  string
	ReserveA *big.Int
	ReserveB *big.Int
}

// LoadGenesisSpec reads and validates the genesis document at path.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if _, err := spec.Build(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

// AddToken appends a token unless one with the same symbol is present.
func (s *GenesisSpec) AddToken(t TokenSpec) bool {
	want, err := token.NormalizeSymbol(t.Symbol)
	if err != nil {
		return false
	}
	for _, existing := range s.Tokens {
		if sym, err := token.NormalizeSymbol(existing.Symbol); err == nil && sym == want {
			return false
		}
	}
	s.Tokens = append(s.Tokens, t)
	return true
}

// Build validates the document and resolves it into a Plan. Every list in the
// plan is sorted so two nodes applying the same spec end up byte-identical.
func (s *GenesisSpec) Build() (*Plan, error) {
	if s == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	plan := &Plan{}
	symbols := make(map[string]struct{}, len(s.Tokens))
	for i, t := range s.Tokens {
		sym, err := token.NormalizeSymbol(t.Symbol)
		if err != nil {
			return nil, fmt.Errorf("tokens[%d]: %w", i, err)
		}
		if sym == NativeSymbol {
			return nil, fmt.Errorf("tokens[%d]: symbol %q is reserved", i, sym)
		}
		if _, dup := symbols[sym]; dup {
			return nil, fmt.Errorf("tokens[%d]: duplicate symbol %q", i, t.Symbol)
		}
		symbols[sym] = struct{}{}
		var addr crypto.Address
		if strings.TrimSpace(t.Address) != "" {
			if addr, err = crypto.DecodeAddress(t.Address); err != nil {
				return nil, fmt.Errorf("tokens[%d]: %w", i, err)
			}
		}
		plan.Tokens = append(plan.Tokens, Token{Symbol: sym, Address: addr, Decimals: t.Decimals, Whitelisted: t.Whitelisted})
	}
	sort.Slice(plan.Tokens, func(i, j int) bool { return plan.Tokens[i].Symbol < plan.Tokens[j].Symbol })

	holders := make([]string, 0, len(s.Alloc))
	for holder := range s.Alloc {
		holders = append(holders, holder)
	}
	sort.Strings(holders)
	for _, holder := range holders {
		addr, err := crypto.DecodeAddress(holder)
		if err != nil {
			return nil, fmt.Errorf("alloc[%q]: %w", holder, err)
		}
		entries := s.Alloc[holder]
		keys := make([]string, 0, len(entries))
		for symbol := range entries {
			keys = append(keys, symbol)
		}
		sort.Strings(keys)
		seen := make(map[string]struct{}, len(keys))
		for _, symbol := range keys {
			amount, err := parseAmount(entries[symbol])
			if err != nil {
				return nil, fmt.Errorf("alloc[%q][%q]: %w", holder, symbol, err)
			}
			sym := strings.ToUpper(strings.TrimSpace(symbol))
			if _, dup := seen[sym]; dup {
				return nil, fmt.Errorf("alloc[%q]: duplicate token %q", holder, symbol)
			}
			seen[sym] = struct{}{}
			if sym == NativeSymbol {
				plan.Native = append(plan.Native, Allocation{Holder: addr, Amount: amount})
				continue
			}
			if _, ok := symbols[sym]; !ok {
				return nil, fmt.Errorf("alloc[%q][%q]: undefined token", holder, symbol)
			}
			plan.Alloc = append(plan.Alloc, TokenAllocation{Symbol: sym, Holder: addr, Amount: amount})
		}
	}

	poolSymbols := make([]string, 0, len(s.Pool))
	for symbol := range s.Pool {
		poolSymbols = append(poolSymbols, symbol)
	}
	sort.Strings(poolSymbols)
	for _, symbol := range poolSymbols {
		sym := strings.ToUpper(strings.TrimSpace(symbol))
		if _, ok := symbols[sym]; !ok {
			return nil, fmt.Errorf("pool[%q]: undefined token", symbol)
		}
		amount, err := parseAmount(s.Pool[symbol])
		if err != nil {
			return nil, fmt.Errorf("pool[%q]: %w", symbol, err)
		}
		plan.Pool = append(plan.Pool, TokenAllocation{Symbol: sym, Amount: amount})
	}

	for i, p := range s.Pairs {
		a := strings.ToUpper(strings.TrimSpace(p.TokenA))
		b := strings.ToUpper(strings.TrimSpace(p.TokenB))
		if _, ok := symbols[a]; !ok {
			return nil, fmt.Errorf("pairs[%d]: undefined token %q", i, p.TokenA)
		}
		if _, ok := symbols[b]; !ok {
			return nil, fmt.Errorf("pairs[%d]: undefined token %q", i, p.TokenB)
		}
		if a == b {
			return nil, fmt.Errorf("pairs[%d]: identical tokens", i)
		}
		reserveA, err := parseAmount(p.ReserveA)
		if err != nil {
			return nil, fmt.Errorf("pairs[%d].reserveA: %w", i, err)
		}
		reserveB, err := parseAmount(p.ReserveB)
		if err != nil {
			return nil, fmt.Errorf("pairs[%d].reserveB: %w", i, err)
		}
		if reserveA.Sign() == 0 || reserveB.Sign() == 0 {
			return nil, fmt.Errorf("pairs[%d]: reserves must be positive", i)
		}
		plan.Pairs = append(plan.Pairs, Pair{SymbolA: a, SymbolB: b, ReserveA: reserveA, ReserveB: reserveB})
	}
	return plan, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
