// core/genesis/spec_test.go
package genesis

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flashvault/crypto"
)

func TestLoadGenesisSpecAndBuildPlan(t *testing.T) {
	alice := crypto.DeriveAddress("alice").String()
	bob := crypto.DeriveAddress("bob").Hex()

	spec := GenesisSpec{
		Tokens: []TokenSpec{
			{Symbol: "usdc", Decimals: 6, Whitelisted: true},
			{Symbol: "WETH", Decimals: 18, Whitelisted: true},
		},
		Alloc: map[string]map[string]string{
			alice: {"NATIVE": "1000", "WETH": "50"},
			bob:   {"usdc": "2000"},
		},
		Pool:  map[string]string{"WETH": "1000000"},
		Pairs: []PairSpec{{TokenA: "WETH", TokenB: "USDC", ReserveA: "100", ReserveB: "200"}},
	}
	path := filepath.Join(t.TempDir(), "genesis.json")
	data, err := json.MarshalIndent(spec, "", "  ")
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write spec: %v", err)
	}

	loaded, err := LoadGenesisSpec(path)
	if err != nil {
		t.Fatalf("load spec: %v", err)
	}
	plan, err := loaded.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(plan.Tokens) != 2 || plan.Tokens[0].Symbol != "USDC" || plan.Tokens[1].Symbol != "WETH" {
		t.Fatalf("tokens not normalised and sorted: %+v", plan.Tokens)
	}
	if len(plan.Native) != 1 || plan.Native[0].Holder != crypto.DeriveAddress("alice") || plan.Native[0].Amount.Int64() != 1000 {
		t.Fatalf("unexpected native allocations %+v", plan.Native)
	}
	if len(plan.Alloc) != 2 {
		t.Fatalf("expected two token allocations, got %d", len(plan.Alloc))
	}
	if len(plan.Pool) != 1 || plan.Pool[0].Symbol != "WETH" {
		t.Fatalf("unexpected pool seed %+v", plan.Pool)
	}
	if len(plan.Pairs) != 1 || plan.Pairs[0].SymbolB != "USDC" {
		t.Fatalf("unexpected pairs %+v", plan.Pairs)
	}
}

func TestBuildRejectsInvalidSpecs(t *testing.T) {
	alice := crypto.DeriveAddress("alice").String()
	cases := map[string]GenesisSpec{
		"duplicate symbol": {Tokens: []TokenSpec{{Symbol: "WETH"}, {Symbol: "weth"}}},
		"reserved symbol":  {Tokens: []TokenSpec{{Symbol: "NATIVE"}}},
		"bad symbol":       {Tokens: []TokenSpec{{Symbol: "W ETH"}}},
		"undefined token":  {Alloc: map[string]map[string]string{alice: {"DAI": "1"}}},
		"negative amount":  {Alloc: map[string]map[string]string{alice: {"NATIVE": "-1"}}},
		"bad holder":       {Alloc: map[string]map[string]string{"nope": {"NATIVE": "1"}}},
		"identical pair": {
			Tokens: []TokenSpec{{Symbol: "WETH"}},
			Pairs:  []PairSpec{{TokenA: "WETH", TokenB: "WETH", ReserveA: "1", ReserveB: "1"}},
		},
		"empty reserve": {
			Tokens: []TokenSpec{{Symbol: "WETH"}, {Symbol: "USDC"}},
			Pairs:  []PairSpec{{TokenA: "WETH", TokenB: "USDC", ReserveA: "0", ReserveB: "1"}},
		},
	}
	for name, spec := range cases {
		spec := spec
		if _, err := spec.Build(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadGenesisSpecRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, []byte(`{"tokens":[],"validators":[]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadGenesisSpec(path)
	if err == nil || !strings.Contains(err.Error(), "validators") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestAddTokenSkipsExistingSymbol(t *testing.T) {
	spec := &GenesisSpec{Tokens: []TokenSpec{{Symbol: "WETH"}}}
	if spec.AddToken(TokenSpec{Symbol: "weth"}) {
		t.Fatalf("duplicate symbol must be skipped")
	}
	if !spec.AddToken(TokenSpec{Symbol: "DAI"}) || len(spec.Tokens) != 2 {
		t.Fatalf("new symbol must be added")
	}
}
