package vaultstate

import (
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"flashvault/config"
	"flashvault/core/events"
	"flashvault/core/genesis"
	"flashvault/crypto"
	"flashvault/native/token"
	"flashvault/storage"
	"flashvault/storage/journal"
)

var owner = crypto.DeriveAddress("owner")

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Vault: config.Vault{Owner: owner.String()},
		Tokens: []config.Token{
			{Symbol: "dai", Decimals: 18, Whitelisted: true},
			{Symbol: "WETH", Decimals: 18},
		},
	}
}

func TestGenesisPlanMergesConfigTokens(t *testing.T) {
	cfg := testConfig(t)
	spec := genesis.GenesisSpec{
		Tokens: []genesis.TokenSpec{{Symbol: "WETH", Decimals: 18, Whitelisted: true}},
		Alloc:  map[string]map[string]string{owner.String(): {"NATIVE": "10", "WETH": "5"}},
	}
	data, err := json.Marshal(spec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	path := filepath.Join(t.TempDir(), "genesis.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg.Vault.Genesis = path

	plan, err := GenesisPlan(cfg)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(plan.Tokens) != 2 || plan.Tokens[0].Symbol != "DAI" || plan.Tokens[1].Symbol != "WETH" {
		t.Fatalf("unexpected tokens %+v", plan.Tokens)
	}
	if !plan.Tokens[1].Whitelisted {
		t.Fatalf("genesis file entry must win over config token")
	}
	if len(plan.Native) != 1 || len(plan.Alloc) != 1 {
		t.Fatalf("allocations lost: %+v %+v", plan.Native, plan.Alloc)
	}
}

func TestGenesisPlanMissingFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Vault.Genesis = filepath.Join(t.TempDir(), "absent.json")
	if _, err := GenesisPlan(cfg); err == nil {
		t.Fatalf("expected error for missing genesis file")
	}
}

func TestOpenSeedsOnceAndRestores(t *testing.T) {
	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := storage.NewMemDB()

	vault, err := Open(db, cfg, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	dai, ok := vault.TokenBySymbol("DAI")
	if !ok {
		t.Fatalf("DAI not registered")
	}
	if got := vault.Config(); got.Owner != owner || len(got.Whitelist) != 1 || got.Whitelist[0] != dai {
		t.Fatalf("unexpected config %+v", got)
	}

	cfg.Tokens = append(cfg.Tokens, config.Token{Symbol: "USDC", Decimals: 6})
	restored, err := Open(db, cfg, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, ok := restored.TokenBySymbol("USDC"); ok {
		t.Fatalf("restored vault must not be re-seeded")
	}
	if _, ok := restored.TokenBySymbol("DAI"); !ok {
		t.Fatalf("restored vault lost DAI")
	}
}

func TestSymbolsDerivesMissingAddresses(t *testing.T) {
	cfg := testConfig(t)
	explicit := crypto.DeriveAddress("weth-contract")
	cfg.Tokens[1].Address = explicit.String()
	symbols, err := Symbols(cfg)
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	if symbols[token.DefaultAddress("DAI")] != "DAI" || symbols[explicit] != "WETH" {
		t.Fatalf("unexpected symbols %+v", symbols)
	}

	vault, err := Open(storage.NewMemDB(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for addr, sym := range symbols {
		if got, ok := vault.TokenBySymbol(sym); !ok || got != addr {
			t.Fatalf("%s registered at %s, symbols says %s", sym, got, addr)
		}
	}
}

func TestSinkWritesJournal(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	j, err := journal.Open(journal.Config{Dir: t.TempDir()}, logger)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer j.Close()

	sink := Sink(j)
	sink.Emit(events.Deposited{Depositor: crypto.DeriveAddress("alice"), Amount: big.NewInt(7)})

	records, err := j.After(0, 0)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(records) != 1 || records[0].Type != events.TypeDeposited {
		t.Fatalf("unexpected records %+v", records)
	}
	if records[0].Attributes["amount"] != "7" {
		t.Fatalf("unexpected attributes %+v", records[0].Attributes)
	}
	if j.Failures() != 0 {
		t.Fatalf("unexpected journal failures")
	}
}
