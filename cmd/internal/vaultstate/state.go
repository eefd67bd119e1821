// Package vaultstate opens the persistent vault shared by the daemon and the
// operator CLI.
package vaultstate

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"flashvault/config"
	"flashvault/core"
	"flashvault/core/events"
	"flashvault/core/genesis"
	"flashvault/crypto"
	"flashvault/native/token"
	"flashvault/observability"
	"flashvault/storage"
	"flashvault/storage/journal"
)

// OpenDB opens the LevelDB state under the configured data directory. Only
// one process may hold it at a time.
func OpenDB(cfg *config.Config) (*storage.LevelDB, error) {
	if err := os.MkdirAll(cfg.Vault.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.Vault.DataDir, "state"), true)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

// Open restores the vault from db, seeding a fresh database from the genesis
// file and the configured tokens.
func Open(db storage.Database, cfg *config.Config, logger *slog.Logger) (*core.Vault, error) {
	owner, err := cfg.OwnerAddress()
	if err != nil {
		return nil, err
	}
	policy, err := cfg.PausePolicy()
	if err != nil {
		return nil, err
	}
	feeSource, err := cfg.FeeSource()
	if err != nil {
		return nil, err
	}
	vault, err := core.New(db, core.Options{
		Owner:              owner,
		PausePolicy:        policy,
		FeeSource:          feeSource,
		SlippageCeilingBps: cfg.Vault.SlippageCeilingBps,
		InitialSlippageBps: cfg.Vault.InitialSlippageBps,
		PoolFeeBps:         cfg.Flash.FeeBps,
		VenueFeeBps:        cfg.Flash.VenueFeeBps,
		Logger:             logger,
		Observer:           observability.Vault(),
	})
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	if !vault.Fresh() {
		logger.Info("vault restored from storage")
		return vault, nil
	}
	plan, err := GenesisPlan(cfg)
	if err != nil {
		return nil, err
	}
	if err := vault.ApplyGenesis(plan); err != nil {
		return nil, fmt.Errorf("apply genesis: %w", err)
	}
	logger.Info("vault seeded from genesis", slog.Int("tokens", len(plan.Tokens)))
	return vault, nil
}

// GenesisPlan merges the genesis file (if any) with the [[tokens]] entries of
// the config. Tokens already defined by the file win.
func GenesisPlan(cfg *config.Config) (*genesis.Plan, error) {
	spec := &genesis.GenesisSpec{}
	if path := strings.TrimSpace(cfg.Vault.Genesis); path != "" {
		loaded, err := genesis.LoadGenesisSpec(path)
		if err != nil {
			return nil, fmt.Errorf("load genesis: %w", err)
		}
		spec = loaded
	}
	for _, tok := range cfg.Tokens {
		spec.AddToken(genesis.TokenSpec{
			Symbol:      tok.Symbol,
			Address:     tok.Address,
			Decimals:    tok.Decimals,
			Whitelisted: tok.Whitelisted,
		})
	}
	plan, err := spec.Build()
	if err != nil {
		return nil, fmt.Errorf("build genesis: %w", err)
	}
	return plan, nil
}

// Symbols maps every genesis token address to its symbol without opening the
// database.
func Symbols(cfg *config.Config) (map[crypto.Address]string, error) {
	plan, err := GenesisPlan(cfg)
	if err != nil {
		return nil, err
	}
	out := make(map[crypto.Address]string, len(plan.Tokens))
	for _, tok := range plan.Tokens {
		addr := tok.Address
		if addr.IsZero() {
			addr = token.DefaultAddress(tok.Symbol)
		}
		out[addr] = tok.Symbol
	}
	return out, nil
}

// Sink returns the emitter committed vault events are published to: the
// journal plus the event metrics. Events the journal fails to persist are
// counted as well.
func Sink(j *journal.Journal) events.Emitter {
	metrics := observability.Events()
	j.OnAppendError(metrics.RecordJournalFailure)
	return events.Multi{j, metrics}
}
