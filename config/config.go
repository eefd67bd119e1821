package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"flashvault/crypto"

	"github.com/BurntSushi/toml"
)

const (
	DefaultListen             = ":8545"
	DefaultDataDir            = "./vault-data"
	DefaultInitialSlippageBps = 50
	DefaultSlippageCeilingBps = 1_000
	DefaultFlashFeeBps        = 9
	DefaultVenueFeeBps        = 30
	DefaultGasGwei            = 30
	DefaultGasTier            = "standard"
)

type Config struct {
	Vault     Vault     `toml:"vault"`
	Flash     Flash     `toml:"flash"`
	RPC       RPC       `toml:"rpc"`
	Gas       Gas       `toml:"gas"`
	Telemetry Telemetry `toml:"telemetry"`
	Webhook   Webhook   `toml:"webhook"`
	Log       Log       `toml:"log"`
	Tokens    []Token   `toml:"tokens"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a default configuration whose owner key is generated into a
// keystore next to it.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.Vault.Owner) == "" {
		if err := ensureOwnerKeystore(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Vault.DataDir) == "" {
		c.Vault.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(c.Vault.JournalDir) == "" {
		c.Vault.JournalDir = filepath.Join(c.Vault.DataDir, "events")
	}
	if c.Vault.SlippageCeilingBps == 0 {
		c.Vault.SlippageCeilingBps = DefaultSlippageCeilingBps
	}
	if c.Vault.InitialSlippageBps == 0 {
		c.Vault.InitialSlippageBps = DefaultInitialSlippageBps
	}
	if c.Flash.FeeBps == 0 {
		c.Flash.FeeBps = DefaultFlashFeeBps
	}
	if c.Flash.VenueFeeBps == 0 {
		c.Flash.VenueFeeBps = DefaultVenueFeeBps
	}
	if strings.TrimSpace(c.RPC.Listen) == "" {
		c.RPC.Listen = DefaultListen
	}
	if c.RPC.RateLimitPerSecond == 0 {
		c.RPC.RateLimitPerSecond = 20
	}
	if c.RPC.RateLimitBurst == 0 {
		c.RPC.RateLimitBurst = 40
	}
	if strings.TrimSpace(c.RPC.IdempotencyDB) == "" {
		c.RPC.IdempotencyDB = filepath.Join(c.Vault.DataDir, "idempotency.db")
	}
	if c.RPC.ReadTimeoutSeconds == 0 {
		c.RPC.ReadTimeoutSeconds = 10
	}
	if c.RPC.WriteTimeoutSeconds == 0 {
		c.RPC.WriteTimeoutSeconds = 15
	}
	if c.Gas.DefaultGwei == 0 {
		c.Gas.DefaultGwei = DefaultGasGwei
	}
	if strings.TrimSpace(c.Gas.Tier) == "" {
		c.Gas.Tier = DefaultGasTier
	}
	if c.Gas.TimeoutSeconds == 0 {
		c.Gas.TimeoutSeconds = 5
	}
	if c.Gas.RequestsPerSecond == 0 {
		c.Gas.RequestsPerSecond = 5
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = "info"
	}
}

// ensureOwnerKeystore fills in the owner from the configured keystore,
// generating a fresh key when no keystore exists yet.
func ensureOwnerKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.Vault.OwnerKeystore
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GeneratePrivateKey()
		if genErr != nil {
			return genErr
		}
		if err := crypto.SaveKeystore(keystorePath, key, ""); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	owner, err := crypto.KeystoreAddress(keystorePath)
	if err != nil {
		return fmt.Errorf("read owner keystore: %w", err)
	}
	cfg.Vault.Owner = owner.String()
	cfg.Vault.OwnerKeystore = keystorePath
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Vault: Vault{
			DataDir:     DefaultDataDir,
			PausePolicy: "swap",
		},
		Flash: Flash{FeeSource: "caller"},
		Log:   Log{Level: "info"},
	}
	if err := ensureOwnerKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
