package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"flashvault/crypto"
	"flashvault/native/common"
	"flashvault/native/flashswap"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultd.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesSections(t *testing.T) {
	owner := crypto.DeriveAddress("owner")
	path := writeConfig(t, `
[vault]
owner = "`+owner.String()+`"
data_dir = "./data"
slippage_ceiling_bps = 800
initial_slippage_bps = 75
pause_policy = "unified"

[flash]
fee_bps = 5
fee_source = "residual"

[rpc]
listen = "127.0.0.1:9000"
jwt_secret = "secret"

[gas]
api_url = "https://gas.example.com/networks/1/suggestedGasFees"
tier = "fast"

[[tokens]]
symbol = "weth"
decimals = 18
whitelisted = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, _ := cfg.OwnerAddress(); got != owner {
		t.Fatalf("owner = %s", got)
	}
	if cfg.Vault.SlippageCeilingBps != 800 || cfg.Vault.InitialSlippageBps != 75 {
		t.Fatalf("unexpected slippage settings %+v", cfg.Vault)
	}
	if policy, _ := cfg.PausePolicy(); policy != common.PauseUnified {
		t.Fatalf("policy = %s", policy)
	}
	if src, _ := cfg.FeeSource(); src != flashswap.FeeFromResidual {
		t.Fatalf("fee source = %s", src)
	}
	if cfg.Vault.JournalDir != filepath.Join("./data", "events") {
		t.Fatalf("journal dir default = %s", cfg.Vault.JournalDir)
	}
	if cfg.Flash.VenueFeeBps != DefaultVenueFeeBps || cfg.Gas.DefaultGwei != DefaultGasGwei {
		t.Fatalf("defaults not applied")
	}
	if len(cfg.Tokens) != 1 || !cfg.Tokens[0].Whitelisted {
		t.Fatalf("tokens not parsed: %+v", cfg.Tokens)
	}
}

func TestLoadCreatesDefaultWithOwnerKeystore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaultd.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load default: %v", err)
	}
	ks := filepath.Join(dir, "owner.keystore")
	addr, err := crypto.KeystoreAddress(ks)
	if err != nil {
		t.Fatalf("keystore: %v", err)
	}
	if got, _ := cfg.OwnerAddress(); got != addr {
		t.Fatalf("owner %s does not match keystore %s", got, addr)
	}
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Vault.Owner != cfg.Vault.Owner || again.Vault.InitialSlippageBps != DefaultInitialSlippageBps {
		t.Fatalf("persisted default differs: %+v", again.Vault)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	owner := crypto.DeriveAddress("owner").String()
	cases := map[string]string{
		"unknown key":     "[vault]\nowner = \"" + owner + "\"\nbogus = 1\n",
		"initial above":   "[vault]\nowner = \"" + owner + "\"\nslippage_ceiling_bps = 100\ninitial_slippage_bps = 101\n",
		"pause policy":    "[vault]\nowner = \"" + owner + "\"\npause_policy = \"custody\"\n",
		"fee source":      "[vault]\nowner = \"" + owner + "\"\n[flash]\nfee_source = \"lp\"\n",
		"gas tier":        "[vault]\nowner = \"" + owner + "\"\n[gas]\ntier = \"urgent\"\n",
		"duplicate token": "[vault]\nowner = \"" + owner + "\"\n[[tokens]]\nsymbol = \"A\"\n[[tokens]]\nsymbol = \" a \"\n",
		"bad token addr":  "[vault]\nowner = \"" + owner + "\"\n[[tokens]]\nsymbol = \"A\"\naddress = \"nope\"\n",
		"bad owner":       "[vault]\nowner = \"0x1234\"\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, contents)); err == nil {
				t.Fatalf("expected error")
			} else if name == "unknown key" && !strings.Contains(err.Error(), "bogus") {
				t.Fatalf("unexpected error %v", err)
			}
		})
	}
}
