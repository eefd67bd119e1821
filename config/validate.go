package config

import (
	"fmt"
	"net/url"
	"strings"

	"flashvault/crypto"
	"flashvault/native/common"
	"flashvault/native/flashswap"
	"flashvault/native/token"
)

// MaxFeeBps bounds the pool and venue fees.
const MaxFeeBps = 1_000

// Validate rejects configurations the host could not start with.
func (c *Config) Validate() error {
	if _, err := c.OwnerAddress(); err != nil {
		return fmt.Errorf("vault: owner: %w", err)
	}
	if c.Vault.SlippageCeilingBps > 10_000 {
		return fmt.Errorf("vault: slippage_ceiling_bps above 10000")
	}
	if c.Vault.InitialSlippageBps > c.Vault.SlippageCeilingBps {
		return fmt.Errorf("vault: initial_slippage_bps %d above ceiling %d", c.Vault.InitialSlippageBps, c.Vault.SlippageCeilingBps)
	}
	if _, err := c.PausePolicy(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if _, err := c.FeeSource(); err != nil {
		return fmt.Errorf("flash: %w", err)
	}
	if c.Flash.FeeBps > MaxFeeBps || c.Flash.VenueFeeBps > MaxFeeBps {
		return fmt.Errorf("flash: fee above %d bps", MaxFeeBps)
	}
	if c.RPC.RateLimitPerSecond < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("rpc: negative rate limit")
	}
	if c.Gas.DefaultGwei < 0 {
		return fmt.Errorf("gas: negative default_gwei")
	}
	switch strings.ToLower(c.Gas.Tier) {
	case "safe", "standard", "fast":
	default:
		return fmt.Errorf("gas: unknown tier %q", c.Gas.Tier)
	}
	for _, raw := range []string{c.Gas.APIURL, c.Gas.NodeURL} {
		if raw == "" {
			continue
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			return fmt.Errorf("gas: invalid url %q: %w", raw, err)
		}
	}
	if c.Webhook.URL != "" {
		if _, err := url.ParseRequestURI(c.Webhook.URL); err != nil {
			return fmt.Errorf("webhook: invalid url %q: %w", c.Webhook.URL, err)
		}
		if strings.TrimSpace(c.Webhook.Secret) == "" {
			return fmt.Errorf("webhook: secret required when url is set")
		}
	}
	seen := make(map[string]struct{}, len(c.Tokens))
	for i, tok := range c.Tokens {
		symbol, err := token.NormalizeSymbol(tok.Symbol)
		if err != nil {
			return fmt.Errorf("tokens[%d]: %w", i, err)
		}
		if _, dup := seen[symbol]; dup {
			return fmt.Errorf("tokens[%d]: duplicate symbol %s", i, symbol)
		}
		seen[symbol] = struct{}{}
		if tok.Address != "" {
			if _, err := crypto.DecodeAddress(tok.Address); err != nil {
				return fmt.Errorf("tokens[%d]: %w", i, err)
			}
		}
	}
	return nil
}

// OwnerAddress parses the configured owner identity.
func (c *Config) OwnerAddress() (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(c.Vault.Owner)
	if err != nil {
		return crypto.ZeroAddress, err
	}
	if addr.IsZero() {
		return crypto.ZeroAddress, fmt.Errorf("zero owner")
	}
	return addr, nil
}

// PausePolicy parses vault.pause_policy.
func (c *Config) PausePolicy() (common.PausePolicy, error) {
	return common.ParsePausePolicy(c.Vault.PausePolicy)
}

// FeeSource parses flash.fee_source.
func (c *Config) FeeSource() (flashswap.FeeSource, error) {
	return flashswap.ParseFeeSource(c.Flash.FeeSource)
}
