package deployer

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"flashvault/crypto"
	"flashvault/services/gasoracle"
)

// DefaultSlippageBps is the tolerance set on a freshly deployed vault.
const DefaultSlippageBps uint32 = 50

// DefaultConfirmations maps well-known networks to the confirmation depth
// awaited after every step.
var DefaultConfirmations = map[string]uint64{
	"local":   0,
	"mainnet": 3,
	"goerli":  2,
	"sepolia": 2,
	"polygon": 5,
	"mumbai":  5,
}

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Plan describes one deployment run.
type Plan struct {
	Network       string      `yaml:"network"`
	Target        string      `yaml:"target"`
	RPCURL        string      `yaml:"rpc_url"`
	Keystore      string      `yaml:"keystore"`
	Bytecode      string      `yaml:"bytecode"`
	Owner         string      `yaml:"owner"`
	Pool          string      `yaml:"pool"`
	Tokens        []PlanToken `yaml:"tokens"`
	SlippageBps   *uint32     `yaml:"slippage_bps"`
	Confirmations *uint64     `yaml:"confirmations"`
	PollInterval  Duration    `yaml:"poll_interval"`
	StepTimeout   Duration    `yaml:"step_timeout"`
	Tier          string      `yaml:"tier"`
	MarginPercent uint32      `yaml:"margin_percent"`
	Manifest      string      `yaml:"manifest"`
}

// PlanToken names a token to whitelist. Address takes precedence; Symbol
// resolves against the target's registry.
type PlanToken struct {
	Symbol  string `yaml:"symbol"`
	Address string `yaml:"address"`
}

// LoadPlan reads and validates a YAML plan.
func LoadPlan(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePlan(raw)
}

// ParsePlan decodes a plan rejecting unknown keys.
func ParsePlan(raw []byte) (*Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var plan Plan
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	plan.applyDefaults()
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (p *Plan) applyDefaults() {
	p.Network = strings.ToLower(strings.TrimSpace(p.Network))
	if p.Network == "" {
		p.Network = "local"
	}
	p.Target = strings.ToLower(strings.TrimSpace(p.Target))
	if p.Target == "" {
		if p.Network == "local" {
			p.Target = "local"
		} else {
			p.Target = "evm"
		}
	}
	if p.SlippageBps == nil {
		bps := DefaultSlippageBps
		p.SlippageBps = &bps
	}
	if p.Confirmations == nil {
		depth := DefaultConfirmations[p.Network]
		p.Confirmations = &depth
	}
	if p.PollInterval.Duration <= 0 {
		p.PollInterval.Duration = 2 * time.Second
	}
	if p.StepTimeout.Duration <= 0 {
		p.StepTimeout.Duration = 5 * time.Minute
	}
}

// Validate checks the plan is executable.
func (p *Plan) Validate() error {
	switch p.Target {
	case "local":
	case "evm":
		if strings.TrimSpace(p.RPCURL) == "" {
			return fmt.Errorf("plan: rpc_url required for evm target")
		}
		if strings.TrimSpace(p.Keystore) == "" {
			return fmt.Errorf("plan: keystore required for evm target")
		}
		if strings.TrimSpace(p.Bytecode) == "" {
			return fmt.Errorf("plan: bytecode required for evm target")
		}
	default:
		return fmt.Errorf("plan: unknown target %q", p.Target)
	}
	if strings.TrimSpace(p.Owner) != "" {
		if _, err := crypto.DecodeAddress(p.Owner); err != nil {
			return fmt.Errorf("plan: owner: %w", err)
		}
	}
	if strings.TrimSpace(p.Pool) != "" {
		if _, err := crypto.DecodeAddress(p.Pool); err != nil {
			return fmt.Errorf("plan: pool: %w", err)
		}
	}
	for i, tok := range p.Tokens {
		if strings.TrimSpace(tok.Address) == "" && strings.TrimSpace(tok.Symbol) == "" {
			return fmt.Errorf("plan: tokens[%d]: symbol or address required", i)
		}
		if tok.Address != "" {
			if _, err := crypto.DecodeAddress(tok.Address); err != nil {
				return fmt.Errorf("plan: tokens[%d]: %w", i, err)
			}
		}
	}
	if *p.SlippageBps > 10_000 {
		return fmt.Errorf("plan: slippage_bps above 10000")
	}
	if _, err := gasoracle.ParseTier(p.Tier); err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	return nil
}

// TierValue returns the parsed pricing tier.
func (p *Plan) TierValue() gasoracle.Tier {
	tier, _ := gasoracle.ParseTier(p.Tier)
	return tier
}
