package deployer

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"flashvault/core"
	"flashvault/crypto"
)

// LocalTarget configures an in-process vault. The vault already exists, so
// the deploy step only verifies the owner.
type LocalTarget struct {
	vault *core.Vault
	owner crypto.Address
}

func NewLocalTarget(vault *core.Vault, owner crypto.Address) *LocalTarget {
	return &LocalTarget{vault: vault, owner: owner}
}

func (t *LocalTarget) Name() string { return "local" }

func (t *LocalTarget) Deployer() crypto.Address { return t.owner }

func (t *LocalTarget) Balance(context.Context) (*big.Int, error) {
	return t.vault.NativeBalance(t.owner), nil
}

func (t *LocalTarget) ResolveToken(_ context.Context, tok PlanToken) (crypto.Address, error) {
	if strings.TrimSpace(tok.Address) != "" {
		return crypto.DecodeAddress(tok.Address)
	}
	addr, ok := t.vault.TokenBySymbol(tok.Symbol)
	if !ok {
		return crypto.ZeroAddress, fmt.Errorf("deployer: token %s not registered", tok.Symbol)
	}
	return addr, nil
}

func (t *LocalTarget) DeployVault(_ context.Context, owner, _ crypto.Address) (Receipt, error) {
	if current := t.vault.Config().Owner; owner != current {
		return Receipt{}, fmt.Errorf("deployer: local vault owned by %s, plan expects %s", current, owner)
	}
	return Receipt{Ref: "local:deploy", Address: t.vault.Address()}, nil
}

func (t *LocalTarget) SetTokenWhitelist(_ context.Context, _, tok crypto.Address, allowed bool) (Receipt, error) {
	if err := t.vault.SetTokenWhitelist(t.owner, tok, allowed); err != nil {
		return Receipt{}, err
	}
	return Receipt{Ref: "local:whitelist:" + tok.String()}, nil
}

func (t *LocalTarget) SetSlippageTolerance(_ context.Context, _ crypto.Address, bps uint32) (Receipt, error) {
	if err := t.vault.SetSlippageTolerance(t.owner, bps); err != nil {
		return Receipt{}, err
	}
	return Receipt{Ref: fmt.Sprintf("local:slippage:%d", bps)}, nil
}

// WaitConfirmed is immediate: local calls commit synchronously.
func (t *LocalTarget) WaitConfirmed(context.Context, Receipt, uint64) error { return nil }
