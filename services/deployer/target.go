package deployer

import (
	"context"
	"math/big"

	"flashvault/crypto"
)

// Receipt identifies the effect of one step on a target.
type Receipt struct {
	// Ref is the transaction hash, or a local call label.
	Ref string
	// Address is set by the deploy step.
	Address crypto.Address
}

// Target is a backend the orchestrator deploys to.
type Target interface {
	Name() string
	// Deployer is the identity paying for and signing every step.
	Deployer() crypto.Address
	Balance(ctx context.Context) (*big.Int, error)
	ResolveToken(ctx context.Context, tok PlanToken) (crypto.Address, error)
	DeployVault(ctx context.Context, owner, pool crypto.Address) (Receipt, error)
	SetTokenWhitelist(ctx context.Context, vault, tok crypto.Address, allowed bool) (Receipt, error)
	SetSlippageTolerance(ctx context.Context, vault crypto.Address, bps uint32) (Receipt, error)
	WaitConfirmed(ctx context.Context, rcpt Receipt, confirmations uint64) error
}
