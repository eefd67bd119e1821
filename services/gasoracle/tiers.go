package gasoracle

import (
	"fmt"
	"strings"
)

// Tier selects how aggressively a transaction is priced.
type Tier string

const (
	TierSafe     Tier = "safe"
	TierStandard Tier = "standard"
	TierFast     Tier = "fast"
)

// Safety margins applied on top of the resolved price, in percent.
const (
	MarginSafe   uint32 = 10
	MarginUrgent uint32 = 25
	MarginMax    uint32 = 50
)

// GasLimitBufferPercent is added to every unit estimate to absorb state
// drift between estimation and inclusion.
const GasLimitBufferPercent = 20

// Tiers lists every tier in ascending price order.
var Tiers = []Tier{TierSafe, TierStandard, TierFast}

// ParseTier normalises a configured tier. Empty selects standard.
func ParseTier(raw string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TierStandard:
		return TierStandard, nil
	case TierSafe:
		return TierSafe, nil
	case TierFast:
		return TierFast, nil
	default:
		return "", fmt.Errorf("gasoracle: unknown tier %q", raw)
	}
}

// DefaultMargin is the safety margin used for a tier when none is supplied.
func (t Tier) DefaultMargin() uint32 {
	switch t {
	case TierSafe:
		return MarginSafe
	case TierFast:
		return MarginMax
	default:
		return MarginUrgent
	}
}

// Operation names a vault call whose cost can be estimated.
type Operation string

const (
	OpDeploy       Operation = "deploy"
	OpWhitelist    Operation = "whitelist"
	OpSetSlippage  Operation = "setSlippage"
	OpPause        Operation = "pause"
	OpDeposit      Operation = "deposit"
	OpWithdraw     Operation = "withdraw"
	OpLockTokens   Operation = "lockTokens"
	OpUnlockTokens Operation = "unlockTokens"
	OpFlashSwap    Operation = "flashSwap"
	OpRescue       Operation = "rescue"
)

// DefaultUnits holds conservative per-operation gas figures used when no
// node estimate is available.
var DefaultUnits = map[Operation]uint64{
	OpDeploy:       2_400_000,
	OpWhitelist:    48_000,
	OpSetSlippage:  32_000,
	OpPause:        28_000,
	OpDeposit:      46_000,
	OpWithdraw:     38_000,
	OpLockTokens:   72_000,
	OpUnlockTokens: 58_000,
	OpFlashSwap:    360_000,
	OpRescue:       52_000,
}
