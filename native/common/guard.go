package common

import (
	"fmt"
	"strings"
)

// Module names consulted by the pause guard.
const (
	ModuleCustody   = "custody"
	ModuleFlashSwap = "flashswap"
)

// PauseView reports whether a module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrContractPaused when the module is paused. A nil view never
// blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return Fail(ErrContractPaused, module)
	}
	return nil
}

// PausePolicy selects which modules the owner's pause switch halts.
type PausePolicy string

const (
	// PauseSwapOnly halts flash swaps while custody deposits and withdrawals
	// keep working.
	PauseSwapOnly PausePolicy = "swap"
	// PauseUnified halts every value-moving operation.
	PauseUnified PausePolicy = "unified"
)

// ParsePausePolicy normalises a configured policy string. Empty selects the
// swap-only policy.
func ParsePausePolicy(raw string) (PausePolicy, error) {
	switch PausePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PauseSwapOnly:
		return PauseSwapOnly, nil
	case PauseUnified:
		return PauseUnified, nil
	default:
		return "", fmt.Errorf("unknown pause policy %q", raw)
	}
}

// Covers reports whether the policy halts module while the switch is on.
func (p PausePolicy) Covers(module string) bool {
	switch module {
	case ModuleFlashSwap:
		return true
	case ModuleCustody:
		return p == PauseUnified
	default:
		return false
	}
}

// SwitchView adapts a single pause flag plus a policy to PauseView.
type SwitchView struct {
	Policy PausePolicy
	Paused func() bool
}

// IsPaused implements PauseView.
func (v SwitchView) IsPaused(module string) bool {
	if v.Paused == nil || !v.Paused() {
		return false
	}
	return v.Policy.Covers(module)
}
