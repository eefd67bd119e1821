package events

import (
	"math/big"

	"flashvault/core/types"
	"flashvault/crypto"
)

const (
	// TypeDeposited is emitted when native currency is credited to a
	// depositor's custody balance.
	TypeDeposited = "custody.deposited"
	// TypeWithdrawn is emitted when custodied native currency leaves the vault.
	TypeWithdrawn = "custody.withdrawn"
	// TypeTokensLocked is emitted when tokens are pulled into custody.
	TypeTokensLocked = "custody.tokens_locked"
	// TypeTokensUnlocked is emitted when custodied tokens are released.
	TypeTokensUnlocked = "custody.tokens_unlocked"
)

type Deposited struct {
	Depositor crypto.Address
	Amount    *big.Int
}

func (Deposited) EventType() string { return TypeDeposited }

func (e Deposited) Event() *types.Event {
	return &types.Event{
		Type: TypeDeposited,
		Attributes: map[string]string{
			"depositor": addressString(e.Depositor),
			"amount":    amountString(e.Amount),
		},
	}
}

type Withdrawn struct {
	Owner       crypto.Address
	Destination crypto.Address
	Amount      *big.Int
}

func (Withdrawn) EventType() string { return TypeWithdrawn }

func (e Withdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeWithdrawn,
		Attributes: map[string]string{
			"owner":       addressString(e.Owner),
			"destination": addressString(e.Destination),
			"amount":      amountString(e.Amount),
		},
	}
}

type TokensLocked struct {
	Owner  crypto.Address
	Token  crypto.Address
	Amount *big.Int
}

func (TokensLocked) EventType() string { return TypeTokensLocked }

func (e TokensLocked) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensLocked,
		Attributes: map[string]string{
			"owner":  addressString(e.Owner),
			"token":  addressString(e.Token),
			"amount": amountString(e.Amount),
		},
	}
}

type TokensUnlocked struct {
	Owner       crypto.Address
	Token       crypto.Address
	Destination crypto.Address
	Amount      *big.Int
}

func (TokensUnlocked) EventType() string { return TypeTokensUnlocked }

func (e TokensUnlocked) Event() *types.Event {
	return &types.Event{
		Type: TypeTokensUnlocked,
		Attributes: map[string]string{
			"owner":       addressString(e.Owner),
			"token":       addressString(e.Token),
			"destination": addressString(e.Destination),
			"amount":      amountString(e.Amount),
		},
	}
}
