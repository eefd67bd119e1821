package events

import (
	"math/big"
	"strconv"

	"flashvault/core/types"
	"flashvault/crypto"
)

const (
	TypeWhitelistUpdated         = "admin.whitelist_updated"
	TypeSlippageUpdated          = "admin.slippage_updated"
	TypePaused                   = "admin.paused"
	TypeUnpaused                 = "admin.unpaused"
	TypeOwnershipTransferStarted = "admin.ownership_transfer_started"
	TypeOwnershipTransferred     = "admin.ownership_transferred"
	TypeRescued                  = "admin.rescued"
)

type WhitelistUpdated struct {
	Token   crypto.Address
	Allowed bool
}

func (WhitelistUpdated) EventType() string { return TypeWhitelistUpdated }

func (e WhitelistUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeWhitelistUpdated,
		Attributes: map[string]string{
			"token":   addressString(e.Token),
			"allowed": strconv.FormatBool(e.Allowed),
		},
	}
}

type SlippageUpdated struct {
	Previous uint32
	Current  uint32
}

func (SlippageUpdated) EventType() string { return TypeSlippageUpdated }

func (e SlippageUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeSlippageUpdated,
		Attributes: map[string]string{
			"previousBps": strconv.FormatUint(uint64(e.Previous), 10),
			"currentBps":  strconv.FormatUint(uint64(e.Current), 10),
		},
	}
}

// PauseToggled is rendered as either TypePaused or TypeUnpaused.
type PauseToggled struct {
	By     crypto.Address
	Paused bool
}

func (e PauseToggled) EventType() string {
	if e.Paused {
		return TypePaused
	}
	return TypeUnpaused
}

func (e PauseToggled) Event() *types.Event {
	return &types.Event{
		Type:       e.EventType(),
		Attributes: map[string]string{"by": addressString(e.By)},
	}
}

type OwnershipTransferStarted struct {
	Owner        crypto.Address
	PendingOwner crypto.Address
}

func (OwnershipTransferStarted) EventType() string { return TypeOwnershipTransferStarted }

func (e OwnershipTransferStarted) Event() *types.Event {
	return &types.Event{
		Type: TypeOwnershipTransferStarted,
		Attributes: map[string]string{
			"owner":        addressString(e.Owner),
			"pendingOwner": addressString(e.PendingOwner),
		},
	}
}

type OwnershipTransferred struct {
	Previous crypto.Address
	Owner    crypto.Address
}

func (OwnershipTransferred) EventType() string { return TypeOwnershipTransferred }

func (e OwnershipTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeOwnershipTransferred,
		Attributes: map[string]string{
			"previousOwner": addressString(e.Previous),
			"owner":         addressString(e.Owner),
		},
	}
}

// Rescued records a residual sweep. Token is zero for native currency.
type Rescued struct {
	Token     crypto.Address
	Recipient crypto.Address
	Amount    *big.Int
}

func (Rescued) EventType() string { return TypeRescued }

func (e Rescued) Event() *types.Event {
	token := addressString(e.Token)
	if token == "" {
		token = "native"
	}
	return &types.Event{
		Type: TypeRescued,
		Attributes: map[string]string{
			"token":     token,
			"recipient": addressString(e.Recipient),
			"amount":    amountString(e.Amount),
		},
	}
}
