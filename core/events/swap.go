package events

import (
	"math/big"

	"flashvault/core/types"
	"flashvault/crypto"
)

const (
	// TypeFlashSwapExecuted is emitted exactly once per committed flash swap.
	TypeFlashSwapExecuted = "swap.flash_executed"
)

// FlashSwapExecuted is the swap execution record.
type FlashSwapExecuted struct {
	Caller    crypto.Address
	TokenIn   crypto.Address
	TokenOut  crypto.Address
	AmountIn  *big.Int
	AmountOut *big.Int
	Fee       *big.Int
	Timestamp int64
}

func (FlashSwapExecuted) EventType() string { return TypeFlashSwapExecuted }

func (e FlashSwapExecuted) Event() *types.Event {
	return &types.Event{
		Type: TypeFlashSwapExecuted,
		Attributes: map[string]string{
			"caller":    addressString(e.Caller),
			"tokenIn":   addressString(e.TokenIn),
			"tokenOut":  addressString(e.TokenOut),
			"amountIn":  amountString(e.AmountIn),
			"amountOut": amountString(e.AmountOut),
			"fee":       amountString(e.Fee),
			"timestamp": timestampString(e.Timestamp),
		},
	}
}

// DecodeFlashSwapExecuted parses a rendered swap record back into its typed
// form. ok is false when the event is of another type or malformed.
func DecodeFlashSwapExecuted(ev *types.Event) (FlashSwapExecuted, bool) {
	if ev == nil || ev.Type != TypeFlashSwapExecuted {
		return FlashSwapExecuted{}, false
	}
	var out FlashSwapExecuted
	var err error
	if out.Caller, err = optionalAddress(ev.Attribute("caller")); err != nil {
		return FlashSwapExecuted{}, false
	}
	if out.TokenIn, err = crypto.DecodeAddress(ev.Attribute("tokenIn")); err != nil {
		return FlashSwapExecuted{}, false
	}
	if out.TokenOut, err = crypto.DecodeAddress(ev.Attribute("tokenOut")); err != nil {
		return FlashSwapExecuted{}, false
	}
	var ok bool
	if out.AmountIn, ok = new(big.Int).SetString(ev.Attribute("amountIn"), 10); !ok {
		return FlashSwapExecuted{}, false
	}
	if out.AmountOut, ok = new(big.Int).SetString(ev.Attribute("amountOut"), 10); !ok {
		return FlashSwapExecuted{}, false
	}
	if out.Fee, ok = new(big.Int).SetString(ev.Attribute("fee"), 10); !ok {
		out.Fee = big.NewInt(0)
	}
	ts, ok := new(big.Int).SetString(ev.Attribute("timestamp"), 10)
	if !ok || !ts.IsInt64() {
		return FlashSwapExecuted{}, false
	}
	out.Timestamp = ts.Int64()
	return out, true
}

func optionalAddress(raw string) (crypto.Address, error) {
	if raw == "" {
		return crypto.ZeroAddress, nil
	}
	return crypto.DecodeAddress(raw)
}
