package flashswap

import (
	"context"
	"math/big"

	"flashvault/crypto"
)

// Obligation is the debt created by a flash borrow. It must be repaid in full
// within the same call.
type Obligation struct {
	ID        uint64
	Token     crypto.Address
	Borrower  crypto.Address
	Principal *big.Int
	Fee       *big.Int
}

// Total returns principal plus fee.
func (o *Obligation) Total() *big.Int {
	if o == nil {
		return big.NewInt(0)
	}
	total := new(big.Int)
	if o.Principal != nil {
		total.Add(total, o.Principal)
	}
	if o.Fee != nil {
		total.Add(total, o.Fee)
	}
	return total
}

// Provider lends tokens for the duration of a single call.
type Provider interface {
	// Fee quotes the provider fee for borrowing amount of token.
	Fee(token crypto.Address, amount *big.Int) *big.Int
	// Borrow transfers amount of token to borrower and records the debt.
	Borrow(token, borrower crypto.Address, amount *big.Int) (*Obligation, error)
	// Repay collects the obligation total from the borrower.
	Repay(ob *Obligation) error
}

// SwapRequest instructs a venue to convert the input it has already received.
type SwapRequest struct {
	TokenIn   crypto.Address
	TokenOut  crypto.Address
	AmountIn  *big.Int
	Recipient crypto.Address
	Data      []byte
}

// Venue is the external swap executor. Swap is the only untrusted call made
// during a flash swap and may re-enter the vault.
type Venue interface {
	Address() crypto.Address
	Quote(tokenIn, tokenOut crypto.Address, amountIn *big.Int) (*big.Int, error)
	Swap(ctx context.Context, req SwapRequest) error
}

// Params are the caller-supplied inputs of FlashSwap. A nil MinAmountOut asks
// the engine to derive it from a venue quote and the current tolerance.
type Params struct {
	TokenIn      crypto.Address
	TokenOut     crypto.Address
	AmountIn     *big.Int
	MinAmountOut *big.Int
	Data         []byte
}

// Result describes a committed flash swap.
type Result struct {
	AmountOut    *big.Int
	MinAmountOut *big.Int
	Fee          *big.Int
	Refund       *big.Int
	Timestamp    int64
}

// Quote is the pre-trade estimate returned by Engine.Quote.
type Quote struct {
	AmountOut    *big.Int
	MinAmountOut *big.Int
	SlippageBps  uint32
	Fee          *big.Int
}
