package flashswap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"flashvault/core/events"
	"flashvault/crypto"
	nativecommon "flashvault/native/common"
)

const (
	opFlashSwap = "flashSwap"
	opQuote     = "quote"
)

var (
	errNilState    = errors.New("flashswap engine: state not configured")
	errNilTokens   = errors.New("flashswap engine: token ledger not configured")
	errNilProvider = errors.New("flashswap engine: liquidity provider not configured")
	errNilVenue    = errors.New("flashswap engine: venue not configured")
)

// FeeSource selects who pays the provider fee.
type FeeSource string

const (
	// FeeFromCaller reserves principal and fee from the caller's custodied
	// input token.
	FeeFromCaller FeeSource = "caller"
	// FeeFromResidual reserves the principal from the caller and pays the fee
	// out of the vault's unaccounted balance of the input token.
	FeeFromResidual FeeSource = "residual"
)

// ParseFeeSource normalises a configured fee source. Empty selects
// FeeFromCaller.
func ParseFeeSource(raw string) (FeeSource, error) {
	switch FeeSource(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FeeFromCaller:
		return FeeFromCaller, nil
	case FeeFromResidual:
		return FeeFromResidual, nil
	default:
		return "", fmt.Errorf("flashswap: unknown fee source %q", raw)
	}
}

type engineState interface {
	IsWhitelisted(token crypto.Address) bool
	SlippageBps() uint32
	TokenBalance(token, owner crypto.Address) *big.Int
	CreditToken(token, owner crypto.Address, amount *big.Int)
	DebitToken(token, owner crypto.Address, amount *big.Int) error
	LockedTotal(token crypto.Address) *big.Int
	IncrementSwapCount()
}

// Tokens is the token surface the engine uses to move and measure funds.
type Tokens interface {
	BalanceOf(token, holder crypto.Address) *big.Int
	Transfer(token, from, to crypto.Address, amount *big.Int) error
}

// Engine executes borrow → swap → verify → repay → commit as one unit. The
// host journal reverts every participant when any step fails.
type Engine struct {
	self      crypto.Address
	state     engineState
	tokens    Tokens
	provider  Provider
	venue     Venue
	guard     *nativecommon.ReentrancyGuard
	pauses    nativecommon.PauseView
	feeSource FeeSource
	emitter   events.Emitter
	nowFn     func() time.Time
}

// NewEngine returns an engine acting on behalf of the vault at self.
func NewEngine(self crypto.Address) *Engine {
	return &Engine{
		self:      self,
		feeSource: FeeFromCaller,
		emitter:   events.NoopEmitter{},
		nowFn:     time.Now,
	}
}

func (e *Engine) SetState(s engineState)                   { e.state = s }
func (e *Engine) SetTokens(t Tokens)                       { e.tokens = t }
func (e *Engine) SetProvider(p Provider)                   { e.provider = p }
func (e *Engine) SetVenue(v Venue)                         { e.venue = v }
func (e *Engine) SetGuard(g *nativecommon.ReentrancyGuard) { e.guard = g }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetFeeSource selects the fee accounting policy.
func (e *Engine) SetFeeSource(src FeeSource) {
	if e == nil || src == "" {
		return
	}
	e.feeSource = src
}

func (e *Engine) SetEmitter(em events.Emitter) {
	if e == nil {
		return
	}
	if em == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = em
}

// SetNowFunc overrides the clock used for execution timestamps.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// ready reports the first collaborator the engine is missing.
func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.tokens == nil:
		return errNilTokens
	case e.provider == nil:
		return errNilProvider
	case e.venue == nil:
		return errNilVenue
	}
	return nil
}

func (e *Engine) checkTokens(op string, tokenIn, tokenOut crypto.Address) error {
	if tokenIn.IsZero() || !e.state.IsWhitelisted(tokenIn) {
		return nativecommon.Fail(nativecommon.ErrInvalidToken, op).About(tokenIn)
	}
	if tokenOut.IsZero() || !e.state.IsWhitelisted(tokenOut) {
		return nativecommon.Fail(nativecommon.ErrInvalidToken, op).About(tokenOut)
	}
	if tokenIn == tokenOut {
		return nativecommon.Fail(nativecommon.ErrInvalidToken, op).About(tokenOut)
	}
	return nil
}

// Quote asks the venue for the expected output and applies the current
// slippage tolerance.
func (e *Engine) Quote(tokenIn, tokenOut crypto.Address, amountIn *big.Int) (*Quote, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.checkTokens(opQuote, tokenIn, tokenOut); err != nil {
		return nil, err
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, nativecommon.Fail(nativecommon.ErrInvalidAmount, opQuote).WithValue(amountIn)
	}
	out, err := e.venue.Quote(tokenIn, tokenOut, amountIn)
	if err != nil {
		return nil, fmt.Errorf("flashswap: venue quote: %w", err)
	}
	bps := e.state.SlippageBps()
	return &Quote{
		AmountOut:    out,
		MinAmountOut: MinAmountOut(out, bps),
		SlippageBps:  bps,
		Fee:          e.provider.Fee(tokenIn, amountIn),
	}, nil
}

// FlashSwap borrows p.AmountIn of p.TokenIn, swaps it through the venue,
// checks the output against the minimum, repays the provider and credits the
// output to the caller's custodied balance. Any failure leaves the caller to
// revert the surrounding journal; the engine does not undo partial effects
// itself.
func (e *Engine) FlashSwap(ctx context.Context, caller crypto.Address, p Params) (*Result, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	// Guard.
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleFlashSwap); err != nil {
		return nil, err
	}
	if err := e.checkTokens(opFlashSwap, p.TokenIn, p.TokenOut); err != nil {
		return nil, err
	}
	if p.AmountIn == nil || p.AmountIn.Sign() <= 0 {
		return nil, nativecommon.Fail(nativecommon.ErrInvalidAmount, opFlashSwap).WithValue(p.AmountIn)
	}
	if p.MinAmountOut != nil && p.MinAmountOut.Sign() < 0 {
		return nil, nativecommon.Fail(nativecommon.ErrInvalidAmount, opFlashSwap).WithValue(p.MinAmountOut)
	}
	release, err := e.guard.Enter(opFlashSwap)
	if err != nil {
		return nil, err
	}
	defer release()

	minOut := p.MinAmountOut
	if minOut == nil {
		quoted, err := e.venue.Quote(p.TokenIn, p.TokenOut, p.AmountIn)
		if err != nil {
			return nil, nativecommon.Fail(nativecommon.ErrTransferFailed, opFlashSwap).Because(err)
		}
		minOut = MinAmountOut(quoted, e.state.SlippageBps())
	}
	principal := new(big.Int).Set(p.AmountIn)
	fee := e.provider.Fee(p.TokenIn, principal)
	if fee == nil {
		fee = big.NewInt(0)
	}

	// Reserve the settlement funds before any external interaction.
	reserve := new(big.Int).Set(principal)
	if e.feeSource == FeeFromCaller {
		reserve.Add(reserve, fee)
	}
	custodied := e.state.TokenBalance(p.TokenIn, caller)
	if custodied.Cmp(reserve) < 0 {
		return nil, nativecommon.Fail(nativecommon.ErrRepaymentFailed, opFlashSwap).
			About(p.TokenIn).Shortfall(reserve, custodied)
	}
	if err := e.state.DebitToken(p.TokenIn, caller, reserve); err != nil {
		return nil, nativecommon.Fail(nativecommon.ErrRepaymentFailed, opFlashSwap).Because(err)
	}

	// Borrow.
	ob, err := e.provider.Borrow(p.TokenIn, e.self, principal)
	if err != nil {
		return nil, nativecommon.Fail(nativecommon.ErrTransferFailed, opFlashSwap).About(p.TokenIn).Because(err)
	}

	// Execute.
	inBefore := e.tokens.BalanceOf(p.TokenIn, e.self)
	outBefore := e.tokens.BalanceOf(p.TokenOut, e.self)
	venueAddr := e.venue.Address()
	if err := e.tokens.Transfer(p.TokenIn, e.self, venueAddr, principal); err != nil {
		return nil, nativecommon.Fail(nativecommon.ErrTransferFailed, opFlashSwap).About(p.TokenIn).Because(err)
	}
	req := SwapRequest{
		TokenIn:   p.TokenIn,
		TokenOut:  p.TokenOut,
		AmountIn:  new(big.Int).Set(principal),
		Recipient: e.self,
		Data:      append([]byte(nil), p.Data...),
	}
	if err := e.venue.Swap(ctx, req); err != nil {
		return nil, nativecommon.Fail(nativecommon.ErrTransferFailed, opFlashSwap).About(venueAddr).Because(err)
	}

	// Verify.
	amountOut := new(big.Int).Sub(e.tokens.BalanceOf(p.TokenOut, e.self), outBefore)
	if amountOut.Sign() < 0 {
		amountOut.SetInt64(0)
	}
	if amountOut.Cmp(minOut) < 0 {
		return nil, nativecommon.Fail(nativecommon.ErrInsufficientOutputAmount, opFlashSwap).
			About(p.TokenOut).Shortfall(minOut, amountOut)
	}
	spent := new(big.Int).Sub(inBefore, principal)
	refund := new(big.Int).Sub(e.tokens.BalanceOf(p.TokenIn, e.self), spent)
	if refund.Sign() < 0 {
		return nil, nativecommon.Fail(nativecommon.ErrTransferFailed, opFlashSwap).
			About(p.TokenIn).Shortfall(spent, e.tokens.BalanceOf(p.TokenIn, e.self))
	}

	// Repay. The caller's refund never funds the obligation.
	held := e.tokens.BalanceOf(p.TokenIn, e.self)
	free := new(big.Int).Sub(held, e.state.LockedTotal(p.TokenIn))
	free.Sub(free, refund)
	total := ob.Total()
	if free.Cmp(total) < 0 {
		if free.Sign() < 0 {
			free.SetInt64(0)
		}
		return nil, nativecommon.Fail(nativecommon.ErrRepaymentFailed, opFlashSwap).
			About(p.TokenIn).Shortfall(total, free)
	}
	if err := e.provider.Repay(ob); err != nil {
		return nil, nativecommon.Fail(nativecommon.ErrRepaymentFailed, opFlashSwap).About(p.TokenIn).Because(err)
	}

	// Commit.
	e.state.CreditToken(p.TokenOut, caller, amountOut)
	if refund.Sign() > 0 {
		e.state.CreditToken(p.TokenIn, caller, refund)
	}
	e.state.IncrementSwapCount()
	ts := e.nowFn().Unix()
	e.emit(events.FlashSwapExecuted{
		Caller:    caller,
		TokenIn:   p.TokenIn,
		TokenOut:  p.TokenOut,
		AmountIn:  new(big.Int).Set(principal),
		AmountOut: new(big.Int).Set(amountOut),
		Fee:       amountOrZero(ob.Fee),
		Timestamp: ts,
	})
	return &Result{
		AmountOut:    amountOut,
		MinAmountOut: new(big.Int).Set(minOut),
		Fee:          amountOrZero(ob.Fee),
		Refund:       refund,
		Timestamp:    ts,
	}, nil
}

func amountOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
