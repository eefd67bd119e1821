package access

import (
	"math/big"

	"flashvault/core/events"
	"flashvault/crypto"
	nativecommon "flashvault/native/common"
)

// DefaultSlippageCeilingBps caps the configurable slippage tolerance at 10%.
const DefaultSlippageCeilingBps uint32 = 1_000

const (
	opSetWhitelist      = "setTokenWhitelist"
	opSetSlippage       = "setSlippageTolerance"
	opPause             = "pause"
	opUnpause           = "unpause"
	opRescue            = "rescue"
	opRescueNative      = "rescueNative"
	opTransferOwnership = "transferOwnership"
	opAcceptOwnership   = "acceptOwnership"
)

type controllerState interface {
	Owner() crypto.Address
	SetOwner(crypto.Address)
	PendingOwner() crypto.Address
	SetPendingOwner(crypto.Address)
	Paused() bool
	SetPaused(bool)
	SlippageBps() uint32
	SetSlippageBps(uint32)
	IsWhitelisted(token crypto.Address) bool
	SetWhitelisted(token crypto.Address, allowed bool)
	Whitelist() []crypto.Address
	LockedTotal(token crypto.Address) *big.Int
	BalanceSum() *big.Int
}

// Bank is the native currency surface used by RescueNative.
type Bank interface {
	Balance(addr crypto.Address) *big.Int
	Transfer(from, to crypto.Address, amount *big.Int) error
}

// Tokens is the token surface used by Rescue.
type Tokens interface {
	BalanceOf(token, holder crypto.Address) *big.Int
	Transfer(token, from, to crypto.Address, amount *big.Int) error
}

// Controller gates administrative operations behind the owner identity.
type Controller struct {
	self       crypto.Address
	state      controllerState
	bank       Bank
	tokens     Tokens
	ceilingBps uint32
	emitter    events.Emitter
}

// NewController returns a controller for the vault held at self.
func NewController(self crypto.Address) *Controller {
	return &Controller{
		self:       self,
		ceilingBps: DefaultSlippageCeilingBps,
		emitter:    events.NoopEmitter{},
	}
}

func (c *Controller) SetState(s controllerState) { c.state = s }
func (c *Controller) SetBank(b Bank)             { c.bank = b }
func (c *Controller) SetTokens(t Tokens)         { c.tokens = t }

// SetSlippageCeiling overrides the maximum accepted tolerance. Zero keeps the
// default.
func (c *Controller) SetSlippageCeiling(bps uint32) {
	if c == nil {
		return
	}
	if bps == 0 {
		bps = DefaultSlippageCeilingBps
	}
	c.ceilingBps = bps
}

// SlippageCeiling returns the maximum accepted tolerance.
func (c *Controller) SlippageCeiling() uint32 { return c.ceilingBps }

func (c *Controller) SetEmitter(em events.Emitter) {
	if c == nil {
		return
	}
	if em == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = em
}

func (c *Controller) emit(ev events.Event) {
	if c.emitter != nil {
		c.emitter.Emit(ev)
	}
}

func (c *Controller) requireOwner(op string, caller crypto.Address) error {
	if caller != c.state.Owner() {
		return nativecommon.Fail(nativecommon.ErrUnauthorized, op).About(caller)
	}
	return nil
}

// SetTokenWhitelist allows or disallows token for flash swaps.
func (c *Controller) SetTokenWhitelist(caller, token crypto.Address, allowed bool) error {
	if err := c.requireOwner(opSetWhitelist, caller); err != nil {
		return err
	}
	if token.IsZero() {
		return nativecommon.Fail(nativecommon.ErrInvalidToken, opSetWhitelist).About(token)
	}
	if c.state.IsWhitelisted(token) == allowed {
		return nil
	}
	c.state.SetWhitelisted(token, allowed)
	c.emit(events.WhitelistUpdated{Token: token, Allowed: allowed})
	return nil
}

// SetSlippageTolerance updates the tolerance. Values above the ceiling are
// rejected; the ceiling itself is accepted.
func (c *Controller) SetSlippageTolerance(caller crypto.Address, bps uint32) error {
	if err := c.requireOwner(opSetSlippage, caller); err != nil {
		return err
	}
	if bps > c.ceilingBps {
		return nativecommon.Fail(nativecommon.ErrInvalidAmount, opSetSlippage).
			WithValue(new(big.Int).SetUint64(uint64(bps))).
			Shortfall(new(big.Int).SetUint64(uint64(c.ceilingBps)), new(big.Int).SetUint64(uint64(bps)))
	}
	previous := c.state.SlippageBps()
	c.state.SetSlippageBps(bps)
	c.emit(events.SlippageUpdated{Previous: previous, Current: bps})
	return nil
}

// Pause halts the operations covered by the pause policy. Pausing an already
// paused vault succeeds without emitting a second event.
func (c *Controller) Pause(caller crypto.Address) error {
	return c.setPaused(opPause, caller, true)
}

// Unpause lifts the pause. It is idempotent like Pause.
func (c *Controller) Unpause(caller crypto.Address) error {
	return c.setPaused(opUnpause, caller, false)
}

func (c *Controller) setPaused(op string, caller crypto.Address, paused bool) error {
	if err := c.requireOwner(op, caller); err != nil {
		return err
	}
	if c.state.Paused() == paused {
		return nil
	}
	c.state.SetPaused(paused)
	c.emit(events.PauseToggled{By: caller, Paused: paused})
	return nil
}

// Rescue sweeps the vault's unaccounted balance of token to the owner. Funds
// custodied on behalf of users are never touched.
func (c *Controller) Rescue(caller, token crypto.Address) (*big.Int, error) {
	if err := c.requireOwner(opRescue, caller); err != nil {
		return nil, err
	}
	if token.IsZero() {
		return nil, nativecommon.Fail(nativecommon.ErrInvalidToken, opRescue).About(token)
	}
	residual := Residual(c.tokens.BalanceOf(token, c.self), c.state.LockedTotal(token))
	if residual.Sign() == 0 {
		return nil, nativecommon.Fail(nativecommon.ErrInvalidAmount, opRescue).About(token).WithValue(residual)
	}
	owner := c.state.Owner()
	if err := c.tokens.Transfer(token, c.self, owner, residual); err != nil {
		return nil, nativecommon.Fail(nativecommon.ErrTransferFailed, opRescue).About(token).Because(err)
	}
	c.emit(events.Rescued{Token: token, Recipient: owner, Amount: new(big.Int).Set(residual)})
	return residual, nil
}

// RescueNative sweeps native currency held by the vault beyond the sum of
// custodied balances.
func (c *Controller) RescueNative(caller crypto.Address) (*big.Int, error) {
	if err := c.requireOwner(opRescueNative, caller); err != nil {
		return nil, err
	}
	residual := Residual(c.bank.Balance(c.self), c.state.BalanceSum())
	if residual.Sign() == 0 {
		return nil, nativecommon.Fail(nativecommon.ErrInvalidAmount, opRescueNative).WithValue(residual)
	}
	owner := c.state.Owner()
	c.emit(events.Rescued{Recipient: owner, Amount: new(big.Int).Set(residual)})
	if err := c.bank.Transfer(c.self, owner, residual); err != nil {
		return nil, nativecommon.Fail(nativecommon.ErrTransferFailed, opRescueNative).Because(err)
	}
	return residual, nil
}

// Residual returns held − accounted, floored at zero.
func Residual(held, accounted *big.Int) *big.Int {
	if held == nil {
		return big.NewInt(0)
	}
	out := new(big.Int).Set(held)
	if accounted != nil {
		out.Sub(out, accounted)
	}
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}

// TransferOwnership nominates a new owner. The nominee must call
// AcceptOwnership before the change takes effect.
func (c *Controller) TransferOwnership(caller, newOwner crypto.Address) error {
	if err := c.requireOwner(opTransferOwnership, caller); err != nil {
		return err
	}
	if newOwner.IsZero() {
		return nativecommon.Fail(nativecommon.ErrInvalidAddress, opTransferOwnership).About(newOwner)
	}
	c.state.SetPendingOwner(newOwner)
	c.emit(events.OwnershipTransferStarted{Owner: caller, PendingOwner: newOwner})
	return nil
}

// AcceptOwnership completes a nomination made by TransferOwnership.
func (c *Controller) AcceptOwnership(caller crypto.Address) error {
	pending := c.state.PendingOwner()
	if pending.IsZero() || caller != pending {
		return nativecommon.Fail(nativecommon.ErrUnauthorized, opAcceptOwnership).About(caller)
	}
	previous := c.state.Owner()
	c.state.SetOwner(caller)
	c.state.SetPendingOwner(crypto.ZeroAddress)
	c.emit(events.OwnershipTransferred{Previous: previous, Owner: caller})
	return nil
}

// Config is a read-only view of the controller settings.
type Config struct {
	Owner              crypto.Address
	PendingOwner       crypto.Address
	Paused             bool
	SlippageBps        uint32
	SlippageCeilingBps uint32
	Whitelist          []crypto.Address
}

// Snapshot returns the current settings.
func (c *Controller) Snapshot() Config {
	return Config{
		Owner:              c.state.Owner(),
		PendingOwner:       c.state.PendingOwner(),
		Paused:             c.state.Paused(),
		SlippageBps:        c.state.SlippageBps(),
		SlippageCeilingBps: c.ceilingBps,
		Whitelist:          c.state.Whitelist(),
	}
}

// IsWhitelisted reports whether token may be swapped.
func (c *Controller) IsWhitelisted(token crypto.Address) bool {
	return c.state.IsWhitelisted(token)
}
