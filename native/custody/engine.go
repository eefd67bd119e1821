package custody

import (
	"errors"
	"math/big"

	"flashvault/core/events"
	"flashvault/crypto"
	nativecommon "flashvault/native/common"
)

const (
	opDeposit      = "deposit"
	opReceive      = "receive"
	opWithdraw     = "withdraw"
	opLockTokens   = "lockTokens"
	opUnlockTokens = "unlockTokens"
)

var (
	errNilState  = errors.New("custody engine: state not configured")
	errNilBank   = errors.New("custody engine: bank not configured")
	errNilTokens = errors.New("custody engine: token ledger not configured")
)

// engineState is the slice of the vault aggregate the custody ledger needs.
type engineState interface {
	Balance(owner crypto.Address) *big.Int
	Credit(owner crypto.Address, amount *big.Int)
	Debit(owner crypto.Address, amount *big.Int) error
	TokenBalance(token, owner crypto.Address) *big.Int
	CreditToken(token, owner crypto.Address, amount *big.Int)
	DebitToken(token, owner crypto.Address, amount *big.Int) error
	LockedTotal(token crypto.Address) *big.Int
	TotalDeposits() *big.Int
	TotalWithdrawals() *big.Int
	BalanceSum() *big.Int
	LockedTokens() []crypto.Address
}

// Bank moves native currency between identities. Transfers to contract
// identities may call back into the vault.
type Bank interface {
	Transfer(from, to crypto.Address, amount *big.Int) error
}

// Tokens is the ERC-20 surface the ledger consumes.
type Tokens interface {
	BalanceOf(token, holder crypto.Address) *big.Int
	Transfer(token, from, to crypto.Address, amount *big.Int) error
	TransferFrom(token, spender, from, to crypto.Address, amount *big.Int) error
}

// Engine implements the custody ledger: native deposits and withdrawals plus
// token lock and unlock.
type Engine struct {
	self    crypto.Address
	state   engineState
	bank    Bank
	tokens  Tokens
	guard   *nativecommon.ReentrancyGuard
	pauses  nativecommon.PauseView
	emitter events.Emitter
}

// NewEngine returns a ledger whose funds are held by self.
func NewEngine(self crypto.Address) *Engine {
	return &Engine{self: self, emitter: events.NoopEmitter{}}
}

// SetState wires the engine to the vault aggregate.
func (e *Engine) SetState(s engineState) { e.state = s }

// SetBank wires the native currency ledger.
func (e *Engine) SetBank(b Bank) { e.bank = b }

// SetTokens wires the token ledgers.
func (e *Engine) SetTokens(t Tokens) { e.tokens = t }

// SetGuard shares the vault's reentrancy guard with this engine.
func (e *Engine) SetGuard(g *nativecommon.ReentrancyGuard) { e.guard = g }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
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

func (e *Engine) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// Deposit credits caller with value that has already been moved to the vault.
func (e *Engine) Deposit(caller crypto.Address, value *big.Int) error {
	return e.credit(opDeposit, caller, value)
}

// Receive handles a plain value transfer to the vault. It is accounted
// exactly like Deposit.
func (e *Engine) Receive(caller crypto.Address, value *big.Int) error {
	return e.credit(opReceive, caller, value)
}

func (e *Engine) credit(op string, caller crypto.Address, value *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if value == nil || value.Sign() <= 0 {
		return nativecommon.Fail(nativecommon.ErrInvalidAmount, op).WithValue(value)
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleCustody); err != nil {
		return err
	}
	release, err := e.guard.Enter(op)
	if err != nil {
		return err
	}
	defer release()

	e.state.Credit(caller, value)
	e.emit(events.Deposited{Depositor: caller, Amount: new(big.Int).Set(value)})
	return nil
}

// Withdraw sends amount of caller's custodied balance to destination. The
// balance is debited before the external transfer.
func (e *Engine) Withdraw(caller, destination crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.bank == nil {
		return errNilBank
	}
	if destination.IsZero() {
		return nativecommon.Fail(nativecommon.ErrInvalidAddress, opWithdraw).About(destination)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nativecommon.Fail(nativecommon.ErrInvalidAmount, opWithdraw).WithValue(amount)
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleCustody); err != nil {
		return err
	}
	release, err := e.guard.Enter(opWithdraw)
	if err != nil {
		return err
	}
	defer release()

	available := e.state.Balance(caller)
	if available.Cmp(amount) < 0 {
		return nativecommon.Fail(nativecommon.ErrInsufficientBalance, opWithdraw).
			About(caller).Shortfall(amount, available)
	}
	if err := e.state.Debit(caller, amount); err != nil {
		return nativecommon.Fail(nativecommon.ErrInsufficientBalance, opWithdraw).Because(err)
	}
	e.emit(events.Withdrawn{Owner: caller, Destination: destination, Amount: new(big.Int).Set(amount)})

	if err := e.bank.Transfer(e.self, destination, amount); err != nil {
		return nativecommon.Fail(nativecommon.ErrTransferFailed, opWithdraw).About(destination).Because(err)
	}
	return nil
}

// LockTokens pulls amount of token from caller into custody. The caller must
// have approved the vault beforehand.
func (e *Engine) LockTokens(caller, token crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.tokens == nil {
		return errNilTokens
	}
	if token.IsZero() {
		return nativecommon.Fail(nativecommon.ErrInvalidToken, opLockTokens).About(token)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nativecommon.Fail(nativecommon.ErrInvalidAmount, opLockTokens).WithValue(amount)
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleCustody); err != nil {
		return err
	}
	release, err := e.guard.Enter(opLockTokens)
	if err != nil {
		return err
	}
	defer release()

	before := e.tokens.BalanceOf(token, e.self)
	if err := e.tokens.TransferFrom(token, e.self, caller, e.self, amount); err != nil {
		return nativecommon.Fail(nativecommon.ErrTransferFailed, opLockTokens).About(token).Because(err)
	}
	received := new(big.Int).Sub(e.tokens.BalanceOf(token, e.self), before)
	if received.Cmp(amount) != 0 {
		return nativecommon.Fail(nativecommon.ErrTransferFailed, opLockTokens).About(token).Shortfall(amount, received)
	}
	e.state.CreditToken(token, caller, amount)
	e.emit(events.TokensLocked{Owner: caller, Token: token, Amount: new(big.Int).Set(amount)})
	return nil
}

// UnlockTokens releases amount of caller's custodied token to destination.
func (e *Engine) UnlockTokens(caller, token, destination crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.tokens == nil {
		return errNilTokens
	}
	if token.IsZero() {
		return nativecommon.Fail(nativecommon.ErrInvalidToken, opUnlockTokens).About(token)
	}
	if destination.IsZero() {
		return nativecommon.Fail(nativecommon.ErrInvalidAddress, opUnlockTokens).About(destination)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nativecommon.Fail(nativecommon.ErrInvalidAmount, opUnlockTokens).WithValue(amount)
	}
	if err := nativecommon.Guard(e.pauses, nativecommon.ModuleCustody); err != nil {
		return err
	}
	release, err := e.guard.Enter(opUnlockTokens)
	if err != nil {
		return err
	}
	defer release()

	available := e.state.TokenBalance(token, caller)
	if available.Cmp(amount) < 0 {
		return nativecommon.Fail(nativecommon.ErrInsufficientBalance, opUnlockTokens).
			About(token).Shortfall(amount, available)
	}
	if err := e.state.DebitToken(token, caller, amount); err != nil {
		return nativecommon.Fail(nativecommon.ErrInsufficientBalance, opUnlockTokens).Because(err)
	}
	e.emit(events.TokensUnlocked{Owner: caller, Token: token, Destination: destination, Amount: new(big.Int).Set(amount)})

	if err := e.tokens.Transfer(token, e.self, destination, amount); err != nil {
		return nativecommon.Fail(nativecommon.ErrTransferFailed, opUnlockTokens).About(token).Because(err)
	}
	return nil
}

// Balance returns owner's custodied native balance.
func (e *Engine) Balance(owner crypto.Address) *big.Int {
	if e == nil || e.state == nil {
		return big.NewInt(0)
	}
	return e.state.Balance(owner)
}

// TokenBalance returns owner's custodied balance of token.
func (e *Engine) TokenBalance(token, owner crypto.Address) *big.Int {
	if e == nil || e.state == nil {
		return big.NewInt(0)
	}
	return e.state.TokenBalance(token, owner)
}

// Totals summarises the ledger for conservation checks.
type Totals struct {
	Deposits    *big.Int
	Withdrawals *big.Int
	Custodied   *big.Int
	Locked      map[crypto.Address]*big.Int
}

// Totals returns the conservation counters.
func (e *Engine) Totals() Totals {
	out := Totals{Locked: make(map[crypto.Address]*big.Int)}
	if e == nil || e.state == nil {
		out.Deposits, out.Withdrawals, out.Custodied = big.NewInt(0), big.NewInt(0), big.NewInt(0)
		return out
	}
	out.Deposits = e.state.TotalDeposits()
	out.Withdrawals = e.state.TotalWithdrawals()
	out.Custodied = e.state.BalanceSum()
	for _, token := range e.state.LockedTokens() {
		out.Locked[token] = e.state.LockedTotal(token)
	}
	return out
}
