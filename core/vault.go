package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"flashvault/core/events"
	"flashvault/core/state"
	"flashvault/crypto"
	"flashvault/native/access"
	"flashvault/native/bank"
	nativecommon "flashvault/native/common"
	"flashvault/native/custody"
	"flashvault/native/flashswap"
	"flashvault/native/lender"
	"flashvault/native/token"
	"flashvault/native/venue"
	"flashvault/storage"
)

// Well-known identities of the in-process collaborators.
var (
	DefaultVaultAddress = crypto.DeriveAddress("flashvault/vault")
	DefaultPoolAddress  = crypto.DeriveAddress("flashvault/pool")
	DefaultVenueAddress = crypto.DeriveAddress("flashvault/venue")
	GenesisLPAddress    = crypto.DeriveAddress("flashvault/genesis-lp")
)

var (
	errNoActiveCall   = errors.New("core: no vault call in progress")
	errGenesisApplied = errors.New("core: genesis already applied")
	errOpenObligation = errors.New("core: flash loan left open at commit")
	errPanicked       = errors.New("core: call panicked")
)

// CallObserver is notified once per top-level call.
type CallObserver interface {
	ObserveCall(op string, err error, elapsed time.Duration)
}

// Options configure a Vault. Zero values select defaults.
type Options struct {
	Owner              crypto.Address
	Address            crypto.Address
	PoolAddress        crypto.Address
	VenueAddress       crypto.Address
	PausePolicy        nativecommon.PausePolicy
	FeeSource          flashswap.FeeSource
	SlippageCeilingBps uint32
	InitialSlippageBps uint32
	PoolFeeBps         uint32
	VenueFeeBps        uint32
	Logger             *slog.Logger
	Observer           CallObserver
	Now                func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Address.IsZero() {
		o.Address = DefaultVaultAddress
	}
	if o.PoolAddress.IsZero() {
		o.PoolAddress = DefaultPoolAddress
	}
	if o.VenueAddress.IsZero() {
		o.VenueAddress = DefaultVenueAddress
	}
	if o.PausePolicy == "" {
		o.PausePolicy = nativecommon.PauseSwapOnly
	}
	if o.FeeSource == "" {
		o.FeeSource = flashswap.FeeFromCaller
	}
	if o.SlippageCeilingBps == 0 {
		o.SlippageCeilingBps = access.DefaultSlippageCeilingBps
	}
	if o.InitialSlippageBps == 0 {
		o.InitialSlippageBps = state.DefaultSlippageBps
	}
	if o.PoolFeeBps == 0 {
		o.PoolFeeBps = lender.DefaultFeeBps
	}
	if o.VenueFeeBps == 0 {
		o.VenueFeeBps = venue.DefaultFeeBps
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Vault is the host of the custody ledger and the flash-swap engine. Every
// top-level call runs under one mutex; before it starts the host checkpoints
// every participant and restores all of them when the call fails. Events are
// held back until the call commits.
type Vault struct {
	mu     sync.Mutex
	opts   Options
	logger *slog.Logger

	state   *state.Vault
	bank    *bank.Ledger
	tokens  *token.Registry
	pool    *lender.Pool
	amm     *venue.AMM
	buffer  *events.Buffer
	journal *state.Journal
	guard   *nativecommon.ReentrancyGuard

	custody *custody.Engine
	access  *access.Controller
	flash   *flashswap.Engine

	store *state.Store
	sink  events.Emitter
	depth int
	fresh bool
}

// New builds a vault over db. When db holds a committed snapshot the vault
// resumes from it; otherwise it starts empty and ApplyGenesis may seed it. A
// nil db keeps all state in memory.
func New(db storage.Database, opts Options) (*Vault, error) {
	opts.applyDefaults()
	if opts.Owner.IsZero() {
		return nil, fmt.Errorf("core: vault owner must be configured")
	}
	if opts.InitialSlippageBps > opts.SlippageCeilingBps {
		return nil, fmt.Errorf("core: initial slippage %d bp exceeds ceiling %d bp", opts.InitialSlippageBps, opts.SlippageCeilingBps)
	}
	v := &Vault{
		opts:   opts,
		logger: opts.Logger.With("component", "vault"),
		bank:   bank.NewLedger(),
		tokens: token.NewRegistry(),
		buffer: &events.Buffer{},
		guard:  &nativecommon.ReentrancyGuard{},
		sink:   events.NoopEmitter{},
		fresh:  true,
	}
	if db != nil {
		v.store = state.NewStore(db)
	}
	v.pool = lender.NewPool(opts.PoolAddress, v.tokens, opts.PoolFeeBps)
	v.amm = venue.NewAMM(opts.VenueAddress, v.tokens, opts.VenueFeeBps)
	v.amm.SetNowFunc(opts.Now)

	v.state = state.NewVault(opts.Owner)
	if v.store != nil {
		snap, err := v.store.Load()
		if err != nil {
			return nil, err
		}
		if snap != nil {
			v.restore(snap)
			v.fresh = false
		}
	}
	if v.fresh {
		v.state.SetSlippageBps(opts.InitialSlippageBps)
		v.state.DiscardUndo()
	}

	pauses := nativecommon.SwitchView{Policy: opts.PausePolicy, Paused: v.state.Paused}

	v.custody = custody.NewEngine(opts.Address)
	v.custody.SetBank(v.bank)
	v.custody.SetTokens(v.tokens)
	v.custody.SetGuard(v.guard)
	v.custody.SetPauses(pauses)
	v.custody.SetEmitter(v.buffer)

	v.access = access.NewController(opts.Address)
	v.access.SetBank(v.bank)
	v.access.SetTokens(v.tokens)
	v.access.SetSlippageCeiling(opts.SlippageCeilingBps)
	v.access.SetEmitter(v.buffer)

	v.flash = flashswap.NewEngine(opts.Address)
	v.flash.SetTokens(v.tokens)
	v.flash.SetProvider(v.pool)
	v.flash.SetVenue(v.amm)
	v.flash.SetGuard(v.guard)
	v.flash.SetPauses(pauses)
	v.flash.SetFeeSource(opts.FeeSource)
	v.flash.SetNowFunc(opts.Now)
	v.flash.SetEmitter(v.buffer)

	v.bindState()
	return v, nil
}

func (v *Vault) bindState() {
	v.custody.SetState(v.state)
	v.access.SetState(v.state)
	v.flash.SetState(v.state)
	v.journal = state.NewJournal(v.state, v.bank, v.tokens, v.pool, v.amm, v.buffer)
}

func (v *Vault) restore(snap *state.Snapshot) {
	v.state = state.ImportVault(snap.Vault)
	v.bank.Import(snap.Bank)
	v.tokens.Import(snap.Tokens)
	v.pool.Import(snap.Pool)
	v.amm.Import(snap.Venue)
}

func (v *Vault) snapshot() *state.Snapshot {
	return &state.Snapshot{
		Vault:  v.state.Export(),
		Bank:   v.bank.Export(),
		Tokens: v.tokens.Export(),
		Pool:   v.pool.Export(),
		Venue:  v.amm.Export(),
	}
}

// Address returns the vault identity.
func (v *Vault) Address() crypto.Address { return v.opts.Address }

// PoolAddress returns the identity of the flash-loan pool.
func (v *Vault) PoolAddress() crypto.Address { return v.opts.PoolAddress }

// VenueAddress returns the identity of the in-process swap venue.
func (v *Vault) VenueAddress() crypto.Address { return v.opts.VenueAddress }

// SetSink installs the subscriber that receives committed events.
func (v *Vault) SetSink(sink events.Emitter) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if sink == nil {
		sink = events.NoopEmitter{}
	}
	v.sink = sink
}

// SetVenue replaces the swap venue. The built-in AMM stays registered with
// the journal.
func (v *Vault) SetVenue(vn flashswap.Venue) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if vn == nil {
		v.flash.SetVenue(v.amm)
		return
	}
	v.flash.SetVenue(vn)
}

// SetReceiver registers a native-currency receive hook for addr. Hooks run
// inside the call that transfers to addr and may re-enter through Nested.
func (v *Vault) SetReceiver(addr crypto.Address, r bank.Receiver) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bank.SetReceiver(addr, r)
}

// exec runs fn as one atomic top-level call.
func (v *Vault) exec(op string, fn func() error) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	start := time.Now()
	cp := v.journal.Checkpoint()
	v.depth = 1
	err := guarded(op, fn)
	v.depth = 0
	if err == nil && v.pool.Outstanding() != 0 {
		err = nativecommon.Fail(nativecommon.ErrRepaymentFailed, op).Because(errOpenObligation)
	}
	if err == nil {
		err = v.persist()
	}
	if err != nil {
		v.journal.Revert(cp)
		v.logger.Debug("vault call reverted", "op", op, "kind", nativecommon.KindOf(err), "error", err)
		v.observe(op, err, start)
		return err
	}
	pending := v.buffer.Drain()
	v.journal.Commit()
	for _, ev := range pending {
		v.sink.Emit(ev)
	}
	v.observe(op, nil, start)
	return nil
}

// guarded runs fn and turns a panic raised by a venue or receive hook into a
// TransferFailed error so the caller's revert path still runs.
func guarded(op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = nativecommon.Fail(nativecommon.ErrTransferFailed, op).Because(fmt.Errorf("%w: %v", errPanicked, r))
		}
	}()
	return fn()
}

func (v *Vault) persist() error {
	if v.store == nil {
		return nil
	}
	if err := v.store.Save(v.snapshot()); err != nil {
		v.logger.Error("persist vault state", "error", err)
		return fmt.Errorf("core: persist state: %w", err)
	}
	return nil
}

func (v *Vault) observe(op string, err error, start time.Time) {
	if v.opts.Observer != nil {
		v.opts.Observer.ObserveCall(op, err, time.Since(start))
	}
}

// Deposit moves value from caller's native balance into custody.
func (v *Vault) Deposit(caller crypto.Address, value *big.Int) error {
	return v.exec("deposit", func() error { return v.deposit(caller, value) })
}

func (v *Vault) deposit(caller crypto.Address, value *big.Int) error {
	if err := v.custody.Deposit(caller, value); err != nil {
		return err
	}
	if err := v.bank.Transfer(caller, v.opts.Address, value); err != nil {
		if bank.IsInsufficientBalance(err) {
			return nativecommon.Fail(nativecommon.ErrInsufficientBalance, "deposit").
				About(caller).Shortfall(value, v.bank.Balance(caller))
		}
		return nativecommon.Fail(nativecommon.ErrTransferFailed, "deposit").About(caller).Because(err)
	}
	return nil
}

// Send transfers native currency between identities. A transfer to the vault
// itself is accounted as a deposit by the sender.
func (v *Vault) Send(from, to crypto.Address, value *big.Int) error {
	return v.exec("send", func() error { return v.send(from, to, value) })
}

func (v *Vault) send(from, to crypto.Address, value *big.Int) error {
	if to.IsZero() {
		return nativecommon.Fail(nativecommon.ErrInvalidAddress, "send").About(to)
	}
	if to == v.opts.Address {
		if err := v.custody.Receive(from, value); err != nil {
			return err
		}
	}
	if err := v.bank.Transfer(from, to, value); err != nil {
		if bank.IsInsufficientBalance(err) {
			return nativecommon.Fail(nativecommon.ErrInsufficientBalance, "send").
				About(from).Shortfall(value, v.bank.Balance(from))
		}
		return nativecommon.Fail(nativecommon.ErrTransferFailed, "send").About(to).Because(err)
	}
	return nil
}

// Withdraw sends amount of caller's custodied balance to destination.
func (v *Vault) Withdraw(caller, destination crypto.Address, amount *big.Int) error {
	return v.exec("withdraw", func() error { return v.custody.Withdraw(caller, destination, amount) })
}

// Approve sets spender's allowance over caller's token balance.
func (v *Vault) Approve(caller, tok, spender crypto.Address, amount *big.Int) error {
	return v.exec("approve", func() error { return v.approve(caller, tok, spender, amount) })
}

func (v *Vault) approve(caller, tok, spender crypto.Address, amount *big.Int) error {
	if err := v.tokens.Approve(tok, caller, spender, amount); err != nil {
		return tokenError("approve", tok, err)
	}
	return nil
}

// TransferTokens moves caller's own token balance, outside custody.
func (v *Vault) TransferTokens(caller, tok, to crypto.Address, amount *big.Int) error {
	return v.exec("transferTokens", func() error {
		if err := v.tokens.Transfer(tok, caller, to, amount); err != nil {
			return tokenError("transferTokens", tok, err)
		}
		return nil
	})
}

func tokenError(op string, tok crypto.Address, err error) error {
	switch {
	case errors.Is(err, token.ErrUnknownToken):
		return nativecommon.Fail(nativecommon.ErrInvalidToken, op).About(tok).Because(err)
	case errors.Is(err, token.ErrZeroAddress):
		return nativecommon.Fail(nativecommon.ErrInvalidAddress, op).Because(err)
	case errors.Is(err, token.ErrInvalidAmount):
		return nativecommon.Fail(nativecommon.ErrInvalidAmount, op).Because(err)
	case errors.Is(err, token.ErrInsufficientBalance):
		return nativecommon.Fail(nativecommon.ErrInsufficientBalance, op).About(tok).Because(err)
	default:
		return nativecommon.Fail(nativecommon.ErrTransferFailed, op).About(tok).Because(err)
	}
}

// LockTokens pulls amount of tok from caller into custody.
func (v *Vault) LockTokens(caller, tok crypto.Address, amount *big.Int) error {
	return v.exec("lockTokens", func() error { return v.custody.LockTokens(caller, tok, amount) })
}

// UnlockTokens releases caller's custodied tok to destination.
func (v *Vault) UnlockTokens(caller, tok, destination crypto.Address, amount *big.Int) error {
	return v.exec("unlockTokens", func() error { return v.custody.UnlockTokens(caller, tok, destination, amount) })
}

// FlashSwap runs borrow, swap, verify, repay and commit atomically. The venue
// receives a Frame in ctx through which it may call back into the vault.
func (v *Vault) FlashSwap(ctx context.Context, caller crypto.Address, p flashswap.Params) (*flashswap.Result, error) {
	var res *flashswap.Result
	err := v.exec("flashSwap", func() error {
		var err error
		res, err = v.flash.FlashSwap(WithFrame(ctx, &Frame{v: v}), caller, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// SetTokenWhitelist allows or forbids tok as a flash-swap leg.
func (v *Vault) SetTokenWhitelist(caller, tok crypto.Address, allowed bool) error {
	return v.exec("setTokenWhitelist", func() error { return v.access.SetTokenWhitelist(caller, tok, allowed) })
}

// SetSlippageTolerance sets the default slippage tolerance in basis points.
func (v *Vault) SetSlippageTolerance(caller crypto.Address, bps uint32) error {
	return v.exec("setSlippageTolerance", func() error { return v.access.SetSlippageTolerance(caller, bps) })
}

func (v *Vault) Pause(caller crypto.Address) error {
	return v.exec("pause", func() error { return v.access.Pause(caller) })
}

func (v *Vault) Unpause(caller crypto.Address) error {
	return v.exec("unpause", func() error { return v.access.Unpause(caller) })
}

// Rescue sweeps the unaccounted balance of tok to the owner.
func (v *Vault) Rescue(caller, tok crypto.Address) (*big.Int, error) {
	var swept *big.Int
	err := v.exec("rescue", func() error {
		var err error
		swept, err = v.access.Rescue(caller, tok)
		return err
	})
	return swept, err
}

// RescueNative sweeps native currency held beyond custodied balances.
func (v *Vault) RescueNative(caller crypto.Address) (*big.Int, error) {
	var swept *big.Int
	err := v.exec("rescueNative", func() error {
		var err error
		swept, err = v.access.RescueNative(caller)
		return err
	})
	return swept, err
}

func (v *Vault) TransferOwnership(caller, newOwner crypto.Address) error {
	return v.exec("transferOwnership", func() error { return v.access.TransferOwnership(caller, newOwner) })
}

func (v *Vault) AcceptOwnership(caller crypto.Address) error {
	return v.exec("acceptOwnership", func() error { return v.access.AcceptOwnership(caller) })
}
