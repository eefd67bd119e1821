package core

import (
	"context"
	"math/big"

	"flashvault/crypto"
	"flashvault/native/flashswap"
)

type frameKey struct{}

// Frame is the handle through which code running inside a vault call (a
// swap venue or a receive hook) calls back into the vault. Each nested call
// is atomic on its own: a failure reverts only that call and is returned to
// the code that made it.
type Frame struct {
	v *Vault
}

// WithFrame attaches f to ctx.
func WithFrame(ctx context.Context, f *Frame) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, frameKey{}, f)
}

// FrameFromContext returns the frame attached by the host, if any.
func FrameFromContext(ctx context.Context) (*Frame, bool) {
	if ctx == nil {
		return nil, false
	}
	f, ok := ctx.Value(frameKey{}).(*Frame)
	return f, ok && f != nil
}

// Nested returns the frame of the call in progress. Its methods fail when no
// call is running.
func (v *Vault) Nested() *Frame { return &Frame{v: v} }

// run executes fn inside the current top-level call. The host mutex is
// already held by that call.
func (f *Frame) run(fn func() error) error {
	v := f.v
	if v.depth == 0 {
		return errNoActiveCall
	}
	v.depth++
	defer func() { v.depth-- }()
	cp := v.journal.Checkpoint()
	if err := guarded("nested", fn); err != nil {
		v.journal.Revert(cp)
		return err
	}
	return nil
}

func (f *Frame) Deposit(caller crypto.Address, value *big.Int) error {
	return f.run(func() error { return f.v.deposit(caller, value) })
}

func (f *Frame) Send(from, to crypto.Address, value *big.Int) error {
	return f.run(func() error { return f.v.send(from, to, value) })
}

func (f *Frame) Withdraw(caller, destination crypto.Address, amount *big.Int) error {
	return f.run(func() error { return f.v.custody.Withdraw(caller, destination, amount) })
}

func (f *Frame) Approve(caller, tok, spender crypto.Address, amount *big.Int) error {
	return f.run(func() error { return f.v.approve(caller, tok, spender, amount) })
}

func (f *Frame) LockTokens(caller, tok crypto.Address, amount *big.Int) error {
	return f.run(func() error { return f.v.custody.LockTokens(caller, tok, amount) })
}

func (f *Frame) UnlockTokens(caller, tok, destination crypto.Address, amount *big.Int) error {
	return f.run(func() error { return f.v.custody.UnlockTokens(caller, tok, destination, amount) })
}

func (f *Frame) FlashSwap(ctx context.Context, caller crypto.Address, p flashswap.Params) (*flashswap.Result, error) {
	var res *flashswap.Result
	err := f.run(func() error {
		var err error
		res, err = f.v.flash.FlashSwap(ctx, caller, p)
		return err
	})
	return res, err
}

// Balance reads caller's custodied native balance as seen by the call in
// progress.
func (f *Frame) Balance(owner crypto.Address) *big.Int { return f.v.custody.Balance(owner) }

// TokenBalance reads owner's custodied balance of tok.
func (f *Frame) TokenBalance(tok, owner crypto.Address) *big.Int {
	return f.v.custody.TokenBalance(tok, owner)
}
