package common

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// Sentinel errors shared by every vault module. Detailed failures are
// reported as *Error values which unwrap to one of these, so callers match
// with errors.Is.
var (
	ErrUnauthorized             = errors.New("unauthorized")
	ErrInvalidToken             = errors.New("invalid token")
	ErrInvalidAmount            = errors.New("invalid amount")
	ErrInvalidAddress           = errors.New("invalid address")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrInsufficientOutputAmount = errors.New("insufficient output amount")
	ErrRepaymentFailed          = errors.New("repayment failed")
	ErrTransferFailed           = errors.New("transfer failed")
	ErrContractPaused           = errors.New("contract paused")
	ErrReentrantCall            = errors.New("reentrant call")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidToken, "InvalidToken"},
	{ErrInvalidAmount, "InvalidAmount"},
	{ErrInvalidAddress, "InvalidAddress"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrInsufficientOutputAmount, "InsufficientOutputAmount"},
	{ErrRepaymentFailed, "RepaymentFailed"},
	{ErrTransferFailed, "TransferFailed"},
	{ErrContractPaused, "ContractPaused"},
	{ErrReentrantCall, "ReentrantCall"},
}

// KindOf returns the taxonomy name of err, or "" when err does not belong to
// the vault error taxonomy.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	if detailed, ok := Details(err); ok && detailed.Kind != nil {
		for _, k := range kinds {
			if detailed.Kind == k.err {
				return k.name
			}
		}
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return ""
}

// Error carries the failing operation together with the offending values.
type Error struct {
	Kind      error
	Op        string
	Subject   string
	Value     *big.Int
	Required  *big.Int
	Available *big.Int
	Err       error
}

// Fail starts a detailed error of the given kind for op.
func Fail(kind error, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// About records the identity (caller, token, destination) the failure refers to.
func (e *Error) About(subject fmt.Stringer) *Error {
	if subject != nil {
		e.Subject = subject.String()
	}
	return e
}

// WithValue records the offending amount.
func (e *Error) WithValue(v *big.Int) *Error {
	e.Value = clone(v)
	return e
}

// Shortfall records the required and available amounts.
func (e *Error) Shortfall(required, available *big.Int) *Error {
	e.Required = clone(required)
	e.Available = clone(available)
	return e
}

// Because attaches the underlying cause, typically a collaborator failure.
func (e *Error) Because(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("failed")
	}
	if e.Subject != "" {
		fmt.Fprintf(&b, " (%s)", e.Subject)
	}
	if e.Value != nil {
		fmt.Fprintf(&b, " value=%s", e.Value)
	}
	if e.Required != nil || e.Available != nil {
		fmt.Fprintf(&b, " required=%s available=%s", orZero(e.Required), orZero(e.Available))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Details extracts the *Error carried by err, if any.
func Details(err error) (*Error, bool) {
	var detailed *Error
	if errors.As(err, &detailed) {
		return detailed, true
	}
	return nil, false
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
