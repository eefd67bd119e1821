package common

// ReentrancyGuard is a scoped mutual-exclusion flag shared by every
// value-moving operation of one vault. It is not a lock: the host already
// serialises top-level calls, the guard only rejects calls made back into the
// vault from an external interaction that is still in progress.
type ReentrancyGuard struct {
	entered bool
	holder  string
}

// Enter marks op as in progress. The returned release func must be deferred by
// the caller; it is safe to call more than once.
func (g *ReentrancyGuard) Enter(op string) (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	if g.entered {
		return nil, Fail(ErrReentrantCall, op).Because(reentryCause(g.holder))
	}
	g.entered = true
	g.holder = op
	released := false
	return func() {
		if released {
			return
		}
		released = true
		g.entered = false
		g.holder = ""
	}, nil
}

// Entered reports whether a guarded operation is in progress.
func (g *ReentrancyGuard) Entered() bool {
	return g != nil && g.entered
}

type reentryCause string

func (c reentryCause) Error() string { return "guard held by " + string(c) }
