package state

// Revertible is implemented by every participant of an atomic vault call:
// the vault aggregate, the native bank, token ledgers, the flash-loan pool
// and the event buffer. Snapshot ids are only meaningful to the participant
// that issued them.
type Revertible interface {
	Snapshot() int
	RevertToSnapshot(id int)
}

// UndoLog records the inverse of every mutation so that a participant can be
// rolled back to any earlier snapshot.
type UndoLog struct {
	entries []func()
}

// Record appends an undo step.
func (l *UndoLog) Record(undo func()) {
	if l == nil || undo == nil {
		return
	}
	l.entries = append(l.entries, undo)
}

// Snapshot returns an identifier for the current position of the log.
func (l *UndoLog) Snapshot() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// RevertToSnapshot undoes every mutation recorded after id, newest first.
func (l *UndoLog) RevertToSnapshot(id int) {
	if l == nil || id < 0 || id > len(l.entries) {
		return
	}
	for i := len(l.entries) - 1; i >= id; i-- {
		l.entries[i]()
		l.entries[i] = nil
	}
	l.entries = l.entries[:id]
}

// DiscardUndo drops all undo steps. It is called once a top-level call
// commits.
func (l *UndoLog) DiscardUndo() {
	if l == nil {
		return
	}
	l.entries = l.entries[:0]
}

// Len reports the number of pending undo steps.
func (l *UndoLog) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Checkpoint identifies a consistent position across every participant of a
// Journal.
type Checkpoint []int

// Journal groups participants so they can be snapshotted and reverted
// together.
type Journal struct {
	parts []Revertible
}

// NewJournal returns a journal over the supplied participants.
func NewJournal(parts ...Revertible) *Journal {
	j := &Journal{}
	for _, p := range parts {
		j.Add(p)
	}
	return j
}

// Add registers a further participant. Participants must be added before the
// first checkpoint is taken.
func (j *Journal) Add(p Revertible) {
	if j == nil || p == nil {
		return
	}
	j.parts = append(j.parts, p)
}

// Checkpoint captures the current position of every participant.
func (j *Journal) Checkpoint() Checkpoint {
	if j == nil {
		return nil
	}
	cp := make(Checkpoint, len(j.parts))
	for i, p := range j.parts {
		cp[i] = p.Snapshot()
	}
	return cp
}

// Revert restores every participant to cp, in reverse registration order.
func (j *Journal) Revert(cp Checkpoint) {
	if j == nil || len(cp) != len(j.parts) {
		return
	}
	for i := len(j.parts) - 1; i >= 0; i-- {
		j.parts[i].RevertToSnapshot(cp[i])
	}
}

type undoDiscarder interface {
	DiscardUndo()
}

// Commit makes the current position permanent by discarding the undo history
// of every participant that keeps one.
func (j *Journal) Commit() {
	if j == nil {
		return
	}
	for _, p := range j.parts {
		if d, ok := p.(undoDiscarder); ok {
			d.DiscardUndo()
		}
	}
}
