package journal

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/vadiminshakov/gowal"
	"lukechampine.com/blake3"

	"flashvault/core/events"
	"flashvault/core/types"
)

const (
	DefaultDir         = "./data/events"
	segmentThreshold   = 1000
	defaultMaxSegments = 100
	recordKeyPrefix    = "event_"
)

var (
	ErrClosed  = errors.New("journal: closed")
	ErrCorrupt = errors.New("journal: record digest mismatch")
)

// Record is one committed vault event as stored in the journal.
type Record struct {
	Index      uint64            `json:"index"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
}

// Event returns the record as a typed event.
func (r Record) Event() *types.Event {
	return &types.Event{Type: r.Type, Attributes: r.Attributes}
}

type entry struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
}

// Config controls where and how the journal stores its segments.
type Config struct {
	Dir         string
	MaxSegments int
	SyncWrites  bool
}

// Journal is an append-only log of committed vault events backed by a
// segmented WAL. Every record carries a blake3 digest of its contents.
type Journal struct {
	wal       *gowal.Wal
	mu        sync.RWMutex
	listeners []func(Record)
	onError   []func(eventType string, err error)
	failures  atomic.Uint64
	logger    *slog.Logger
	closed    bool
}

// Open creates or reopens the journal in cfg.Dir.
func Open(cfg Config, logger *slog.Logger) (*Journal, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		cfg.Dir = DefaultDir
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = defaultMaxSegments
	}
	if logger == nil {
		logger = slog.Default()
	}
	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              cfg.Dir,
		Prefix:           "events_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      cfg.MaxSegments,
		IsInSyncDiskMode: cfg.SyncWrites,
	})
	if err != nil {
		return nil, fmt.Errorf("journal: open wal: %w", err)
	}
	return &Journal{wal: wal, logger: logger.With("component", "journal")}, nil
}

// OnAppend registers fn to be called with every appended record.
func (j *Journal) OnAppend(fn func(Record)) {
	if fn == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.listeners = append(j.listeners, fn)
}

// OnAppendError registers fn to be called whenever Emit fails to persist an
// event.
func (j *Journal) OnAppendError(fn func(eventType string, err error)) {
	if fn == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.onError = append(j.onError, fn)
}

// Emit implements events.Emitter. The vault call that produced the event has
// already committed, so a write failure cannot be returned; it is logged,
// counted and handed to the OnAppendError listeners.
func (j *Journal) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	_, err := j.Append(ev.Event())
	if err == nil {
		return
	}
	j.failures.Add(1)
	j.logger.Error("append event", "type", ev.EventType(), "error", err)
	j.mu.RLock()
	handlers := append([]func(string, error){}, j.onError...)
	j.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev.EventType(), err)
	}
}

// Failures returns how many emitted events could not be written.
func (j *Journal) Failures() uint64 { return j.failures.Load() }

// Append writes ev as the next record.
func (j *Journal) Append(ev *types.Event) (Record, error) {
	if ev == nil {
		return Record{}, fmt.Errorf("journal: nil event")
	}
	digest, err := Digest(ev)
	if err != nil {
		return Record{}, err
	}
	payload, err := json.Marshal(entry{Type: ev.Type, Attributes: ev.Attributes, Digest: digest})
	if err != nil {
		return Record{}, fmt.Errorf("journal: encode record: %w", err)
	}

	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return Record{}, ErrClosed
	}
	index := j.wal.CurrentIndex() + 1
	if err := j.wal.Write(index, recordKeyPrefix+ev.Type, payload); err != nil {
		j.mu.Unlock()
		return Record{}, fmt.Errorf("journal: write record %d: %w", index, err)
	}
	listeners := append([]func(Record){}, j.listeners...)
	j.mu.Unlock()

	rec := Record{Index: index, Type: ev.Type, Attributes: ev.Clone().Attributes, Digest: digest}
	for _, fn := range listeners {
		fn(rec)
	}
	return rec, nil
}

// After returns up to limit records with an index greater than index. A
// non-positive limit returns everything. Records dropped by segment rotation
// are skipped.
func (j *Journal) After(index uint64, limit int) ([]Record, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, ErrClosed
	}
	current := j.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}
	out := make([]Record, 0, min(int(current-index), 256))
	for idx := index + 1; idx <= current; idx++ {
		if limit > 0 && len(out) >= limit {
			break
		}
		key, payload, err := j.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, recordKeyPrefix) {
			continue
		}
		rec, err := decode(idx, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// CurrentIndex returns the index of the newest record.
func (j *Journal) CurrentIndex() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return 0
	}
	return j.wal.CurrentIndex()
}

// Close flushes and closes the WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.wal.Close()
}

func decode(index uint64, payload []byte) (Record, error) {
	var e entry
	if err := json.Unmarshal(payload, &e); err != nil {
		return Record{}, fmt.Errorf("journal: decode record %d: %w", index, err)
	}
	rec := Record{Index: index, Type: e.Type, Attributes: e.Attributes, Digest: e.Digest}
	want, err := Digest(rec.Event())
	if err != nil {
		return Record{}, err
	}
	if want != e.Digest {
		return Record{}, fmt.Errorf("%w: record %d", ErrCorrupt, index)
	}
	return rec, nil
}

// Digest returns the hex blake3 digest of ev. Attributes are hashed in key
// order so the digest does not depend on map iteration.
func Digest(ev *types.Event) (string, error) {
	canonical, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("journal: encode digest input: %w", err)
	}
	sum := blake3.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
