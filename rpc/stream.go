package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"flashvault/storage/journal"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

// hub fans journal appends out to websocket subscribers. A subscriber that
// falls behind by more than subscriberBuffer records is disconnected.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan journal.Record
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan journal.Record)}
}

func (h *hub) publish(rec journal.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- rec:
		default:
			close(ch)
			delete(h.subs, id)
		}
	}
}

func (h *hub) subscribe() (<-chan journal.Record, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan journal.Record, subscriberBuffer)
	h.subs[id] = ch
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if existing, ok := h.subs[id]; ok {
			close(existing)
			delete(h.subs, id)
		}
	}
}

func (h *hub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// handleEventStream upgrades to a websocket, replays records after the
// requested index and then forwards live appends.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, notFound("event journal disabled"))
		return
	}
	after, _, err := eventWindow(r)
	if err != nil {
		writeError(w, err)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, after); err != nil {
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			s.logger.Debug("event stream ended", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, after uint64) error {
	// Subscribe before replaying so nothing appended in between is lost.
	updates, cancel := s.hub.subscribe()
	defer cancel()

	backlog, err := s.events.After(after, 0)
	if err != nil {
		return err
	}
	cursor := after
	for _, rec := range backlog {
		if err := writeRecord(ctx, conn, rec); err != nil {
			return err
		}
		cursor = rec.Index
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			}
			if rec.Index <= cursor {
				continue
			}
			if err := writeRecord(ctx, conn, rec); err != nil {
				return err
			}
			cursor = rec.Index
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec journal.Record) error {
	data, err := json.Marshal(newEventResponse(rec))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
