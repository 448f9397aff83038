package poold

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"omnipool/core/events"
	"omnipool/observability"
)

const wsWriteTimeout = 10 * time.Second

// Hub keeps a bounded backlog of committed envelopes and relays new ones to
// websocket subscribers. A subscriber whose buffer fills is disconnected and
// can resume from its last sequence.
type Hub struct {
	mu      sync.Mutex
	backlog []*Envelope
	limit   int
	buffer  int
	subs    map[*subscriber]struct{}
	meters  *poolMeters
}

type subscriber struct {
	ch     chan *Envelope
	closed bool
}

// NewHub sizes the backlog and per-subscriber buffer.
func NewHub(backlog, buffer int) *Hub {
	if backlog <= 0 {
		backlog = 256
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{limit: backlog, buffer: buffer, subs: make(map[*subscriber]struct{}), meters: defaultMeters()}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	env, ok := evt.(*Envelope)
	if !ok || env == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.backlog = append(h.backlog, env)
	if over := len(h.backlog) - h.limit; over > 0 {
		h.backlog = append([]*Envelope(nil), h.backlog[over:]...)
	}
	for sub := range h.subs {
		select {
		case sub.ch <- env:
		default:
			observability.Events().RecordDropped("stream")
			h.meters.recordDropped("slow_subscriber", 1)
			h.dropLocked(sub)
		}
	}
}

// Subscribe returns the retained envelopes after the cursor together with a
// channel of later ones.
func (h *Hub) Subscribe(after uint64) ([]*Envelope, <-chan *Envelope, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	backlog := make([]*Envelope, 0, len(h.backlog))
	for _, env := range h.backlog {
		if env.Sequence > after {
			backlog = append(backlog, env)
		}
	}
	sub := &subscriber{ch: make(chan *Envelope, h.buffer)}
	h.subs[sub] = struct{}{}
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.dropLocked(sub)
	}
	return backlog, sub.ch, cancel
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) dropLocked(sub *subscriber) {
	if sub.closed {
		return
	}
	sub.closed = true
	delete(h.subs, sub)
	close(sub.ch)
}

// ServeHTTP streams envelopes to a websocket client. The optional "after"
// query parameter resumes from a sequence.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "after must be a sequence number")
			return
		}
		after = parsed
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := h.stream(ctx, conn, after); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (h *Hub) stream(ctx context.Context, conn *websocket.Conn, after uint64) error {
	backlog, updates, cancel := h.Subscribe(after)
	defer cancel()

	for _, env := range backlog {
		if err := writeEnvelope(ctx, conn, env); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusTryAgainLater, "subscriber too slow")
			}
			if err := writeEnvelope(ctx, conn, env); err != nil {
				return err
			}
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
