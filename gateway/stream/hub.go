// Package stream fans committed events out to websocket subscribers.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"vaulttoken/core/events"
)

const (
	wsWriteTimeout    = 10 * time.Second
	defaultBufferSize = 64
)

// Message is the JSON frame written for every event.
type Message struct {
	Sequence   uint64            `json:"sequence"`
	ReceiptID  string            `json:"receiptId,omitempty"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type subscriber struct {
	ch     chan Message
	filter map[string]struct{}
}

func (s *subscriber) wants(eventType string) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[eventType]
	return ok
}

// Hub is an events.Emitter that broadcasts envelopes to subscribers. A
// subscriber that falls behind is disconnected instead of blocking commits.
type Hub struct {
	mu      sync.Mutex
	subs    map[*subscriber]struct{}
	buffer  int
	logger  *slog.Logger
	origins []string
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:    make(map[*subscriber]struct{}),
		buffer:  defaultBufferSize,
		logger:  logger,
		origins: []string{"*"},
	}
}

// SetOriginPatterns restricts which browser origins may open a stream.
func (h *Hub) SetOriginPatterns(patterns []string) {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	h.origins = append([]string(nil), patterns...)
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok {
		return
	}
	rendered := env.Event()
	msg := Message{
		Sequence:   env.Sequence,
		ReceiptID:  env.ReceiptID,
		Type:       rendered.Type,
		Attributes: rendered.Attributes,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.wants(msg.Type) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			h.logger.Warn("event stream subscriber too slow; disconnecting")
			delete(h.subs, sub)
			close(sub.ch)
		}
	}
}

// Subscribe registers a subscriber for the given event types (all when
// empty). The returned cancel function must be called to release it.
func (h *Hub) Subscribe(types ...string) (<-chan Message, func()) {
	sub := &subscriber{ch: make(chan Message, h.buffer)}
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			if sub.filter == nil {
				sub.filter = make(map[string]struct{})
			}
			sub.filter[t] = struct{}{}
		}
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[sub]; ok {
				delete(h.subs, sub)
				close(sub.ch)
			}
		})
	}
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// ServeHTTP upgrades the request to a websocket and streams events. The
// optional "type" query parameter (comma separated) filters event types.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var filter []string
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		filter = strings.Split(raw, ",")
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	updates, cancel := h.Subscribe(filter...)
	defer cancel()
	ctx := conn.CloseRead(r.Context())
	if err := stream(ctx, conn, updates); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			h.logger.Debug("event stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func stream(ctx context.Context, conn *websocket.Conn, updates <-chan Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-updates:
			if !ok {
				return conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			}
			if err := write(ctx, conn, msg); err != nil {
				return err
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
