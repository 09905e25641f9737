package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	subscriberBuffer = 16
	writeTimeout     = 5 * time.Second
)

// Hub pushes completion events to WebSocket subscribers. A subscriber that
// falls behind misses events; Notify never blocks on it.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan []byte]struct{}

	// OriginPatterns are host patterns allowed to connect from another
	// origin, as understood by websocket.AcceptOptions.
	OriginPatterns []string
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[chan []byte]struct{}),
	}
}

// Subscribe returns a channel receiving JSON-encoded events.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes ch from the subscribers.
func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Subscribers returns the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Notify(_ context.Context, c Completion) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			// Drop if subscriber is slow.
		}
	}
	return nil
}

// ServeHTTP upgrades the request to a WebSocket and streams events until the
// client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		slog.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	// The client only listens; CloseRead handles control frames and cancels
	// ctx when the peer disconnects.
	ctx := conn.CloseRead(r.Context())
	slog.Debug("event subscriber connected", "remote", r.RemoteAddr)

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ch:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("event subscriber write failed", "error", err)
				return
			}
		}
	}
}
