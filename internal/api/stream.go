package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// watchHub fans a change signal out to open stream connections. Signals carry
// no payload; each subscriber re-fetches its own role-scoped snapshot, so a
// slow consumer can never observe a feed it is not allowed to see.
type watchHub struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func newWatchHub() *watchHub {
	return &watchHub{subs: map[chan struct{}]struct{}{}}
}

func (h *watchHub) subscribe() (chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		delete(h.subs, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// notify wakes every subscriber without blocking. A subscriber that already
// has a pending signal coalesces the new one.
func (h *watchHub) notify() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// GET /api/questions/stream — server-sent events. Each event is a full
// role-scoped snapshot; browsers reconnect on their own, so no event ids or
// resume protocol.
func (rt *Router) handleQuestionStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	claims, ok := requireRole(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func() bool {
		qs, err := rt.listForClaims(claims)
		if err != nil {
			return false
		}
		payload, err := json.Marshal(map[string]any{"questions": qs})
		if err != nil {
			return false
		}
		if _, err := w.Write([]byte("event: questions\ndata: ")); err != nil {
			return false
		}
		if _, err := w.Write(payload); err != nil {
			return false
		}
		if _, err := w.Write([]byte("\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send() {
		return
	}

	changes, cancel := rt.watch.subscribe()
	defer cancel()
	keepalive := time.NewTicker(25 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-changes:
			if !send() {
				return
			}
		case <-keepalive.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
