package engine

import (
	"sync"

	"github.com/omarbizkit/ai-trading-system-sub002/internal/run"
)

// eventHub fans executed trades out to per-run subscribers so clients
// can stream a run instead of polling the trade list.
type eventHub struct {
	mu   sync.Mutex
	subs map[string]map[chan run.Trade]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[string]map[chan run.Trade]struct{})}
}

func (h *eventHub) subscribe(runID string) chan run.Trade {
	ch := make(chan run.Trade, 16)
	h.mu.Lock()
	set, ok := h.subs[runID]
	if !ok {
		set = make(map[chan run.Trade]struct{})
		h.subs[runID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *eventHub) unsubscribe(runID string, ch chan run.Trade) {
	h.mu.Lock()
	if set, ok := h.subs[runID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(h.subs, runID)
		}
	}
	h.mu.Unlock()
	close(ch)
}

// publish never blocks the tick loop: a subscriber that is not keeping
// up loses events rather than stalling the run.
func (h *eventHub) publish(t run.Trade) {
	h.mu.Lock()
	for ch := range h.subs[t.RunID] {
		select {
		case ch <- t:
		default:
		}
	}
	h.mu.Unlock()
}

// SubscribeTrades returns a channel of the run's executed trades. The
// caller must release it with UnsubscribeTrades.
func (s *Simulator) SubscribeTrades(runID string) chan run.Trade {
	return s.events.subscribe(runID)
}

func (s *Simulator) UnsubscribeTrades(runID string, ch chan run.Trade) {
	s.events.unsubscribe(runID, ch)
}
