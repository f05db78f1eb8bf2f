package live

import (
	"sync"

	"github.com/MikeSquared-Agency/orator/internal/deck"
)

// Snapshot is one live view of a generation run, pushed to subscribers
// after every parsed chunk. Each snapshot is a complete view, not a diff.
type Snapshot struct {
	RunID          string       `json:"run_id"`
	Status         string       `json:"status"`
	BatchIndex     int          `json:"batch_index"`
	SlideCount     int          `json:"slide_count"`
	Slides         []deck.Slide `json:"slides"`
	InProgressHTML string       `json:"in_progress_html"`
	Error          string       `json:"error,omitempty"`
}

const subscriberBuffer = 32

// Hub fans run snapshots out to subscribers. A slow subscriber drops
// snapshots rather than block the generation loop; a dropped snapshot is
// superseded by the next one.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan Snapshot]struct{}
	last map[string]Snapshot
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[string]map[chan Snapshot]struct{}),
		last: make(map[string]Snapshot),
	}
}

// Subscribe registers for a run's snapshots. A subscriber joining mid-run
// immediately receives the latest snapshot. The returned cancel must be
// called when the subscriber goes away.
func (h *Hub) Subscribe(runID string) (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	h.mu.Lock()
	if h.subs[runID] == nil {
		h.subs[runID] = make(map[chan Snapshot]struct{})
	}
	h.subs[runID][ch] = struct{}{}
	snap, ok := h.last[runID]
	h.mu.Unlock()

	if ok {
		ch <- snap
	}

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[runID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, runID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast pushes a snapshot to every subscriber of its run and caches it
// for late joiners.
func (h *Hub) Broadcast(snap Snapshot) {
	h.mu.Lock()
	h.last[snap.RunID] = snap
	targets := make([]chan Snapshot, 0, len(h.subs[snap.RunID]))
	for ch := range h.subs[snap.RunID] {
		targets = append(targets, ch)
	}
	h.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Forget drops a run's cached snapshot once the run is over and its
// terminal snapshot has been broadcast.
func (h *Hub) Forget(runID string) {
	h.mu.Lock()
	delete(h.last, runID)
	h.mu.Unlock()
}
