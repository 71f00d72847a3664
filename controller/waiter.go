package controller

import (
	"sync"

	"github.com/kawaiiTaiga/project-SABA/observation"
)

// Waiter correlates observations with pending commands by request id.
type Waiter struct {
	mu      sync.Mutex
	pending map[string]chan observation.Observation
}

// NewWaiter creates an empty waiter.
func NewWaiter() *Waiter {
	return &Waiter{pending: make(map[string]chan observation.Observation)}
}

// Register returns the channel the observation for requestID will be
// delivered on. The channel receives at most one value.
func (w *Waiter) Register(requestID string) <-chan observation.Observation {
	ch := make(chan observation.Observation, 1)
	w.mu.Lock()
	w.pending[requestID] = ch
	w.mu.Unlock()
	return ch
}

// Resolve delivers obs to the waiter registered for its request id and
// reports whether one was pending. It never blocks.
func (w *Waiter) Resolve(obs observation.Observation) bool {
	if obs.RequestID == "" {
		return false
	}
	w.mu.Lock()
	ch, ok := w.pending[obs.RequestID]
	delete(w.pending, obs.RequestID)
	w.mu.Unlock()
	if !ok {
		return false
	}
	ch <- obs
	return true
}

// Cancel forgets requestID.
func (w *Waiter) Cancel(requestID string) {
	w.mu.Lock()
	delete(w.pending, requestID)
	w.mu.Unlock()
}

// Pending returns the number of outstanding requests.
func (w *Waiter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
