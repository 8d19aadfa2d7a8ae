package monitoring

import (
	"sync"
	"time"

	control "cruise-ctrl-core/closed_loop/longitudinal_control"
)

// State is a snapshot of the loop as seen by the last update
type State struct {
	Phase          string              `json:"phase"`
	Mode           string              `json:"mode"`
	Diagnostics    control.Diagnostics `json:"diagnostics"`
	LastSample     control.Sample      `json:"last_sample"`
	FramesSent     uint64              `json:"frames_sent"`
	FramesReceived uint64              `json:"frames_received"`
	LastFeedback   time.Time           `json:"last_feedback"`
}

// StateStore shares State between the loop goroutine and HTTP handlers
type StateStore struct {
	mu    sync.RWMutex
	state State
}

func NewStateStore() *StateStore {
	return &StateStore{state: State{Phase: control.PhaseUninitialized.String()}}
}

// Update mutates the state under the write lock
func (s *StateStore) Update(fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Snapshot returns a copy of the state
func (s *StateStore) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}
