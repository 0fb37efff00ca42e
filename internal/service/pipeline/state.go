// Package pipeline drives an upload through extraction, remote submission and
// polling, and announces every step on the progress broadcaster.
package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"meeting-insight-service/internal/models"
)

// State is the lifecycle state of one pipeline.
type State int

const (
	// StateReceived - upload validated and stored.
	StateReceived State = iota
	// StateExtracting - audio extraction running.
	StateExtracting
	// StateExtracted - audio ready, waiting for the process request.
	StateExtracted
	// StateSubmitting - job submission in flight.
	StateSubmitting
	// StatePolling - remote job accepted, polling its status.
	StatePolling
	// StateCompleted - result fetched and stored.
	StateCompleted
	// StateFailed - any stage failed. Terminal.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateExtracting:
		return "EXTRACTING"
	case StateExtracted:
		return "EXTRACTED"
	case StateSubmitting:
		return "SUBMITTING"
	case StatePolling:
		return "POLLING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true for COMPLETED and FAILED.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Errors for invalid state transitions.
var (
	ErrTerminal          = errors.New("pipeline is in a terminal state")
	ErrInvalidTransition = errors.New("invalid pipeline transition")
)

// next lists the only forward step allowed from each non-terminal state.
var next = map[State]State{
	StateReceived:   StateExtracting,
	StateExtracting: StateExtracted,
	StateExtracted:  StateSubmitting,
	StateSubmitting: StatePolling,
	StatePolling:    StateCompleted,
}

// Lifecycle is the state machine for one pipeline. Thread-safe.
//
// State transitions:
//
//	RECEIVED → EXTRACTING → EXTRACTED → SUBMITTING → POLLING → COMPLETED
//	    │           │            │            │          │
//	    └───────────┴────────────┴────────────┴──────────┴──→ FAILED
type Lifecycle struct {
	mu      sync.RWMutex
	assetId string
	state   State
	remote  models.RemoteStatus
	err     string
}

// NewLifecycle creates a lifecycle in RECEIVED state.
func NewLifecycle(assetId string) *Lifecycle {
	return &Lifecycle{
		assetId: assetId,
		state:   StateReceived,
	}
}

// AssetId returns the id of the asset the pipeline was started for.
func (l *Lifecycle) AssetId() string {
	return l.assetId
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Err returns the failure message, if any.
func (l *Lifecycle) Err() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Transition moves to the given state. Only the single forward step out of
// the current state is allowed.
func (l *Lifecycle) Transition(to State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state.IsTerminal() {
		return ErrTerminal
	}
	if next[l.state] != to {
		return fmt.Errorf("%w: %v → %v", ErrInvalidTransition, l.state, to)
	}
	l.state = to
	return nil
}

// Fail moves to FAILED. Returns false if already terminal.
func (l *Lifecycle) Fail(message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = StateFailed
	l.err = message
	return true
}

// RemoteStatus returns the last remote status seen.
func (l *Lifecycle) RemoteStatus() models.RemoteStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.remote
}

// Advance records a remote status. Remote status only moves forward; a stale
// or repeated status is ignored and Advance returns false.
func (l *Lifecycle) Advance(status models.RemoteStatus) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remote.IsTerminal() || status <= l.remote {
		return false
	}
	l.remote = status
	return true
}
