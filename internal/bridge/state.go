package bridge

import (
	"context"
	"sync"

	"pierrebridge/pkg/logging"
)

// ConnectionState describes the bridge's relationship to the backend.
type ConnectionState string

const (
	// StateDisconnected means no usable backend session exists.
	StateDisconnected ConnectionState = "disconnected"

	// StateConnecting means a connection attempt is in flight. Tool
	// listing blocks (bounded) until the attempt resolves.
	StateConnecting ConnectionState = "connecting"

	// StateConnected means the backend session is live.
	StateConnected ConnectionState = "connected"

	// StateDegraded means the session failed mid-use. One refresh is
	// attempted before falling back to disconnected.
	StateDegraded ConnectionState = "degraded"
)

// stateMachine guards connection state transitions and exposes a gate
// that readers can wait on while an attempt is in flight.
type stateMachine struct {
	mu    sync.Mutex
	state ConnectionState
	gate  chan struct{}
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateDisconnected}
}

// Current returns the current state.
func (s *stateMachine) Current() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginConnecting transitions to connecting and opens the gate. Returns
// false when an attempt is already in flight.
func (s *stateMachine) BeginConnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateConnecting {
		return false
	}
	s.transitionLocked(StateConnecting)
	s.gate = make(chan struct{})
	return true
}

// FinishConnecting resolves the in-flight attempt and releases anyone
// waiting on the gate.
func (s *stateMachine) FinishConnecting(result ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(result)
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
}

// Set transitions directly. Used for connected -> degraded ->
// disconnected transitions outside a connect attempt.
func (s *stateMachine) Set(state ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitionLocked(state)
}

func (s *stateMachine) transitionLocked(next ConnectionState) {
	if s.state == next {
		return
	}
	logging.Debug("Bridge", "Connection state %s -> %s", s.state, next)
	s.state = next
}

// AwaitSettled blocks while a connect attempt is in flight, returning
// when the attempt resolves or ctx expires. In any other state it
// returns immediately.
func (s *stateMachine) AwaitSettled(ctx context.Context) ConnectionState {
	s.mu.Lock()
	gate := s.gate
	state := s.state
	s.mu.Unlock()

	if state != StateConnecting || gate == nil {
		return state
	}

	select {
	case <-gate:
	case <-ctx.Done():
	}
	return s.Current()
}
