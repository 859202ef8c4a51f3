package mqtt311

import (
	"errors"
	"fmt"
	"sync"
)

// ConnectionState represents the lifecycle state of a client connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateReconnecting
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

var ErrInvalidStateTransition = errors.New("invalid connection state transition")

// legalTransitions defines which state changes are allowed. Anything
// not listed is a programming error surfaced as ErrInvalidStateTransition.
var legalTransitions = map[ConnectionState][]ConnectionState{
	StateDisconnected:  {StateConnecting},
	StateConnecting:    {StateConnected, StateDisconnected, StateReconnecting},
	StateConnected:     {StateDisconnecting, StateReconnecting, StateDisconnected},
	StateDisconnecting: {StateDisconnected},
	StateReconnecting:  {StateConnecting, StateDisconnected},
}

// stateMachine guards connection state changes. All transitions go
// through Transition so illegal ones are caught instead of silently
// corrupting the lifecycle.
type stateMachine struct {
	mu    sync.RWMutex
	state ConnectionState
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: StateDisconnected}
}

// Current returns the current state.
func (m *stateMachine) Current() ConnectionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Is returns true if the current state equals s.
func (m *stateMachine) Is(s ConnectionState) bool {
	return m.Current() == s
}

// Transition moves to the target state if the transition is legal.
func (m *stateMachine) Transition(to ConnectionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range legalTransitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, m.state, to)
}

// TransitionFrom moves to the target state only if currently in from.
// Returns false without error when the current state differs, so
// concurrent shutdown paths can race safely.
func (m *stateMachine) TransitionFrom(from, to ConnectionState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != from {
		return false, nil
	}
	for _, allowed := range legalTransitions[from] {
		if allowed == to {
			m.state = to
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
}
