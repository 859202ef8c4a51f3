package mqtt311

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateDisconnecting, "disconnecting"},
		{StateReconnecting, "reconnecting"},
		{ConnectionState(99), "unknown(99)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestStateMachineTransition(t *testing.T) {
	tests := []struct {
		name string
		path []ConnectionState
	}{
		{
			name: "connect and clean disconnect",
			path: []ConnectionState{StateConnecting, StateConnected, StateDisconnecting, StateDisconnected},
		},
		{
			name: "connect failure",
			path: []ConnectionState{StateConnecting, StateDisconnected},
		},
		{
			name: "connection lost then reconnect",
			path: []ConnectionState{StateConnecting, StateConnected, StateReconnecting, StateConnecting, StateConnected},
		},
		{
			name: "reconnect given up",
			path: []ConnectionState{StateConnecting, StateConnected, StateReconnecting, StateDisconnected},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newStateMachine()
			assert.Equal(t, StateDisconnected, m.Current())

			for _, to := range tt.path {
				require.NoError(t, m.Transition(to))
				assert.True(t, m.Is(to))
			}
		})
	}
}

func TestStateMachineIllegalTransition(t *testing.T) {
	tests := []struct {
		name string
		path []ConnectionState
		to   ConnectionState
	}{
		{name: "disconnected to connected", to: StateConnected},
		{name: "disconnected to disconnecting", to: StateDisconnecting},
		{
			name: "connecting to disconnecting",
			path: []ConnectionState{StateConnecting},
			to:   StateDisconnecting,
		},
		{
			name: "disconnecting to connecting",
			path: []ConnectionState{StateConnecting, StateConnected, StateDisconnecting},
			to:   StateConnecting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newStateMachine()
			for _, to := range tt.path {
				require.NoError(t, m.Transition(to))
			}

			before := m.Current()
			err := m.Transition(tt.to)
			assert.ErrorIs(t, err, ErrInvalidStateTransition)
			assert.Equal(t, before, m.Current())
		})
	}
}

func TestStateMachineTransitionFrom(t *testing.T) {
	m := newStateMachine()
	require.NoError(t, m.Transition(StateConnecting))
	require.NoError(t, m.Transition(StateConnected))

	// Wrong source state is not an error, just a no-op
	ok, err := m.TransitionFrom(StateConnecting, StateConnected)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateConnected, m.Current())

	ok, err = m.TransitionFrom(StateConnected, StateReconnecting)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateReconnecting, m.Current())

	// Matching source but illegal target is an error
	ok, err = m.TransitionFrom(StateReconnecting, StateConnected)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	assert.False(t, ok)
}
