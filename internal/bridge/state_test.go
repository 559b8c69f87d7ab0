package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateMachineTransitions(t *testing.T) {
	sm := newStateMachine()
	assert.Equal(t, StateDisconnected, sm.Current())

	require.True(t, sm.BeginConnecting())
	assert.Equal(t, StateConnecting, sm.Current())

	// A second attempt while one is in flight is refused.
	assert.False(t, sm.BeginConnecting())

	sm.FinishConnecting(StateConnected)
	assert.Equal(t, StateConnected, sm.Current())

	sm.Set(StateDegraded)
	assert.Equal(t, StateDegraded, sm.Current())
	sm.Set(StateDisconnected)
	assert.Equal(t, StateDisconnected, sm.Current())
}

func TestAwaitSettledBlocksDuringConnect(t *testing.T) {
	sm := newStateMachine()
	require.True(t, sm.BeginConnecting())

	done := make(chan ConnectionState, 1)
	go func() {
		done <- sm.AwaitSettled(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("AwaitSettled returned before the attempt resolved")
	case <-time.After(50 * time.Millisecond):
	}

	sm.FinishConnecting(StateConnected)

	select {
	case state := <-done:
		assert.Equal(t, StateConnected, state)
	case <-time.After(time.Second):
		t.Fatal("AwaitSettled did not release after FinishConnecting")
	}
}

func TestAwaitSettledReturnsImmediatelyWhenSettled(t *testing.T) {
	sm := newStateMachine()
	assert.Equal(t, StateDisconnected, sm.AwaitSettled(context.Background()))

	sm.Set(StateConnected)
	assert.Equal(t, StateConnected, sm.AwaitSettled(context.Background()))
}

func TestAwaitSettledHonorsContext(t *testing.T) {
	sm := newStateMachine()
	require.True(t, sm.BeginConnecting())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	state := sm.AwaitSettled(ctx)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateConnecting, state, "still connecting when the wait gave up")

	sm.FinishConnecting(StateDisconnected)
}
