package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFSMHappyPathLifecycle(t *testing.T) {
	state := StateDisconnected
	for _, step := range []struct {
		event Event
		want  State
	}{
		{EventStart, StateConnecting},
		{EventDialOK, StateOpen},
		{EventOpenOK, StateRegistered},
		{EventActivated, StateActive},
		{EventStop, StateClosing},
		{EventStop, StateDisconnected},
	} {
		result := ApplyEvent(state, step.event)
		assert.Equal(t, step.want, result.NewState)
		state = result.NewState
	}
}

func TestFSMIOErrorCollapsesToDisconnectedFromAnyState(t *testing.T) {
	for _, s := range []State{StateConnecting, StateOpen, StateRegistered, StateActive} {
		result := ApplyEvent(s, EventIOError)
		assert.Equal(t, StateDisconnected, result.NewState, "from %s", s)
	}
}

func TestFSMUnlistedTransitionIsNoop(t *testing.T) {
	result := ApplyEvent(StateDisconnected, EventActivated)
	assert.False(t, result.Changed)
	assert.Equal(t, StateDisconnected, result.NewState)
}

func TestBackoffStaysWithinJitterBounds(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		base := backoffBase * time.Duration(uint64(1)<<uint(min(attempt, maxBackoffShift)))
		if base > backoffCap {
			base = backoffCap
		}
		lo := time.Duration(float64(base) * 0.75)
		hi := time.Duration(float64(base) * 1.25)
		for i := 0; i < 20; i++ {
			d := backoff(attempt)
			assert.GreaterOrEqual(t, d, lo)
			assert.LessOrEqual(t, d, hi)
		}
	}
}
