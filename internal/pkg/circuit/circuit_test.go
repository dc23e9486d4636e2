package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOpensAfterThresholdFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, time.Minute)
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.CurrentState())
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.CurrentState())
	assert.False(t, cb.Allow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Minute)
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestHalfOpenProbeAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	assert.False(t, cb.Allow())

	time.Sleep(15 * time.Millisecond)
	// 超时后放行一次试探
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.CurrentState())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.CurrentState())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.CurrentState())
	assert.False(t, cb.Allow())
}

func TestStateChangeHandler(t *testing.T) {
	cb := NewCircuitBreaker("backend", 1, time.Minute)
	var mu sync.Mutex
	var transitions []string
	done := make(chan struct{})
	cb.SetStateChangeHandler(func(name string, from, to State) {
		mu.Lock()
		transitions = append(transitions, from.String()+"->"+to.String())
		mu.Unlock()
		close(done)
	})

	cb.RecordFailure()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("state change handler not invoked")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"CLOSED->OPEN"}, transitions)
}
