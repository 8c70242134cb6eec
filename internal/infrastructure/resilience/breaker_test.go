package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRemote = errors.New("remote unreachable")

func runSequence(b *Breaker, outcomes []bool) {
	for _, success := range outcomes {
		_, _ = b.Execute(func() (interface{}, error) {
			if success {
				return "ok", nil
			}
			return nil, errRemote
		})
	}
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		outcomes []bool
		want     State
	}{
		{
			name:     "stays closed on successes",
			settings: Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute},
			outcomes: []bool{true, true, true},
			want:     StateClosed,
		},
		{
			name: "opens once the trip condition holds",
			settings: Settings{
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 3
				},
			},
			outcomes: []bool{false, false, false},
			want:     StateOpen,
		},
		{
			name: "a success resets the consecutive failure count",
			settings: Settings{
				MaxRequests: 1,
				Interval:    time.Minute,
				Timeout:     time.Minute,
				ReadyToTrip: func(counts Counts) bool {
					return counts.ConsecutiveFailures >= 3
				},
			},
			outcomes: []bool{false, false, true, false, false},
			want:     StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("catalog", tt.settings)
			runSequence(breaker, tt.outcomes)
			assert.Equal(t, tt.want, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("catalog", Settings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute})

	_, err := breaker.Execute(func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)

	counts := breaker.Counts()
	assert.Equal(t, uint32(1), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.ConsecutiveSuccesses)
	assert.Equal(t, uint32(0), counts.TotalFailures)

	_, err = breaker.Execute(func() (interface{}, error) {
		return nil, errRemote
	})
	assert.Error(t, err)

	counts = breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
	assert.Equal(t, uint32(0), counts.ConsecutiveSuccesses)
}

func TestBreakerOpenRejectsImmediately(t *testing.T) {
	breaker := New("catalog", Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	runSequence(breaker, []bool{false, false})
	assert.Equal(t, StateOpen, breaker.State())

	called := false
	_, err := breaker.Execute(func() (interface{}, error) {
		called = true
		return "ok", nil
	})
	assert.Equal(t, ErrCircuitOpen, err)
	assert.False(t, called, "open breaker must not invoke the request")
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	breaker := New("catalog", Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     50 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	runSequence(breaker, []bool{false, false})
	assert.Equal(t, StateOpen, breaker.State())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	for i := 0; i < 2; i++ {
		_, err := breaker.Execute(func() (interface{}, error) {
			return "ok", nil
		})
		require.NoError(t, err)
	}
	assert.Equal(t, StateClosed, breaker.State())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	breaker := New("catalog", Settings{
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	runSequence(breaker, []bool{false, false})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	runSequence(breaker, []bool{false})
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerStateChangeCallback(t *testing.T) {
	var transitions []string

	breaker := New("catalog", Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(counts Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	runSequence(breaker, []bool{false, false})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, breaker.State())

	assert.Contains(t, transitions, "closed->open")
	assert.Contains(t, transitions, "open->half-open")
}
