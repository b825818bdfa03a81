package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func run(b *Breaker, ok bool) error {
	_, err := Execute(b, func() (string, error) {
		if ok {
			return "ok", nil
		}
		return "", errBoom
	})
	return err
}

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
		requests []bool // true = success
		expected State
	}{
		{
			name:     "stays closed on successes",
			settings: Settings{Interval: time.Minute, Timeout: time.Minute},
			requests: []bool{true, true, true},
			expected: StateClosed,
		},
		{
			name: "opens after consecutive failures",
			settings: Settings{
				Interval: time.Minute,
				Timeout:  time.Minute,
				ReadyToTrip: func(c Counts) bool {
					return c.ConsecutiveFailures >= 3
				},
			},
			requests: []bool{false, false, false},
			expected: StateOpen,
		},
		{
			name: "success resets the failure streak",
			settings: Settings{
				Interval: time.Minute,
				Timeout:  time.Minute,
				ReadyToTrip: func(c Counts) bool {
					return c.ConsecutiveFailures >= 2
				},
			},
			requests: []bool{false, true, false},
			expected: StateClosed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("test", tt.settings)
			for _, ok := range tt.requests {
				_ = run(b, ok)
			}
			assert.Equal(t, tt.expected, b.State())
		})
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := New("test", Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	require.ErrorIs(t, run(b, false), errBoom)
	assert.ErrorIs(t, run(b, true), ErrCircuitOpen)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	var transitions []string
	b := New("origin", Settings{
		MaxRequests: 1,
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})

	_ = run(b, false)
	require.Equal(t, StateOpen, b.State())

	time.Sleep(40 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State())

	require.NoError(t, run(b, true))
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, transitions)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New("origin", Settings{
		Timeout:     20 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	_ = run(b, false)
	time.Sleep(40 * time.Millisecond)

	_ = run(b, false)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerIsSuccessful(t *testing.T) {
	errNotFound := errors.New("not found")
	b := New("test", Settings{
		ReadyToTrip:  func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errNotFound) },
	})

	_, err := Execute(b, func() (int, error) { return 0, errNotFound })
	require.ErrorIs(t, err, errNotFound)
	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, uint32(1), b.Counts().TotalSuccesses)
}

func TestBreakerCounts(t *testing.T) {
	b := New("test", Settings{Interval: time.Minute})

	_ = run(b, true)
	_ = run(b, true)
	_ = run(b, false)

	counts := b.Counts()
	assert.Equal(t, uint32(3), counts.Requests)
	assert.Equal(t, uint32(2), counts.TotalSuccesses)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	b := New("test", Settings{})

	assert.Panics(t, func() {
		_, _ = Execute(b, func() (int, error) { panic("bad") })
	})
	assert.Equal(t, uint32(1), b.Counts().TotalFailures)
}

func TestGroupIsolatesKeys(t *testing.T) {
	g := NewGroup(Settings{
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	_ = run(g.Get("a.example"), false)

	assert.Same(t, g.Get("a.example"), g.Get("a.example"))
	assert.Equal(t, StateOpen, g.Get("a.example").State())
	assert.Equal(t, StateClosed, g.Get("b.example").State())

	states := g.States()
	assert.Len(t, states, 2)
	assert.Equal(t, StateOpen, states["a.example"])
}

func TestGroupConcurrentGet(t *testing.T) {
	g := NewGroup(Settings{})
	var wg sync.WaitGroup
	got := make([]*Breaker, 16)

	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = g.Get("shared")
		}(i)
	}
	wg.Wait()

	for _, b := range got {
		assert.Same(t, got[0], b)
	}
}
