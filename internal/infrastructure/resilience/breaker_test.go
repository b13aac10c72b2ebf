package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSpawn = errors.New("spawn failed")

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func succeed() (string, error) { return "ok", nil }
func fail() (string, error)    { return "", errSpawn }

func TestBreakerStateTransitions(t *testing.T) {
	tests := []struct {
		name          string
		requests      []bool // true = success, false = failure
		expectedState State
	}{
		{name: "stays closed on successes", requests: []bool{true, true, true}, expectedState: StateClosed},
		{name: "stays closed below threshold", requests: []bool{false, false}, expectedState: StateClosed},
		{name: "success resets the streak", requests: []bool{false, false, true, false, false}, expectedState: StateClosed},
		{name: "opens after consecutive failures", requests: []bool{false, false, false}, expectedState: StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			breaker := New("python", Settings{Failures: 3, Cooldown: time.Minute})

			for _, success := range tt.requests {
				fn := fail
				if success {
					fn = succeed
				}
				_, _ = Do(breaker, fn)
			}

			assert.Equal(t, tt.expectedState, breaker.State())
		})
	}
}

func TestBreakerCounts(t *testing.T) {
	breaker := New("python", Settings{Failures: 5})

	_, err := Do(breaker, succeed)
	require.NoError(t, err)
	_, err = Do(breaker, fail)
	assert.ErrorIs(t, err, errSpawn)

	counts := breaker.Counts()
	assert.Equal(t, uint32(2), counts.Requests)
	assert.Equal(t, uint32(1), counts.TotalFailures)
	assert.Equal(t, uint32(1), counts.ConsecutiveFailures)
}

func TestBreakerOpenRefusesWithoutCalling(t *testing.T) {
	clock := newClock()
	breaker := New("python", Settings{Failures: 2, Cooldown: 30 * time.Second, Now: clock.Now})

	for i := 0; i < 2; i++ {
		_, _ = Do(breaker, fail)
	}
	require.Equal(t, StateOpen, breaker.State())

	called := false
	_, err := Do(breaker, func() (string, error) {
		called = true
		return "ok", nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	clock.Advance(29 * time.Second)
	assert.Equal(t, StateOpen, breaker.State())
}

func TestBreakerHalfOpen(t *testing.T) {
	t.Run("probe success closes", func(t *testing.T) {
		clock := newClock()
		breaker := New("python", Settings{Failures: 1, Cooldown: time.Second, Now: clock.Now})

		_, _ = Do(breaker, fail)
		clock.Advance(time.Second)
		assert.Equal(t, StateHalfOpen, breaker.State())

		_, err := Do(breaker, succeed)
		require.NoError(t, err)
		assert.Equal(t, StateClosed, breaker.State())
	})

	t.Run("probe failure reopens", func(t *testing.T) {
		clock := newClock()
		breaker := New("python", Settings{Failures: 3, Cooldown: time.Second, Now: clock.Now})

		for i := 0; i < 3; i++ {
			_, _ = Do(breaker, fail)
		}
		clock.Advance(time.Second)

		_, err := Do(breaker, fail)
		assert.ErrorIs(t, err, errSpawn)
		assert.Equal(t, StateOpen, breaker.State())
	})

	t.Run("one probe at a time", func(t *testing.T) {
		clock := newClock()
		breaker := New("python", Settings{Failures: 1, Cooldown: time.Second, Now: clock.Now})

		_, _ = Do(breaker, fail)
		clock.Advance(time.Second)

		release := make(chan struct{})
		probing := make(chan struct{})
		go func() {
			_, _ = Do(breaker, func() (string, error) {
				close(probing)
				<-release
				return "ok", nil
			})
		}()
		<-probing

		_, err := Do(breaker, succeed)
		assert.ErrorIs(t, err, ErrCircuitOpen)

		close(release)
		require.Eventually(t, func() bool { return breaker.State() == StateClosed }, time.Second, time.Millisecond)
	})
}

func TestBreakerCallbacks(t *testing.T) {
	var (
		mu          sync.Mutex
		transitions []string
	)
	clock := newClock()

	breaker := New("python", Settings{
		Failures: 2,
		Cooldown: 10 * time.Second,
		Now:      clock.Now,
		OnStateChange: func(name string, from State, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		_, _ = Do(breaker, fail)
	}
	clock.Advance(10 * time.Second)
	_, _ = Do(breaker, succeed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"python:closed->open",
		"python:open->half-open",
		"python:half-open->closed",
	}, transitions)
}

func TestGroup(t *testing.T) {
	group := NewGroup(Settings{Failures: 1, Cooldown: time.Minute})

	python := group.Get("python")
	assert.Same(t, python, group.Get("python"))

	_, _ = Do(python, fail)
	_, err := Do(group.Get("typescript"), succeed)
	require.NoError(t, err)

	assert.Equal(t, map[string]State{
		"python":     StateOpen,
		"typescript": StateClosed,
	}, group.States())
}
