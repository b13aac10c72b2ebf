package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without calling through while a breaker is open
// or its half-open probe is in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear by name in JSON
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Settings configures a breaker
type Settings struct {
	// Failures is the number of consecutive failures that opens the breaker
	Failures uint32
	// Cooldown is how long the breaker stays open before letting one probe
	// call through
	Cooldown time.Duration
	// OnStateChange is called, outside the breaker lock, on every transition
	OnStateChange func(name string, from, to State)
	// Now overrides time.Now
	Now func() time.Time
}

func (s Settings) withDefaults() Settings {
	if s.Failures == 0 {
		s.Failures = 5
	}
	if s.Cooldown <= 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

// Counts holds the statistics for the current state
type Counts struct {
	Requests            uint32
	TotalFailures       uint32
	ConsecutiveFailures uint32
}

// Breaker implements the circuit breaker pattern. It never retries; it only
// refuses calls while open.
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool
}

// New creates a new circuit breaker with the given settings
func New(name string, settings Settings) *Breaker {
	return &Breaker{
		name:     name,
		settings: settings.withDefaults(),
		state:    StateClosed,
	}
}

// Name returns the name of the circuit breaker
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	state, transition := b.currentState(b.settings.Now())
	b.mu.Unlock()

	b.notify(transition)
	return state
}

// Counts returns a copy of the internal counts
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.counts
}

// Do runs fn if the breaker accepts the call and records its outcome.
func Do[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := b.before(); err != nil {
		return zero, err
	}

	success := false
	defer func() {
		b.after(success)
	}()

	result, err := fn()
	success = err == nil
	return result, err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	state, transition := b.currentState(b.settings.Now())

	var err error
	switch {
	case state == StateOpen:
		err = ErrCircuitOpen
	case state == StateHalfOpen && b.probing:
		err = ErrCircuitOpen
	case state == StateHalfOpen:
		b.probing = true
		b.counts.Requests++
	default:
		b.counts.Requests++
	}
	b.mu.Unlock()

	b.notify(transition)
	return err
}

func (b *Breaker) after(success bool) {
	b.mu.Lock()
	now := b.settings.Now()
	state, _ := b.currentState(now)

	var transition *stateChange
	if success {
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			transition = b.setState(StateClosed, now)
		}
	} else {
		b.counts.TotalFailures++
		b.counts.ConsecutiveFailures++
		if state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.settings.Failures {
			transition = b.setState(StateOpen, now)
		}
	}
	b.mu.Unlock()

	b.notify(transition)
}

type stateChange struct {
	from, to State
}

// currentState moves an expired open breaker to half-open
func (b *Breaker) currentState(now time.Time) (State, *stateChange) {
	if b.state == StateOpen && !now.Before(b.openedAt.Add(b.settings.Cooldown)) {
		return StateHalfOpen, b.setState(StateHalfOpen, now)
	}
	return b.state, nil
}

func (b *Breaker) setState(state State, now time.Time) *stateChange {
	if b.state == state {
		return nil
	}

	prev := b.state
	b.state = state
	b.counts = Counts{}
	b.probing = false
	if state == StateOpen {
		b.openedAt = now
	}
	return &stateChange{from: prev, to: state}
}

func (b *Breaker) notify(change *stateChange) {
	if change != nil && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, change.from, change.to)
	}
}
