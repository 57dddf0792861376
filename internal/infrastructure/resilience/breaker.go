package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/clock"
	"github.com/GriffinCanCode/ThingHost/backend/internal/shared/errors"
)

// ErrCircuitOpen is returned by Do while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's position.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

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

// Settings configures a Breaker. Zero fields take defaults.
type Settings struct {
	// Threshold is the number of consecutive failures that opens the breaker.
	Threshold int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
	// Probes is the number of successful half-open calls that close it.
	Probes int
	// OnStateChange is called outside the breaker's lock.
	OnStateChange func(name string, from, to State)
}

// Breaker is a consecutive-failure circuit breaker.
type Breaker struct {
	name     string
	settings Settings
	clock    clock.Clock

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	inflight  int
	openedAt  time.Time
}

// New creates a closed breaker.
func New(name string, settings Settings) *Breaker {
	if settings.Threshold <= 0 {
		settings.Threshold = 5
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = 30 * time.Second
	}
	if settings.Probes <= 0 {
		settings.Probes = 1
	}
	return &Breaker{name: name, settings: settings, clock: clock.Real()}
}

// WithClock replaces the breaker's time source.
func (b *Breaker) WithClock(c clock.Clock) *Breaker {
	b.clock = c
	return b
}

func (b *Breaker) Name() string { return b.name }

// State returns the current state, moving Open to HalfOpen once the
// cooldown has passed.
func (b *Breaker) State() State {
	b.mu.Lock()
	state, change := b.advanceLocked()
	b.mu.Unlock()
	b.notify(change)
	return state
}

// Do runs fn unless the breaker is open. In half-open state at most
// Probes calls run concurrently.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	state, change := b.advanceLocked()
	if state == StateOpen || (state == StateHalfOpen && b.inflight >= b.settings.Probes) {
		b.mu.Unlock()
		b.notify(change)
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	b.inflight++
	b.mu.Unlock()
	b.notify(change)

	err := fn()

	b.mu.Lock()
	b.inflight--
	if err == nil {
		change = b.succeedLocked()
	} else {
		change = b.failLocked()
	}
	b.mu.Unlock()
	b.notify(change)
	return err
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	change := b.setLocked(StateClosed)
	b.mu.Unlock()
	b.notify(change)
}

type transition struct {
	from, to State
	changed  bool
}

func (b *Breaker) advanceLocked() (State, transition) {
	if b.state == StateOpen && !b.clock.Now().Before(b.openedAt.Add(b.settings.Cooldown)) {
		return StateHalfOpen, b.setLocked(StateHalfOpen)
	}
	return b.state, transition{}
}

func (b *Breaker) succeedLocked() transition {
	b.failures = 0
	if b.state != StateHalfOpen {
		return transition{}
	}
	b.successes++
	if b.successes >= b.settings.Probes {
		return b.setLocked(StateClosed)
	}
	return transition{}
}

func (b *Breaker) failLocked() transition {
	b.successes = 0
	b.failures++
	if b.state == StateHalfOpen || (b.state == StateClosed && b.failures >= b.settings.Threshold) {
		return b.setLocked(StateOpen)
	}
	return transition{}
}

func (b *Breaker) setLocked(to State) transition {
	from := b.state
	if from == to {
		return transition{}
	}
	b.state = to
	b.failures, b.successes = 0, 0
	if to == StateOpen {
		b.openedAt = b.clock.Now()
	}
	return transition{from: from, to: to, changed: true}
}

func (b *Breaker) notify(t transition) {
	if t.changed && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, t.from, t.to)
	}
}
