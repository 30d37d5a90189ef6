// Package resilience provides the rolling-window circuit breaker guarding
// calls into dev-mode containers.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"karavan/pkg/logging"
)

const breakerSubsystem = "CircuitBreaker"

// ErrCircuitOpen is returned without invoking the call while a breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int

const (
	// StateClosed lets every call through and records its outcome.
	StateClosed CircuitBreakerState = iota
	// StateOpen rejects calls until the delay has elapsed.
	StateOpen
	// StateHalfOpen admits a single trial call.
	StateHalfOpen
)

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config defines the behaviour of a circuit breaker.
type Config struct {
	// RequestVolumeThreshold is the size of the rolling window. The breaker
	// never opens before the window is full.
	RequestVolumeThreshold int `yaml:"requestVolumeThreshold"`

	// FailureRatio opens the breaker when failures/window reaches it.
	FailureRatio float64 `yaml:"failureRatio"`

	// Delay is how long the breaker stays open before a trial call.
	Delay time.Duration `yaml:"delay"`
}

// DefaultConfig returns the breaker settings used for reload calls.
func DefaultConfig() Config {
	return Config{
		RequestVolumeThreshold: 10,
		FailureRatio:           0.5,
		Delay:                  time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RequestVolumeThreshold <= 0 {
		c.RequestVolumeThreshold = d.RequestVolumeThreshold
	}
	if c.FailureRatio <= 0 {
		c.FailureRatio = d.FailureRatio
	}
	if c.Delay <= 0 {
		c.Delay = d.Delay
	}
	return c
}

// Metrics contains counters for a circuit breaker.
type Metrics struct {
	SuccessCount         uint64
	FailureCount         uint64
	RejectedCount        uint64
	StateTransitionCount uint64
	CurrentState         CircuitBreakerState
	LastStateChange      time.Time
}

// CircuitBreaker implements the circuit breaker pattern over a rolling
// window of the most recent call outcomes.
type CircuitBreaker struct {
	name   string
	config Config
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitBreakerState
	window   []bool // true means failure
	next     int
	filled   int
	openedAt time.Time
	trial    bool
	metrics  Metrics
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config Config) *CircuitBreaker {
	return newCircuitBreaker(name, config, time.Now)
}

func newCircuitBreaker(name string, config Config, now func() time.Time) *CircuitBreaker {
	config = config.withDefaults()
	return &CircuitBreaker{
		name:    name,
		config:  config,
		now:     now,
		window:  make([]bool, config.RequestVolumeThreshold),
		metrics: Metrics{CurrentState: StateClosed, LastStateChange: now()},
	}
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Execute runs fn if the breaker admits it and records the outcome. A
// rejected call returns ErrCircuitOpen and fn is not invoked.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	cb.record(err == nil)
	return err
}

// State returns the current state, moving an expired open breaker to
// half-open.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeHalfOpen()
	return cb.state
}

// Metrics returns a snapshot of the counters.
func (cb *CircuitBreaker) Metrics() Metrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.metrics
}

// Reset closes the breaker and clears the window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
	cb.clear()
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.maybeHalfOpen()
	switch cb.state {
	case StateOpen:
		cb.metrics.RejectedCount++
		return false
	case StateHalfOpen:
		if cb.trial {
			cb.metrics.RejectedCount++
			return false
		}
		cb.trial = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.metrics.SuccessCount++
	} else {
		cb.metrics.FailureCount++
	}

	switch cb.state {
	case StateHalfOpen:
		cb.trial = false
		if success {
			cb.transition(StateClosed)
			cb.clear()
			return
		}
		cb.open()
	case StateClosed:
		cb.window[cb.next] = !success
		cb.next = (cb.next + 1) % len(cb.window)
		if cb.filled < len(cb.window) {
			cb.filled++
		}
		if cb.filled == len(cb.window) && cb.failureRatio() >= cb.config.FailureRatio {
			cb.open()
		}
	}
	// Outcomes of calls admitted before the breaker opened are counted but
	// do not affect the window.
}

func (cb *CircuitBreaker) failureRatio() float64 {
	failures := 0
	for _, failed := range cb.window {
		if failed {
			failures++
		}
	}
	return float64(failures) / float64(len(cb.window))
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.now()
	cb.transition(StateOpen)
}

func (cb *CircuitBreaker) maybeHalfOpen() {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.config.Delay {
		cb.trial = false
		cb.transition(StateHalfOpen)
	}
}

func (cb *CircuitBreaker) clear() {
	for i := range cb.window {
		cb.window[i] = false
	}
	cb.next = 0
	cb.filled = 0
	cb.trial = false
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitBreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.metrics.CurrentState = to
	cb.metrics.LastStateChange = cb.now()
	cb.metrics.StateTransitionCount++

	if to == StateOpen {
		logging.Warn(breakerSubsystem, "Breaker %s %s -> %s", cb.name, from, to)
	} else {
		logging.Info(breakerSubsystem, "Breaker %s %s -> %s", cb.name, from, to)
	}
}

// Registry hands out one breaker per name, all sharing a configuration.
type Registry struct {
	config Config
	now    func() time.Time

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config) *Registry {
	return &Registry{
		config:   config.withDefaults(),
		now:      time.Now,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it on first use.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	cb, ok := r.breakers[name]
	if !ok {
		cb = newCircuitBreaker(name, r.config, r.now)
		r.breakers[name] = cb
	}
	return cb
}

// States reports the state of every known breaker.
func (r *Registry) States() map[string]CircuitBreakerState {
	r.mu.Lock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mu.Unlock()

	states := make(map[string]CircuitBreakerState, len(breakers))
	for _, cb := range breakers {
		states[cb.name] = cb.State()
	}
	return states
}
