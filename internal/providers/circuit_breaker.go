package providers

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// BreakerState is the state of one provider's circuit.
type BreakerState int

const (
	BreakerClosed  BreakerState = iota // calls flow
	BreakerOpen                        // calls fail fast until the cooldown ends
	BreakerProbing                     // a limited number of trial calls decide
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes every provider circuit.
type BreakerConfig struct {
	// Threshold is the number of consecutive failures that opens a circuit.
	Threshold int
	// Cooldown is how long an open circuit rejects calls.
	Cooldown time.Duration
	// Probes is how many trial calls a probing circuit lets through.
	Probes int
}

// DefaultBreakerConfig opens after five straight failures for 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second, Probes: 1}
}

// BreakerStatus is a point-in-time view of one circuit.
type BreakerStatus struct {
	Provider  string       `json:"provider"`
	State     BreakerState `json:"-"`
	StateName string       `json:"state"`
	Failures  int          `json:"consecutive_failures"`
	OpenUntil time.Time    `json:"open_until,omitzero"`
}

type breaker struct {
	state    BreakerState
	failures int
	openedAt time.Time
	probes   int
}

// Breakers keeps one circuit per provider key, such as "gemini" or
// "wavespeed", so a failing video host does not block image generation on
// another provider. Keys may carry a ":suffix" naming the operation.
type Breakers struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	circuits map[string]*breaker
	onChange func(provider string, from, to BreakerState)
}

// NewBreakers creates an empty set of circuits.
func NewBreakers(cfg BreakerConfig) *Breakers {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breakers{cfg: cfg, now: time.Now, circuits: make(map[string]*breaker)}
}

// OnChange registers fn to be called, outside the lock, whenever a circuit
// changes state.
func (b *Breakers) OnChange(fn func(provider string, from, to BreakerState)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = fn
}

// Allow returns a CIRCUIT_OPEN error when provider must not be called now.
// An open circuit whose cooldown has ended admits the call as a probe.
func (b *Breakers) Allow(provider string) error {
	b.mu.Lock()
	c := b.circuit(provider)
	from := c.state
	var err error
	switch c.state {
	case BreakerOpen:
		if wait := b.cfg.Cooldown - b.now().Sub(c.openedAt); wait > 0 {
			err = schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"%s is unavailable after %d failures; retry in %s",
				providerName(provider), c.failures, wait.Round(time.Second)).
				WithDetails(map[string]any{"provider": provider, "retry_in": wait.String()})
			break
		}
		c.state, c.probes = BreakerProbing, 1
	case BreakerProbing:
		if c.probes >= b.cfg.Probes {
			err = schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"%s is being probed; try again shortly", providerName(provider)).
				WithDetails(map[string]any{"provider": provider})
			break
		}
		c.probes++
	}
	to := c.state
	fn := b.onChange
	b.mu.Unlock()
	notify(fn, provider, from, to)
	return err
}

// Success closes the provider's circuit.
func (b *Breakers) Success(provider string) {
	b.mu.Lock()
	c := b.circuit(provider)
	from := c.state
	*c = breaker{state: BreakerClosed}
	fn := b.onChange
	b.mu.Unlock()
	notify(fn, provider, from, BreakerClosed)
}

// Failure counts a failed call and returns the resulting state. Any failure
// while probing reopens the circuit.
func (b *Breakers) Failure(provider string) BreakerState {
	b.mu.Lock()
	c := b.circuit(provider)
	from := c.state
	c.failures++
	if c.state == BreakerProbing || c.failures >= b.cfg.Threshold {
		c.state = BreakerOpen
		c.openedAt = b.now()
		c.probes = 0
	}
	to := c.state
	fn := b.onChange
	b.mu.Unlock()
	notify(fn, provider, from, to)
	return to
}

// State returns the provider's state without admitting a call.
func (b *Breakers) State(provider string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.circuits[provider]
	if !ok {
		return BreakerClosed
	}
	return c.state
}

// Snapshot lists every known circuit sorted by provider.
func (b *Breakers) Snapshot() []BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BreakerStatus, 0, len(b.circuits))
	for provider, c := range b.circuits {
		st := BreakerStatus{Provider: provider, State: c.state, StateName: c.state.String(), Failures: c.failures}
		if c.state == BreakerOpen {
			st.OpenUntil = c.openedAt.Add(b.cfg.Cooldown)
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b BreakerStatus) int { return strings.Compare(a.Provider, b.Provider) })
	return out
}

// circuit must be called with b.mu held.
func (b *Breakers) circuit(provider string) *breaker {
	c, ok := b.circuits[provider]
	if !ok {
		c = &breaker{}
		b.circuits[provider] = c
	}
	return c
}

func notify(fn func(string, BreakerState, BreakerState), provider string, from, to BreakerState) {
	if fn != nil && from != to {
		fn(provider, from, to)
	}
}

// providerName is the part of a breaker key before the colon.
func providerName(key string) string {
	name, _, _ := strings.Cut(key, ":")
	return name
}
