package providers

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/rendis/recipe-engine/pkg/schema"
)

// Backoff names how the wait between attempts grows.
type Backoff string

const (
	BackoffConstant    Backoff = "constant"
	BackoffLinear      Backoff = "linear"
	BackoffExponential Backoff = "exponential"
)

// RetryPolicy bounds how often a provider call is repeated.
type RetryPolicy struct {
	// Max is the number of retries after the first attempt.
	Max      int
	Backoff  Backoff
	Delay    time.Duration
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries twice, waiting 2s and then 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Max: 2, Backoff: BackoffExponential, Delay: 2 * time.Second, MaxDelay: 20 * time.Second}
}

// Wait is the pause before retry number attempt, counted from zero.
func (p RetryPolicy) Wait(attempt int) time.Duration {
	if p.Delay <= 0 || attempt < 0 {
		return 0
	}
	d := p.Delay
	switch p.Backoff {
	case BackoffLinear:
		d *= time.Duration(attempt + 1)
	case BackoffExponential:
		for range min(attempt, 30) {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				break
			}
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// transientMarkers are fragments of provider and transport errors that
// usually clear on their own.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"eof",
	"temporary failure",
	"i/o timeout",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"internal server error",
	"too many requests",
	"resource exhausted",
	"overloaded",
}

// IsRetryableError reports whether another attempt at a provider call could
// succeed. A call deadline is worth retrying; cancellation of the run is not.
// Unknown errors are retried and the policy caps the attempts.
func IsRetryableError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, context.Canceled):
		return false
	}
	var engErr *schema.EngineError
	if errors.As(err, &engErr) {
		return engErr.IsRetryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return true
}

// sleep pauses for d or until ctx ends.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Guard runs provider calls behind the per-provider breakers and retries
// the failures worth retrying.
type Guard struct {
	breakers *Breakers
	policy   RetryPolicy
}

// NewGuard creates a Guard. Nil breakers disable fail-fast.
func NewGuard(breakers *Breakers, policy RetryPolicy) *Guard {
	return &Guard{breakers: breakers, policy: policy}
}

// Do calls fn until it succeeds, fails for good or runs out of retries.
// Each attempt asks the breaker for provider first, so a circuit that opens
// midway stops the loop with a circuit-open error.
func (g *Guard) Do(ctx context.Context, provider string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err := g.allow(provider); err != nil {
			return err
		}
		err = fn(ctx)
		g.record(provider, err)
		if err == nil || attempt >= g.policy.Max || !IsRetryableError(err) {
			return err
		}
		if werr := sleep(ctx, g.policy.Wait(attempt)); werr != nil {
			return werr
		}
	}
}

func (g *Guard) allow(provider string) error {
	if g.breakers == nil {
		return nil
	}
	return g.breakers.Allow(provider)
}

// record feeds an outcome to the breaker. Cancellation says nothing about
// the provider and is not counted.
func (g *Guard) record(provider string, err error) {
	switch {
	case g.breakers == nil:
	case err == nil:
		g.breakers.Success(provider)
	case !errors.Is(err, context.Canceled):
		g.breakers.Failure(provider)
	}
}
