package providers

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/recipe-engine/pkg/schema"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreakers(cfg BreakerConfig) (*Breakers, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	b := NewBreakers(cfg)
	b.now = clock.Now
	return b, clock
}

func TestBreakers_UnknownProviderIsClosed(t *testing.T) {
	b := NewBreakers(DefaultBreakerConfig())
	assert.NoError(t, b.Allow("gemini"))
	assert.Equal(t, BreakerClosed, b.State("gemini"))
	assert.Equal(t, BreakerClosed, b.State("never-called"))
}

func TestBreakers_OpensAtThresholdAndFailsFast(t *testing.T) {
	b, clock := newTestBreakers(BreakerConfig{Threshold: 3, Cooldown: 30 * time.Second, Probes: 1})

	assert.Equal(t, BreakerClosed, b.Failure("kie"))
	assert.Equal(t, BreakerClosed, b.Failure("kie"))
	assert.Equal(t, BreakerOpen, b.Failure("kie"))

	clock.Advance(10 * time.Second)
	err := b.Allow("kie")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeCircuitOpen))
	assert.Contains(t, err.Error(), "kie is unavailable after 3 failures; retry in 20s")
}

func TestBreakers_SuccessResetsCount(t *testing.T) {
	b, _ := newTestBreakers(BreakerConfig{Threshold: 2, Cooldown: time.Minute})

	b.Failure("wavespeed")
	b.Success("wavespeed")
	assert.Equal(t, BreakerClosed, b.Failure("wavespeed"))
	assert.Equal(t, BreakerOpen, b.Failure("wavespeed"))
}

func TestBreakers_ProbeAfterCooldown(t *testing.T) {
	b, clock := newTestBreakers(BreakerConfig{Threshold: 1, Cooldown: time.Minute, Probes: 1})
	b.Failure("higgsfield")

	clock.Advance(time.Minute)
	require.NoError(t, b.Allow("higgsfield"), "first call after cooldown is a probe")
	assert.Equal(t, BreakerProbing, b.State("higgsfield"))

	err := b.Allow("higgsfield")
	assert.True(t, schema.IsCode(err, schema.ErrCodeCircuitOpen), "only one probe at a time")

	b.Success("higgsfield")
	assert.Equal(t, BreakerClosed, b.State("higgsfield"))
	assert.NoError(t, b.Allow("higgsfield"))
}

func TestBreakers_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreakers(BreakerConfig{Threshold: 5, Cooldown: time.Minute, Probes: 2})
	for range 5 {
		b.Failure("openai")
	}
	clock.Advance(time.Minute)
	require.NoError(t, b.Allow("openai"))
	require.NoError(t, b.Allow("openai"))

	assert.Equal(t, BreakerOpen, b.Failure("openai"))
	assert.Error(t, b.Allow("openai"))
}

func TestBreakers_ProvidersAreIsolated(t *testing.T) {
	b, _ := newTestBreakers(BreakerConfig{Threshold: 1, Cooldown: time.Minute})
	b.Failure("kie")

	assert.Error(t, b.Allow("kie"))
	assert.NoError(t, b.Allow("gemini"))
}

func TestBreakers_OnChange(t *testing.T) {
	b, clock := newTestBreakers(BreakerConfig{Threshold: 1, Cooldown: time.Minute})
	var changes []string
	b.OnChange(func(provider string, from, to BreakerState) {
		changes = append(changes, provider+":"+from.String()+"->"+to.String())
	})

	b.Success("gemini")
	b.Failure("gemini")
	b.Failure("gemini")
	clock.Advance(time.Minute)
	require.NoError(t, b.Allow("gemini"))
	b.Success("gemini")

	assert.Equal(t, []string{
		"gemini:closed->open",
		"gemini:open->probing",
		"gemini:probing->closed",
	}, changes)
}

func TestBreakers_Snapshot(t *testing.T) {
	b, clock := newTestBreakers(BreakerConfig{Threshold: 1, Cooldown: time.Minute})
	b.Success("wavespeed")
	b.Failure("kie")

	snap := b.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "kie", snap[0].Provider)
	assert.Equal(t, "open", snap[0].StateName)
	assert.Equal(t, 1, snap[0].Failures)
	assert.Equal(t, clock.Now().Add(time.Minute), snap[0].OpenUntil)
	assert.Equal(t, "wavespeed", snap[1].Provider)
	assert.True(t, snap[1].OpenUntil.IsZero())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "probing", BreakerProbing.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}

func TestProviderName(t *testing.T) {
	assert.Equal(t, "gemini", providerName("gemini:text"))
	assert.Equal(t, "kie", providerName("kie"))
}
