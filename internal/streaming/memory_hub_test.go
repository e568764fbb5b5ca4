package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan StreamEvent) StreamEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return StreamEvent{}
}

func assertQuiet(t *testing.T, ch <-chan StreamEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventFilter_Matches(t *testing.T) {
	ev := StreamEvent{RunID: "run-1", UserID: "user-1", EventType: "run_progress"}
	tests := []struct {
		name   string
		filter EventFilter
		want   bool
	}{
		{"empty", EventFilter{}, true},
		{"same run", EventFilter{RunID: "run-1"}, true},
		{"other run", EventFilter{RunID: "run-2"}, false},
		{"same user", EventFilter{UserID: "user-1"}, true},
		{"other user", EventFilter{UserID: "user-2"}, false},
		{"listed type", EventFilter{EventTypes: []string{"run_failed", "run_progress"}}, true},
		{"unlisted type", EventFilter{EventTypes: []string{"run_failed"}}, false},
		{"all criteria", EventFilter{RunID: "run-1", UserID: "user-1", EventTypes: []string{"run_progress"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(ev))
		})
	}
}

func TestPublish_DeliversToMatchingRunOnly(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-2", EventType: "run_started"}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{
		RunID:     "run-1",
		UserID:    "user-1",
		Recipe:    "image-creator",
		EventType: "run_progress",
		Payload:   map[string]any{"steps_completed": 1},
	}))

	got := receive(t, ch)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "image-creator", got.Recipe)
	assert.Equal(t, map[string]any{"steps_completed": 1}, got.Payload)
	assertQuiet(t, ch)
}

func TestPublish_StampsMissingTimestamp(t *testing.T) {
	hub := NewMemoryHub()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hub.now = func() time.Time { return fixed }
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: "run_created"}))
	assert.Equal(t, fixed, receive(t, ch).Timestamp)

	earlier := fixed.Add(-time.Hour)
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: "run_started", Timestamp: earlier}))
	assert.Equal(t, earlier, receive(t, ch).Timestamp)
}

func TestPublish_FansOutToEverySubscriber(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	byRun, cancel1, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel1()
	byUser, cancel2, err := hub.Subscribe(ctx, EventFilter{UserID: "user-1"})
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", UserID: "user-1", EventType: "run_completed"}))
	assert.Equal(t, "run_completed", receive(t, byRun).EventType)
	assert.Equal(t, "run_completed", receive(t, byUser).EventType)
	assert.Equal(t, 2, hub.Subscribers())
}

func TestPublish_CancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, hub.Publish(ctx, StreamEvent{RunID: "run-1"}), context.Canceled)
}

func TestSubscribe_CancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCancel_ClosesChannelOnce(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers())

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1"}))
}

func TestSlowSubscriberDropsAndCounts(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: "run_progress"}))
	}
	assert.Equal(t, uint64(10), hub.Dropped())
	assert.Len(t, ch, subscriberBuffer)
}

func TestClose_EndsStreamsAndRefusesSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)

	hub.Close()
	hub.Close()
	_, ok := <-ch
	assert.False(t, ok)
	cancel()

	_, _, err = hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, ErrHubClosed)
	assert.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1"}))
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: "run_progress"})
			}
		}()
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
			if err != nil {
				return
			}
			for range 3 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, hub.Subscribers())
}
