package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduler_Poll(t *testing.T) {
	s := NewScheduler()
	var fast, slow []time.Time
	s.Every("fast", 100*time.Millisecond, func(_ context.Context, now time.Time) { fast = append(fast, now) })
	s.Every("slow", time.Second, func(_ context.Context, now time.Time) { slow = append(slow, now) })

	ctx := context.Background()
	start := time.Unix(1000, 0)

	assert.Equal(t, 2, s.Poll(ctx, start), "every timer fires on the first poll")
	assert.Equal(t, 0, s.Poll(ctx, start.Add(99*time.Millisecond)))
	assert.Equal(t, 1, s.Poll(ctx, start.Add(100*time.Millisecond)))
	assert.Equal(t, 2, s.Poll(ctx, start.Add(time.Second)))

	assert.Len(t, fast, 3)
	assert.Len(t, slow, 2)
}

func TestScheduler_Reset(t *testing.T) {
	s := NewScheduler()
	runs := 0
	s.Every("status", 10*time.Second, func(context.Context, time.Time) { runs++ })

	ctx := context.Background()
	start := time.Unix(0, 0)
	s.Reset("status", start)

	assert.Equal(t, 0, s.Poll(ctx, start.Add(5*time.Second)))
	assert.Equal(t, 1, s.Poll(ctx, start.Add(10*time.Second)))
	assert.Equal(t, 1, runs)

	// Unknown names are ignored.
	s.Reset("missing", start)
}

func TestScheduler_TaskMayReset(t *testing.T) {
	s := NewScheduler()
	announce := 0
	s.Every("connect", time.Second, func(_ context.Context, now time.Time) { s.Reset("announce", now) })
	s.Every("announce", time.Minute, func(context.Context, time.Time) { announce++ })

	s.Poll(context.Background(), time.Unix(0, 0))
	assert.Equal(t, 0, announce)
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := NewScheduler()
	ticks := make(chan struct{}, 100)
	s.Every("tick", time.Millisecond, func(context.Context, time.Time) {
		select {
		case ticks <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Millisecond, time.Now)
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(ticks) >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
