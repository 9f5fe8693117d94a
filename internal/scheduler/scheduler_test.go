package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTicker struct {
	ch      chan time.Time
	stopped chan struct{}
}

func (f *fakeTicker) C() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()               { close(f.stopped) }

type fakeClock struct {
	ticker   *fakeTicker
	interval time.Duration
}

func (f *fakeClock) Now() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC) }

func (f *fakeClock) NewTicker(d time.Duration) Ticker {
	f.interval = d
	return f.ticker
}

func newFakeClock() *fakeClock {
	return &fakeClock{ticker: &fakeTicker{ch: make(chan time.Time), stopped: make(chan struct{})}}
}

func waitCall(t *testing.T, calls <-chan int) int {
	t.Helper()
	select {
	case n := <-calls:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("job was not called")
		return 0
	}
}

func TestRunFiresImmediatelyAndOncePerTick(t *testing.T) {
	clock := newFakeClock()
	s := New(5*time.Minute, clock, nil)

	calls := make(chan int, 10)
	count := 0
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx, func(context.Context) error {
			count++
			calls <- count
			return nil
		})
	}()

	assert.Equal(t, 1, waitCall(t, calls), "first run happens before any tick")
	assert.Equal(t, 5*time.Minute, clock.interval)

	for i := 2; i <= 4; i++ {
		clock.ticker.ch <- time.Now()
		assert.Equal(t, i, waitCall(t, calls))
	}
	assert.Empty(t, calls, "no extra runs without ticks")

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	<-clock.ticker.stopped
}

func TestRunSurvivesFailures(t *testing.T) {
	clock := newFakeClock()
	s := New(time.Minute, clock, nil)

	calls := make(chan int, 10)
	n := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() {
		done <- s.Run(ctx, func(context.Context) error {
			n++
			calls <- n
			switch n {
			case 1:
				return errors.New("dtu unreachable")
			case 2:
				panic("boom")
			}
			return nil
		})
	}()

	waitCall(t, calls)
	clock.ticker.ch <- time.Now()
	waitCall(t, calls)
	clock.ticker.ch <- time.Now()
	assert.Equal(t, 3, waitCall(t, calls))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestRunDropsTickDuringOverrun(t *testing.T) {
	clock := newFakeClock()
	// buffered like time.Ticker's channel
	clock.ticker.ch = make(chan time.Time, 1)
	s := New(time.Minute, clock, nil)

	calls := make(chan int, 10)
	release := make(chan struct{})
	n := 0
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error)
	go func() {
		done <- s.Run(ctx, func(context.Context) error {
			n++
			calls <- n
			if n == 1 {
				<-release
			}
			return nil
		})
	}()

	assert.Equal(t, 1, waitCall(t, calls))

	// a tick lands while the first run is still busy
	clock.ticker.ch <- time.Now()
	close(release)

	select {
	case n := <-calls:
		t.Fatalf("run %d started without a fresh tick", n)
	case <-time.After(100 * time.Millisecond):
	}

	clock.ticker.ch <- time.Now()
	assert.Equal(t, 2, waitCall(t, calls))

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
