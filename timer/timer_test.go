package timer

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

func newTest(interval time.Duration) (*Timer, *clock.Mock) {
	mock := clock.NewMock()
	return New(interval, mock, zerolog.Nop()), mock
}

func TestTickFiresOnlyAfterInterval(t *testing.T) {
	tm, mock := newTest(time.Second)
	fired := 0
	tm.Add(Generic, func() { fired++ })

	if tm.Tick() {
		t.Fatal("fired with no time elapsed")
	}
	mock.Add(500 * time.Millisecond)
	if tm.Tick() {
		t.Fatal("fired inside interval")
	}
	mock.Add(600 * time.Millisecond)
	if !tm.Tick() {
		t.Fatal("did not fire after interval elapsed")
	}
	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}
}

func TestTickIdempotentWithinInterval(t *testing.T) {
	tm, mock := newTest(time.Second)
	fired := 0
	tm.Add(Generic, func() { fired++ })

	mock.Add(1100 * time.Millisecond)
	tm.Tick()
	// Second call inside the fresh interval must not fire again.
	tm.Tick()
	if fired != 1 {
		t.Fatalf("fired %d times within one interval, want 1", fired)
	}
}

func TestSubscriberOrdering(t *testing.T) {
	tm, mock := newTest(time.Second)
	var order []string
	tm.Add(Generic, func() { order = append(order, "generic") })
	tm.Add(Actuators, func() { order = append(order, "actuator") })
	tm.Add(Sensors, func() { order = append(order, "sensor0") })
	tm.Add(Sensors, func() { order = append(order, "sensor1") })

	mock.Add(2 * time.Second)
	tm.Tick()

	want := []string{"sensor0", "sensor1", "actuator", "generic"}
	if len(order) != len(want) {
		t.Fatalf("got %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestSetIntervalResetsClock(t *testing.T) {
	tm, mock := newTest(time.Second)
	fired := 0
	tm.Add(Generic, func() { fired++ })

	mock.Add(900 * time.Millisecond)
	tm.SetInterval(2 * time.Second)
	// The old accumulation is discarded: not even the original interval
	// fires now.
	mock.Add(1100 * time.Millisecond)
	if tm.Tick() {
		t.Fatal("fired before one full new interval")
	}
	mock.Add(time.Second)
	if !tm.Tick() {
		t.Fatal("did not fire after full new interval")
	}
}

func TestElapsedTracksMeasurement(t *testing.T) {
	tm, mock := newTest(time.Second)
	mock.Add(1500 * time.Millisecond)
	tm.Tick()
	if got := tm.Elapsed(); got != 1500*time.Millisecond {
		t.Fatalf("elapsed = %v, want 1.5s", got)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	tm, mock := newTest(time.Second)
	fired := 0
	tok := tm.Add(Generic, func() { fired++ })
	tm.Remove(tok)
	tm.Remove(tok) // must not panic or disturb others

	stay := 0
	tm.Add(Generic, func() { stay++ })
	mock.Add(2 * time.Second)
	tm.Tick()
	if fired != 0 || stay != 1 {
		t.Fatalf("fired=%d stay=%d", fired, stay)
	}
}

func TestTickCtxSeparateClock(t *testing.T) {
	tm, mock := newTest(time.Second)
	sync, async := 0, 0
	tm.Add(Generic, func() { sync++ })
	tm.AddCtx(Generic, func(context.Context) error { async++; return nil })

	mock.Add(1100 * time.Millisecond)
	if !tm.Tick() {
		t.Fatal("sync side did not fire")
	}
	// The ctx side keeps its own last-fire and still sees the full
	// elapsed time.
	if fired, err := tm.TickCtx(context.Background()); !fired || err != nil {
		t.Fatalf("ctx side fired=%v err=%v", fired, err)
	}
	if sync != 1 || async != 1 {
		t.Fatalf("sync=%d async=%d", sync, async)
	}
}
