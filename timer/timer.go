// Package timer implements the elapsed-clock subscription point that
// decouples per-sensor sampling cadence from the reactor loop cadence.
package timer

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Group orders subscriber notification: sensors fire first, then
// actuators, then generic subscribers, each group in insertion order.
type Group uint8

const (
	Sensors Group = iota
	Actuators
	Generic
	groupCount
)

// Token identifies a subscription. Removing a token that was already
// removed (or never issued) is logged and otherwise ignored.
type Token uint64

// Callback is a synchronous subscriber.
type Callback func()

// CtxCallback is a subscriber that may do bus I/O under a context.
type CtxCallback func(ctx context.Context) error

type entry struct {
	tok Token
	fn  Callback
}

type ctxEntry struct {
	tok Token
	fn  CtxCallback
}

// Timer fires its subscribers whenever more than one interval has
// elapsed since the last fire. The synchronous and context-aware sides
// keep separate last-fire instants so that a loop that only ever calls
// TickCtx is not starved by a caller of Tick and vice versa.
type Timer struct {
	clk clock.Clock
	log zerolog.Logger

	mu          sync.Mutex
	interval    time.Duration
	lastFire    time.Time
	ctxLastFire time.Time
	elapsed     time.Duration
	nextTok     Token
	groups      [groupCount][]entry
	ctxGroups   [groupCount][]ctxEntry
}

// New builds a timer with the given interval. A nil clock falls back to
// the wall clock.
func New(interval time.Duration, clk clock.Clock, log zerolog.Logger) *Timer {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	return &Timer{
		clk:         clk,
		log:         log,
		interval:    interval,
		lastFire:    now,
		ctxLastFire: now,
		nextTok:     1,
	}
}

// Interval returns the current interval.
func (t *Timer) Interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// SetInterval replaces the interval and resets both last-fire instants,
// so the next fire is one full new interval away.
func (t *Timer) SetInterval(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clk.Now()
	t.interval = d
	t.lastFire = now
	t.ctxLastFire = now
}

// Elapsed returns the elapsed time measured at the most recent tick.
// The PID controller reads this as its effective sample period.
func (t *Timer) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

// Add registers a synchronous subscriber in the given group and returns
// its token.
func (t *Timer) Add(g Group, fn Callback) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok := t.nextTok
	t.nextTok++
	t.groups[g] = append(t.groups[g], entry{tok: tok, fn: fn})
	return tok
}

// AddCtx registers a context-aware subscriber in the given group.
func (t *Timer) AddCtx(g Group, fn CtxCallback) Token {
	t.mu.Lock()
	defer t.mu.Unlock()
	tok := t.nextTok
	t.nextTok++
	t.ctxGroups[g] = append(t.ctxGroups[g], ctxEntry{tok: tok, fn: fn})
	return tok
}

// Remove drops a subscription. Removal is idempotent: a token that is
// not present is logged at error level and otherwise ignored.
func (t *Timer) Remove(tok Token) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for g := range t.groups {
		for i, e := range t.groups[g] {
			if e.tok == tok {
				t.groups[g] = append(t.groups[g][:i], t.groups[g][i+1:]...)
				return
			}
		}
	}
	for g := range t.ctxGroups {
		for i, e := range t.ctxGroups[g] {
			if e.tok == tok {
				t.ctxGroups[g] = append(t.ctxGroups[g][:i], t.ctxGroups[g][i+1:]...)
				return
			}
		}
	}
	t.log.Error().Uint64("token", uint64(tok)).Msg("remove of unknown timer subscriber")
}

// Tick fires the synchronous subscribers if the interval has elapsed.
// It returns true when the timer fired.
func (t *Timer) Tick() bool {
	t.mu.Lock()
	now := t.clk.Now()
	elapsed := now.Sub(t.lastFire)
	t.elapsed = elapsed
	if elapsed <= t.interval {
		t.mu.Unlock()
		return false
	}
	t.lastFire = now
	var fns []Callback
	for g := Group(0); g < groupCount; g++ {
		for _, e := range t.groups[g] {
			fns = append(fns, e.fn)
		}
	}
	t.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
	return true
}

// TickCtx fires the context-aware subscribers if the interval has
// elapsed on the context-side clock. Subscriber errors are logged and
// do not stop the remaining callbacks; the first error is returned.
func (t *Timer) TickCtx(ctx context.Context) (bool, error) {
	t.mu.Lock()
	now := t.clk.Now()
	elapsed := now.Sub(t.ctxLastFire)
	t.elapsed = elapsed
	if elapsed <= t.interval {
		t.mu.Unlock()
		return false, nil
	}
	t.ctxLastFire = now
	var fns []CtxCallback
	for g := Group(0); g < groupCount; g++ {
		for _, e := range t.ctxGroups[g] {
			fns = append(fns, e.fn)
		}
	}
	t.mu.Unlock()
	var first error
	for _, fn := range fns {
		if err := fn(ctx); err != nil {
			t.log.Warn().Err(err).Msg("timer subscriber failed")
			if first == nil {
				first = err
			}
		}
	}
	return true, first
}
