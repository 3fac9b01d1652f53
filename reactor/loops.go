package reactor

import (
	"context"
	"time"

	"github.com/asaldivar93/reactors-czlab/actuator"
	"github.com/asaldivar93/reactors-czlab/control"
	"github.com/asaldivar93/reactors-czlab/timer"
	"github.com/asaldivar93/reactors-czlab/types"
)

// FastPeriod is the cadence at which unpaired PWM outputs are
// re-asserted.
const FastPeriod = 100 * time.Millisecond

// pairRef adapts one sensor channel to the controller view used when a
// pairing is applied: the channel's held value and the sensor timer's
// measured period.
type pairRef struct {
	ch  *types.Channel
	tmr *timer.Timer
}

func (p pairRef) Variable() float64      { return p.ch.Value() }
func (p pairRef) Elapsed() time.Duration { return p.tmr.Elapsed() }

// appliedPair is the snapshot the slow loop works from after releasing
// the state lock: writes to digital actuators block on the bus and the
// lock is never held across them.
type appliedPair struct {
	act actuator.Actuator
	ref control.Reference
}

// Tick runs one slow-loop body: sample every sensor, apply every
// pairing in sensor insertion order, then drive the remaining unpaired
// slow actuators to zero. The pairing table is read under the state
// lock once sampling is done: mutations landing while sensors are
// sampled apply in this tick, and mutations landing after that snapshot
// are observed on the next tick.
func (r *Reactor) Tick(ctx context.Context) {
	// 1. Sample. Each driver takes its own bus lock.
	for _, s := range r.sensors.All() {
		if err := s.Read(ctx); err != nil {
			r.log.Warn().Err(err).Str("sensor", s.ID()).Msg("sensor read failed")
		}
	}
	r.baseTimer.Tick()

	// 2. Snapshot the table under the lock; the bus writes run after
	// release.
	var applied []appliedPair
	covered := map[string]struct{}{}
	r.mu.Lock()
	for _, s := range r.sensors.All() {
		for _, p := range r.pairings[s.ID()] {
			a, ok := r.actuators.Get(p.ActuatorID)
			if !ok {
				continue
			}
			covered[p.ActuatorID] = struct{}{}
			chans := s.Channels()
			if p.Channel < 0 || p.Channel >= len(chans) {
				r.log.Warn().Str("sensor", s.ID()).Int("channel", p.Channel).Msg("pairing channel out of range, skipped")
				continue
			}
			applied = append(applied, appliedPair{
				act: a,
				ref: pairRef{ch: chans[p.Channel], tmr: s.Timer()},
			})
		}
	}
	// 3'. Collect the unpaired slow actuators while still under the
	// lock.
	var zeroed []actuator.Actuator
	for _, a := range r.actuators.All() {
		if _, isFast := r.fast[a.ID()]; isFast {
			continue
		}
		if _, isCovered := covered[a.ID()]; isCovered {
			continue
		}
		zeroed = append(zeroed, a)
	}
	r.mu.Unlock()

	for _, p := range applied {
		if err := p.act.WriteOutputFrom(ctx, p.ref); err != nil {
			r.log.Warn().Err(err).Str("actuator", p.act.ID()).Msg("pairing write failed")
		}
	}
	// 3. The safe default for unbound slow devices.
	for _, a := range zeroed {
		if err := a.Write(ctx, 0); err != nil {
			r.log.Warn().Err(err).Str("actuator", a.ID()).Msg("zeroing write failed")
		}
	}
}

// RunSlow drives Tick at the reactor period with drift-free pacing.
func (r *Reactor) RunSlow(ctx context.Context) {
	prior := r.clk.Now()
	for {
		r.Tick(ctx)
		prior = prior.Add(r.period)
		wait := prior.Sub(r.clk.Now())
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-r.clk.After(wait):
		}
	}
}

// FastTick re-asserts every actuator currently in the fast partition.
func (r *Reactor) FastTick(ctx context.Context) {
	r.mu.Lock()
	var acts []actuator.Actuator
	for id := range r.fast {
		if a, ok := r.actuators.Get(id); ok {
			acts = append(acts, a)
		}
	}
	r.mu.Unlock()

	r.pwmMu.Lock()
	defer r.pwmMu.Unlock()
	for _, a := range acts {
		if err := a.WriteOutput(ctx); err != nil {
			r.log.Warn().Err(err).Str("actuator", a.ID()).Msg("fast write failed")
		}
	}
}

// RunFast drives FastTick every FastPeriod.
func (r *Reactor) RunFast(ctx context.Context) {
	t := r.clk.Ticker(FastPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.FastTick(ctx)
		}
	}
}

// Stop issues a zero write to every actuator; part of the graceful
// shutdown path.
func (r *Reactor) Stop(ctx context.Context) {
	for _, a := range r.actuators.All() {
		if err := a.Write(ctx, 0); err != nil {
			r.log.Warn().Err(err).Str("actuator", a.ID()).Msg("stop write failed")
		}
	}
	r.SetState(StateOff)
}
