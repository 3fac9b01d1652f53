// Package actuator implements the transducers that accept a commanded
// output: the random test stub, PLC analog/PWM pins and Modbus-addressed
// devices. An actuator owns its controller and caches the last commanded
// value so that only changes reach the physical transport.
package actuator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/control"
	"github.com/asaldivar93/reactors-czlab/errcode"
	"github.com/asaldivar93/reactors-czlab/sensor"
	"github.com/asaldivar93/reactors-czlab/timer"
	"github.com/asaldivar93/reactors-czlab/types"
)

// Actuator is a transducer that accepts a commanded numeric output.
type Actuator interface {
	ID() string
	Info() *types.PhysicalInfo
	Controller() control.Controller
	// SetControlConfig replaces the controller unless the new one
	// compares equal to the current one, in which case nothing changes.
	SetControlConfig(cfg types.ControlConfig) error
	// SetReferenceSensor binds the sensor the controller evaluates
	// against and swaps the actuator onto that sensor's timer. A nil
	// sensor restores the reactor base timer.
	SetReferenceSensor(s sensor.Sensor)
	ReferenceSensor() sensor.Sensor
	// WriteOutput recomputes the output from the actuator's own
	// reference at its timer's cadence.
	WriteOutput(ctx context.Context) error
	// WriteOutputFrom evaluates the controller against the given
	// reference, as the scheduler does when applying a pairing.
	WriteOutputFrom(ctx context.Context, ref control.Reference) error
	// Write pushes a value to the transport, skipping no-op writes.
	Write(ctx context.Context, value float64) error
	// LastValue returns the last commanded output (the external
	// curr_value mirror); the sentinel before any write.
	LastValue() float64
}

// writeFunc is the transport-specific write of a variant.
type writeFunc func(ctx context.Context, value float64) error

type base struct {
	id      string
	info    *types.PhysicalInfo
	factory control.Factory
	push    writeFunc
	log     zerolog.Logger

	mu        sync.Mutex
	ctrl      control.Controller
	ref       sensor.Sensor
	baseTimer *timer.Timer
	tmr       *timer.Timer
	tok       timer.Token
	hasTok    bool
	due       bool
}

func newBase(id string, info *types.PhysicalInfo, baseTimer *timer.Timer, factory control.Factory, push writeFunc, log zerolog.Logger) *base {
	b := &base{
		id:        id,
		info:      info,
		factory:   factory,
		push:      push,
		log:       log.With().Str("actuator", id).Logger(),
		baseTimer: baseTimer,
		due:       true,
	}
	b.attach(baseTimer)
	// The factory default: an open-loop zero output.
	_ = b.SetControlConfig(types.ControlConfig{Method: types.Manual, Value: 0})
	return b
}

func (b *base) ID() string                { return b.id }
func (b *base) Info() *types.PhysicalInfo { return b.info }

func (b *base) Controller() control.Controller {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctrl
}

func (b *base) ReferenceSensor() sensor.Sensor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ref
}

// attach subscribes the actuator to a timer, detaching it from the
// previous one first.
func (b *base) attach(t *timer.Timer) {
	if b.hasTok && b.tmr != nil {
		b.tmr.Remove(b.tok)
	}
	b.tmr = t
	if t != nil {
		b.tok = t.Add(timer.Actuators, func() {
			b.mu.Lock()
			b.due = true
			b.mu.Unlock()
		})
		b.hasTok = true
	} else {
		b.hasTok = false
	}
}

func (b *base) SetControlConfig(cfg types.ControlConfig) error {
	next, err := b.factory.Create(cfg)
	if err != nil {
		b.log.Warn().Err(err).Interface("config", cfg).Msg("control config rejected")
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctrl != nil && b.ctrl.Equal(next) {
		return nil
	}
	b.ctrl = next
	b.due = true
	b.log.Info().Str("controller", next.Describe()).Msg("control config updated")
	return nil
}

func (b *base) SetReferenceSensor(s sensor.Sensor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ref = s
	if s == nil {
		b.attach(b.baseTimer)
		return
	}
	b.attach(s.Timer())
}

// sensorRef adapts a sensor's first channel to the controller view.
type sensorRef struct {
	s sensor.Sensor
}

func (r sensorRef) Variable() float64 {
	return r.s.Channels()[0].Value()
}

func (r sensorRef) Elapsed() time.Duration {
	return r.s.Timer().Elapsed()
}

func (b *base) WriteOutput(ctx context.Context) error {
	b.mu.Lock()
	if !b.due {
		last := b.lastLocked()
		b.mu.Unlock()
		return b.Write(ctx, last)
	}
	b.due = false
	ctrl := b.ctrl
	var ref control.Reference
	if b.ref != nil {
		ref = sensorRef{s: b.ref}
	}
	b.mu.Unlock()
	return b.apply(ctx, ctrl, ref)
}

func (b *base) WriteOutputFrom(ctx context.Context, ref control.Reference) error {
	b.mu.Lock()
	ctrl := b.ctrl
	b.mu.Unlock()
	return b.apply(ctx, ctrl, ref)
}

func (b *base) apply(ctx context.Context, ctrl control.Controller, ref control.Reference) error {
	out, err := ctrl.Output(ref)
	if err != nil {
		if errcode.Of(err) == errcode.MissingReference {
			b.log.Warn().Msg("no reference sensor set, writing 0")
		} else {
			b.log.Error().Err(err).Msg("controller evaluation failed, writing 0")
		}
		return b.Write(ctx, 0)
	}
	return b.Write(ctx, out)
}

func (b *base) lastLocked() float64 {
	return b.info.Channels[0].Value()
}

// Write is gated by the cached last value: only changes propagate to
// the transport. Transport failures are logged, never fatal.
func (b *base) Write(ctx context.Context, value float64) error {
	ch := b.info.Channels[0]
	if ch.Valid() && ch.Value() == value {
		return nil
	}
	ch.SetValue(value)
	if err := b.push(ctx, value); err != nil {
		b.log.Error().Err(err).Float64("value", value).Msg("transport write failed")
	}
	return nil
}

func (b *base) LastValue() float64 {
	return b.info.Channels[0].Value()
}
