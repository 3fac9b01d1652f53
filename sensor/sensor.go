// Package sensor implements the transducers that produce values:
// the random test stub, PLC analog inputs, Hamilton digital probes and
// the I²C spectral biomass sensor.
package sensor

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/timer"
	"github.com/asaldivar93/reactors-czlab/types"
)

// Sensor is a transducer that produces values. Every sensor exposes at
// least one channel; its sample interval drives its own timer with the
// sensor as the single sampling subscriber.
type Sensor interface {
	ID() string
	Info() *types.PhysicalInfo
	Channels() []*types.Channel
	Timer() *timer.Timer
	// Read samples the sensor if its interval has elapsed. Drivers are
	// responsible for their own bus locking. Transport faults are
	// absorbed: the channels go to the unread sentinel and the
	// scheduler keeps running.
	Read(ctx context.Context) error
}

// base carries the state shared by all variants.
type base struct {
	id   string
	info *types.PhysicalInfo
	tmr  *timer.Timer
	due  atomic.Bool
	log  zerolog.Logger
}

func newBase(id string, info *types.PhysicalInfo, clk clock.Clock, log zerolog.Logger) *base {
	b := &base{
		id:   id,
		info: info,
		tmr:  timer.New(time.Duration(info.SampleInterval*float64(time.Second)), clk, log),
		log:  log.With().Str("sensor", id).Logger(),
	}
	b.due.Store(true)
	b.tmr.Add(timer.Sensors, func() { b.due.Store(true) })
	return b
}

func (b *base) ID() string                 { return b.id }
func (b *base) Info() *types.PhysicalInfo  { return b.info }
func (b *base) Channels() []*types.Channel { return b.info.Channels }
func (b *base) Timer() *timer.Timer        { return b.tmr }

// sampleDue advances the timer and consumes the sampling event.
func (b *base) sampleDue() bool {
	b.tmr.Tick()
	return b.due.Swap(false)
}

func (b *base) markUnread() {
	for _, ch := range b.info.Channels {
		ch.SetUnread()
	}
}

// -----------------------------------------------------------------------------
// Random (test stub)
// -----------------------------------------------------------------------------

// Random fills its channels with gaussian noise around 35.
type Random struct {
	*base
	rng *rand.Rand
}

// NewRandom builds the stub sensor.
func NewRandom(id string, info *types.PhysicalInfo, clk clock.Clock, log zerolog.Logger) *Random {
	return &Random{
		base: newBase(id, info, clk, log),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Random) Read(context.Context) error {
	if !s.sampleDue() {
		return nil
	}
	for _, ch := range s.info.Channels {
		ch.SetValue(s.rng.NormFloat64() + 35)
	}
	return nil
}
