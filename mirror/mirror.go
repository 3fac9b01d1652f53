// Package mirror pushes observed values outward: every changed sensor
// channel and actuator output is published on the bus and forwarded to
// the persistence sink. Sink faults are logged and swallowed; data loss
// is preferred to control interruption.
package mirror

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/bus"
	"github.com/asaldivar93/reactors-czlab/reactor"
	"github.com/asaldivar93/reactors-czlab/storage"
)

// Sink is the persistence surface the mirror feeds.
type Sink interface {
	StoreData(info storage.Info, reactorID, experimentName string, ts time.Time) error
}

// DefaultPeriod is how often the mirror scans for changes.
const DefaultPeriod = time.Second

// Mirror scans the reactors and propagates changes.
type Mirror struct {
	bus        *bus.Bus
	sink       Sink
	experiment string
	reactors   []*reactor.Reactor
	clk        clock.Clock
	log        zerolog.Logger
	period     time.Duration

	last map[string]float64
}

// New builds a mirror. A nil sink publishes to the bus only.
func New(b *bus.Bus, sink Sink, experiment string, reactors []*reactor.Reactor, clk clock.Clock, log zerolog.Logger) *Mirror {
	if clk == nil {
		clk = clock.New()
	}
	return &Mirror{
		bus:        b,
		sink:       sink,
		experiment: experiment,
		reactors:   reactors,
		clk:        clk,
		log:        log.With().Str("component", "mirror").Logger(),
		period:     DefaultPeriod,
		last:       map[string]float64{},
	}
}

// Scan pushes every value that changed since the previous scan. Only
// changes propagate; an unchanged value is a no-op end to end.
func (m *Mirror) Scan(ctx context.Context) {
	now := m.clk.Now()
	for _, r := range m.reactors {
		m.publishState(r)
		for _, s := range r.Sensors().All() {
			model := s.Info().Model
			for _, ch := range s.Channels() {
				key := r.ID() + "/" + s.ID() + "/" + ch.Units
				v := ch.Value()
				if prev, seen := m.last[key]; seen && prev == v {
					continue
				}
				m.last[key] = v
				m.push(r.ID(), bus.T("reactor", r.ID(), "sensor", s.ID(), ch.Units), storage.Info{
					Model:       model,
					Name:        s.ID(),
					Units:       ch.Units,
					Value:       v,
					Calibration: ch.Calibration,
				}, now)
			}
		}
		for _, a := range r.Actuators().All() {
			key := r.ID() + "/" + a.ID()
			v := a.LastValue()
			if prev, seen := m.last[key]; seen && prev == v {
				continue
			}
			m.last[key] = v
			m.push(r.ID(), bus.T("reactor", r.ID(), "actuator", a.ID(), "curr_value"), storage.Info{
				Model: "actuator",
				Name:  a.ID(),
				Units: a.Info().Channels[0].Units,
				Value: v,
			}, now)
		}
	}
}

func (m *Mirror) publishState(r *reactor.Reactor) {
	key := r.ID() + "/state"
	v := float64(r.State())
	if prev, seen := m.last[key]; seen && prev == v {
		return
	}
	m.last[key] = v
	m.bus.Publish(m.bus.NewMessage(bus.T("reactor", r.ID(), "state"), r.State(), true))
}

func (m *Mirror) push(reactorID string, topic bus.Topic, info storage.Info, ts time.Time) {
	m.bus.Publish(m.bus.NewMessage(topic, info.Value, true))
	if m.sink == nil {
		return
	}
	if err := m.sink.StoreData(info, reactorID, m.experiment, ts); err != nil {
		m.log.Warn().Err(err).Str("name", info.Name).Msg("persistence failed, value dropped")
	}
}

// Run scans at the mirror period until cancelled.
func (m *Mirror) Run(ctx context.Context) {
	t := m.clk.Ticker(m.period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Scan(ctx)
		}
	}
}
