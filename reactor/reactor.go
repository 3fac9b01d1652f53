// Package reactor implements the supervisory aggregate: sensors,
// actuators, the pairing table and the dual-rate scheduler driving
// them.
package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/actuator"
	"github.com/asaldivar93/reactors-czlab/errcode"
	"github.com/asaldivar93/reactors-czlab/sensor"
	"github.com/asaldivar93/reactors-czlab/timer"
	"github.com/asaldivar93/reactors-czlab/types"
)

// State is the coarse reactor mode announced externally.
type State int32

const (
	StateOff State = iota
	StateOn
	StateExperiment
)

// Pairing binds one sensor channel to an actuator.
type Pairing struct {
	ActuatorID string
	Channel    int
}

// Reactor is a named aggregate of transducers plus the shared pairing
// and partition state guarded by one coarse lock.
type Reactor struct {
	id     string
	volume float64
	period time.Duration
	clk    clock.Clock
	log    zerolog.Logger

	baseTimer *timer.Timer
	sensors   *types.DictList[sensor.Sensor]
	actuators *types.DictList[actuator.Actuator]

	state atomic.Int32

	mu       sync.Mutex
	pairings map[string][]Pairing    // sensor id -> ordered pairings
	fast     map[string]struct{}     // unpaired PWM actuators
	paired   map[string]struct{}     // actuators bound in the table

	pwmMu sync.Mutex
}

// New assembles a reactor. Unpaired PWM actuators start in the fast
// partition; everything else is slow. A nil baseTimer is created from
// the period; passing the timer the actuators were constructed against
// keeps them on the reactor cadence until a reference sensor swaps it.
func New(id string, volume float64, period time.Duration, baseTimer *timer.Timer, sensors []sensor.Sensor, actuators []actuator.Actuator, clk clock.Clock, log zerolog.Logger) (*Reactor, error) {
	if clk == nil {
		clk = clock.New()
	}
	slog := log.With().Str("reactor", id).Logger()
	if baseTimer == nil {
		baseTimer = timer.New(period, clk, slog)
	}
	sdl, err := types.NewDictList(sensors...)
	if err != nil {
		return nil, fmt.Errorf("reactor %s: %w", id, err)
	}
	adl, err := types.NewDictList(actuators...)
	if err != nil {
		return nil, fmt.Errorf("reactor %s: %w", id, err)
	}
	r := &Reactor{
		id:        id,
		volume:    volume,
		period:    period,
		clk:       clk,
		log:       slog,
		baseTimer: baseTimer,
		sensors:   sdl,
		actuators: adl,
		pairings:  map[string][]Pairing{},
		fast:      map[string]struct{}{},
		paired:    map[string]struct{}{},
	}
	for _, a := range adl.All() {
		if a.Info().Transport == types.TransportPWM {
			r.fast[a.ID()] = struct{}{}
		}
	}
	return r, nil
}

func (r *Reactor) ID() string                                     { return r.id }
func (r *Reactor) Volume() float64                                { return r.volume }
func (r *Reactor) Period() time.Duration                          { return r.period }
func (r *Reactor) BaseTimer() *timer.Timer                        { return r.baseTimer }
func (r *Reactor) Sensors() *types.DictList[sensor.Sensor]        { return r.sensors }
func (r *Reactor) Actuators() *types.DictList[actuator.Actuator]  { return r.actuators }

// State returns the announced reactor mode.
func (r *Reactor) State() State { return State(r.state.Load()) }

// SetState records the announced reactor mode.
func (r *Reactor) SetState(s State) { r.state.Store(int32(s)) }

// SetPairing binds a sensor channel to an actuator. The actuator must
// belong to this reactor and must not be paired anywhere in the table;
// on success it leaves the fast partition. No state changes on failure.
func (r *Reactor) SetPairing(sensorID, actuatorID string, channel int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sensors.Has(sensorID) {
		return &errcode.E{C: errcode.UnknownID, Op: "reactor.set_pairing", Msg: fmt.Sprintf("unknown sensor %q", sensorID)}
	}
	if !r.actuators.Has(actuatorID) {
		return &errcode.E{C: errcode.UnknownID, Op: "reactor.set_pairing", Msg: fmt.Sprintf("unknown actuator %q", actuatorID)}
	}
	if _, busy := r.paired[actuatorID]; busy {
		return &errcode.E{C: errcode.PairingConflict, Op: "reactor.set_pairing", Msg: fmt.Sprintf("actuator %q already paired", actuatorID)}
	}
	delete(r.fast, actuatorID)
	r.paired[actuatorID] = struct{}{}
	r.pairings[sensorID] = append(r.pairings[sensorID], Pairing{ActuatorID: actuatorID, Channel: channel})
	r.log.Info().Str("sensor", sensorID).Str("actuator", actuatorID).Int("channel", channel).Msg("paired")
	return nil
}

// Unpair removes a pairing triple. A PWM actuator returns to the fast
// partition; anything else stays slow, where the scheduler drives it to
// zero.
func (r *Reactor) Unpair(sensorID, actuatorID string, channel int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.pairings[sensorID]
	for i, p := range list {
		if p.ActuatorID != actuatorID || p.Channel != channel {
			continue
		}
		r.pairings[sensorID] = append(list[:i], list[i+1:]...)
		delete(r.paired, actuatorID)
		if a, ok := r.actuators.Get(actuatorID); ok && a.Info().Transport == types.TransportPWM {
			r.fast[actuatorID] = struct{}{}
		}
		r.log.Info().Str("sensor", sensorID).Str("actuator", actuatorID).Int("channel", channel).Msg("unpaired")
		return nil
	}
	return &errcode.E{C: errcode.UnknownID, Op: "reactor.unpair", Msg: "pairing not found"}
}

// Pairings returns a copy of the pairing table.
func (r *Reactor) Pairings() map[string][]Pairing {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]Pairing, len(r.pairings))
	for k, v := range r.pairings {
		if len(v) == 0 {
			continue
		}
		out[k] = append([]Pairing(nil), v...)
	}
	return out
}

// InFastPartition reports whether an actuator is currently driven by
// the fast loop.
func (r *Reactor) InFastPartition(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.fast[id]
	return ok
}

// IsPaired reports whether an actuator is bound in the pairing table.
func (r *Reactor) IsPaired(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.paired[id]
	return ok
}
