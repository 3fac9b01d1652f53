package actuator

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/control"
	"github.com/asaldivar93/reactors-czlab/modbus"
	"github.com/asaldivar93/reactors-czlab/plcio"
	"github.com/asaldivar93/reactors-czlab/timer"
	"github.com/asaldivar93/reactors-czlab/types"
	"github.com/asaldivar93/reactors-czlab/x/mathx"
)

// -----------------------------------------------------------------------------
// Random (test stub)
// -----------------------------------------------------------------------------

// Random swallows writes and counts them.
type Random struct {
	*base
	writes atomic.Int64
}

// NewRandom builds the stub actuator.
func NewRandom(id string, info *types.PhysicalInfo, baseTimer *timer.Timer, factory control.Factory, log zerolog.Logger) *Random {
	r := &Random{}
	r.base = newBase(id, info, baseTimer, factory, r.record, log)
	return r
}

func (r *Random) record(context.Context, float64) error {
	r.writes.Add(1)
	return nil
}

// Writes returns the number of transport writes that were not skipped.
func (r *Random) Writes() int64 { return r.writes.Load() }

// -----------------------------------------------------------------------------
// Plc (analog / PWM pin)
// -----------------------------------------------------------------------------

// Plc writes an analog or PWM pin through the platform binding, with
// outputs clamped to the 12-bit code range.
type Plc struct {
	*base
	io  plcio.PlatformIO
	pin string
}

// PWMFrequencyHz is the output frequency set on PWM pins at
// construction.
const PWMFrequencyHz = 24

// NewPlc configures the output pin and builds the actuator.
func NewPlc(id string, info *types.PhysicalInfo, io plcio.PlatformIO, baseTimer *timer.Timer, factory control.Factory, log zerolog.Logger) (*Plc, error) {
	pin := info.Channels[0].Pin
	if err := io.PinMode(pin, plcio.Output); err != nil {
		return nil, err
	}
	if info.Transport == types.TransportPWM {
		if err := io.AnalogWriteSetFrequency(pin, PWMFrequencyHz); err != nil {
			return nil, err
		}
	}
	p := &Plc{io: io, pin: pin}
	p.base = newBase(id, info, baseTimer, factory, p.write, log)
	return p, nil
}

func (p *Plc) write(_ context.Context, value float64) error {
	code := mathx.Clamp(int(value), plcio.CodeMin, plcio.CodeMax)
	return p.io.AnalogWrite(p.pin, code)
}

// -----------------------------------------------------------------------------
// Modbus
// -----------------------------------------------------------------------------

// Modbus commands a Modbus-addressed device through the dispatcher.
type Modbus struct {
	*base
	bus      Bus
	register uint16
}

// Bus is the dispatcher surface the actuator consumes.
type Bus interface {
	Process(ctx context.Context, req modbus.Request) ([]uint16, error)
}

// NewModbus builds the actuator for a device register.
func NewModbus(id string, info *types.PhysicalInfo, bus Bus, register uint16, baseTimer *timer.Timer, factory control.Factory, log zerolog.Logger) *Modbus {
	m := &Modbus{bus: bus, register: register}
	m.base = newBase(id, info, baseTimer, factory, m.write, log)
	return m
}

func (m *Modbus) write(ctx context.Context, value float64) error {
	_, err := m.bus.Process(ctx, modbus.Request{
		Kind:     modbus.Write,
		Slave:    m.info.Address,
		Register: m.register,
		Values:   []modbus.Value{modbus.Float(float32(value))},
	})
	return err
}
