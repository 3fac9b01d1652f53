// Package control implements the polymorphic controller family owned by
// the actuators: manual, duty-cycle timer, hysteretic on/off and PID.
// The variant set is closed so that the factory and the external adapter
// can match on method exhaustively.
package control

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/errcode"
	"github.com/asaldivar93/reactors-czlab/timer"
	"github.com/asaldivar93/reactors-czlab/types"
	"github.com/asaldivar93/reactors-czlab/x/mathx"
)

// Default output clamp, matching the PLC PWM resolution.
const (
	DefaultMin = 0
	DefaultMax = 4095
)

// Reference is the view of a sensor channel a controller evaluates
// against: the current variable and the effective sample period.
type Reference interface {
	Variable() float64
	Elapsed() time.Duration
}

// Controller converts sensor input (and time) into an actuator output.
type Controller interface {
	Method() types.ControlMethod
	// Output computes (or holds) the actuator output. Controllers that
	// need a reference return errcode.MissingReference on a nil ref.
	Output(ref Reference) (float64, error)
	// Reset discards the internal state.
	Reset()
	// Equal decides whether replacing this controller with other would
	// be a no-op.
	Equal(other Controller) bool
	Describe() string
	Limits() (min, max float64)
}

type limits struct {
	min, max float64
}

func (l limits) Limits() (float64, float64) { return l.min, l.max }

func (l limits) clamp(v float64) float64 { return mathx.Clamp(v, l.min, l.max) }

func limitsFrom(cfg types.ControlConfig) (limits, error) {
	switch len(cfg.Limits) {
	case 0:
		return limits{DefaultMin, DefaultMax}, nil
	case 2:
		return limits{cfg.Limits[0], cfg.Limits[1]}, nil
	default:
		return limits{}, &errcode.E{C: errcode.InvalidConfig, Op: "control.factory", Msg: "limits must be [min, max]"}
	}
}

// -----------------------------------------------------------------------------
// Manual
// -----------------------------------------------------------------------------

type manualControl struct {
	limits
	value float64
}

func (c *manualControl) Method() types.ControlMethod { return types.Manual }

func (c *manualControl) Output(Reference) (float64, error) {
	return c.clamp(c.value), nil
}

func (c *manualControl) Reset() {}

func (c *manualControl) Equal(other Controller) bool {
	o, ok := other.(*manualControl)
	return ok && o.value == c.value
}

func (c *manualControl) Describe() string {
	return fmt.Sprintf("manual(%g)", c.value)
}

// -----------------------------------------------------------------------------
// Timer (duty cycle)
// -----------------------------------------------------------------------------

type timerControl struct {
	limits
	timeOn  time.Duration
	timeOff time.Duration
	valueOn float64

	sub           *timer.Timer
	isOn          bool
	samplingEvent bool
	value         float64
}

func (c *timerControl) Method() types.ControlMethod { return types.TimerMethod }

func (c *timerControl) Output(Reference) (float64, error) {
	if c.sub.Tick() {
		c.samplingEvent = true
	}
	if c.samplingEvent {
		c.samplingEvent = false
		if c.isOn {
			c.sub.SetInterval(c.timeOff)
			c.isOn = false
			c.value = 0
		} else {
			c.sub.SetInterval(c.timeOn)
			c.isOn = true
			c.value = c.valueOn
		}
	}
	return c.clamp(c.value), nil
}

func (c *timerControl) Reset() {
	c.isOn = false
	c.samplingEvent = true
	c.value = 0
	c.sub.SetInterval(c.timeOn)
}

func (c *timerControl) Equal(other Controller) bool {
	o, ok := other.(*timerControl)
	return ok && o.timeOn == c.timeOn && o.timeOff == c.timeOff && o.valueOn == c.valueOn
}

func (c *timerControl) Describe() string {
	return fmt.Sprintf("timer(on: %s, off: %s, %g)", c.timeOn, c.timeOff, c.valueOn)
}

// -----------------------------------------------------------------------------
// Hysteresis (on_boundaries)
// -----------------------------------------------------------------------------

type onBoundariesControl struct {
	limits
	lowerBound float64
	upperBound float64
	valueOn    float64
	backwards  bool

	value float64
}

func (c *onBoundariesControl) Method() types.ControlMethod { return types.OnBoundaries }

// Output retriggers only on strict crossings; values equal to a bound
// hold the previous output.
func (c *onBoundariesControl) Output(ref Reference) (float64, error) {
	if ref == nil {
		return 0, &errcode.E{C: errcode.MissingReference, Op: "control.on_boundaries"}
	}
	variable := ref.Variable()
	switch {
	case variable < c.lowerBound:
		if c.backwards {
			c.value = 0
		} else {
			c.value = c.valueOn
		}
	case variable > c.upperBound:
		if c.backwards {
			c.value = c.valueOn
		} else {
			c.value = 0
		}
	}
	return c.clamp(c.value), nil
}

func (c *onBoundariesControl) Reset() {
	if c.backwards {
		c.value = c.valueOn
	} else {
		c.value = 0
	}
}

func (c *onBoundariesControl) Equal(other Controller) bool {
	o, ok := other.(*onBoundariesControl)
	return ok && o.lowerBound == c.lowerBound && o.upperBound == c.upperBound && o.valueOn == c.valueOn
}

func (c *onBoundariesControl) Describe() string {
	return fmt.Sprintf("on_boundaries(%g, %g, %g)", c.lowerBound, c.upperBound, c.valueOn)
}

// -----------------------------------------------------------------------------
// PID
// -----------------------------------------------------------------------------

type pidControl struct {
	limits
	setpoint     float64
	kp, ki, kd   float64
	compareGains bool

	integralSum float64
	lastError   float64
	value       float64
	log         zerolog.Logger
}

func (c *pidControl) Method() types.ControlMethod { return types.PID }

func (c *pidControl) Output(ref Reference) (float64, error) {
	if ref == nil {
		return 0, &errcode.E{C: errcode.MissingReference, Op: "control.pid"}
	}
	variable := ref.Variable()
	dt := ref.Elapsed().Seconds()

	err := c.setpoint - variable
	dErr := err - c.lastError
	c.lastError = err

	pTerm := c.kp * err
	var dTerm float64
	if dt > 0 {
		c.integralSum += c.ki * err * dt
		dTerm = c.kd * dErr / dt
	}
	// Anti-windup: the integral is clamped before summation.
	c.integralSum = c.clamp(c.integralSum)

	c.value = c.clamp(pTerm + c.integralSum + dTerm)
	c.log.Debug().
		Float64("dt", dt).Float64("var", variable).Float64("error", err).
		Float64("integral_sum", c.integralSum).Float64("value", c.value).
		Msg("pid step")
	return c.value, nil
}

func (c *pidControl) Reset() {
	c.integralSum = 0
	c.lastError = 0
	c.value = 0
}

// Equal compares on setpoint alone by default, so a gains-only change is
// short-circuited as "no change" and preserves the integral state. With
// CompareGains set on the factory, gains and limits take part too.
func (c *pidControl) Equal(other Controller) bool {
	o, ok := other.(*pidControl)
	if !ok || o.setpoint != c.setpoint {
		return false
	}
	if !c.compareGains {
		return true
	}
	return o.kp == c.kp && o.ki == c.ki && o.kd == c.kd && o.min == c.min && o.max == c.max
}

// UpdateGains replaces the gains without rebuilding the controller, so
// the integral and last-error state survive.
func (c *pidControl) UpdateGains(kp, ki, kd float64) {
	c.kp, c.ki, c.kd = kp, ki, kd
}

func (c *pidControl) Describe() string {
	return fmt.Sprintf("pid(setpoint: %g)", c.setpoint)
}

// PidAdmin is the admin path for gain changes that must not reset the
// controller state.
type PidAdmin interface {
	UpdateGains(kp, ki, kd float64)
}

// -----------------------------------------------------------------------------
// Factory
// -----------------------------------------------------------------------------

// Factory builds controllers from configuration records.
type Factory struct {
	// Clock drives the duty-cycle sub-timers; nil means wall clock.
	Clock clock.Clock
	// CompareGains widens PID equality to gains and limits, so a gains
	// change through the config path rebuilds the controller instead of
	// being dropped.
	CompareGains bool
	Log          zerolog.Logger
}

// Create maps a configuration record to a freshly initialized
// controller. It fails with errcode.InvalidConfig on an unknown method,
// non-positive timer intervals, lower_bound >= upper_bound, gains not of
// length 0 or 3, or limits not of length 0 or 2. Other fields are not
// checked; an absent value or setpoint reads as zero.
func (f Factory) Create(cfg types.ControlConfig) (Controller, error) {
	lim, err := limitsFrom(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Method {
	case types.Manual:
		return &manualControl{limits: lim, value: cfg.Value}, nil

	case types.TimerMethod:
		if cfg.TimeOn <= 0 || cfg.TimeOff <= 0 {
			return nil, &errcode.E{C: errcode.InvalidConfig, Op: "control.factory", Msg: "timer requires positive time_on and time_off"}
		}
		timeOn := time.Duration(cfg.TimeOn * float64(time.Second))
		timeOff := time.Duration(cfg.TimeOff * float64(time.Second))
		c := &timerControl{
			limits:        lim,
			timeOn:        timeOn,
			timeOff:       timeOff,
			valueOn:       cfg.Value,
			sub:           timer.New(timeOn, f.Clock, f.Log),
			samplingEvent: true,
		}
		return c, nil

	case types.OnBoundaries:
		if cfg.LowerBound >= cfg.UpperBound {
			return nil, &errcode.E{C: errcode.InvalidConfig, Op: "control.factory", Msg: "on_boundaries requires lower_bound < upper_bound"}
		}
		c := &onBoundariesControl{
			limits:     lim,
			lowerBound: cfg.LowerBound,
			upperBound: cfg.UpperBound,
			valueOn:    cfg.Value,
			backwards:  cfg.Backwards,
		}
		c.Reset()
		return c, nil

	case types.PID:
		kp, ki, kd := 100.0, 0.01, 0.0
		switch len(cfg.Gains) {
		case 0:
		case 3:
			kp, ki, kd = cfg.Gains[0], cfg.Gains[1], cfg.Gains[2]
		default:
			return nil, &errcode.E{C: errcode.InvalidConfig, Op: "control.factory", Msg: "gains must be [kp, ki, kd]"}
		}
		return &pidControl{
			limits:       lim,
			setpoint:     cfg.Setpoint,
			kp:           kp,
			ki:           ki,
			kd:           kd,
			compareGains: f.CompareGains,
			log:          f.Log,
		}, nil
	}
	return nil, &errcode.E{C: errcode.InvalidConfig, Op: "control.factory", Msg: fmt.Sprintf("unknown method %q", cfg.Method)}
}
