// Package gateway is the boundary the OPC-UA adapter drives: per-reactor
// control-method variables, channel value views, calibration entry
// points and the pairing operations. The adapter owns node wiring and
// subscriptions; this surface owns validation and dispatch.
package gateway

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/drivers/hamilton"
	"github.com/asaldivar93/reactors-czlab/errcode"
	"github.com/asaldivar93/reactors-czlab/reactor"
	"github.com/asaldivar93/reactors-czlab/sensor"
	"github.com/asaldivar93/reactors-czlab/types"
)

// Reactor browse names are constrained so the address space stays
// navigable by pattern.
var browseName = regexp.MustCompile(`^R\d+$`)

// NoReference is index 0 of the reference-sensor enumeration.
const NoReference = "none"

// Calibrator is implemented by sensors that support calibration.
type Calibrator interface {
	Calibrate(ctx context.Context, point string, value float64) (hamilton.CalibrationResult, error)
	CalibrationStatus() []float64
}

// Surface exposes the reactors to the external adapter.
type Surface struct {
	reactors *types.DictList[*reactor.Reactor]
	log      zerolog.Logger
}

// New validates browse names and builds the surface.
func New(log zerolog.Logger, reactors ...*reactor.Reactor) (*Surface, error) {
	dl := &types.DictList[*reactor.Reactor]{}
	for _, r := range reactors {
		if !browseName.MatchString(r.ID()) {
			return nil, fmt.Errorf("gateway: reactor id %q does not match ^R\\d+$", r.ID())
		}
		if err := dl.Add(r); err != nil {
			return nil, fmt.Errorf("gateway: %w", err)
		}
	}
	return &Surface{reactors: dl, log: log.With().Str("component", "gateway").Logger()}, nil
}

// ReactorIDs lists the reactor browse names.
func (s *Surface) ReactorIDs() []string {
	out := make([]string, 0, s.reactors.Len())
	for _, r := range s.reactors.All() {
		out = append(out, r.ID())
	}
	return out
}

func (s *Surface) get(reactorID string) (*reactor.Reactor, error) {
	r, ok := s.reactors.Get(reactorID)
	if !ok {
		return nil, &errcode.E{C: errcode.UnknownID, Op: "gateway", Msg: fmt.Sprintf("unknown reactor %q", reactorID)}
	}
	return r, nil
}

// SetControlConfig re-derives an actuator's controller from the
// control-method variables.
func (s *Surface) SetControlConfig(reactorID, actuatorID string, cfg types.ControlConfig) error {
	r, err := s.get(reactorID)
	if err != nil {
		return err
	}
	a, ok := r.Actuators().Get(actuatorID)
	if !ok {
		return &errcode.E{C: errcode.UnknownID, Op: "gateway", Msg: fmt.Sprintf("unknown actuator %q", actuatorID)}
	}
	return a.SetControlConfig(cfg)
}

// SetReferenceSensor binds (or with NoReference clears) an actuator's
// reference sensor.
func (s *Surface) SetReferenceSensor(reactorID, actuatorID, sensorID string) error {
	r, err := s.get(reactorID)
	if err != nil {
		return err
	}
	a, ok := r.Actuators().Get(actuatorID)
	if !ok {
		return &errcode.E{C: errcode.UnknownID, Op: "gateway", Msg: fmt.Sprintf("unknown actuator %q", actuatorID)}
	}
	if sensorID == "" || sensorID == NoReference {
		a.SetReferenceSensor(nil)
		return nil
	}
	ref, ok := r.Sensors().Get(sensorID)
	if !ok {
		return &errcode.E{C: errcode.UnknownID, Op: "gateway", Msg: fmt.Sprintf("unknown sensor %q", sensorID)}
	}
	a.SetReferenceSensor(ref)
	return nil
}

// ReferenceOptions enumerates the reference-sensor choices, with
// NoReference at index 0.
func (s *Surface) ReferenceOptions(reactorID string) ([]string, error) {
	r, err := s.get(reactorID)
	if err != nil {
		return nil, err
	}
	out := []string{NoReference}
	for _, sen := range r.Sensors().All() {
		out = append(out, sen.ID())
	}
	return out, nil
}

// CurrValue mirrors an actuator's last written output.
func (s *Surface) CurrValue(reactorID, actuatorID string) (float64, error) {
	r, err := s.get(reactorID)
	if err != nil {
		return 0, err
	}
	a, ok := r.Actuators().Get(actuatorID)
	if !ok {
		return 0, &errcode.E{C: errcode.UnknownID, Op: "gateway", Msg: fmt.Sprintf("unknown actuator %q", actuatorID)}
	}
	return a.LastValue(), nil
}

// ChannelValues lists one "<sensor_id>:<unit>" variable per channel.
// Units are unique within a sensor, so the keys are unambiguous.
func (s *Surface) ChannelValues(reactorID string) (map[string]float64, error) {
	r, err := s.get(reactorID)
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, sen := range r.Sensors().All() {
		for _, ch := range sen.Channels() {
			out[sen.ID()+":"+ch.Units] = ch.Value()
		}
	}
	return out, nil
}

// Calibrate triggers a sensor calibration point and reports the probe's
// verdict.
func (s *Surface) Calibrate(ctx context.Context, reactorID, sensorID, point string, value float64) (status string, quality, applied float64, err error) {
	r, err := s.get(reactorID)
	if err != nil {
		return "", 0, 0, err
	}
	sen, ok := r.Sensors().Get(sensorID)
	if !ok {
		return "", 0, 0, &errcode.E{C: errcode.UnknownID, Op: "gateway", Msg: fmt.Sprintf("unknown sensor %q", sensorID)}
	}
	cal, ok := sen.(Calibrator)
	if !ok {
		return "", 0, 0, &errcode.E{C: errcode.InvalidConfig, Op: "gateway", Msg: fmt.Sprintf("sensor %q does not calibrate", sensorID)}
	}
	res, err := cal.Calibrate(ctx, point, value)
	if err != nil {
		return "", 0, 0, err
	}
	return res.Status, res.Quality, res.Value, nil
}

// CalibrationStatus mirrors a sensor's calibration status array; nil
// for sensors that do not calibrate or were never calibrated.
func (s *Surface) CalibrationStatus(reactorID, sensorID string) []float64 {
	r, err := s.get(reactorID)
	if err != nil {
		return nil
	}
	sen, ok := r.Sensors().Get(sensorID)
	if !ok {
		return nil
	}
	if cal, ok := sen.(Calibrator); ok {
		return cal.CalibrationStatus()
	}
	return nil
}

// SetPairing binds a sensor channel to an actuator; false on any
// validation failure, with no state change.
func (s *Surface) SetPairing(reactorID, sensorID, actuatorID string, channel int) bool {
	r, err := s.get(reactorID)
	if err != nil {
		return false
	}
	if err := r.SetPairing(sensorID, actuatorID, channel); err != nil {
		s.log.Warn().Err(err).Msg("set_pairing rejected")
		return false
	}
	return true
}

// Unpair removes a pairing triple; false if it was not present.
func (s *Surface) Unpair(reactorID, sensorID, actuatorID string, channel int) bool {
	r, err := s.get(reactorID)
	if err != nil {
		return false
	}
	if err := r.Unpair(sensorID, actuatorID, channel); err != nil {
		s.log.Warn().Err(err).Msg("unpair rejected")
		return false
	}
	return true
}

// ensure the Hamilton sensor satisfies the calibration surface.
var _ Calibrator = (*sensor.Hamilton)(nil)
