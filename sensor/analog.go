package sensor

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/plcio"
	"github.com/asaldivar93/reactors-czlab/types"
)

// Analog reads PLC analog input pins, one channel per pin, with an
// optional linear calibration per channel.
type Analog struct {
	*base
	io plcio.PlatformIO
}

// NewAnalog configures every channel pin as an input.
func NewAnalog(id string, info *types.PhysicalInfo, io plcio.PlatformIO, clk clock.Clock, log zerolog.Logger) (*Analog, error) {
	for _, ch := range info.Channels {
		if ch.Pin == "" {
			return nil, fmt.Errorf("analog sensor %q: channel %q has no pin", id, ch.Units)
		}
		if err := io.PinMode(ch.Pin, plcio.Input); err != nil {
			return nil, err
		}
	}
	return &Analog{base: newBase(id, info, clk, log), io: io}, nil
}

func (s *Analog) Read(context.Context) error {
	if !s.sampleDue() {
		return nil
	}
	for _, ch := range s.info.Channels {
		raw, err := s.io.AnalogRead(ch.Pin)
		if err != nil {
			s.log.Warn().Err(err).Str("pin", ch.Pin).Msg("analog read failed")
			ch.SetUnread()
			continue
		}
		if cal := ch.Calibration; cal != nil {
			ch.SetValue(cal.Apply(float64(raw)))
		} else {
			ch.SetValue(float64(raw))
		}
	}
	return nil
}

// SetCalibrations assigns calibrations positionally by channel. Extra
// records are ignored; a record may be zero-valued to leave the raw
// code.
func (s *Analog) SetCalibrations(cals []types.Calibration) {
	for i, ch := range s.info.Channels {
		if i >= len(cals) {
			return
		}
		c := cals[i]
		if c == (types.Calibration{}) {
			ch.Calibration = nil
			continue
		}
		ch.Calibration = &c
	}
}
