package sensor

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/drivers/hamilton"
	"github.com/asaldivar93/reactors-czlab/types"
)

// Hamilton samples a digital probe through the Modbus dispatcher. Every
// channel names the measurement block it reads (pmc1, pmc6, ...); bus
// serialization is the dispatcher's business.
type Hamilton struct {
	*base
	dev *hamilton.Device

	calMu   sync.Mutex
	lastCal hamilton.CalibrationResult
	hasCal  bool
}

// NewHamilton binds the sensor to a probe driver.
func NewHamilton(id string, info *types.PhysicalInfo, dev *hamilton.Device, clk clock.Clock, log zerolog.Logger) *Hamilton {
	return &Hamilton{base: newBase(id, info, clk, log), dev: dev}
}

// Device exposes the probe driver for admin operations.
func (s *Hamilton) Device() *hamilton.Device { return s.dev }

// Read fetches every channel's measurement block. On any error all
// channels go to the unread sentinel and the fault is absorbed.
func (s *Hamilton) Read(ctx context.Context) error {
	if !s.sampleDue() {
		return nil
	}
	for _, ch := range s.info.Channels {
		v, err := s.dev.ReadMeasurement(ctx, ch.Register)
		if err != nil {
			s.log.Warn().Err(err).Str("register", ch.Register).Msg("probe read failed")
			s.markUnread()
			return nil
		}
		ch.SetValue(v)
	}
	return nil
}

// Calibrate writes a calibration point and keeps the read-back for the
// external calibration-status view.
func (s *Hamilton) Calibrate(ctx context.Context, point string, value float64) (hamilton.CalibrationResult, error) {
	res, err := s.dev.WriteCalibration(ctx, point, value)
	if err != nil {
		return res, err
	}
	s.calMu.Lock()
	s.lastCal = res
	s.hasCal = true
	s.calMu.Unlock()
	return res, nil
}

// CalibrationStatus returns the last calibration read-back as the
// float array the external interface mirrors.
func (s *Hamilton) CalibrationStatus() []float64 {
	s.calMu.Lock()
	defer s.calMu.Unlock()
	if !s.hasCal {
		return nil
	}
	var status float64
	if s.lastCal.Status != "Ok" {
		status = 1
	}
	return []float64{status, s.lastCal.Value, s.lastCal.Quality, s.lastCal.PH}
}
