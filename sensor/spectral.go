package sensor

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/types"
)

// SpectralReader is the driver surface the spectral sensor consumes;
// the production implementation is drivers/as7341.
type SpectralReader interface {
	Read(ctx context.Context) (map[string]uint16, error)
}

// The I²C bus is a globally serialized resource: a mutex guards it and
// the blocking vendor read runs on a single-worker background executor
// so that the scheduler loop never stalls on an integration.
var (
	i2cMu   sync.Mutex
	i2cExec = newSerialExecutor(8)
)

type serialExecutor struct {
	once sync.Once
	jobs chan func()
}

func newSerialExecutor(depth int) *serialExecutor {
	return &serialExecutor{jobs: make(chan func(), depth)}
}

func (e *serialExecutor) start() {
	go func() {
		for job := range e.jobs {
			job()
		}
	}()
}

// submit runs fn on the worker and waits for it, honouring ctx while
// queued or in flight.
func (e *serialExecutor) submit(ctx context.Context, fn func() error) error {
	e.once.Do(e.start)
	done := make(chan error, 1)
	job := func() { done <- fn() }
	select {
	case e.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Spectral reads the ten-band biomass sensor. Band values are routed to
// the channel whose band tag (falling back to the unit symbol) matches.
type Spectral struct {
	*base
	dev SpectralReader
}

// NewSpectral binds the sensor to a spectral driver.
func NewSpectral(id string, info *types.PhysicalInfo, dev SpectralReader, clk clock.Clock, log zerolog.Logger) *Spectral {
	return &Spectral{base: newBase(id, info, clk, log), dev: dev}
}

func (s *Spectral) Read(ctx context.Context) error {
	if !s.sampleDue() {
		return nil
	}
	var bands map[string]uint16
	err := i2cExec.submit(ctx, func() error {
		i2cMu.Lock()
		defer i2cMu.Unlock()
		var rerr error
		bands, rerr = s.dev.Read(ctx)
		return rerr
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("spectral read failed")
		s.markUnread()
		return nil
	}
	for _, ch := range s.info.Channels {
		tag := ch.Band
		if tag == "" {
			tag = ch.Units
		}
		if v, ok := bands[tag]; ok {
			ch.SetValue(float64(v))
		}
	}
	return nil
}
