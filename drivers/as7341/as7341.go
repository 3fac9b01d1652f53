// Package as7341 drives the AS7341 11-channel spectral sensor over I²C.
// The device multiplexes its photodiodes onto six ADCs, so a full
// ten-band reading takes two SMUX configurations and two integrations.
package as7341

import (
	"context"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// DefaultAddress is the fixed 7-bit I²C address.
const DefaultAddress uint16 = 0x39

// Bands lists the ten reported band tags in read-out order.
var Bands = []string{"415", "445", "480", "515", "555", "590", "630", "680", "clear", "nir"}

const (
	regEnable  = 0x80
	regATime   = 0x81
	regWTime   = 0x83
	regID      = 0x92
	regStatus2 = 0xA3
	regCfg1    = 0xAA
	regCfg6    = 0xAF
	regAStepL  = 0xCA
	regAStepH  = 0xCB
	regData    = 0x95 // CH0 low; 6 channels, 12 bytes
)

const (
	enablePON    = 0x01
	enableSPEN   = 0x02
	enableSMUXEN = 0x10

	smuxCmdWrite = 0x10
	status2AVALID = 0x40

	idValue = 0x09 // ID register bits 2..7
)

// SMUX configurations mapping photodiodes onto ADC channels.
// Phase 1: F1..F4 + Clear + NIR; phase 2: F5..F8 + Clear + NIR.
var (
	smuxLowBands = [20]byte{
		0x30, 0x01, 0x00, 0x00, 0x00, 0x42, 0x00, 0x00, 0x50, 0x00,
		0x00, 0x00, 0x20, 0x04, 0x00, 0x30, 0x01, 0x05, 0x00, 0x06,
	}
	smuxHighBands = [20]byte{
		0x00, 0x00, 0x00, 0x40, 0x02, 0x00, 0x10, 0x03, 0x50, 0x10,
		0x03, 0x00, 0x00, 0x00, 0x24, 0x00, 0x00, 0x50, 0x00, 0x06,
	}
)

// Opts holds the configuration options.
type Opts struct {
	Address uint16
	// ATime and AStep set the integration time (ATime+1)*(AStep+1)*2.78µs.
	ATime byte
	AStep uint16
	// Gain is the CFG1 AGAIN code (0..10 for 0.5x..512x).
	Gain byte
}

// DefaultOpts are the recommended defaults: ~50 ms integration, 128x.
var DefaultOpts = Opts{
	Address: DefaultAddress,
	ATime:   29,
	AStep:   599,
	Gain:    8,
}

// Dev is a handle to the sensor.
type Dev struct {
	d    *i2c.Dev
	opts Opts
	poll time.Duration
}

// New opens the device, verifies its identity and powers it on.
func New(bus i2c.Bus, opts *Opts) (*Dev, error) {
	if opts == nil {
		opts = &DefaultOpts
	}
	addr := opts.Address
	if addr == 0 {
		addr = DefaultAddress
	}
	d := &Dev{d: &i2c.Dev{Bus: bus, Addr: addr}, opts: *opts, poll: 2 * time.Millisecond}

	id, err := d.readReg(regID)
	if err != nil {
		return nil, fmt.Errorf("as7341: reading id: %w", err)
	}
	if id>>2 != idValue {
		return nil, fmt.Errorf("as7341: unexpected id %#x", id)
	}
	if err := d.writeReg(regEnable, enablePON); err != nil {
		return nil, err
	}
	if err := d.writeReg(regATime, d.opts.ATime); err != nil {
		return nil, err
	}
	if err := d.writeReg(regAStepL, byte(d.opts.AStep)); err != nil {
		return nil, err
	}
	if err := d.writeReg(regAStepH, byte(d.opts.AStep>>8)); err != nil {
		return nil, err
	}
	if err := d.writeReg(regCfg1, d.opts.Gain); err != nil {
		return nil, err
	}
	return d, nil
}

// Read performs the two-phase ten-band measurement. The returned map is
// keyed by band tag; clear and nir come from the second integration.
// Read blocks for two integration periods and must run on the
// serialized I²C executor, never on the scheduler loop.
func (d *Dev) Read(ctx context.Context) (map[string]uint16, error) {
	low, err := d.readPhase(ctx, smuxLowBands)
	if err != nil {
		return nil, err
	}
	high, err := d.readPhase(ctx, smuxHighBands)
	if err != nil {
		return nil, err
	}
	out := make(map[string]uint16, len(Bands))
	out["415"], out["445"], out["480"], out["515"] = low[0], low[1], low[2], low[3]
	out["555"], out["590"], out["630"], out["680"] = high[0], high[1], high[2], high[3]
	out["clear"], out["nir"] = high[4], high[5]
	return out, nil
}

func (d *Dev) readPhase(ctx context.Context, smux [20]byte) ([6]uint16, error) {
	var out [6]uint16

	// Spectral engine off while the SMUX chain is rewritten.
	if err := d.writeReg(regEnable, enablePON); err != nil {
		return out, err
	}
	if err := d.writeReg(regCfg6, smuxCmdWrite); err != nil {
		return out, err
	}
	buf := append([]byte{0x00}, smux[:]...)
	if err := d.d.Tx(buf, nil); err != nil {
		return out, err
	}
	if err := d.writeReg(regEnable, enablePON|enableSMUXEN); err != nil {
		return out, err
	}
	if err := d.waitClear(ctx, regEnable, enableSMUXEN); err != nil {
		return out, err
	}

	if err := d.writeReg(regEnable, enablePON|enableSPEN); err != nil {
		return out, err
	}
	if err := d.waitSet(ctx, regStatus2, status2AVALID); err != nil {
		return out, err
	}

	var data [12]byte
	if err := d.d.Tx([]byte{regData}, data[:]); err != nil {
		return out, err
	}
	for i := 0; i < 6; i++ {
		out[i] = uint16(data[2*i]) | uint16(data[2*i+1])<<8
	}
	return out, nil
}

func (d *Dev) waitClear(ctx context.Context, reg, mask byte) error {
	return d.wait(ctx, reg, mask, false)
}

func (d *Dev) waitSet(ctx context.Context, reg, mask byte) error {
	return d.wait(ctx, reg, mask, true)
}

func (d *Dev) wait(ctx context.Context, reg, mask byte, set bool) error {
	deadline := time.Now().Add(500 * time.Millisecond)
	for {
		v, err := d.readReg(reg)
		if err != nil {
			return err
		}
		if (v&mask != 0) == set {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("as7341: register %#x did not settle", reg)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d.poll):
		}
	}
}

func (d *Dev) readReg(reg byte) (byte, error) {
	var b [1]byte
	if err := d.d.Tx([]byte{reg}, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Dev) writeReg(reg, val byte) error {
	return d.d.Tx([]byte{reg, val}, nil)
}
