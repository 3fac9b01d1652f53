package hamilton

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/errcode"
	"github.com/asaldivar93/reactors-czlab/modbus"
)

// Bus is the dispatcher surface the driver consumes.
type Bus interface {
	Process(ctx context.Context, req modbus.Request) ([]uint16, error)
}

// Device is one probe on the RS-485 line.
type Device struct {
	bus   Bus
	addr  uint8
	level string
	log   zerolog.Logger
}

// New binds a probe at the given slave address.
func New(bus Bus, addr uint8, log zerolog.Logger) *Device {
	return &Device{bus: bus, addr: addr, level: levelUser.name, log: log}
}

// Address returns the slave address the driver currently targets.
func (d *Device) Address() uint8 { return d.addr }

// Level returns the operator level last commanded on the probe.
func (d *Device) Level() string { return d.level }

func lookup(symbol string) (regBlock, error) {
	blk, ok := registerMap[symbol]
	if !ok {
		return regBlock{}, &errcode.E{C: errcode.UnknownID, Op: "hamilton", Msg: fmt.Sprintf("unknown register symbol %q", symbol)}
	}
	return blk, nil
}

// ReadHoldingRegisters reads a symbolic register block.
func (d *Device) ReadHoldingRegisters(ctx context.Context, symbol string) ([]uint16, error) {
	blk, err := lookup(symbol)
	if err != nil {
		return nil, err
	}
	return d.bus.Process(ctx, modbus.Request{
		Kind: modbus.ReadHolding, Slave: d.addr, Register: blk.addr, Count: blk.count,
	})
}

// WriteRegisters writes a symbolic register block.
func (d *Device) WriteRegisters(ctx context.Context, symbol string, values []modbus.Value) error {
	blk, err := lookup(symbol)
	if err != nil {
		return err
	}
	_, err = d.bus.Process(ctx, modbus.Request{
		Kind: modbus.Write, Slave: d.addr, Register: blk.addr, Values: values,
	})
	return err
}

func (d *Device) setOperator(ctx context.Context, level operatorLevel) error {
	err := d.WriteRegisters(ctx, "operator", []modbus.Value{
		modbus.Uint(level.code), modbus.Uint(level.password),
	})
	if err != nil {
		return err
	}
	d.level = level.name
	return nil
}

// dropToUser returns the probe to user level; on the unwind path the
// failure is logged but not surfaced, the original error wins.
func (d *Device) dropToUser(ctx context.Context) {
	if err := d.setOperator(ctx, levelUser); err != nil {
		d.log.Warn().Err(err).Uint8("addr", d.addr).Msg("failed to drop operator level")
	}
}

// SetAddress reprograms the probe's slave address. The local address is
// updated only after the write succeeds, so a failure leaves the driver
// targeting the old address.
func (d *Device) SetAddress(ctx context.Context, newAddr uint8) error {
	if err := d.setOperator(ctx, levelSpecialist); err != nil {
		return err
	}
	if err := d.WriteRegisters(ctx, "address", []modbus.Value{modbus.Uint(uint32(newAddr))}); err != nil {
		d.dropToUser(ctx)
		return err
	}
	d.addr = newAddr
	d.dropToUser(ctx)
	return nil
}

// SetBaudrate reprograms the probe's serial baud rate. The host side is
// not reconfigured here; subsequent traffic over the unchanged
// dispatcher will fail until the caller reopens it.
func (d *Device) SetBaudrate(ctx context.Context, baud int) error {
	code, ok := modbus.BaudCodes[baud]
	if !ok {
		return &errcode.E{C: errcode.InvalidConfig, Op: "hamilton.set_baudrate", Msg: fmt.Sprintf("baud rate %d not allowed", baud)}
	}
	if err := d.setOperator(ctx, levelSpecialist); err != nil {
		return err
	}
	if err := d.WriteRegisters(ctx, "baudrate", []modbus.Value{modbus.Uint(code)}); err != nil {
		d.dropToUser(ctx)
		return err
	}
	d.dropToUser(ctx)
	return nil
}

// ReadMeasurement reads a measurement block and decodes the float from
// its documented word offset.
func (d *Device) ReadMeasurement(ctx context.Context, symbol string) (float64, error) {
	regs, err := d.ReadHoldingRegisters(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if len(regs) < measValueOffset+2 {
		return 0, &errcode.E{C: errcode.ModbusError, Op: "hamilton.read", Msg: "short measurement block"}
	}
	f, err := modbus.DecodeFloat32(regs[measValueOffset : measValueOffset+2])
	return float64(f), err
}

// CalibrationResult is the read-back after a calibration-point write.
type CalibrationResult struct {
	Status  string
	Value   float64
	Quality float64
	PH      float64
}

// WriteCalibration initiates a calibration at the given point (cp1, cp2
// or cp6) and reports what the probe decided. The probe evaluates the
// two-point criteria itself; the host only initiates and reports.
func (d *Device) WriteCalibration(ctx context.Context, cp string, value float64) (CalibrationResult, error) {
	var res CalibrationResult
	statusSym := cp + "_status"
	if _, err := lookup(statusSym); err != nil {
		return res, err
	}

	if err := d.setOperator(ctx, levelSpecialist); err != nil {
		return res, err
	}
	defer d.dropToUser(ctx)

	if err := d.WriteRegisters(ctx, cp, []modbus.Value{modbus.Float(float32(value))}); err != nil {
		return res, err
	}

	status, err := d.ReadHoldingRegisters(ctx, statusSym)
	if err != nil {
		return res, err
	}
	if len(status) < statusValueOffset+2 {
		return res, &errcode.E{C: errcode.ModbusError, Op: "hamilton.calibration", Msg: "short status block"}
	}
	code, err := modbus.DecodeUint32(status[statusCodeOffset : statusCodeOffset+2])
	if err != nil {
		return res, err
	}
	applied, err := modbus.DecodeFloat32(status[statusValueOffset : statusValueOffset+2])
	if err != nil {
		return res, err
	}

	quality, err := d.ReadHoldingRegisters(ctx, "quality")
	if err != nil {
		return res, err
	}
	q, err := modbus.DecodeFloat32(quality)
	if err != nil {
		return res, err
	}

	ph, err := d.ReadMeasurement(ctx, "pmc1")
	if err != nil {
		return res, err
	}

	res = CalibrationResult{
		Status:  modbus.StatusText(code),
		Value:   float64(applied),
		Quality: float64(q),
		PH:      ph,
	}
	d.log.Info().Str("cp", cp).Float64("value", value).Str("status", res.Status).Msg("calibration point written")
	return res, nil
}
