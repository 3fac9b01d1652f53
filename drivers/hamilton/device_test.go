package hamilton

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/errcode"
	"github.com/asaldivar93/reactors-czlab/modbus"
)

// fakeProbe emulates one probe on the line: it answers only at its own
// slave address, tracks the commanded operator level and records
// register writes.
type fakeProbe struct {
	slave     uint8
	level     uint32
	registers map[uint16][]uint16
	writes    []modbus.Request
	failWrite map[uint16]error
	failRead  map[uint16]error
}

func floatRegs(f float32) []uint16 {
	bits := math.Float32bits(f)
	return []uint16{uint16(bits), uint16(bits >> 16)}
}

func uintRegs(u uint32) []uint16 {
	return []uint16{uint16(u), uint16(u >> 16)}
}

func (p *fakeProbe) Process(_ context.Context, req modbus.Request) ([]uint16, error) {
	if req.Slave != p.slave {
		return nil, &errcode.E{C: errcode.ModbusError, Msg: "no answer", Err: errcode.BusTimeout}
	}
	switch req.Kind {
	case modbus.ReadHolding, modbus.ReadInput:
		if err := p.failRead[req.Register]; err != nil {
			return nil, err
		}
		regs, ok := p.registers[req.Register]
		if !ok {
			return nil, &errcode.E{C: errcode.ModbusError, Msg: "Illegal data address"}
		}
		return regs, nil
	case modbus.Write:
		if err := p.failWrite[req.Register]; err != nil {
			return nil, err
		}
		p.writes = append(p.writes, req)
		if req.Register == 4287 { // operator level
			code, _ := modbus.DecodeUint32(req.Values[0].Registers())
			p.level = code
		}
		if req.Register == 4095 { // address change moves the probe
			addr, _ := modbus.DecodeUint32(req.Values[0].Registers())
			p.slave = uint8(addr)
		}
		return nil, nil
	}
	return nil, &errcode.E{C: errcode.ModbusError, Msg: "bad request"}
}

func newProbe() *fakeProbe {
	return &fakeProbe{
		slave: 1,
		registers: map[uint16][]uint16{
			2089: append(append([]uint16{0, 0}, floatRegs(7.02)...), 0, 0, 0, 0, 0, 0),
			2409: append(append([]uint16{0, 0}, floatRegs(25.4)...), 0, 0, 0, 0, 0, 0),
			4871: floatRegs(98.5),
			5189: append(append(uintRegs(0), 0, 0), floatRegs(7.0)...),
		},
		failWrite: map[uint16]error{},
		failRead:  map[uint16]error{},
	}
}

func TestReadMeasurement(t *testing.T) {
	p := newProbe()
	d := New(p, 1, zerolog.Nop())

	v, err := d.ReadMeasurement(context.Background(), "pmc1")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v-7.02) > 1e-5 {
		t.Fatalf("pmc1 = %v, want 7.02", v)
	}
	if v, _ := d.ReadMeasurement(context.Background(), "pmc6"); math.Abs(v-25.4) > 1e-4 {
		t.Fatalf("pmc6 = %v, want 25.4", v)
	}
}

func TestUnknownSymbolRejected(t *testing.T) {
	d := New(newProbe(), 1, zerolog.Nop())
	if _, err := d.ReadHoldingRegisters(context.Background(), "nope"); errcode.Of(err) != errcode.UnknownID {
		t.Fatalf("err = %v, want unknown_id", err)
	}
}

func TestSetAddressMovesTarget(t *testing.T) {
	p := newProbe()
	d := New(p, 1, zerolog.Nop())

	if err := d.SetAddress(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if d.Address() != 5 {
		t.Fatalf("address = %d, want 5", d.Address())
	}
	// The probe answers at the new address; reads with it succeed.
	if _, err := d.ReadMeasurement(context.Background(), "pmc1"); err != nil {
		t.Fatalf("read at new address failed: %v", err)
	}
	// A driver still targeting the old address times out.
	stale := New(p, 1, zerolog.Nop())
	if _, err := stale.ReadMeasurement(context.Background(), "pmc1"); errcode.Of(err) != errcode.ModbusError {
		t.Fatalf("read at old address: %v, want modbus_error", err)
	}
	if d.Level() != "user" {
		t.Fatalf("level = %s, want user", d.Level())
	}
}

func TestSetAddressFailureKeepsOldTarget(t *testing.T) {
	p := newProbe()
	p.failWrite[4095] = &errcode.E{C: errcode.ModbusError, Msg: "Slave device failure"}
	d := New(p, 1, zerolog.Nop())

	if err := d.SetAddress(context.Background(), 5); err == nil {
		t.Fatal("expected failure")
	}
	if d.Address() != 1 {
		t.Fatalf("address = %d, want old address 1", d.Address())
	}
	if d.Level() != "user" {
		t.Fatalf("level after unwind = %s, want user", d.Level())
	}
}

func TestSetBaudrateValidatesAndGates(t *testing.T) {
	p := newProbe()
	d := New(p, 1, zerolog.Nop())

	if err := d.SetBaudrate(context.Background(), 14400); errcode.Of(err) != errcode.InvalidConfig {
		t.Fatalf("bad baud err = %v", err)
	}
	if err := d.SetBaudrate(context.Background(), 38400); err != nil {
		t.Fatal(err)
	}
	// Sequence: specialist, baud write, user.
	var regs []uint16
	for _, w := range p.writes {
		regs = append(regs, w.Register)
	}
	want := []uint16{4287, 4101, 4287}
	if len(regs) != len(want) {
		t.Fatalf("writes = %v", regs)
	}
	for i := range want {
		if regs[i] != want[i] {
			t.Fatalf("writes = %v, want %v", regs, want)
		}
	}
	if d.Level() != "user" {
		t.Fatalf("level = %s", d.Level())
	}
}

func TestWriteCalibrationRoundTrip(t *testing.T) {
	p := newProbe()
	d := New(p, 1, zerolog.Nop())

	res, err := d.WriteCalibration(context.Background(), "cp2", 7.0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "Ok" {
		t.Fatalf("status = %q, want Ok", res.Status)
	}
	if math.Abs(res.Value-7.0) > 1e-6 {
		t.Fatalf("applied value = %v", res.Value)
	}
	if math.Abs(res.Quality-98.5) > 1e-4 {
		t.Fatalf("quality = %v", res.Quality)
	}
	if math.Abs(res.PH-7.02) > 1e-5 {
		t.Fatalf("pH = %v", res.PH)
	}
	if d.Level() != "user" {
		t.Fatalf("level after calibration = %s, want user", d.Level())
	}
}

func TestWriteCalibrationAbortsAndDrops(t *testing.T) {
	p := newProbe()
	p.failRead[4871] = &errcode.E{C: errcode.ModbusError, Msg: "Slave device failure"}
	d := New(p, 1, zerolog.Nop())

	if _, err := d.WriteCalibration(context.Background(), "cp2", 7.0); err == nil {
		t.Fatal("expected abort")
	}
	// The unwind path still dropped back to user level.
	if d.Level() != "user" || p.level != 0x03 {
		t.Fatalf("level = %s probe=%#x, want user", d.Level(), p.level)
	}
}

func TestWriteCalibrationUnknownPoint(t *testing.T) {
	d := New(newProbe(), 1, zerolog.Nop())
	if _, err := d.WriteCalibration(context.Background(), "cp9", 7.0); errcode.Of(err) != errcode.UnknownID {
		t.Fatalf("err = %v", err)
	}
}
