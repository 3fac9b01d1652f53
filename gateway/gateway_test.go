package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/actuator"
	"github.com/asaldivar93/reactors-czlab/control"
	"github.com/asaldivar93/reactors-czlab/errcode"
	"github.com/asaldivar93/reactors-czlab/reactor"
	"github.com/asaldivar93/reactors-czlab/sensor"
	"github.com/asaldivar93/reactors-czlab/timer"
	"github.com/asaldivar93/reactors-czlab/types"
)

func buildSurface(t *testing.T) (*Surface, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()

	sinfo, err := types.NewPhysicalInfo("random", 0, 3, types.TransportDigital,
		[]*types.Channel{{Units: "oC"}})
	if err != nil {
		t.Fatal(err)
	}
	sen := sensor.NewRandom("temp0", sinfo, mock, zerolog.Nop())

	ainfo, err := types.NewPhysicalInfo("random", 0, 1, types.TransportPWM,
		[]*types.Channel{{Units: "pwm"}})
	if err != nil {
		t.Fatal(err)
	}
	baseTimer := timer.New(7*time.Second, mock, zerolog.Nop())
	factory := control.Factory{Clock: mock, Log: zerolog.Nop()}
	act := actuator.NewRandom("pump0", ainfo, baseTimer, factory, zerolog.Nop())

	r, err := reactor.New("R0", 5, 7*time.Second, baseTimer,
		[]sensor.Sensor{sen}, []actuator.Actuator{act}, mock, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	surf, err := New(zerolog.Nop(), r)
	if err != nil {
		t.Fatal(err)
	}
	return surf, mock
}

func TestBrowseNameValidation(t *testing.T) {
	mock := clock.NewMock()
	r, err := reactor.New("fermenterA", 5, time.Second, nil, nil, nil, mock, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(zerolog.Nop(), r); err == nil {
		t.Fatal("invalid browse name accepted")
	}
}

func TestControlSurfaceDispatch(t *testing.T) {
	surf, _ := buildSurface(t)

	if err := surf.SetControlConfig("R0", "pump0", types.ControlConfig{Method: types.Manual, Value: 500}); err != nil {
		t.Fatal(err)
	}
	if err := surf.SetControlConfig("R0", "ghost", types.ControlConfig{Method: types.Manual}); errcode.Of(err) != errcode.UnknownID {
		t.Fatalf("unknown actuator: %v", err)
	}
	if err := surf.SetControlConfig("R9", "pump0", types.ControlConfig{Method: types.Manual}); errcode.Of(err) != errcode.UnknownID {
		t.Fatalf("unknown reactor: %v", err)
	}
}

func TestReferenceOptionsEnumeration(t *testing.T) {
	surf, _ := buildSurface(t)
	opts, err := surf.ReferenceOptions("R0")
	if err != nil {
		t.Fatal(err)
	}
	if len(opts) != 2 || opts[0] != NoReference || opts[1] != "temp0" {
		t.Fatalf("options = %v", opts)
	}
}

func TestSetReferenceSensorRoundTrip(t *testing.T) {
	surf, _ := buildSurface(t)
	if err := surf.SetReferenceSensor("R0", "pump0", "temp0"); err != nil {
		t.Fatal(err)
	}
	if err := surf.SetReferenceSensor("R0", "pump0", NoReference); err != nil {
		t.Fatal(err)
	}
	if err := surf.SetReferenceSensor("R0", "pump0", "ghost"); errcode.Of(err) != errcode.UnknownID {
		t.Fatalf("unknown sensor: %v", err)
	}
}

func TestChannelValueViews(t *testing.T) {
	surf, _ := buildSurface(t)
	vals, err := surf.ChannelValues("R0")
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := vals["temp0:oC"]; !ok || v != types.Unread {
		t.Fatalf("views = %v", vals)
	}
}

func TestPairingOpsReturnBool(t *testing.T) {
	surf, _ := buildSurface(t)

	if !surf.SetPairing("R0", "temp0", "pump0", 0) {
		t.Fatal("valid pairing rejected")
	}
	if surf.SetPairing("R0", "temp0", "pump0", 0) {
		t.Fatal("conflicting pairing accepted")
	}
	if !surf.Unpair("R0", "temp0", "pump0", 0) {
		t.Fatal("valid unpair rejected")
	}
	if surf.Unpair("R0", "temp0", "pump0", 0) {
		t.Fatal("repeated unpair accepted")
	}
	if surf.SetPairing("R9", "temp0", "pump0", 0) {
		t.Fatal("unknown reactor accepted")
	}
}

func TestCalibrateRequiresCapableSensor(t *testing.T) {
	surf, _ := buildSurface(t)
	if _, _, _, err := surf.Calibrate(context.Background(), "R0", "temp0", "cp1", 7.0); errcode.Of(err) != errcode.InvalidConfig {
		t.Fatalf("random sensor calibration: %v", err)
	}
	if surf.CalibrationStatus("R0", "temp0") != nil {
		t.Fatal("status for non-calibrating sensor must be nil")
	}
}
