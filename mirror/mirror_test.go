package mirror

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/actuator"
	"github.com/asaldivar93/reactors-czlab/bus"
	"github.com/asaldivar93/reactors-czlab/control"
	"github.com/asaldivar93/reactors-czlab/reactor"
	"github.com/asaldivar93/reactors-czlab/sensor"
	"github.com/asaldivar93/reactors-czlab/storage"
	"github.com/asaldivar93/reactors-czlab/timer"
	"github.com/asaldivar93/reactors-czlab/types"
)

type recordingSink struct {
	rows []storage.Info
	err  error
}

func (r *recordingSink) StoreData(info storage.Info, reactorID, experiment string, ts time.Time) error {
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, info)
	return nil
}

func buildReactor(t *testing.T, mock *clock.Mock) (*reactor.Reactor, *types.Channel, *actuator.Random) {
	t.Helper()
	info, err := types.NewPhysicalInfo("ArcPh", 1, 3, types.TransportDigital,
		[]*types.Channel{{Units: "pH"}})
	if err != nil {
		t.Fatal(err)
	}
	s := sensor.NewRandom("ph0", info, mock, zerolog.Nop())

	ainfo, err := types.NewPhysicalInfo("random", 0, 1, types.TransportPWM,
		[]*types.Channel{{Units: "pwm"}})
	if err != nil {
		t.Fatal(err)
	}
	baseTimer := timer.New(7*time.Second, mock, zerolog.Nop())
	factory := control.Factory{Clock: mock, Log: zerolog.Nop()}
	a := actuator.NewRandom("pump0", ainfo, baseTimer, factory, zerolog.Nop())

	r, err := reactor.New("R0", 5, 7*time.Second, baseTimer,
		[]sensor.Sensor{s}, []actuator.Actuator{a}, mock, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	return r, info.Channels[0], a
}

func TestScanPushesOnlyChanges(t *testing.T) {
	mock := clock.NewMock()
	r, ch, _ := buildReactor(t, mock)
	sink := &recordingSink{}
	b := bus.NewBus(8)
	m := New(b, sink, "exp1", []*reactor.Reactor{r}, mock, zerolog.Nop())

	ch.SetValue(7.0)
	m.Scan(context.Background())
	first := len(sink.rows)
	if first == 0 {
		t.Fatal("first scan pushed nothing")
	}

	// Nothing changed: nothing pushed.
	m.Scan(context.Background())
	if len(sink.rows) != first {
		t.Fatalf("unchanged scan pushed %d rows", len(sink.rows)-first)
	}

	ch.SetValue(7.2)
	m.Scan(context.Background())
	if len(sink.rows) != first+1 {
		t.Fatalf("changed scan pushed %d rows, want 1", len(sink.rows)-first)
	}
	last := sink.rows[len(sink.rows)-1]
	if last.Model != "ArcPh" || last.Units != "pH" || last.Value != 7.2 {
		t.Fatalf("row = %+v", last)
	}
}

func TestScanPublishesRetainedValues(t *testing.T) {
	mock := clock.NewMock()
	r, ch, _ := buildReactor(t, mock)
	b := bus.NewBus(8)
	m := New(b, nil, "exp1", []*reactor.Reactor{r}, mock, zerolog.Nop())

	ch.SetValue(6.8)
	m.Scan(context.Background())

	sub := b.Subscribe(bus.T("reactor", "R0", "sensor", "ph0", "pH"))
	select {
	case msg := <-sub.Channel():
		if msg.Payload.(float64) != 6.8 {
			t.Fatalf("retained payload = %v", msg.Payload)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("no retained value delivered")
	}
}

func TestSinkFaultsAreSwallowed(t *testing.T) {
	mock := clock.NewMock()
	r, ch, _ := buildReactor(t, mock)
	sink := &recordingSink{err: errors.New("database gone")}
	b := bus.NewBus(8)
	m := New(b, sink, "exp1", []*reactor.Reactor{r}, mock, zerolog.Nop())

	ch.SetValue(7.0)
	// Must not panic or surface the error.
	m.Scan(context.Background())
}

func TestActuatorOutputMirrored(t *testing.T) {
	mock := clock.NewMock()
	r, _, a := buildReactor(t, mock)
	sink := &recordingSink{}
	b := bus.NewBus(8)
	m := New(b, sink, "exp1", []*reactor.Reactor{r}, mock, zerolog.Nop())

	_ = a.Write(context.Background(), 2000)
	m.Scan(context.Background())

	found := false
	for _, row := range sink.rows {
		if row.Model == "actuator" && row.Name == "pump0" && row.Value == 2000 {
			found = true
		}
	}
	if !found {
		t.Fatalf("actuator row missing: %+v", sink.rows)
	}
}
