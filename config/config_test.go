package config

import (
	"testing"

	"github.com/asaldivar93/reactors-czlab/types"
)

const sample = `{
  "serial": {"port": "/dev/ttySC2", "baudrate": 19200, "timeout": 0.5},
  "i2c_bus": "1",
  "database": "bioreactor.db",
  "experiment": {"name": "run-12", "volume": 5},
  "reactors": [
    {
      "id": "R0",
      "volume": 5,
      "period": 7,
      "sensors": [
        {
          "id": "ph_0", "model": "ArcPh", "address": 1, "sample_interval": 3,
          "channels": [
            {"units": "pH", "register": "pmc1"},
            {"units": "oC", "register": "pmc6"}
          ]
        },
        {
          "id": "biomass_0", "model": "AS7341", "sample_interval": 5,
          "channels": [{"units": "415", "band": "415"}]
        }
      ],
      "actuators": [
        {"id": "pump_0", "model": "Plc", "type": "pwm", "pin": "Q0.0"},
        {"id": "mfc_0", "model": "Random", "type": "digital"}
      ]
    }
  ]
}`

func TestParseSample(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Reactors) != 1 || cfg.Reactors[0].ID != "R0" {
		t.Fatalf("reactors = %+v", cfg.Reactors)
	}
	if cfg.SerialConfig().Baud != 19200 {
		t.Fatalf("baud = %d", cfg.SerialConfig().Baud)
	}

	info, err := cfg.Reactors[0].Sensors[0].PhysicalInfo(types.TransportDigital)
	if err != nil {
		t.Fatal(err)
	}
	if info.Model != "ArcPh" || len(info.Channels) != 2 || info.Channels[0].Register != "pmc1" {
		t.Fatalf("info = %+v", info)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := Parse([]byte(`{"reactors": [{"id": "R0", "volume": 1}]}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Serial.Port != DefaultPort || cfg.Serial.Baud != DefaultBaud {
		t.Fatalf("serial defaults: %+v", cfg.Serial)
	}
	if cfg.Reactors[0].Period != DefaultPeriod {
		t.Fatalf("period default: %v", cfg.Reactors[0].Period)
	}
}

func TestValidationRejects(t *testing.T) {
	bad := []string{
		`{"serial": {"baudrate": 14400}}`,
		`{"reactors": [{"id": "R0"}, {"id": "R0"}]}`,
		`{"reactors": [{"id": "R0", "sensors": [{"id": "s", "model": "Random", "sample_interval": 0, "channels": [{"units": "x"}]}]}]}`,
		`{"reactors": [{"id": "R0", "sensors": [{"id": "s", "model": "Random", "sample_interval": 1}]}]}`,
		`{"reactors": [{"id": "R0", "actuators": [{"id": "a", "model": "Plc", "type": "hydraulic"}]}]}`,
		`{"reactors": [{"id": "R0", "sensors": [{"id": "x", "model": "Random", "sample_interval": 1, "channels": [{"units": "u"}]}], "actuators": [{"id": "x", "model": "Random", "type": "pwm"}]}]}`,
	}
	for i, doc := range bad {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("case %d accepted: %s", i, doc)
		}
	}
}
