// Package config loads the deployment description: serial line, I²C
// bus, database, experiment metadata and the per-reactor transducer
// blocks.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/asaldivar93/reactors-czlab/modbus"
	"github.com/asaldivar93/reactors-czlab/types"
)

// Channel describes one transducer lane.
type Channel struct {
	Units       string             `json:"units"`
	Description string             `json:"description,omitempty"`
	Register    string             `json:"register,omitempty"`
	Pin         string             `json:"pin,omitempty"`
	Band        string             `json:"band,omitempty"`
	Calibration *types.Calibration `json:"calibration,omitempty"`
}

// Sensor describes one sensor instance. Model selects the driver:
// ArcPh and VisiFerm are Hamilton probes, AS7341 the spectral sensor,
// Analog a PLC input bank and Random the test stub.
type Sensor struct {
	ID             string    `json:"id"`
	Model          string    `json:"model"`
	Address        uint8     `json:"address,omitempty"`
	SampleInterval float64   `json:"sample_interval"`
	Channels       []Channel `json:"channels"`
}

// Actuator describes one actuator instance.
type Actuator struct {
	ID       string          `json:"id"`
	Model    string          `json:"model"` // Plc | Modbus | Random
	Type     types.Transport `json:"type"`
	Address  uint8           `json:"address,omitempty"`
	Register uint16          `json:"register,omitempty"`
	Pin      string          `json:"pin,omitempty"`
	Units    string          `json:"units,omitempty"`
}

// Reactor groups the transducers of one vessel.
type Reactor struct {
	ID        string     `json:"id"`
	Volume    float64    `json:"volume"`
	Period    float64    `json:"period"` // seconds
	Sensors   []Sensor   `json:"sensors"`
	Actuators []Actuator `json:"actuators"`
}

// Serial mirrors the dispatcher's open-time parameters, with the
// timeout in seconds.
type Serial struct {
	Port    string  `json:"port"`
	Baud    int     `json:"baudrate"`
	Timeout float64 `json:"timeout"`
}

// Experiment names the run the mirror stores under.
type Experiment struct {
	Name   string  `json:"name"`
	Volume float64 `json:"volume"`
}

// Config is the full deployment description.
type Config struct {
	Serial     Serial     `json:"serial"`
	I2CBus     string     `json:"i2c_bus"`
	Database   string     `json:"database"`
	Experiment Experiment `json:"experiment"`
	Reactors   []Reactor  `json:"reactors"`
}

// Defaults applied by Load.
const (
	DefaultPort    = "/dev/ttySC2"
	DefaultBaud    = 19200
	DefaultTimeout = 0.5
	DefaultPeriod  = 7.0
)

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(raw)
}

// Parse decodes and validates a configuration document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Serial.Port == "" {
		c.Serial.Port = DefaultPort
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = DefaultBaud
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = DefaultTimeout
	}
	for i := range c.Reactors {
		if c.Reactors[i].Period == 0 {
			c.Reactors[i].Period = DefaultPeriod
		}
	}
}

func (c *Config) validate() error {
	if _, ok := modbus.BaudCodes[c.Serial.Baud]; !ok {
		return fmt.Errorf("config: baud rate %d not allowed", c.Serial.Baud)
	}
	seenReactor := map[string]struct{}{}
	for _, r := range c.Reactors {
		if _, dup := seenReactor[r.ID]; dup {
			return fmt.Errorf("config: duplicate reactor id %q", r.ID)
		}
		seenReactor[r.ID] = struct{}{}
		if r.Period <= 0 {
			return fmt.Errorf("config: reactor %s: period must be positive", r.ID)
		}
		seen := map[string]struct{}{}
		for _, s := range r.Sensors {
			if _, dup := seen[s.ID]; dup {
				return fmt.Errorf("config: reactor %s: duplicate id %q", r.ID, s.ID)
			}
			seen[s.ID] = struct{}{}
			if s.SampleInterval <= 0 {
				return fmt.Errorf("config: sensor %s: sample_interval must be positive", s.ID)
			}
			if len(s.Channels) == 0 {
				return fmt.Errorf("config: sensor %s: no channels", s.ID)
			}
		}
		for _, a := range r.Actuators {
			if _, dup := seen[a.ID]; dup {
				return fmt.Errorf("config: reactor %s: duplicate id %q", r.ID, a.ID)
			}
			seen[a.ID] = struct{}{}
			switch a.Type {
			case types.TransportPWM, types.TransportAnalog, types.TransportDigital:
			default:
				return fmt.Errorf("config: actuator %s: unknown transport %q", a.ID, a.Type)
			}
		}
	}
	return nil
}

// SerialConfig converts the serial block into dispatcher form.
func (c *Config) SerialConfig() modbus.Config {
	return modbus.Config{
		Port:    c.Serial.Port,
		Baud:    c.Serial.Baud,
		Timeout: time.Duration(c.Serial.Timeout * float64(time.Second)),
	}
}

// PhysicalInfo converts a sensor block into the data-model form.
func (s Sensor) PhysicalInfo(transport types.Transport) (*types.PhysicalInfo, error) {
	chans := make([]*types.Channel, 0, len(s.Channels))
	for _, ch := range s.Channels {
		chans = append(chans, &types.Channel{
			Units:       ch.Units,
			Description: ch.Description,
			Register:    ch.Register,
			Pin:         ch.Pin,
			Band:        ch.Band,
			Calibration: ch.Calibration,
		})
	}
	return types.NewPhysicalInfo(s.Model, s.Address, s.SampleInterval, transport, chans)
}

// PhysicalInfo converts an actuator block into the data-model form.
func (a Actuator) PhysicalInfo() (*types.PhysicalInfo, error) {
	units := a.Units
	if units == "" {
		units = string(a.Type)
	}
	return types.NewPhysicalInfo(a.Model, a.Address, 1, a.Type,
		[]*types.Channel{{Units: units, Pin: a.Pin}})
}
