package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"

	"github.com/asaldivar93/reactors-czlab/actuator"
	"github.com/asaldivar93/reactors-czlab/config"
	"github.com/asaldivar93/reactors-czlab/control"
	"github.com/asaldivar93/reactors-czlab/drivers/as7341"
	"github.com/asaldivar93/reactors-czlab/drivers/hamilton"
	"github.com/asaldivar93/reactors-czlab/modbus"
	"github.com/asaldivar93/reactors-czlab/plcio"
	"github.com/asaldivar93/reactors-czlab/reactor"
	"github.com/asaldivar93/reactors-czlab/sensor"
	"github.com/asaldivar93/reactors-czlab/timer"
	"github.com/asaldivar93/reactors-czlab/types"
)

// hamiltonModels are the probe families the Hamilton driver speaks.
var hamiltonModels = map[string]bool{
	"ArcPh":    true,
	"VisiFerm": true,
	"Incyte":   true,
	"ArcCO2":   true,
}

// buildReactors assembles the transducer graph from the configuration.
// The I²C bus is opened lazily, only when a spectral sensor is present.
func buildReactors(cfg *config.Config, dispatcher *modbus.Dispatcher, pio plcio.PlatformIO, log zerolog.Logger) ([]*reactor.Reactor, error) {
	var i2cBus i2c.BusCloser
	openI2C := func() (i2c.Bus, error) {
		if i2cBus != nil {
			return i2cBus, nil
		}
		b, err := i2creg.Open(cfg.I2CBus)
		if err != nil {
			return nil, fmt.Errorf("opening i2c bus %q: %w", cfg.I2CBus, err)
		}
		i2cBus = b
		return b, nil
	}

	var reactors []*reactor.Reactor
	for _, rc := range cfg.Reactors {
		period := time.Duration(rc.Period * float64(time.Second))
		baseTimer := timer.New(period, nil, log)
		factory := control.Factory{Log: log}

		var sensors []sensor.Sensor
		for _, sc := range rc.Sensors {
			s, err := buildSensor(sc, dispatcher, pio, openI2C, log)
			if err != nil {
				return nil, fmt.Errorf("reactor %s: %w", rc.ID, err)
			}
			sensors = append(sensors, s)
		}

		var actuators []actuator.Actuator
		for _, ac := range rc.Actuators {
			a, err := buildActuator(ac, dispatcher, pio, baseTimer, factory, log)
			if err != nil {
				return nil, fmt.Errorf("reactor %s: %w", rc.ID, err)
			}
			actuators = append(actuators, a)
		}

		r, err := reactor.New(rc.ID, rc.Volume, period, baseTimer, sensors, actuators, nil, log)
		if err != nil {
			return nil, err
		}
		reactors = append(reactors, r)
	}
	return reactors, nil
}

func buildSensor(sc config.Sensor, dispatcher *modbus.Dispatcher, pio plcio.PlatformIO, openI2C func() (i2c.Bus, error), log zerolog.Logger) (sensor.Sensor, error) {
	switch {
	case hamiltonModels[sc.Model]:
		info, err := sc.PhysicalInfo(types.TransportDigital)
		if err != nil {
			return nil, err
		}
		dev := hamilton.New(dispatcher, sc.Address, log.With().Str("probe", sc.ID).Logger())
		return sensor.NewHamilton(sc.ID, info, dev, nil, log), nil

	case sc.Model == "AS7341":
		info, err := sc.PhysicalInfo(types.TransportDigital)
		if err != nil {
			return nil, err
		}
		b, err := openI2C()
		if err != nil {
			return nil, err
		}
		dev, err := as7341.New(b, nil)
		if err != nil {
			return nil, err
		}
		return sensor.NewSpectral(sc.ID, info, dev, nil, log), nil

	case sc.Model == "Analog":
		info, err := sc.PhysicalInfo(types.TransportAnalog)
		if err != nil {
			return nil, err
		}
		return sensor.NewAnalog(sc.ID, info, pio, nil, log)

	case sc.Model == "Random":
		info, err := sc.PhysicalInfo(types.TransportDigital)
		if err != nil {
			return nil, err
		}
		return sensor.NewRandom(sc.ID, info, nil, log), nil
	}
	return nil, fmt.Errorf("sensor %s: unknown model %q", sc.ID, sc.Model)
}

func buildActuator(ac config.Actuator, dispatcher *modbus.Dispatcher, pio plcio.PlatformIO, baseTimer *timer.Timer, factory control.Factory, log zerolog.Logger) (actuator.Actuator, error) {
	info, err := ac.PhysicalInfo()
	if err != nil {
		return nil, err
	}
	switch ac.Model {
	case "Plc":
		return actuator.NewPlc(ac.ID, info, pio, baseTimer, factory, log)
	case "Modbus":
		return actuator.NewModbus(ac.ID, info, dispatcher, ac.Register, baseTimer, factory, log), nil
	case "Random":
		return actuator.NewRandom(ac.ID, info, baseTimer, factory, log), nil
	}
	return nil, fmt.Errorf("actuator %s: unknown model %q", ac.ID, ac.Model)
}
