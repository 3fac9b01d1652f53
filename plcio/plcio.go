// Package plcio reifies the PLC vendor GPIO/PWM binding as an interface
// passed to drivers at construction, with a simulated implementation
// for development hosts and tests.
package plcio

import (
	"fmt"
	"sync"
)

// Mode configures a pin direction.
type Mode uint8

const (
	Input Mode = iota
	Output
)

// Analog inputs and outputs are 12-bit.
const (
	CodeMin = 0
	CodeMax = 4095
)

// PlatformIO is the consumed pin-driver surface.
type PlatformIO interface {
	PinMode(pin string, mode Mode) error
	AnalogRead(pin string) (int, error)
	AnalogWrite(pin string, value int) error
	AnalogWriteSetFrequency(pin string, hz int) error
}

// Sim is a map-backed PlatformIO for hosts without the vendor binding.
// Reads return whatever was last injected with Inject.
type Sim struct {
	mu    sync.Mutex
	modes map[string]Mode
	level map[string]int
	freq  map[string]int
}

// NewSim builds an empty simulated platform.
func NewSim() *Sim {
	return &Sim{
		modes: map[string]Mode{},
		level: map[string]int{},
		freq:  map[string]int{},
	}
}

func (s *Sim) PinMode(pin string, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[pin] = mode
	return nil
}

func (s *Sim) AnalogRead(pin string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.modes[pin]; !ok || m != Input {
		return 0, fmt.Errorf("pin %q not configured as input", pin)
	}
	return s.level[pin], nil
}

func (s *Sim) AnalogWrite(pin string, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.modes[pin]; !ok || m != Output {
		return fmt.Errorf("pin %q not configured as output", pin)
	}
	s.level[pin] = value
	return nil
}

func (s *Sim) AnalogWriteSetFrequency(pin string, hz int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freq[pin] = hz
	return nil
}

// Inject places a raw code on an input pin for the next read.
func (s *Sim) Inject(pin string, value int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level[pin] = value
}

// Level returns the last written or injected code on a pin.
func (s *Sim) Level(pin string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level[pin]
}
