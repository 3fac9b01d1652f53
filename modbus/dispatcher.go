// Package modbus serializes all RTU traffic on one serial line. The
// dispatcher owns the client, frames requests first-in first-out and
// maps transport exceptions onto the closed error taxonomy. The RS-485
// bus is half-duplex, so there is never more than one request in
// flight.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	gm "github.com/goburrow/modbus"
	"github.com/goburrow/serial"
	"github.com/rs/zerolog"

	"github.com/asaldivar93/reactors-czlab/errcode"
)

// BaudCodes maps the allowed host baud rates onto the vendor codes
// written when reprogramming a probe's serial interface.
var BaudCodes = map[int]uint32{
	4800:   0,
	9600:   1,
	19200:  2,
	38400:  3,
	57600:  4,
	115200: 5,
}

// ExceptionText maps a probe exception code to its description.
// Code 0x00 is "Ok" and never surfaces as an error.
var ExceptionText = map[byte]string{
	0x00: "Ok",
	0x01: "Illegal function",
	0x02: "Illegal data address",
	0x03: "Illegal data Value",
	0x04: "Slave device failure",
}

// StatusText resolves a status code read back from a probe.
func StatusText(code uint32) string {
	if s, ok := ExceptionText[byte(code)]; ok && code <= 0xFF {
		return s
	}
	return "Unknown error"
}

// Kind selects the request variant.
type Kind uint8

const (
	ReadHolding Kind = iota
	ReadInput
	Write
)

// Request is one serialized bus operation. Count is the register count
// for reads; Values is the payload for writes.
type Request struct {
	Kind     Kind
	Slave    uint8
	Register uint16
	Count    uint16
	Values   []Value
}

// Transport is the consumed client surface. The production transport is
// a goburrow RTU client; tests substitute a fake.
type Transport interface {
	SetSlave(id byte)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
}

type rtuTransport struct {
	gm.Client
	handler *gm.RTUClientHandler
}

func (t *rtuTransport) SetSlave(id byte) { t.handler.SlaveId = id }

// Config holds the serial line parameters fixed at open time. Framing
// is always 8N1 RTU.
type Config struct {
	Port    string        `json:"port"`
	Baud    int           `json:"baudrate"`
	Timeout time.Duration `json:"timeout"`
}

type job struct {
	req   Request
	reply chan result
}

type result struct {
	regs []uint16
	err  error
}

// Dispatcher serializes requests over one transport.
type Dispatcher struct {
	tr    Transport
	log   zerolog.Logger
	jobs  chan job
	close func() error
}

// Open connects an RTU client on the given serial port and returns a
// dispatcher for it. Connection failure is a Modbus error.
func Open(cfg Config, log zerolog.Logger) (*Dispatcher, error) {
	if _, ok := BaudCodes[cfg.Baud]; !ok {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: "modbus.open", Msg: fmt.Sprintf("baud rate %d not allowed", cfg.Baud)}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}
	handler := gm.NewRTUClientHandler(cfg.Port)
	handler.BaudRate = cfg.Baud
	handler.DataBits = 8
	handler.Parity = "N"
	handler.StopBits = 1
	handler.Timeout = cfg.Timeout
	if err := handler.Connect(); err != nil {
		return nil, &errcode.E{C: errcode.ModbusError, Op: "modbus.open", Msg: "failed to connect", Err: err}
	}
	d := NewDispatcher(&rtuTransport{Client: gm.NewClient(handler), handler: handler}, log)
	d.close = handler.Close
	return d, nil
}

// NewDispatcher wraps an already-connected transport.
func NewDispatcher(tr Transport, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		tr:   tr,
		log:  log,
		jobs: make(chan job, 16),
	}
}

// Start runs the request worker until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-d.jobs:
				regs, err := d.execute(j.req)
				j.reply <- result{regs: regs, err: err}
			}
		}
	}()
}

// Close releases the serial port.
func (d *Dispatcher) Close() error {
	if d.close != nil {
		return d.close()
	}
	return nil
}

// Process submits a request and blocks until it has been executed in
// queue order. Reads return the register values; writes return nil.
func (d *Dispatcher) Process(ctx context.Context, req Request) ([]uint16, error) {
	j := job{req: req, reply: make(chan result, 1)}
	select {
	case d.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-j.reply:
		return r.regs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Dispatcher) execute(req Request) ([]uint16, error) {
	d.tr.SetSlave(req.Slave)
	var (
		payload []byte
		err     error
	)
	switch req.Kind {
	case ReadHolding:
		payload, err = d.tr.ReadHoldingRegisters(req.Register, req.Count)
	case ReadInput:
		payload, err = d.tr.ReadInputRegisters(req.Register, req.Count)
	case Write:
		if len(req.Values) == 0 {
			return nil, &errcode.E{C: errcode.ModbusError, Op: "modbus.write", Msg: "write requires values"}
		}
		body := encodeValues(req.Values)
		_, err = d.tr.WriteMultipleRegisters(req.Register, uint16(len(body)/2), body)
	default:
		return nil, &errcode.E{C: errcode.ModbusError, Op: "modbus.process", Msg: "invalid request kind"}
	}
	if err != nil {
		return nil, d.mapError(req, err)
	}
	if req.Kind == Write {
		return nil, nil
	}
	return regsFromBytes(payload), nil
}

func (d *Dispatcher) mapError(req Request, err error) error {
	op := fmt.Sprintf("modbus: slave %d register %d", req.Slave, req.Register)
	var me *gm.ModbusError
	if errors.As(err, &me) {
		wrapped := &errcode.E{
			C:   errcode.ModbusError,
			Op:  op,
			Msg: StatusText(uint32(me.ExceptionCode)),
			Err: err,
		}
		d.log.Error().Err(err).Uint8("slave", req.Slave).Uint16("register", req.Register).Msg("probe exception")
		return wrapped
	}
	if errors.Is(err, serial.ErrTimeout) {
		d.log.Error().Err(err).Uint8("slave", req.Slave).Msg("bus timeout")
		return &errcode.E{C: errcode.ModbusError, Op: op, Msg: "timeout", Err: errcode.BusTimeout}
	}
	d.log.Error().Err(err).Uint8("slave", req.Slave).Msg("transport failure")
	return &errcode.E{C: errcode.ModbusError, Op: op, Err: err}
}
