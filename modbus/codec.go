package modbus

import (
	"encoding/binary"
	"math"

	"github.com/asaldivar93/reactors-czlab/errcode"
)

// ValueType selects the 32-bit encoding of a register pair.
type ValueType uint8

const (
	Int32 ValueType = iota
	Uint32
	Float32
)

// Value is one element of a write request. Mixed-type lists are legal;
// every value occupies two registers on the wire.
type Value struct {
	t ValueType
	i int32
	u uint32
	f float32
}

// Int builds a signed 32-bit value.
func Int(v int32) Value { return Value{t: Int32, i: v} }

// Uint builds an unsigned 32-bit value.
func Uint(v uint32) Value { return Value{t: Uint32, u: v} }

// Float builds an IEEE-754 32-bit value.
func Float(v float32) Value { return Value{t: Float32, f: v} }

// Registers renders the value as its little-endian register pair.
func (v Value) Registers() []uint16 {
	raw := v.raw()
	return []uint16{uint16(raw), uint16(raw >> 16)}
}

func (v Value) raw() uint32 {
	switch v.t {
	case Int32:
		return uint32(v.i)
	case Uint32:
		return v.u
	default:
		return math.Float32bits(v.f)
	}
}

// encodeValues renders values as a register stream with little-endian
// word order and big-endian byte order within each word.
func encodeValues(values []Value) []byte {
	out := make([]byte, 0, 4*len(values))
	for _, v := range values {
		raw := v.raw()
		lo := uint16(raw)
		hi := uint16(raw >> 16)
		out = binary.BigEndian.AppendUint16(out, lo)
		out = binary.BigEndian.AppendUint16(out, hi)
	}
	return out
}

// regsFromBytes converts a response payload (big-endian bytes per
// register) into register values.
func regsFromBytes(b []byte) []uint16 {
	regs := make([]uint16, len(b)/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(b[2*i:])
	}
	return regs
}

func rawFromPair(regs []uint16) uint32 {
	return uint32(regs[0]) | uint32(regs[1])<<16
}

// DecodeUint32 reads a little-endian register pair as an unsigned
// 32-bit integer.
func DecodeUint32(regs []uint16) (uint32, error) {
	if len(regs) < 2 {
		return 0, &errcode.E{C: errcode.ModbusError, Op: "modbus.decode", Msg: "need a register pair"}
	}
	return rawFromPair(regs), nil
}

// DecodeFloat32 reads a little-endian register pair as an IEEE-754
// float.
func DecodeFloat32(regs []uint16) (float32, error) {
	if len(regs) < 2 {
		return 0, &errcode.E{C: errcode.ModbusError, Op: "modbus.decode", Msg: "need a register pair"}
	}
	return math.Float32frombits(rawFromPair(regs)), nil
}

// Decode reads a little-endian register pair as the requested type,
// widened to float64. Only unsigned and float casts are decodable;
// anything else fails with a Modbus error.
func Decode(regs []uint16, t ValueType) (float64, error) {
	switch t {
	case Uint32:
		u, err := DecodeUint32(regs)
		return float64(u), err
	case Float32:
		f, err := DecodeFloat32(regs)
		return float64(f), err
	default:
		return 0, &errcode.E{C: errcode.ModbusError, Op: "modbus.decode", Msg: "unsupported cast type"}
	}
}
