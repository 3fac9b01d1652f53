package errcode

// Code is a stable, externally visible error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	ModbusError      Code = "modbus_error"
	InvalidConfig    Code = "invalid_config"
	MissingReference Code = "missing_reference"
	PairingConflict  Code = "pairing_conflict"
	UnknownID        Code = "unknown_id"
	BusTimeout       Code = "bus_timeout"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		if c := Of(u.Unwrap()); c != Error {
			return c
		}
	}
	return Error
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, c Code) bool {
	if err == nil {
		return c == OK
	}
	for err != nil {
		if Of(err) == c {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
