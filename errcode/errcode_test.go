package errcode

import (
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	if Of(nil) != OK {
		t.Fatal("nil must map to ok")
	}
	if Of(PairingConflict) != PairingConflict {
		t.Fatal("bare code lost")
	}
	e := &E{C: ModbusError, Op: "modbus: slave 1", Err: BusTimeout}
	if Of(e) != ModbusError {
		t.Fatalf("wrapper code = %v", Of(e))
	}
	if Of(errors.New("opaque")) != Error {
		t.Fatal("opaque error must map to the generic code")
	}
	// A code buried one level down is still found.
	wrapped := fmt.Errorf("while sampling: %w", InvalidConfig)
	if Of(wrapped) != InvalidConfig {
		t.Fatalf("wrapped code = %v", Of(wrapped))
	}
}

func TestEFormatting(t *testing.T) {
	e := &E{C: ModbusError, Op: "hamilton.read", Msg: "short block"}
	if got := e.Error(); got != "hamilton.read: modbus_error: short block" {
		t.Fatalf("message = %q", got)
	}
	withCause := &E{C: ModbusError, Err: BusTimeout}
	if !errors.Is(withCause, BusTimeout) {
		t.Fatal("cause not reachable through Unwrap")
	}
}
