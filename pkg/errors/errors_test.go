package errors

import (
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := TravelError("axis_x", 151.0, 0, 150)
	want := "[MAX_TRAVEL_EXCEEDED:axis_x] axis_x target 151.000 outside travel [0.000, 150.000]"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWordInMessage(t *testing.T) {
	err := BadNumberError('X', "1.2.3")
	if err.Word != 'X' {
		t.Errorf("Word = %c, want X", err.Word)
	}
	want := `[BAD_NUMBER_FORMAT] bad number format: "1.2.3" (word X)`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestCategories(t *testing.T) {
	tests := []struct {
		err       error
		input     bool
		semantic  bool
		transient bool
		fatal     bool
	}{
		{BadNumberError('F', "abc"), true, false, false, false},
		{ModalGroupError("G1"), true, false, false, false},
		{ZeroLengthError(), false, true, false, false},
		{ArcSpecError("no center"), false, true, false, false},
		{TravelError("axis_y", -1, 0, 100), false, true, false, false},
		{BufferFullError(), false, false, true, false},
		{BufferEmptyError(), false, false, false, true},
		{LimitHitError("x_min"), false, false, false, true},
		{OverflowError(1024), false, false, false, true},
		{ConvergenceError(10), false, false, false, false},
	}
	for _, tt := range tests {
		if got := IsInput(tt.err); got != tt.input {
			t.Errorf("IsInput(%v) = %v, want %v", tt.err, got, tt.input)
		}
		if got := IsSemantic(tt.err); got != tt.semantic {
			t.Errorf("IsSemantic(%v) = %v, want %v", tt.err, got, tt.semantic)
		}
		if got := IsTransient(tt.err); got != tt.transient {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.transient)
		}
		if got := IsFatal(tt.err); got != tt.fatal {
			t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.fatal)
		}
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != CodeOK {
		t.Errorf("CodeOf(nil) = %s, want OK", got)
	}
	if got := CodeOf(fmt.Errorf("plain")); got != CodeSystem {
		t.Errorf("CodeOf(plain) = %s, want SYSTEM", got)
	}
	if got := CodeOf(BufferFullError()); got != CodeBufferFull {
		t.Errorf("CodeOf(BufferFullError) = %s, want BUFFER_FULL", got)
	}
}

func TestWrapUnwrap(t *testing.T) {
	inner := fmt.Errorf("inner")
	err := Wrap(inner, CodeConfigType, "parse failed")
	if err.Unwrap() != inner {
		t.Errorf("Unwrap() did not return the wrapped error")
	}
}

func TestRecoverPanic(t *testing.T) {
	f := func() (err *MachineError) {
		defer func() {
			if e := RecoverPanic(recover()); e != nil {
				err = e
			}
		}()
		panic("boom")
	}
	err := f()
	if err == nil {
		t.Fatal("expected error from panic")
	}
	if err.Code != CodeSystem {
		t.Errorf("Code = %s, want SYSTEM", err.Code)
	}
	if !strings.Contains(err.Message, "boom") {
		t.Errorf("panic value lost: %s", err.Message)
	}
}

func TestRecoverPanicNil(t *testing.T) {
	f := func() (err *MachineError) {
		defer func() {
			if e := RecoverPanic(recover()); e != nil {
				err = e
			}
		}()
		return nil
	}
	if err := f(); err != nil {
		t.Errorf("expected nil for a clean return, got %v", err)
	}
}
