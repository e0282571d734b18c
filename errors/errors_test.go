package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:   PhaseRealloc,
				Kind:    KindAllocation,
				Path:    []string{"session", "buffer"},
				Handle:  0x100000001,
				Address: 0x41,
				Detail:  "cannot grow",
			},
			contains: []string{"[realloc]", "allocation", "session.buffer", "handle=0x100000001", "addr=0x41", "cannot grow"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRemote,
				Kind:   KindRemote,
				Detail: "put type",
				Cause:  errors.New("store offline"),
			},
			contains: []string{"[remote]", "remote", "put type", "caused by", "store offline"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_OmitsZeroHandleAndAddress(t *testing.T) {
	msg := (&Error{Phase: PhaseStart, Kind: KindInvalidData}).Error()
	if strings.Contains(msg, "handle=") || strings.Contains(msg, "addr=") {
		t.Errorf("unexpected context in %q", msg)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseMetadata,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseStart,
		Kind:  KindProtocolViolation,
		Path:  []string{"foo"},
	}

	if !err.Is(&Error{Phase: PhaseStart, Kind: KindProtocolViolation}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseStop, Kind: KindProtocolViolation}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseStart, Kind: KindAllocation}) {
		t.Error("Is should not match different kind")
	}

	wrapped := fmt.Errorf("callback: %w", err)
	if !errors.Is(wrapped, &Error{Phase: PhaseStart, Kind: KindProtocolViolation}) {
		t.Error("errors.Is should match through wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseResolve, KindProtocolViolation).
		Path("buffer", "flags").
		Handle(7).
		Address(0x13).
		Value(3).
		Cause(cause).
		Detail("tag %d unrecognized", 3).
		Build()

	if err.Phase != PhaseResolve {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseResolve)
	}
	if err.Kind != KindProtocolViolation {
		t.Errorf("Kind = %v, want %v", err.Kind, KindProtocolViolation)
	}
	if len(err.Path) != 2 || err.Path[0] != "buffer" || err.Path[1] != "flags" {
		t.Errorf("Path = %v, want [buffer flags]", err.Path)
	}
	if err.Handle != 7 || err.Address != 0x13 {
		t.Errorf("Handle=%d Address=%#x", err.Handle, err.Address)
	}
	if err.Value != 3 {
		t.Errorf("Value = %v, want 3", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "tag 3 unrecognized" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		err   error
		name  string
		fatal bool
	}{
		{ProtocolViolation(PhaseStop, "stopped"), "protocol violation", true},
		{AllocationFailed(PhaseRealloc, 10, 5), "allocation", true},
		{NotInitialized(PhaseMetadata, "type updater"), "not initialized", false},
		{InvalidData(PhaseDecode, nil, "short"), "invalid data", false},
		{fmt.Errorf("wrapped: %w", ProtocolViolation(PhaseStart, "twice")), "wrapped", true},
		{errors.New("plain"), "plain error", false},
		{nil, "nil", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.fatal {
				t.Errorf("IsFatal() = %v, want %v", got, tt.fatal)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := fmt.Errorf("ctx: %w", NotFound(PhaseSession, "session", 4))
	if !IsKind(err, KindNotFound) {
		t.Error("expected KindNotFound")
	}
	if IsKind(err, KindConflict) {
		t.Error("unexpected KindConflict")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("ProtocolViolation", func(t *testing.T) {
		err := ProtocolViolation(PhaseStart, "start received %d times", 2)
		if err.Kind != KindProtocolViolation {
			t.Errorf("Kind = %v, want %v", err.Kind, KindProtocolViolation)
		}
		if err.Detail != "start received 2 times" {
			t.Errorf("Detail = %q", err.Detail)
		}
	})

	t.Run("AllocationFailed", func(t *testing.T) {
		err := AllocationFailed(PhaseRealloc, 4096, 1024)
		if err.Kind != KindAllocation {
			t.Errorf("Kind = %v, want %v", err.Kind, KindAllocation)
		}
		if !strings.Contains(err.Detail, "4096") {
			t.Errorf("Detail = %v, should contain size", err.Detail)
		}
	})

	t.Run("OutOfBounds", func(t *testing.T) {
		err := OutOfBounds(PhaseDecode, 10, 4, 12)
		if err.Kind != KindOutOfBounds {
			t.Errorf("Kind = %v, want %v", err.Kind, KindOutOfBounds)
		}
		if err.Value != 10 {
			t.Errorf("Value = %v, want 10", err.Value)
		}
	})

	t.Run("Conflict", func(t *testing.T) {
		err := Conflict(PhaseMetadata, []string{"Person", "age"}, "type changed")
		if err.Kind != KindConflict {
			t.Errorf("Kind = %v, want %v", err.Kind, KindConflict)
		}
	})

	t.Run("Remote", func(t *testing.T) {
		cause := errors.New("gone")
		err := Remote("types", cause)
		if err.Phase != PhaseRemote || !errors.Is(err, cause) {
			t.Errorf("unexpected remote error %v", err)
		}
	})
}

func TestRecovered(t *testing.T) {
	t.Run("string panic", func(t *testing.T) {
		err := Recovered(PhaseStop, "boom")
		if err.Kind != KindProtocolViolation || !strings.Contains(err.Detail, "boom") {
			t.Errorf("unexpected %v", err)
		}
	})

	t.Run("structured panic keeps kind", func(t *testing.T) {
		orig := AllocationFailed(PhaseRealloc, 8, 4)
		err := Recovered(PhaseStop, orig)
		if err != orig {
			t.Errorf("expected original error, got %v", err)
		}
	})

	t.Run("plain error panic", func(t *testing.T) {
		cause := errors.New("nil map")
		err := Recovered(PhaseStart, cause)
		if err.Kind != KindProtocolViolation || !errors.Is(err, cause) {
			t.Errorf("unexpected %v", err)
		}
	})
}
