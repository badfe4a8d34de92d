package sim

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSimError(t *testing.T) {
	err := NewSimError(ErrCodeInvalidArgument, "NewEngine", "frame count 0 is not positive", nil)

	if err.Code != ErrCodeInvalidArgument {
		t.Errorf("Expected code %v, got %v", ErrCodeInvalidArgument, err.Code)
	}

	if err.Op != "NewEngine" {
		t.Errorf("Expected op 'NewEngine', got '%s'", err.Op)
	}

	if err.Message != "frame count 0 is not positive" {
		t.Errorf("Expected message 'frame count 0 is not positive', got '%s'", err.Message)
	}

	expected := "NewEngine: frame count 0 is not positive"
	if err.Error() != expected {
		t.Errorf("Expected error string '%s', got '%s'", expected, err.Error())
	}
}

func TestSimErrorWithUnderlying(t *testing.T) {
	underlying := fmt.Errorf("disk write failed")
	err := NewSimError(ErrCodeTraceWriteFailed, "AppendRecord", "trace file operation failed", underlying)

	expected := "AppendRecord: trace file operation failed: disk write failed"
	if err.Error() != expected {
		t.Errorf("Expected error string '%s', got '%s'", expected, err.Error())
	}

	if errors.Unwrap(err) != underlying {
		t.Error("Unwrap should return the underlying error")
	}
}

func TestSimErrorWithoutOp(t *testing.T) {
	err := NewSimError(ErrCodeInternal, "", "something broke", nil)

	if err.Error() != "something broke" {
		t.Errorf("Expected bare message, got '%s'", err.Error())
	}

	wrapped := NewSimError(ErrCodeInternal, "", "something broke", fmt.Errorf("cause"))
	if wrapped.Error() != "something broke: cause" {
		t.Errorf("Expected message with cause, got '%s'", wrapped.Error())
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name     string
		err      *SimError
		code     ErrorCode
		contains string
	}{
		{
			name:     "invalid frame count",
			err:      ErrInvalidFrameCount("NewEngine", 0),
			code:     ErrCodeInvalidArgument,
			contains: "frame count 0 is not positive",
		},
		{
			name:     "empty references",
			err:      ErrEmptyReferences("NewEngine"),
			code:     ErrCodeInvalidArgument,
			contains: "reference string is empty",
		},
		{
			name:     "negative reference",
			err:      ErrNegativeReference("NewEngine", -3, 4),
			code:     ErrCodeInvalidArgument,
			contains: "page reference -3 at position 4 is negative",
		},
		{
			name:     "step out of range",
			err:      ErrStepOutOfRange("ProcessPageReference", 20, 20),
			code:     ErrCodeOutOfRange,
			contains: "step 20 out of range [0, 20)",
		},
		{
			name:     "restore out of range",
			err:      ErrRestoreOutOfRange("RestoreToStep", 7, 5),
			code:     ErrCodeOutOfRange,
			contains: "restore target 7 out of range [0, 5)",
		},
		{
			name:     "archive corrupted",
			err:      ErrArchiveCorrupted("DeserializeArchive", fmt.Errorf("bad magic")),
			code:     ErrCodeArchiveCorrupted,
			contains: "archive corrupted",
		},
		{
			name:     "checksum mismatch",
			err:      ErrChecksumMismatch("DecompressPayload", 0xdeadbeef, 0x0badf00d),
			code:     ErrCodeChecksumMismatch,
			contains: "checksum mismatch: expected deadbeef, got 0badf00d",
		},
		{
			name:     "unsupported codec",
			err:      ErrUnsupportedCodec("ParseCompressionType", 9),
			code:     ErrCodeUnsupportedCodec,
			contains: "unsupported compression codec: 9",
		},
		{
			name:     "trace operation",
			err:      ErrTraceOperation("growFile", fmt.Errorf("truncate failed")),
			code:     ErrCodeTraceWriteFailed,
			contains: "trace file operation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.code {
				t.Errorf("Expected code %v, got %v", tt.code, tt.err.Code)
			}

			if !strings.Contains(tt.err.Error(), tt.contains) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.contains, tt.err.Error())
			}
		})
	}
}

func TestIsErrorCode(t *testing.T) {
	err := ErrStepOutOfRange("ProcessPageReference", 5, 5)

	if !IsErrorCode(err, ErrCodeOutOfRange) {
		t.Error("IsErrorCode should match the error's code")
	}

	if IsErrorCode(err, ErrCodeInvalidArgument) {
		t.Error("IsErrorCode should not match a different code")
	}

	generic := errors.New("not a sim error")
	if IsErrorCode(generic, ErrCodeOutOfRange) {
		t.Error("IsErrorCode should return false for non-SimError")
	}

	if IsErrorCode(nil, ErrCodeOutOfRange) {
		t.Error("IsErrorCode should return false for nil")
	}
}

func TestGetErrorCode(t *testing.T) {
	err := ErrInvalidFrameCount("NewEngine", -1)
	if GetErrorCode(err) != ErrCodeInvalidArgument {
		t.Errorf("Expected ErrCodeInvalidArgument, got %v", GetErrorCode(err))
	}

	generic := errors.New("generic error")
	if GetErrorCode(generic) != ErrCodeUnknown {
		t.Errorf("Expected ErrCodeUnknown for generic error, got %v", GetErrorCode(generic))
	}
}

func TestInvalidArgumentAndOutOfRangeHelpers(t *testing.T) {
	if !IsInvalidArgument(ErrEmptyReferences("NewEngine")) {
		t.Error("IsInvalidArgument should match construction errors")
	}

	if IsInvalidArgument(ErrStepOutOfRange("ProcessPageReference", 1, 1)) {
		t.Error("IsInvalidArgument should not match range errors")
	}

	if !IsOutOfRange(ErrRestoreOutOfRange("RestoreToStep", 3, 2)) {
		t.Error("IsOutOfRange should match restore errors")
	}

	if IsOutOfRange(ErrEmptyReferences("NewEngine")) {
		t.Error("IsOutOfRange should not match construction errors")
	}
}

func TestErrorIs(t *testing.T) {
	err1 := ErrStepOutOfRange("ProcessPageReference", 5, 5)
	err2 := ErrRestoreOutOfRange("RestoreToStep", 9, 3)

	// Same code matches even with different op and message
	if !errors.Is(err1, err2) {
		t.Error("Errors with the same code should match via errors.Is")
	}

	err3 := ErrEmptyReferences("NewEngine")
	if errors.Is(err1, err3) {
		t.Error("Errors with different codes should not match")
	}

	if errors.Is(err1, fmt.Errorf("plain error")) {
		t.Error("SimError should not match a non-SimError target")
	}
}

func TestErrorWrapping(t *testing.T) {
	underlying := errors.New("mmap failed")
	err := ErrTraceOperation("createMapping", underlying)

	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find the underlying error through the wrapper")
	}

	var se *SimError
	if !errors.As(err, &se) {
		t.Error("errors.As should extract the SimError")
	}

	if se.Code != ErrCodeTraceWriteFailed {
		t.Errorf("Expected ErrCodeTraceWriteFailed, got %v", se.Code)
	}
}

func TestErrorCodeConstants(t *testing.T) {
	codes := []ErrorCode{
		ErrCodeUnknown,
		ErrCodeInternal,
		ErrCodeInvalidArgument,
		ErrCodeOutOfRange,
		ErrCodeInvalidConfig,
		ErrCodeArchiveCorrupted,
		ErrCodeChecksumMismatch,
		ErrCodeUnsupportedCodec,
		ErrCodeTraceReadFailed,
		ErrCodeTraceWriteFailed,
		ErrCodeTraceClosed,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if seen[code] {
			t.Errorf("Duplicate error code value: %v", code)
		}
		seen[code] = true
	}

	if len(seen) != 11 {
		t.Errorf("Expected 11 distinct error codes, got %d", len(seen))
	}
}
