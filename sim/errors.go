package sim

import (
	"fmt"
)

// ErrorCode represents different types of simulation errors
type ErrorCode int

const (
	// Generic errors
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInternal

	// Construction errors
	ErrCodeInvalidArgument

	// Step and restore errors
	ErrCodeOutOfRange

	// Configuration errors
	ErrCodeInvalidConfig

	// Trace archive errors
	ErrCodeArchiveCorrupted
	ErrCodeChecksumMismatch
	ErrCodeUnsupportedCodec

	// Trace file errors
	ErrCodeTraceReadFailed
	ErrCodeTraceWriteFailed
	ErrCodeTraceClosed
)

// SimError represents a simulation error with context
type SimError struct {
	Code ErrorCode
	Message string
	Op string // Operation that failed
	Err error // Underlying error (if any)
}

// Error implements the error interface
func (e *SimError) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *SimError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches a specific error code
func (e *SimError) Is(target error) bool {
	if t, ok := target.(*SimError); ok {
		return e.Code == t.Code
	}
	return false
}

// NewSimError creates a new simulation error
func NewSimError(code ErrorCode, op, message string, err error) *SimError {
	return &SimError{
		Code: code,
		Message: message,
		Op: op,
		Err: err,
	}
}

// Helper functions for common errors

func ErrInvalidFrameCount(op string, frameCount int) *SimError {
	return NewSimError(
		ErrCodeInvalidArgument,
		op,
		fmt.Sprintf("frame count %d is not positive", frameCount),
		nil,
	)
}

func ErrEmptyReferences(op string) *SimError {
	return NewSimError(
		ErrCodeInvalidArgument,
		op,
		"reference string is empty",
		nil,
	)
}

func ErrNegativeReference(op string, page, position int) *SimError {
	return NewSimError(
		ErrCodeInvalidArgument,
		op,
		fmt.Sprintf("page reference %d at position %d is negative", page, position),
		nil,
	)
}

func ErrStepOutOfRange(op string, step, total int) *SimError {
	return NewSimError(
		ErrCodeOutOfRange,
		op,
		fmt.Sprintf("step %d out of range [0, %d)", step, total),
		nil,
	)
}

func ErrRestoreOutOfRange(op string, step, recorded int) *SimError {
	return NewSimError(
		ErrCodeOutOfRange,
		op,
		fmt.Sprintf("restore target %d out of range [0, %d)", step, recorded),
		nil,
	)
}

func ErrArchiveCorrupted(op string, err error) *SimError {
	return NewSimError(
		ErrCodeArchiveCorrupted,
		op,
		"archive corrupted",
		err,
	)
}

func ErrChecksumMismatch(op string, expected, actual uint32) *SimError {
	return NewSimError(
		ErrCodeChecksumMismatch,
		op,
		fmt.Sprintf("checksum mismatch: expected %08x, got %08x", expected, actual),
		nil,
	)
}

func ErrUnsupportedCodec(op string, codec byte) *SimError {
	return NewSimError(
		ErrCodeUnsupportedCodec,
		op,
		fmt.Sprintf("unsupported compression codec: %d", codec),
		nil,
	)
}

func ErrTraceOperation(op string, err error) *SimError {
	return NewSimError(
		ErrCodeTraceWriteFailed,
		op,
		"trace file operation failed",
		err,
	)
}

// IsErrorCode checks if an error has a specific error code
func IsErrorCode(err error, code ErrorCode) bool {
	if se, ok := err.(*SimError); ok {
		return se.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error, or ErrCodeUnknown
func GetErrorCode(err error) ErrorCode {
	if se, ok := err.(*SimError); ok {
		return se.Code
	}
	return ErrCodeUnknown
}

// IsInvalidArgument reports whether err is a construction-time validation error
func IsInvalidArgument(err error) bool {
	return IsErrorCode(err, ErrCodeInvalidArgument)
}

// IsOutOfRange reports whether err is a step or restore index error
func IsOutOfRange(err error) bool {
	return IsErrorCode(err, ErrCodeOutOfRange)
}
