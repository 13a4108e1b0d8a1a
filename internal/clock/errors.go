package clock

import (
	"errors"
	"fmt"
)

// ContractErrorCode categorizes timeline misuse.
type ContractErrorCode string

const (
	// CodeWallClockImmutable indicates an attempt to control the wall clock.
	CodeWallClockImmutable ContractErrorCode = "WALL_CLOCK_IMMUTABLE"

	// CodeNotStarted indicates an operation on a timeline that was never started.
	CodeNotStarted ContractErrorCode = "NOT_STARTED"

	// CodeAlreadyStarted indicates Start was called twice.
	CodeAlreadyStarted ContractErrorCode = "ALREADY_STARTED"

	// CodeAlreadyPaused indicates Pause on a paused timeline.
	CodeAlreadyPaused ContractErrorCode = "ALREADY_PAUSED"

	// CodeNotPaused indicates Resume on a running timeline.
	CodeNotPaused ContractErrorCode = "NOT_PAUSED"

	// CodeInvalidTickSize indicates a non-positive tick size.
	CodeInvalidTickSize ContractErrorCode = "INVALID_TICK_SIZE"

	// CodeTimerExists indicates a timer name collision.
	CodeTimerExists ContractErrorCode = "TIMER_EXISTS"

	// CodeTimerState indicates a timer operation out of order
	// (stop before start, use after destroy).
	CodeTimerState ContractErrorCode = "TIMER_STATE"
)

// ContractError is returned when a timeline or timer is used out of contract.
// The operation it describes had no effect.
type ContractError struct {
	Code     ContractErrorCode
	Op       string
	Timeline Kind
}

// Sentinels for errors.Is matching. Only Code is compared.
var (
	ErrWallClockImmutable = &ContractError{Code: CodeWallClockImmutable}
	ErrNotStarted         = &ContractError{Code: CodeNotStarted}
	ErrAlreadyStarted     = &ContractError{Code: CodeAlreadyStarted}
	ErrAlreadyPaused      = &ContractError{Code: CodeAlreadyPaused}
	ErrNotPaused          = &ContractError{Code: CodeNotPaused}
	ErrInvalidTickSize    = &ContractError{Code: CodeInvalidTickSize}
	ErrTimerExists        = &ContractError{Code: CodeTimerExists}
	ErrTimerState         = &ContractError{Code: CodeTimerState}
)

// Error implements the error interface.
func (e *ContractError) Error() string {
	if e.Op == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s on %s timeline", e.Code, e.Op, e.Timeline)
}

// Is reports whether target is a ContractError with the same code.
func (e *ContractError) Is(target error) bool {
	t, ok := target.(*ContractError)
	return ok && t.Code == e.Code
}

// IsContractError returns true if err is (or wraps) a ContractError.
func IsContractError(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

func violation(code ContractErrorCode, op string, k Kind) *ContractError {
	return &ContractError{Code: code, Op: op, Timeline: k}
}
