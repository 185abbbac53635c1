package scan

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so callers can decide whether to skip,
// stop a phase early, or treat the result as "nothing to do".
type ErrorKind int

const (
	// HardwareFault is a failed or out-of-range motor/sensor operation
	HardwareFault ErrorKind = iota + 1
	// NumericalFailure is a non-converging optimizer or degenerate decomposition
	NumericalFailure
	// DataFault is an empty or insufficient input
	DataFault
)

func (k ErrorKind) String() string {
	switch k {
	case HardwareFault:
		return "hardware fault"
	case NumericalFailure:
		return "numerical failure"
	case DataFault:
		return "data fault"
	default:
		return "unknown fault"
	}
}

// Sentinels for errors.Is checks against a kind
var (
	ErrHardwareFault    = &Error{Kind: HardwareFault}
	ErrNumericalFailure = &Error{Kind: NumericalFailure}
	ErrDataFault        = &Error{Kind: DataFault}
)

// Error is the error type returned by every operation in this package
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrDataFault) works
// regardless of Op and wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func hardwareErr(op string, format string, args ...interface{}) error {
	return &Error{Kind: HardwareFault, Op: op, Err: fmt.Errorf(format, args...)}
}

func numericalErr(op string, format string, args ...interface{}) error {
	return &Error{Kind: NumericalFailure, Op: op, Err: fmt.Errorf(format, args...)}
}

func dataErr(op string, format string, args ...interface{}) error {
	return &Error{Kind: DataFault, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or 0 if none
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
