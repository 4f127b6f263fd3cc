package reconverge

import (
	"errors"
	"fmt"

	"github.com/kolkov/reconvergence/internal/simt/mask"
)

// ErrorKind classifies warp-fatal control-flow failures.
type ErrorKind uint8

const (
	// DivergenceStackOverflow: a divergent branch would push the stack past
	// its depth bound.
	DivergenceStackOverflow ErrorKind = iota + 1
	// BarrierMismatch: part of the live threads wait at a barrier that the
	// rest can no longer reach.
	BarrierMismatch
	// UnsupportedControlFlow: static reconvergence analysis cannot resolve the
	// kernel's control flow (irreducible graph).
	UnsupportedControlFlow
	// InvalidReconvergePoint: a reconvergence marker no pending context owes.
	InvalidReconvergePoint
	// InvalidBranchMask: branch and fallthrough masks do not partition the
	// active mask.
	InvalidBranchMask
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case DivergenceStackOverflow:
		return "divergence stack overflow"
	case BarrierMismatch:
		return "barrier mismatch"
	case UnsupportedControlFlow:
		return "unsupported control flow"
	case InvalidReconvergePoint:
		return "invalid reconvergence point"
	case InvalidBranchMask:
		return "invalid branch mask"
	default:
		return "unknown error"
	}
}

// Error is a warp-fatal engine failure with the offending PC and threads.
//
// Example output:
//
//	pc 6: barrier mismatch: threads {0,1} wait at barrier, {2,3} cannot arrive [active {0,1}]
//
// Errors compare equal under errors.Is when their kinds match, so callers
// test against the sentinels:
//
//	if errors.Is(err, reconverge.ErrBarrierMismatch) { ... }
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type Error struct {
	Kind    ErrorKind
	PC      int
	Active  mask.Mask
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	result := fmt.Sprintf("pc %d: %s", e.PC, e.Kind)
	if e.Message != "" {
		result += ": " + e.Message
	}
	if e.Err != nil {
		result += ": " + e.Err.Error()
	}
	if !e.Active.IsEmpty() {
		result += " [active " + e.Active.String() + "]"
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Sentinel errors for errors.Is.
var (
	ErrStackOverflow          = &Error{Kind: DivergenceStackOverflow}
	ErrBarrierMismatch        = &Error{Kind: BarrierMismatch}
	ErrUnsupportedControlFlow = &Error{Kind: UnsupportedControlFlow}
	ErrInvalidReconvergePoint = &Error{Kind: InvalidReconvergePoint}
	ErrInvalidBranchMask      = &Error{Kind: InvalidBranchMask}
)

// ErrKernelRequired is returned by New for engines that need kernel
// control-flow metadata when none is given.
var ErrKernelRequired = errors.New("reconvergence engine requires kernel metadata")

// ErrTerminated is returned by operations on a warp that already exited.
var ErrTerminated = errors.New("warp terminated")

func newError(kind ErrorKind, pc int, active mask.Mask, format string, args ...any) *Error {
	return &Error{Kind: kind, PC: pc, Active: active, Message: fmt.Sprintf(format, args...)}
}
