package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies a pipeline failure.
type FailureKind int

const (
	// FailureBackend is a generation or tool transport fault.
	FailureBackend FailureKind = iota
	// FailureEmptyResult means the run ended without orchestrator output.
	FailureEmptyResult
	// FailureTimeout means a stage or the whole run exceeded its deadline.
	FailureTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailureBackend:
		return "backend"
	case FailureEmptyResult:
		return "empty_result"
	case FailureTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// ErrNoOutput is the cause of an empty-result failure.
var ErrNoOutput = errors.New("pipeline completed but produced no output")

// ErrStageTimeout is returned when a single stage exceeds its deadline.
var ErrStageTimeout = errors.New("stage timed out")

// Failure is the single upstream-failure signal returned by Runner.Run.
// Quality rejection and unparseable output are never failures.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return "Impact story generation failed: " + f.Err.Error()
}

func (f *Failure) Unwrap() error { return f.Err }

// classify wraps err as a Failure, detecting deadline expiry.
func classify(ctx context.Context, err error) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	if errors.Is(err, ErrStageTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Failure{Kind: FailureTimeout, Err: err}
	}
	return &Failure{Kind: FailureBackend, Err: err}
}
