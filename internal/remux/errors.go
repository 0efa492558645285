package remux

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSamples is returned by [Run] when no pipe yields a single sample.
	ErrNoSamples = errors.New("remux: no samples to mux")

	// ErrStart is returned by [Run] when the destination refuses to open its
	// write session.
	ErrStart = errors.New("remux: start session")

	// ErrPlanUsed is returned when a plan is modified or run after [Run] has
	// already consumed it.
	ErrPlanUsed = errors.New("remux: plan already run")
)

// Steps at which a pipe can fail, reported in [PipeError.Op].
const (
	OpSeed      = "seed"
	OpRead      = "read"
	OpTransform = "transform"
	OpWrite     = "write"
	OpSource    = "source"
	OpSink      = "sink"
)

// PipeError reports the failure of one pipe. It unwraps to the cause.
type PipeError struct {
	// Pipe is the index of the failing pipe in plan order.
	Pipe int

	// Name is the destination track's title, or its kind when untitled.
	Name string

	// Op is the step that failed (one of the Op constants).
	Op string

	Err error
}

func (e *PipeError) Error() string {
	return fmt.Sprintf("remux: pipe %d (%s): %s: %v", e.Pipe, e.Name, e.Op, e.Err)
}

func (e *PipeError) Unwrap() error { return e.Err }
