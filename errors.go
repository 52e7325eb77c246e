package cuzk

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrEmptyInput is returned by MSM for zero points.
	ErrEmptyInput = errors.New("msm: empty input")
	// ErrLengthMismatch is returned when points and scalars differ in length.
	ErrLengthMismatch = errors.New("msm: points and scalars differ in length")
	// ErrInputTooLarge is returned for more points than the pipeline accepts.
	ErrInputTooLarge = errors.New("msm: input too large")
	// ErrScalarOutOfRange is returned for a negative scalar or one wider than
	// the configured scalar bits.
	ErrScalarOutOfRange = errors.New("msm: scalar out of range")
	// ErrStageMismatch is returned in debug mode when a stage output differs
	// from its CPU recomputation.
	ErrStageMismatch = errors.New("msm: stage output mismatch")
)

// StageMismatchError lists every difference the verifier found in one stage.
type StageMismatchError struct {
	Stage  string
	Window int
	Errs   *multierror.Error
}

func (e *StageMismatchError) Error() string {
	return fmt.Sprintf("%s: stage %s window %d: %v", ErrStageMismatch, e.Stage, e.Window, e.Errs)
}

// Is makes errors.Is(err, ErrStageMismatch) hold.
func (e *StageMismatchError) Is(target error) bool {
	return target == ErrStageMismatch
}

func (e *StageMismatchError) Unwrap() error {
	return e.Errs
}
