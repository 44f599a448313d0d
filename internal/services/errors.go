package services

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyInitialized = errors.New("onboarding already initialized")
	ErrAlreadyCompleted   = errors.New("onboarding already completed")
	ErrInvalidStep        = errors.New("invalid step")
	ErrNotSubmittable     = errors.New("entity not ready for review submission")
)

// StepIncompleteError is returned when a caller requests step completion but
// required fields are still missing. The field list is meant to be surfaced
// to the caller verbatim.
type StepIncompleteError struct {
	Step          int
	MissingFields []string
}

func (e *StepIncompleteError) Error() string {
	return fmt.Sprintf("step %d incomplete, missing fields: %v", e.Step, e.MissingFields)
}

// IncompleteStepsError is returned by Complete when one or more steps are
// not yet done.
type IncompleteStepsError struct {
	Steps []int
}

func (e *IncompleteStepsError) Error() string {
	return fmt.Sprintf("incomplete steps: %v", e.Steps)
}
