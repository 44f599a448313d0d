package services

import (
	"github.com/ad/go-villa-onboarding/internal/catalog"
)

// SubmitCheck is the verdict for submission-for-review readiness.
type SubmitCheck struct {
	OK           bool
	MissingSteps []int
}

// ValidationService gates forward navigation and final submission. It only
// reads through the aggregator.
type ValidationService struct {
	aggregator *StepAggregator
}

func NewValidationService(aggregator *StepAggregator) *ValidationService {
	return &ValidationService{aggregator: aggregator}
}

// CanAdvance reports whether the step is complete, with the missing
// required keys otherwise.
func (v *ValidationService) CanAdvance(entityID string, step int) (bool, []string, error) {
	completion, err := v.aggregator.ComputeStepCompletion(entityID, step)
	if err != nil {
		return false, nil, err
	}
	return completion.Complete, completion.MissingFields, nil
}

// CanSubmitForReview requires every step to be in a terminal per-step
// state: complete, or (for skippable steps) wholly skipped. A wholly
// skipped step is complete by construction, so the check is uniform.
func (v *ValidationService) CanSubmitForReview(entityID string) (*SubmitCheck, error) {
	check := &SubmitCheck{OK: true}
	for step := 1; step <= catalog.TotalSteps; step++ {
		completion, err := v.aggregator.ComputeStepCompletion(entityID, step)
		if err != nil {
			return nil, err
		}
		if !completion.Complete {
			check.OK = false
			check.MissingSteps = append(check.MissingSteps, step)
		}
	}
	return check, nil
}
