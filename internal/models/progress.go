package models

import (
	"time"

	"github.com/ad/go-villa-onboarding/internal/catalog"
)

// OnboardingProgress is the coarse per-entity record. The step flags are a
// cached projection of the field table; they are only ever written by the
// engine's recompute path, never set directly.
type OnboardingProgress struct {
	EntityID    string
	CurrentStep int
	TotalSteps  int
	StepFlags   [catalog.TotalSteps]bool
	Status      OnboardingStatus
	SubmittedAt *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *OnboardingProgress) CompletedSteps() int {
	n := 0
	for _, done := range p.StepFlags {
		if done {
			n++
		}
	}
	return n
}

// CompletionPercentage is completed steps over total, rounded to the
// nearest integer.
func (p *OnboardingProgress) CompletionPercentage() int {
	return (p.CompletedSteps()*100 + p.TotalSteps/2) / p.TotalSteps
}

// IncompleteSteps returns the 1-based numbers of steps not yet complete.
func (p *OnboardingProgress) IncompleteSteps() []int {
	var out []int
	for i, done := range p.StepFlags {
		if !done {
			out = append(out, i+1)
		}
	}
	return out
}

func (p *OnboardingProgress) AllStepsComplete() bool {
	return p.CompletedSteps() == p.TotalSteps
}
