package services

import (
	"github.com/ad/go-villa-onboarding/internal/catalog"
	"github.com/ad/go-villa-onboarding/internal/db"
	"github.com/ad/go-villa-onboarding/internal/models"
)

// StepCompletion is the aggregator's verdict for one step.
type StepCompletion struct {
	Complete      bool
	MissingFields []string
}

// StepAggregator derives step-level completion from field-level state. It
// never writes; the engine re-runs EvaluateStep inside its own transactions
// so the cached flags and this read path can never disagree.
type StepAggregator struct {
	fieldRepo *db.FieldProgressRepository
}

func NewStepAggregator(fieldRepo *db.FieldProgressRepository) *StepAggregator {
	return &StepAggregator{fieldRepo: fieldRepo}
}

// ComputeStepCompletion reports whether every required field of the step is
// either filled or explicitly skipped, with the offending keys otherwise.
func (a *StepAggregator) ComputeStepCompletion(entityID string, step int) (StepCompletion, error) {
	def, err := catalog.Definition(step)
	if err != nil {
		return StepCompletion{}, err
	}
	records, err := a.fieldRepo.ReadStep(entityID, step)
	if err != nil {
		return StepCompletion{}, err
	}
	return EvaluateStep(def, records), nil
}

// EvaluateStep is the pure completion rule: a required field counts as done
// when it has a value or carries a skip.
func EvaluateStep(def catalog.StepDefinition, records []*models.StepFieldProgress) StepCompletion {
	byKey := make(map[string]*models.StepFieldProgress, len(records))
	for _, r := range records {
		byKey[r.FieldKey] = r
	}

	var missing []string
	for _, key := range def.RequiredFields {
		r, ok := byKey[key]
		if !ok || (!r.HasValue && !r.Skipped) {
			missing = append(missing, key)
		}
	}
	return StepCompletion{Complete: len(missing) == 0, MissingFields: missing}
}
