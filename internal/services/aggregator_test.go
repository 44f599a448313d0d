package services

import (
	"reflect"
	"testing"
	"time"

	"github.com/ad/go-villa-onboarding/internal/catalog"
	"github.com/ad/go-villa-onboarding/internal/models"
)

func record(step int, key string, hasValue, skipped bool) *models.StepFieldProgress {
	return &models.StepFieldProgress{
		EntityID: "villa-agg",
		Step:     step,
		FieldKey: key,
		HasValue: hasValue,
		Skipped:  skipped,
	}
}

func TestEvaluateStepAllMissing(t *testing.T) {
	def, _ := catalog.Definition(1)

	completion := EvaluateStep(def, nil)
	if completion.Complete {
		t.Error("empty step should be incomplete")
	}
	if !reflect.DeepEqual(completion.MissingFields, def.RequiredFields) {
		t.Errorf("missing = %v, want %v", completion.MissingFields, def.RequiredFields)
	}
}

func TestEvaluateStepMixedStates(t *testing.T) {
	def, _ := catalog.Definition(1) // requires villaName, bedrooms

	completion := EvaluateStep(def, []*models.StepFieldProgress{
		record(1, "villaName", true, false),
	})
	if completion.Complete {
		t.Error("step with one required field missing should be incomplete")
	}
	if !reflect.DeepEqual(completion.MissingFields, []string{"bedrooms"}) {
		t.Errorf("missing = %v, want [bedrooms]", completion.MissingFields)
	}

	// A skip satisfies a required field just like a value does.
	completion = EvaluateStep(def, []*models.StepFieldProgress{
		record(1, "villaName", true, false),
		record(1, "bedrooms", false, true),
	})
	if !completion.Complete {
		t.Errorf("value+skip should complete the step, missing %v", completion.MissingFields)
	}
}

func TestEvaluateStepIgnoresOptionalFields(t *testing.T) {
	def, _ := catalog.Definition(1)

	completion := EvaluateStep(def, []*models.StepFieldProgress{
		record(1, "villaName", true, false),
		record(1, "bedrooms", true, false),
		record(1, "bathrooms", false, false), // optional, untouched
	})
	if !completion.Complete {
		t.Errorf("optional fields must not block completion, missing %v", completion.MissingFields)
	}
}

func TestComputeStepCompletionReadsStore(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	entityID := "villa-agg-store"
	if _, err := env.fieldRepo.Upsert(entityID, 3, "amenities", true, time.Now()); err != nil {
		t.Fatal(err)
	}

	completion, err := env.aggregator.ComputeStepCompletion(entityID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !completion.Complete {
		t.Errorf("step 3 should be complete, missing %v", completion.MissingFields)
	}

	completion, err = env.aggregator.ComputeStepCompletion(entityID, 6)
	if err != nil {
		t.Fatal(err)
	}
	if completion.Complete {
		t.Error("untouched step 6 should be incomplete")
	}
}
