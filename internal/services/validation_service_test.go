package services

import (
	"testing"

	"github.com/ad/go-villa-onboarding/internal/catalog"
)

func TestCanAdvance(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	if _, err := env.engine.Initialize("villa-v1"); err != nil {
		t.Fatal(err)
	}

	ok, missing, err := env.validator.CanAdvance("villa-v1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("fresh step should not allow advancing")
	}
	if len(missing) != 2 {
		t.Errorf("missing = %v, want both required step-1 fields", missing)
	}

	completeStep(t, env.engine, "villa-v1", 1)

	ok, missing, err = env.validator.CanAdvance("villa-v1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || len(missing) != 0 {
		t.Errorf("completed step should advance: ok=%v missing=%v", ok, missing)
	}
}

func TestCanSubmitForReviewListsMissingSteps(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	if _, err := env.engine.Initialize("villa-v2"); err != nil {
		t.Fatal(err)
	}

	for _, step := range []int{1, 2, 3} {
		completeStep(t, env.engine, "villa-v2", step)
	}

	check, err := env.validator.CanSubmitForReview("villa-v2")
	if err != nil {
		t.Fatal(err)
	}
	if check.OK {
		t.Error("submission should be blocked with steps 4-10 open")
	}
	want := []int{4, 5, 6, 7, 8, 9, 10}
	if len(check.MissingSteps) != len(want) {
		t.Fatalf("missing steps = %v, want %v", check.MissingSteps, want)
	}
	for i, step := range want {
		if check.MissingSteps[i] != step {
			t.Errorf("missing[%d] = %d, want %d", i, check.MissingSteps[i], step)
		}
	}
}

func TestCanSubmitForReviewAcceptsSkippedStep(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	if _, err := env.engine.Initialize("villa-v3"); err != nil {
		t.Fatal(err)
	}

	for step := 1; step <= catalog.TotalSteps; step++ {
		if step == 5 {
			// OTA credentials skipped wholesale instead of filled in.
			if err := env.engine.SkipStep("villa-v3", 5, "manual channel management"); err != nil {
				t.Fatal(err)
			}
			continue
		}
		completeStep(t, env.engine, "villa-v3", step)
	}

	check, err := env.validator.CanSubmitForReview("villa-v3")
	if err != nil {
		t.Fatal(err)
	}
	if !check.OK {
		t.Errorf("skipped step 5 must not block submission, missing %v", check.MissingSteps)
	}
	for _, step := range check.MissingSteps {
		if step == 5 {
			t.Error("step 5 listed as missing despite explicit skip")
		}
	}
}
