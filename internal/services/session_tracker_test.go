package services

import (
	"errors"
	"testing"

	"github.com/ad/go-villa-onboarding/internal/catalog"
	"github.com/ad/go-villa-onboarding/internal/db"
)

func TestStartSessionPicksUpCurrentStep(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	if _, err := env.engine.Initialize("villa-t1"); err != nil {
		t.Fatal(err)
	}
	completeStep(t, env.engine, "villa-t1", 1)

	session, err := env.tracker.StartSession("villa-t1", "user-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if session.CurrentStep != 2 {
		t.Errorf("session cursor = %d, want 2 (entity's current step)", session.CurrentStep)
	}
	if session.TotalFields != catalog.TotalFields {
		t.Errorf("TotalFields = %d, want %d", session.TotalFields, catalog.TotalFields)
	}
}

func TestStartSessionWithoutProgress(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	session, err := env.tracker.StartSession("villa-t2", "user-1")
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if session.CurrentStep != 1 {
		t.Errorf("session cursor = %d, want 1", session.CurrentStep)
	}
}

func TestConcurrentSessionsAllowed(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	first, err := env.tracker.StartSession("villa-t3", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.tracker.StartSession("villa-t3", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if first.ID == second.ID {
		t.Error("two tabs must get two distinct sessions")
	}
}

func TestResumeSessionFallsBackToStart(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	session, err := env.tracker.ResumeSession("villa-t4", "user-1")
	if err != nil {
		t.Fatalf("ResumeSession on fresh entity failed: %v", err)
	}
	if session == nil || session.ID == "" {
		t.Fatal("expected a fresh session")
	}

	resumed, err := env.tracker.ResumeSession("villa-t4", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if resumed.ID != session.ID {
		t.Errorf("resume returned %s, want existing %s", resumed.ID, session.ID)
	}
}

func TestRecordFieldActivityRejectsDuplicates(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	session, err := env.tracker.StartSession("villa-t5", "user-1")
	if err != nil {
		t.Fatal(err)
	}

	applied, err := env.tracker.RecordFieldActivity(session.ID, "1:villaName:123", 1, 0)
	if err != nil || !applied {
		t.Fatalf("first delivery: applied=%v err=%v", applied, err)
	}
	applied, err = env.tracker.RecordFieldActivity(session.ID, "1:villaName:123", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("retried delta with same idempotency key must be rejected")
	}

	got, err := env.sessionRepo.GetByID(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FieldsCompleted != 1 {
		t.Errorf("FieldsCompleted = %d, want 1", got.FieldsCompleted)
	}
}

func TestCloseSessionFreezes(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	session, err := env.tracker.StartSession("villa-t6", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.tracker.CloseSession(session.ID, true); err != nil {
		t.Fatal(err)
	}

	_, err = env.tracker.RecordFieldActivity(session.ID, "k1", 1, 0)
	if !errors.Is(err, db.ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}

func TestSnapshotWithEta(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	if _, err := env.engine.Initialize("villa-t7"); err != nil {
		t.Fatal(err)
	}
	completeStep(t, env.engine, "villa-t7", 1)
	completeStep(t, env.engine, "villa-t7", 2)

	session, err := env.tracker.StartSession("villa-t7", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	// Two steps closed at 4 minutes each.
	if _, err := env.tracker.RecordStepResult(session.ID, 2, true, false, 4, "step:1:1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.tracker.RecordStepResult(session.ID, 3, true, false, 4, "step:2:2"); err != nil {
		t.Fatal(err)
	}

	summary, err := env.tracker.Snapshot("villa-t7")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if summary.CompletionPercentage != 20 {
		t.Errorf("CompletionPercentage = %d, want 20", summary.CompletionPercentage)
	}
	if summary.AverageStepMinutes != 4 {
		t.Errorf("AverageStepMinutes = %v, want 4", summary.AverageStepMinutes)
	}
	// 8 steps remain at 4 min/step.
	if summary.EstimatedMinutesLeft != 32 {
		t.Errorf("EstimatedMinutesLeft = %v, want 32", summary.EstimatedMinutesLeft)
	}
	if summary.SessionID != session.ID {
		t.Errorf("SessionID = %s, want %s", summary.SessionID, session.ID)
	}
}

func TestRecordStepResultRejectsDuplicates(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	session, err := env.tracker.StartSession("villa-t9", "user-1")
	if err != nil {
		t.Fatal(err)
	}

	applied, err := env.tracker.RecordStepResult(session.ID, 2, true, false, 6, "step:1:500")
	if err != nil || !applied {
		t.Fatalf("first delivery: applied=%v err=%v", applied, err)
	}
	applied, err = env.tracker.RecordStepResult(session.ID, 2, true, false, 6, "step:1:500")
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("retried step result must be rejected")
	}

	got, err := env.sessionRepo.GetByID(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StepsCompleted != 1 || got.TotalTimeSpent != 6 {
		t.Errorf("session = steps %d, minutes %d; want 1, 6 (no double-count)",
			got.StepsCompleted, got.TotalTimeSpent)
	}
}

func TestRecordStepResultCapsMinutes(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	session, err := env.tracker.StartSession("villa-t10", "user-1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.tracker.RecordStepResult(session.ID, 2, true, false, 100000, "step:1:9"); err != nil {
		t.Fatal(err)
	}

	got, err := env.sessionRepo.GetByID(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.TotalTimeSpent != maxStepMinutes {
		t.Errorf("TotalTimeSpent = %d, want capped at %d", got.TotalTimeSpent, maxStepMinutes)
	}
	if got.AverageStepTime() > float64(maxStepMinutes) {
		t.Errorf("AverageStepTime = %v exceeds the cap", got.AverageStepTime())
	}
}

func TestSnapshotWithoutOpenSession(t *testing.T) {
	env, cleanup := setupTestEnv(t)
	defer cleanup()

	if _, err := env.engine.Initialize("villa-t8"); err != nil {
		t.Fatal(err)
	}

	summary, err := env.tracker.Snapshot("villa-t8")
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if summary.SessionID != "" {
		t.Error("expected no session in summary")
	}
	if summary.CompletionPercentage != 0 {
		t.Errorf("CompletionPercentage = %d, want 0", summary.CompletionPercentage)
	}
}
