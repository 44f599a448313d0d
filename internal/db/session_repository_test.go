package db

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ad/go-villa-onboarding/internal/catalog"
	"github.com/ad/go-villa-onboarding/internal/models"
)

func createTestSession(t *testing.T, repo *SessionRepository, entityID, userID string) *models.OnboardingSession {
	t.Helper()
	session := &models.OnboardingSession{
		ID:          uuid.NewString(),
		EntityID:    entityID,
		UserID:      userID,
		CurrentStep: 1,
		TotalFields: catalog.TotalFields,
	}
	if err := repo.Create(session); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	got, err := repo.GetByID(session.ID)
	if err != nil {
		t.Fatalf("Failed to read back session: %v", err)
	}
	return got
}

func TestSessionCreateAndGet(t *testing.T) {
	db, queue := setupTestDB(t)
	defer db.Close()
	defer queue.Close()

	repo := NewSessionRepository(queue)
	session := createTestSession(t, repo, "villa-s1", "user-1")

	if !session.IsOpen() {
		t.Error("new session should be open")
	}
	if session.TotalFields != catalog.TotalFields {
		t.Errorf("TotalFields = %d, want %d", session.TotalFields, catalog.TotalFields)
	}

	_, err := repo.GetByID("no-such-session")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestApplyFieldDeltaIdempotency(t *testing.T) {
	db, queue := setupTestDB(t)
	defer db.Close()
	defer queue.Close()

	repo := NewSessionRepository(queue)
	session := createTestSession(t, repo, "villa-s2", "user-1")

	applied, err := repo.ApplyFieldDelta(session.ID, "1:villaName:1000", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Error("first delivery should apply")
	}

	// Retried auto-save delivers the same key again.
	applied, err = repo.ApplyFieldDelta(session.ID, "1:villaName:1000", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("duplicate delivery should be rejected")
	}

	got, err := repo.GetByID(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.FieldsCompleted != 1 {
		t.Errorf("FieldsCompleted = %d, want 1 (no double-count)", got.FieldsCompleted)
	}
}

func TestClosedSessionFreezesCounters(t *testing.T) {
	db, queue := setupTestDB(t)
	defer db.Close()
	defer queue.Close()

	repo := NewSessionRepository(queue)
	session := createTestSession(t, repo, "villa-s3", "user-1")

	if err := repo.Close(session.ID, true, time.Now()); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetByID(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.IsOpen() || !got.IsCompleted {
		t.Errorf("close not recorded: open=%v completed=%v", got.IsOpen(), got.IsCompleted)
	}

	_, err = repo.ApplyFieldDelta(session.ID, "1:bedrooms:2000", 1, 0)
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}

	_, err = repo.RecordStepResult(session.ID, 2, 1, 0, 5, "step:2:1")
	if !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed for step result, got %v", err)
	}
}

func TestLatestOpenByEntityUser(t *testing.T) {
	db, queue := setupTestDB(t)
	defer db.Close()
	defer queue.Close()

	repo := NewSessionRepository(queue)
	first := createTestSession(t, repo, "villa-s4", "user-1")
	second := createTestSession(t, repo, "villa-s4", "user-1")

	// Activity on the first session makes it the resumption target.
	time.Sleep(1100 * time.Millisecond)
	if err := repo.Touch(first.ID); err != nil {
		t.Fatal(err)
	}

	latest, err := repo.LatestOpenByEntityUser("villa-s4", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != first.ID {
		t.Errorf("latest = %s, want %s (touched), other was %s", latest.ID, first.ID, second.ID)
	}
}

func TestRecordStepResultAccruesTime(t *testing.T) {
	db, queue := setupTestDB(t)
	defer db.Close()
	defer queue.Close()

	repo := NewSessionRepository(queue)
	session := createTestSession(t, repo, "villa-s5", "user-1")

	applied, err := repo.RecordStepResult(session.ID, 2, 1, 0, 7, "step:1:100")
	if err != nil || !applied {
		t.Fatalf("first step result: applied=%v err=%v", applied, err)
	}
	applied, err = repo.RecordStepResult(session.ID, 3, 1, 0, 3, "step:2:200")
	if err != nil || !applied {
		t.Fatalf("second step result: applied=%v err=%v", applied, err)
	}

	// Retried delivery of the second transition.
	applied, err = repo.RecordStepResult(session.ID, 3, 1, 0, 3, "step:2:200")
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("retried step result with same idempotency key must be rejected")
	}

	got, err := repo.GetByID(session.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.StepsCompleted != 2 || got.TotalTimeSpent != 10 || got.CurrentStep != 3 {
		t.Errorf("session = steps %d, minutes %d, cursor %d; want 2, 10, 3",
			got.StepsCompleted, got.TotalTimeSpent, got.CurrentStep)
	}
	if got.AverageStepTime() != 5 {
		t.Errorf("AverageStepTime = %v, want 5", got.AverageStepTime())
	}
}

func TestDeleteEndedBefore(t *testing.T) {
	db, queue := setupTestDB(t)
	defer db.Close()
	defer queue.Close()

	repo := NewSessionRepository(queue)
	old := createTestSession(t, repo, "villa-s6", "user-1")
	open := createTestSession(t, repo, "villa-s6", "user-2")

	if err := repo.Close(old.ID, false, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatal(err)
	}

	deleted, err := repo.DeleteEndedBefore(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := repo.GetByID(old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old session should be gone, got %v", err)
	}
	if _, err := repo.GetByID(open.ID); err != nil {
		t.Errorf("open session should survive: %v", err)
	}
}
