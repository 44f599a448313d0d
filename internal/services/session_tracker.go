package services

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/ad/go-villa-onboarding/internal/catalog"
	"github.com/ad/go-villa-onboarding/internal/db"
	"github.com/ad/go-villa-onboarding/internal/models"
)

// ProgressSummary joins the engine's coarse state with the most recent open
// session into the single view the wizard renders on resume.
type ProgressSummary struct {
	EntityID             string                  `json:"entityId"`
	Status               models.OnboardingStatus `json:"status"`
	CurrentStep          int                     `json:"currentStep"`
	TotalSteps           int                     `json:"totalSteps"`
	CompletedSteps       int                     `json:"completedSteps"`
	CompletionPercentage int                     `json:"completionPercentage"`
	SessionID            string                  `json:"sessionId,omitempty"`
	FieldsCompleted      int                     `json:"fieldsCompleted"`
	FieldsSkipped        int                     `json:"fieldsSkipped"`
	StepsSkipped         int                     `json:"stepsSkipped"`
	AverageStepMinutes   float64                 `json:"averageStepMinutes"`
	EstimatedMinutesLeft float64                 `json:"estimatedMinutesLeft"`
	LastActivityAt       *time.Time              `json:"lastActivityAt,omitempty"`
}

// SessionTracker records per-user analytics sessions. It reads engine state
// for cross-checks but has an independent write path; engine writes never
// block on tracker failures.
type SessionTracker struct {
	sessionRepo  *db.SessionRepository
	progressRepo *db.ProgressRepository
}

func NewSessionTracker(sessionRepo *db.SessionRepository, progressRepo *db.ProgressRepository) *SessionTracker {
	return &SessionTracker{sessionRepo: sessionRepo, progressRepo: progressRepo}
}

// StartSession opens a new session for (entity, user). Concurrent sessions
// for the same pair are allowed; two tabs are two sessions. The session
// cursor starts at the entity's current step when progress exists.
func (t *SessionTracker) StartSession(entityID, userID string) (*models.OnboardingSession, error) {
	currentStep := 1
	if progress, err := t.progressRepo.GetByEntity(entityID); err == nil {
		currentStep = progress.CurrentStep
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}

	session := &models.OnboardingSession{
		ID:          uuid.NewString(),
		EntityID:    entityID,
		UserID:      userID,
		CurrentStep: currentStep,
		TotalFields: catalog.TotalFields,
	}
	if err := t.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	return t.sessionRepo.GetByID(session.ID)
}

// ResumeSession returns the open session with the latest activity for
// (entity, user), touching it, or starts a fresh one when none exists.
func (t *SessionTracker) ResumeSession(entityID, userID string) (*models.OnboardingSession, error) {
	session, err := t.sessionRepo.LatestOpenByEntityUser(entityID, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return t.StartSession(entityID, userID)
		}
		return nil, err
	}
	if err := t.sessionRepo.Touch(session.ID); err != nil {
		return nil, err
	}
	return session, nil
}

// RecordFieldActivity folds one field write into the session counters. The
// idempotency key is derived by the caller from (step, fieldKey, timestamp);
// a retried auto-save reuses the key and is rejected here so it cannot
// double-count. Returns whether the delta was applied.
func (t *SessionTracker) RecordFieldActivity(sessionID, idempotencyKey string, completedDelta, skippedDelta int) (bool, error) {
	applied, err := t.sessionRepo.ApplyFieldDelta(sessionID, idempotencyKey, completedDelta, skippedDelta)
	if err != nil {
		return false, err
	}
	if !applied {
		duplicateSessionDeltas.Inc()
	}
	return applied, nil
}

// No step legitimately takes longer than this; the cap bounds how far one
// bad minutesSpent payload can skew the running mean.
const maxStepMinutes = 12 * 60

// RecordStepResult advances the session cursor after a step transition and
// accrues the minutes spent on the step. The idempotency key identifies the
// transition; a retried delivery reuses the key and is rejected so it cannot
// double-count. Returns whether the result was applied.
func (t *SessionTracker) RecordStepResult(sessionID string, currentStep int, completed, skipped bool, minutesSpent int, idempotencyKey string) (bool, error) {
	if minutesSpent > maxStepMinutes {
		minutesSpent = maxStepMinutes
	}
	completedDelta, skippedDelta := 0, 0
	if completed {
		completedDelta = 1
	}
	if skipped {
		skippedDelta = 1
	}
	applied, err := t.sessionRepo.RecordStepResult(sessionID, currentStep, completedDelta, skippedDelta, minutesSpent, idempotencyKey)
	if err != nil {
		return false, err
	}
	if !applied {
		duplicateSessionDeltas.Inc()
	}
	return applied, nil
}

func (t *SessionTracker) MarkSubmittedForReview(sessionID string) error {
	return t.sessionRepo.SetSubmittedForReview(sessionID)
}

// CloseSession ends the session and freezes its counters.
func (t *SessionTracker) CloseSession(sessionID string, completed bool) error {
	return t.sessionRepo.Close(sessionID, completed, time.Now())
}

// Snapshot aggregates the engine state and the latest open session. The ETA
// is remaining steps times the session's running mean step time.
func (t *SessionTracker) Snapshot(entityID string) (*ProgressSummary, error) {
	progress, err := t.progressRepo.GetByEntity(entityID)
	if err != nil {
		return nil, err
	}

	summary := &ProgressSummary{
		EntityID:             progress.EntityID,
		Status:               progress.Status,
		CurrentStep:          progress.CurrentStep,
		TotalSteps:           progress.TotalSteps,
		CompletedSteps:       progress.CompletedSteps(),
		CompletionPercentage: progress.CompletionPercentage(),
	}

	session, err := t.sessionRepo.LatestOpenByEntity(entityID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return summary, nil
		}
		return nil, err
	}

	summary.SessionID = session.ID
	summary.FieldsCompleted = session.FieldsCompleted
	summary.FieldsSkipped = session.FieldsSkipped
	summary.StepsSkipped = session.StepsSkipped
	summary.AverageStepMinutes = session.AverageStepTime()
	summary.EstimatedMinutesLeft = float64(progress.TotalSteps-session.StepsCompleted) * summary.AverageStepMinutes
	if summary.EstimatedMinutesLeft < 0 {
		summary.EstimatedMinutesLeft = 0
	}
	lastActivity := session.LastActivityAt
	summary.LastActivityAt = &lastActivity
	return summary, nil
}
