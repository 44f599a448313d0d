package db

import (
	"database/sql"
	"errors"
	"time"

	"github.com/ad/go-villa-onboarding/internal/models"
)

// ErrSessionClosed is returned for counter or step updates against a
// session whose session_ended_at is already set.
var ErrSessionClosed = errors.New("session is closed")

type SessionRepository struct {
	queue *DBQueue
}

func NewSessionRepository(queue *DBQueue) *SessionRepository {
	return &SessionRepository{queue: queue}
}

const sessionColumns = `id, entity_id, user_id, current_step, steps_completed, steps_skipped,
	fields_completed, fields_skipped, total_fields, is_completed, submitted_for_review,
	total_time_spent, last_activity_at, session_started_at, session_ended_at`

func scanSession(row *sql.Row) (*models.OnboardingSession, error) {
	s := &models.OnboardingSession{}
	var endedAt sql.NullTime
	err := row.Scan(&s.ID, &s.EntityID, &s.UserID, &s.CurrentStep, &s.StepsCompleted,
		&s.StepsSkipped, &s.FieldsCompleted, &s.FieldsSkipped, &s.TotalFields,
		&s.IsCompleted, &s.SubmittedForReview, &s.TotalTimeSpent,
		&s.LastActivityAt, &s.StartedAt, &endedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	return s, nil
}

func (r *SessionRepository) Create(s *models.OnboardingSession) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		_, err := db.Exec(`
			INSERT INTO onboarding_sessions (id, entity_id, user_id, current_step, total_fields)
			VALUES (?, ?, ?, ?, ?)
		`, s.ID, s.EntityID, s.UserID, s.CurrentStep, s.TotalFields)
		return nil, err
	})
	return err
}

func (r *SessionRepository) GetByID(id string) (*models.OnboardingSession, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		return scanSession(db.QueryRow(`
			SELECT `+sessionColumns+` FROM onboarding_sessions WHERE id = ?
		`, id))
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.OnboardingSession), nil
}

// LatestOpenByEntityUser returns the open session with the most recent
// activity, which is the one clients resume.
func (r *SessionRepository) LatestOpenByEntityUser(entityID, userID string) (*models.OnboardingSession, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		return scanSession(db.QueryRow(`
			SELECT `+sessionColumns+` FROM onboarding_sessions
			WHERE entity_id = ? AND user_id = ? AND session_ended_at IS NULL
			ORDER BY last_activity_at DESC LIMIT 1
		`, entityID, userID))
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.OnboardingSession), nil
}

func (r *SessionRepository) LatestOpenByEntity(entityID string) (*models.OnboardingSession, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		return scanSession(db.QueryRow(`
			SELECT `+sessionColumns+` FROM onboarding_sessions
			WHERE entity_id = ? AND session_ended_at IS NULL
			ORDER BY last_activity_at DESC LIMIT 1
		`, entityID))
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.OnboardingSession), nil
}

// ApplyFieldDelta folds one field-activity event into the session counters.
// The idempotency key identifies the event; a key seen before is rejected
// and the counters stay untouched, so retried auto-saves cannot
// double-count. Returns whether the delta was applied.
func (r *SessionRepository) ApplyFieldDelta(sessionID, idempotencyKey string, completedDelta, skippedDelta int) (bool, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		tx, err := db.Begin()
		if err != nil {
			return false, err
		}
		defer tx.Rollback()

		var ended sql.NullTime
		err = tx.QueryRow(`SELECT session_ended_at FROM onboarding_sessions WHERE id = ?`, sessionID).Scan(&ended)
		if err != nil {
			if err == sql.ErrNoRows {
				return false, ErrNotFound
			}
			return false, err
		}
		if ended.Valid {
			return false, ErrSessionClosed
		}

		res, err := tx.Exec(`
			INSERT OR IGNORE INTO session_events (session_id, idempotency_key)
			VALUES (?, ?)
		`, sessionID, idempotencyKey)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if n == 0 {
			// Duplicate delivery.
			return false, tx.Commit()
		}

		_, err = tx.Exec(`
			UPDATE onboarding_sessions
			SET fields_completed = fields_completed + ?,
			    fields_skipped = fields_skipped + ?,
			    last_activity_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, completedDelta, skippedDelta, sessionID)
		if err != nil {
			return false, err
		}
		return true, tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// RecordStepResult advances the session's step counters after a step
// transition and accrues time spent on the step. The idempotency key
// identifies the transition; a key seen before leaves the counters
// untouched. Returns whether the result was applied.
func (r *SessionRepository) RecordStepResult(sessionID string, currentStep, completedDelta, skippedDelta, minutesSpent int, idempotencyKey string) (bool, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		tx, err := db.Begin()
		if err != nil {
			return false, err
		}
		defer tx.Rollback()

		var ended sql.NullTime
		err = tx.QueryRow(`SELECT session_ended_at FROM onboarding_sessions WHERE id = ?`, sessionID).Scan(&ended)
		if err != nil {
			if err == sql.ErrNoRows {
				return false, ErrNotFound
			}
			return false, err
		}
		if ended.Valid {
			return false, ErrSessionClosed
		}

		res, err := tx.Exec(`
			INSERT OR IGNORE INTO session_events (session_id, idempotency_key)
			VALUES (?, ?)
		`, sessionID, idempotencyKey)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if n == 0 {
			// Duplicate delivery.
			return false, tx.Commit()
		}

		_, err = tx.Exec(`
			UPDATE onboarding_sessions
			SET current_step = ?,
			    steps_completed = steps_completed + ?,
			    steps_skipped = steps_skipped + ?,
			    total_time_spent = total_time_spent + ?,
			    last_activity_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, currentStep, completedDelta, skippedDelta, minutesSpent, sessionID)
		if err != nil {
			return false, err
		}
		return true, tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (r *SessionRepository) Touch(sessionID string) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		_, err := db.Exec(`
			UPDATE onboarding_sessions SET last_activity_at = CURRENT_TIMESTAMP
			WHERE id = ? AND session_ended_at IS NULL
		`, sessionID)
		return nil, err
	})
	return err
}

func (r *SessionRepository) SetSubmittedForReview(sessionID string) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		_, err := db.Exec(`
			UPDATE onboarding_sessions
			SET submitted_for_review = TRUE, last_activity_at = CURRENT_TIMESTAMP
			WHERE id = ? AND session_ended_at IS NULL
		`, sessionID)
		return nil, err
	})
	return err
}

// Close ends the session and freezes its counters. Closing twice keeps the
// first end timestamp.
func (r *SessionRepository) Close(sessionID string, completed bool, at time.Time) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		_, err := db.Exec(`
			UPDATE onboarding_sessions
			SET session_ended_at = ?, is_completed = ?
			WHERE id = ? AND session_ended_at IS NULL
		`, at, completed, sessionID)
		return nil, err
	})
	return err
}

// DeleteEndedBefore removes ended sessions older than the cutoff along with
// their applied-event log. Retention cleanup only; open sessions are never
// touched.
func (r *SessionRepository) DeleteEndedBefore(cutoff time.Time) (int64, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		tx, err := db.Begin()
		if err != nil {
			return int64(0), err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			DELETE FROM session_events WHERE session_id IN (
				SELECT id FROM onboarding_sessions
				WHERE session_ended_at IS NOT NULL AND session_ended_at < ?
			)
		`, cutoff)
		if err != nil {
			return int64(0), err
		}
		res, err := tx.Exec(`
			DELETE FROM onboarding_sessions
			WHERE session_ended_at IS NOT NULL AND session_ended_at < ?
		`, cutoff)
		if err != nil {
			return int64(0), err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return int64(0), err
		}
		return n, tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (r *SessionRepository) DeleteByEntity(entityID string) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		tx, err := db.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			DELETE FROM session_events WHERE session_id IN (
				SELECT id FROM onboarding_sessions WHERE entity_id = ?
			)
		`, entityID)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(`DELETE FROM onboarding_sessions WHERE entity_id = ?`, entityID)
		if err != nil {
			return nil, err
		}
		return nil, tx.Commit()
	})
	return err
}
