package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ad/go-villa-onboarding/internal/catalog"
	"github.com/ad/go-villa-onboarding/internal/models"
)

var stepFlagColumns = [catalog.TotalSteps]string{
	"step1_completed", "step2_completed", "step3_completed", "step4_completed",
	"step5_completed", "step6_completed", "step7_completed", "step8_completed",
	"step9_completed", "step10_completed",
}

type ProgressRepository struct {
	queue *DBQueue
}

func NewProgressRepository(queue *DBQueue) *ProgressRepository {
	return &ProgressRepository{queue: queue}
}

func InsertProgressTx(q Queryer, p *models.OnboardingProgress) error {
	_, err := q.Exec(`
		INSERT INTO onboarding_progress (entity_id, current_step, total_steps, status)
		VALUES (?, ?, ?, ?)
	`, p.EntityID, p.CurrentStep, p.TotalSteps, p.Status)
	return err
}

func GetProgressTx(q Queryer, entityID string) (*models.OnboardingProgress, error) {
	query := fmt.Sprintf(`
		SELECT entity_id, current_step, total_steps, %s, status, submitted_at, completed_at, created_at, updated_at
		FROM onboarding_progress WHERE entity_id = ?
	`, strings.Join(stepFlagColumns[:], ", "))

	p := &models.OnboardingProgress{}
	var submittedAt, completedAt sql.NullTime
	dest := []interface{}{&p.EntityID, &p.CurrentStep, &p.TotalSteps}
	for i := range p.StepFlags {
		dest = append(dest, &p.StepFlags[i])
	}
	dest = append(dest, &p.Status, &submittedAt, &completedAt, &p.CreatedAt, &p.UpdatedAt)

	if err := q.QueryRow(query, entityID).Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if submittedAt.Valid {
		p.SubmittedAt = &submittedAt.Time
	}
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}
	return p, nil
}

// SetStepFlagTx writes the cached completion flag for one step. Only the
// engine's recompute path calls this, always inside the transaction that
// read the field snapshot it was derived from.
func SetStepFlagTx(q Queryer, entityID string, step int, done bool) error {
	if step < 1 || step > catalog.TotalSteps {
		return fmt.Errorf("%w: %d", catalog.ErrUnknownStep, step)
	}
	query := fmt.Sprintf(`
		UPDATE onboarding_progress SET %s = ?, updated_at = CURRENT_TIMESTAMP
		WHERE entity_id = ?
	`, stepFlagColumns[step-1])
	_, err := q.Exec(query, done, entityID)
	return err
}

func UpdateCurrentStepTx(q Queryer, entityID string, currentStep int) error {
	_, err := q.Exec(`
		UPDATE onboarding_progress SET current_step = ?, updated_at = CURRENT_TIMESTAMP
		WHERE entity_id = ?
	`, currentStep, entityID)
	return err
}

func UpdateStatusTx(q Queryer, entityID string, status models.OnboardingStatus) error {
	_, err := q.Exec(`
		UPDATE onboarding_progress SET status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE entity_id = ?
	`, status, entityID)
	return err
}

func SetCompletedTx(q Queryer, entityID string, at time.Time) error {
	_, err := q.Exec(`
		UPDATE onboarding_progress
		SET status = ?, completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE entity_id = ? AND completed_at IS NULL
	`, models.StatusCompleted, at, entityID)
	return err
}

// SetSubmittedTx stamps submitted_at once; later submissions keep the
// original timestamp.
func SetSubmittedTx(q Queryer, entityID string, at time.Time) error {
	_, err := q.Exec(`
		UPDATE onboarding_progress SET submitted_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE entity_id = ? AND submitted_at IS NULL
	`, at, entityID)
	return err
}

func (r *ProgressRepository) GetByEntity(entityID string) (*models.OnboardingProgress, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		return GetProgressTx(db, entityID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.OnboardingProgress), nil
}

func (r *ProgressRepository) DeleteByEntity(entityID string) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		_, err := db.Exec(`DELETE FROM onboarding_progress WHERE entity_id = ?`, entityID)
		return nil, err
	})
	return err
}
