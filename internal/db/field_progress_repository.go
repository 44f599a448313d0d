package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/ad/go-villa-onboarding/internal/catalog"
	"github.com/ad/go-villa-onboarding/internal/models"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx so the engine can run
// repository statements inside its own transaction.
type Queryer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

type FieldProgressRepository struct {
	queue *DBQueue
}

func NewFieldProgressRepository(queue *DBQueue) *FieldProgressRepository {
	return &FieldProgressRepository{queue: queue}
}

// UpsertFieldTx records value presence for one field. The write applies only
// when its timestamp is not older than the stored one, so a stale in-flight
// auto-save cannot clobber a newer keystroke. Applying a write clears any
// skip on the field. Returns whether the write was applied.
func UpsertFieldTx(q Queryer, entityID string, step int, fieldKey string, hasValue bool, ts time.Time) (bool, error) {
	res, err := q.Exec(`
		INSERT INTO step_field_progress (entity_id, step, field_key, has_value, skipped, last_write_at)
		VALUES (?, ?, ?, ?, FALSE, ?)
		ON CONFLICT(entity_id, step, field_key) DO UPDATE SET
			has_value = excluded.has_value,
			skipped = FALSE,
			last_write_at = excluded.last_write_at
		WHERE excluded.last_write_at >= step_field_progress.last_write_at
	`, entityID, step, fieldKey, hasValue, ts.UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReadStepTx returns the field records for a step, synthesizing catalog keys
// that were never written as empty records.
func ReadStepTx(q Queryer, entityID string, step int) ([]*models.StepFieldProgress, error) {
	def, err := catalog.Definition(step)
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(`
		SELECT field_key, has_value, skipped, last_write_at
		FROM step_field_progress
		WHERE entity_id = ? AND step = ?
	`, entityID, step)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stored := make(map[string]*models.StepFieldProgress)
	for rows.Next() {
		fp := &models.StepFieldProgress{EntityID: entityID, Step: step}
		var lastWrite int64
		if err := rows.Scan(&fp.FieldKey, &fp.HasValue, &fp.Skipped, &lastWrite); err != nil {
			return nil, err
		}
		if lastWrite > 0 {
			fp.LastWriteAt = time.Unix(0, lastWrite)
		}
		stored[fp.FieldKey] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	records := make([]*models.StepFieldProgress, 0, len(def.FieldKeys()))
	for _, key := range def.FieldKeys() {
		if fp, ok := stored[key]; ok {
			records = append(records, fp)
		} else {
			records = append(records, &models.StepFieldProgress{
				EntityID: entityID,
				Step:     step,
				FieldKey: key,
			})
		}
	}
	return records, nil
}

func MarkFieldSkippedTx(q Queryer, entityID string, step int, fieldKey string, ts time.Time) error {
	_, err := q.Exec(`
		INSERT INTO step_field_progress (entity_id, step, field_key, has_value, skipped, last_write_at)
		VALUES (?, ?, ?, FALSE, TRUE, ?)
		ON CONFLICT(entity_id, step, field_key) DO UPDATE SET
			has_value = FALSE,
			skipped = TRUE,
			last_write_at = excluded.last_write_at
	`, entityID, step, fieldKey, ts.UnixNano())
	return err
}

// Upsert applies a single guarded field write outside any caller transaction.
// This is the auto-save path.
func (r *FieldProgressRepository) Upsert(entityID string, step int, fieldKey string, hasValue bool, ts time.Time) (bool, error) {
	if err := catalog.ValidateFieldKey(step, fieldKey); err != nil {
		return false, err
	}
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		return UpsertFieldTx(db, entityID, step, fieldKey, hasValue, ts)
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

// MarkFieldSkipped flags one field as explicitly skipped and appends a
// skip-log entry in the same transaction.
func (r *FieldProgressRepository) MarkFieldSkipped(entityID string, step int, fieldKey, reason string) error {
	if err := catalog.ValidateFieldKey(step, fieldKey); err != nil {
		return err
	}
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		tx, err := db.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		if err := MarkFieldSkippedTx(tx, entityID, step, fieldKey, time.Now()); err != nil {
			return nil, err
		}
		if err := InsertSkippedItemTx(tx, entityID, step, &fieldKey, reason); err != nil {
			return nil, err
		}
		return nil, tx.Commit()
	})
	return err
}

// MarkStepSkipped skips every catalog field of a skippable step and appends
// a single step-level skip-log entry.
func (r *FieldProgressRepository) MarkStepSkipped(entityID string, step int, reason string) error {
	def, err := catalog.Definition(step)
	if err != nil {
		return err
	}
	if !def.Skippable {
		return fmt.Errorf("%w: %d", catalog.ErrStepNotSkippable, step)
	}
	_, err = r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		tx, err := db.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		now := time.Now()
		for _, key := range def.FieldKeys() {
			if err := MarkFieldSkippedTx(tx, entityID, step, key, now); err != nil {
				return nil, err
			}
		}
		if err := InsertSkippedItemTx(tx, entityID, step, nil, reason); err != nil {
			return nil, err
		}
		return nil, tx.Commit()
	})
	return err
}

// UnmarkSkipped clears the skip flag, leaving has_value as previously
// recorded. Unknown or never-written fields are a no-op.
func (r *FieldProgressRepository) UnmarkSkipped(entityID string, step int, fieldKey string) error {
	if err := catalog.ValidateFieldKey(step, fieldKey); err != nil {
		return err
	}
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		_, err := db.Exec(`
			UPDATE step_field_progress SET skipped = FALSE
			WHERE entity_id = ? AND step = ? AND field_key = ?
		`, entityID, step, fieldKey)
		return nil, err
	})
	return err
}

func (r *FieldProgressRepository) ReadStep(entityID string, step int) ([]*models.StepFieldProgress, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		return ReadStepTx(db, entityID, step)
	})
	if err != nil {
		return nil, err
	}
	return result.([]*models.StepFieldProgress), nil
}

func (r *FieldProgressRepository) DeleteByEntity(entityID string) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		_, err := db.Exec(`DELETE FROM step_field_progress WHERE entity_id = ?`, entityID)
		return nil, err
	})
	return err
}
