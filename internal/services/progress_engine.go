package services

import (
	"database/sql"
	"log"
	"time"

	"github.com/ad/go-villa-onboarding/internal/catalog"
	"github.com/ad/go-villa-onboarding/internal/db"
	"github.com/ad/go-villa-onboarding/internal/models"
)

// ProgressSnapshot is the coarse progress view returned to callers after a
// mutating engine call.
type ProgressSnapshot struct {
	Progress             *models.OnboardingProgress
	CompletionPercentage int
	StepPercentage       int

	// AppliedFields lists the keys whose writes survived the monotonic
	// guard in the mutation that produced this snapshot. Empty on reads.
	AppliedFields []string
}

// ProgressEngine mediates every write to the coarse progress record. The
// ten step flags are cached projections: each mutation of field state runs
// the aggregator rule and the flag write inside one transaction, submitted
// as a single queue task so sibling writers never observe a half-applied
// step.
type ProgressEngine struct {
	queue        *db.DBQueue
	progressRepo *db.ProgressRepository
	aggregator   *StepAggregator
}

func NewProgressEngine(queue *db.DBQueue, progressRepo *db.ProgressRepository, aggregator *StepAggregator) *ProgressEngine {
	return &ProgressEngine{
		queue:        queue,
		progressRepo: progressRepo,
		aggregator:   aggregator,
	}
}

// Initialize creates the progress record for an entity at step 1. It is not
// an upsert; callers that may race should check Get first and treat
// ErrAlreadyInitialized as benign.
func (e *ProgressEngine) Initialize(entityID string) (*models.OnboardingProgress, error) {
	result, err := e.queue.Execute(func(sqlDB *sql.DB) (interface{}, error) {
		tx, err := sqlDB.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		if _, err := db.GetProgressTx(tx, entityID); err == nil {
			return nil, db.Domain(ErrAlreadyInitialized)
		} else if err != db.ErrNotFound {
			return nil, err
		}

		progress := &models.OnboardingProgress{
			EntityID:    entityID,
			CurrentStep: 1,
			TotalSteps:  catalog.TotalSteps,
			Status:      models.StatusNotStarted,
		}
		if err := db.InsertProgressTx(tx, progress); err != nil {
			return nil, err
		}

		// Auto-saves may have landed before the record existed; adopt that
		// field state so the flags and the aggregator agree from the start.
		for s := 1; s <= catalog.TotalSteps; s++ {
			def, err := catalog.Definition(s)
			if err != nil {
				return nil, err
			}
			records, err := db.ReadStepTx(tx, entityID, s)
			if err != nil {
				return nil, err
			}
			completion := EvaluateStep(def, records)
			if completion.Complete {
				if err := db.SetStepFlagTx(tx, entityID, s, true); err != nil {
					return nil, err
				}
			}
			progress.StepFlags[s-1] = completion.Complete
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return progress, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.OnboardingProgress), nil
}

// ApplyStepUpdate records value presence for a batch of fields and
// recomputes the step's completion. The domain values themselves are
// persisted by the calling domain service; only presence is tracked here.
// ts is the client write timestamp, shared by every field in the batch, so
// a retried update re-applies under the monotonic guard instead of
// registering as new writes. When completedFlag is set but required fields
// are missing, the field writes and the recomputed flag still commit, and
// the call fails with StepIncompleteError carrying the missing keys.
func (e *ProgressEngine) ApplyStepUpdate(entityID string, step int, fieldValues map[string]interface{}, completedFlag bool, ts time.Time) (*ProgressSnapshot, error) {
	def, err := catalog.Definition(step)
	if err != nil {
		return nil, err
	}
	for key := range fieldValues {
		if err := catalog.ValidateFieldKey(step, key); err != nil {
			return nil, err
		}
	}

	type outcome struct {
		snapshot *ProgressSnapshot
		applied  []string
		stale    int
	}

	result, err := e.queue.Execute(func(sqlDB *sql.DB) (interface{}, error) {
		tx, err := sqlDB.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		progress, err := db.GetProgressTx(tx, entityID)
		if err != nil {
			return nil, err
		}
		if progress.Status == models.StatusCompleted {
			return nil, db.Domain(ErrAlreadyCompleted)
		}

		stale := 0
		appliedKeys := make([]string, 0, len(fieldValues))
		for key, value := range fieldValues {
			applied, err := db.UpsertFieldTx(tx, entityID, step, key, valuePresent(value), ts)
			if err != nil {
				return nil, err
			}
			if applied {
				appliedKeys = append(appliedKeys, key)
			} else {
				stale++
			}
		}

		records, err := db.ReadStepTx(tx, entityID, step)
		if err != nil {
			return nil, err
		}
		completion := EvaluateStep(def, records)

		if err := db.SetStepFlagTx(tx, entityID, step, completion.Complete); err != nil {
			return nil, err
		}
		progress.StepFlags[step-1] = completion.Complete

		if completedFlag && !completion.Complete {
			// The field writes are valid progress; keep them.
			if err := tx.Commit(); err != nil {
				return nil, err
			}
			return nil, db.Domain(&StepIncompleteError{Step: step, MissingFields: completion.MissingFields})
		}

		if completedFlag && completion.Complete {
			next := step + 1
			if next > progress.TotalSteps {
				next = progress.TotalSteps
			}
			if next > progress.CurrentStep {
				progress.CurrentStep = next
				if err := db.UpdateCurrentStepTx(tx, entityID, next); err != nil {
					return nil, err
				}
			}
		}

		if progress.Status == models.StatusNotStarted {
			progress.Status = models.StatusInProgress
			if err := db.UpdateStatusTx(tx, entityID, models.StatusInProgress); err != nil {
				return nil, err
			}
		}

		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return &outcome{snapshot: e.snapshot(progress, step), applied: appliedKeys, stale: stale}, nil
	})
	if err != nil {
		return nil, err
	}

	out := result.(*outcome)
	if out.stale > 0 {
		staleFieldWritesDropped.Add(float64(out.stale))
		log.Printf("dropped %d stale field write(s) for entity %s step %d", out.stale, entityID, step)
	}
	out.snapshot.AppliedFields = out.applied
	return out.snapshot, nil
}

// SaveField is the auto-save path: one guarded field write plus the flag
// recompute, in one transaction. Returns whether the write applied; a
// dropped stale write is not an error.
func (e *ProgressEngine) SaveField(entityID string, step int, fieldKey string, value interface{}, ts time.Time) (bool, error) {
	if err := catalog.ValidateFieldKey(step, fieldKey); err != nil {
		return false, err
	}
	result, err := e.queue.Execute(func(sqlDB *sql.DB) (interface{}, error) {
		tx, err := sqlDB.Begin()
		if err != nil {
			return false, err
		}
		defer tx.Rollback()

		applied, err := db.UpsertFieldTx(tx, entityID, step, fieldKey, valuePresent(value), ts)
		if err != nil {
			return false, err
		}
		if err := e.recomputeFlagTx(tx, entityID, step); err != nil {
			return false, err
		}
		return applied, tx.Commit()
	})
	if err != nil {
		return false, err
	}
	applied := result.(bool)
	if !applied {
		staleFieldWritesDropped.Inc()
	}
	return applied, nil
}

// SkipField marks one field as explicitly skipped, logs it, and recomputes
// the step flag.
func (e *ProgressEngine) SkipField(entityID string, step int, fieldKey, reason string) error {
	if err := catalog.ValidateFieldKey(step, fieldKey); err != nil {
		return err
	}
	_, err := e.queue.Execute(func(sqlDB *sql.DB) (interface{}, error) {
		tx, err := sqlDB.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		if err := db.MarkFieldSkippedTx(tx, entityID, step, fieldKey, time.Now()); err != nil {
			return nil, err
		}
		if err := db.InsertSkippedItemTx(tx, entityID, step, &fieldKey, reason); err != nil {
			return nil, err
		}
		if err := e.recomputeFlagTx(tx, entityID, step); err != nil {
			return nil, err
		}
		return nil, tx.Commit()
	})
	return err
}

// SkipStep skips every field of a skippable step, which makes the step
// complete by construction.
func (e *ProgressEngine) SkipStep(entityID string, step int, reason string) error {
	def, err := catalog.Definition(step)
	if err != nil {
		return err
	}
	if !def.Skippable {
		return db.Domain(catalog.ErrStepNotSkippable)
	}
	_, err = e.queue.Execute(func(sqlDB *sql.DB) (interface{}, error) {
		tx, err := sqlDB.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		now := time.Now()
		for _, key := range def.FieldKeys() {
			if err := db.MarkFieldSkippedTx(tx, entityID, step, key, now); err != nil {
				return nil, err
			}
		}
		if err := db.InsertSkippedItemTx(tx, entityID, step, nil, reason); err != nil {
			return nil, err
		}
		if err := e.recomputeFlagTx(tx, entityID, step); err != nil {
			return nil, err
		}
		return nil, tx.Commit()
	})
	return err
}

// UnskipField clears a skip and recomputes the flag, which may flip a
// previously complete step back to incomplete.
func (e *ProgressEngine) UnskipField(entityID string, step int, fieldKey string) error {
	if err := catalog.ValidateFieldKey(step, fieldKey); err != nil {
		return err
	}
	_, err := e.queue.Execute(func(sqlDB *sql.DB) (interface{}, error) {
		tx, err := sqlDB.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			UPDATE step_field_progress SET skipped = FALSE
			WHERE entity_id = ? AND step = ? AND field_key = ?
		`, entityID, step, fieldKey)
		if err != nil {
			return nil, err
		}
		if err := e.recomputeFlagTx(tx, entityID, step); err != nil {
			return nil, err
		}
		return nil, tx.Commit()
	})
	return err
}

// ValidateStep reports step completion without mutating anything.
func (e *ProgressEngine) ValidateStep(entityID string, step int) (StepCompletion, error) {
	return e.aggregator.ComputeStepCompletion(entityID, step)
}

// Complete transitions the entity to the terminal COMPLETED status. All ten
// flags must be true; the offending step numbers are returned otherwise.
func (e *ProgressEngine) Complete(entityID string) (*models.OnboardingProgress, error) {
	result, err := e.queue.Execute(func(sqlDB *sql.DB) (interface{}, error) {
		tx, err := sqlDB.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		progress, err := db.GetProgressTx(tx, entityID)
		if err != nil {
			return nil, err
		}
		if progress.Status == models.StatusCompleted {
			return nil, db.Domain(ErrAlreadyCompleted)
		}
		if !progress.AllStepsComplete() {
			return nil, db.Domain(&IncompleteStepsError{Steps: progress.IncompleteSteps()})
		}

		now := time.Now()
		if err := db.SetCompletedTx(tx, entityID, now); err != nil {
			return nil, err
		}
		progress.Status = models.StatusCompleted
		progress.CompletedAt = &now
		return progress, tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.OnboardingProgress), nil
}

// RewindToStep moves the wizard cursor without touching any flags. Used for
// "continue where you left off" resumption.
func (e *ProgressEngine) RewindToStep(entityID string, step int) (*models.OnboardingProgress, error) {
	if step < 1 || step > catalog.TotalSteps {
		return nil, ErrInvalidStep
	}
	result, err := e.queue.Execute(func(sqlDB *sql.DB) (interface{}, error) {
		tx, err := sqlDB.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		progress, err := db.GetProgressTx(tx, entityID)
		if err != nil {
			return nil, err
		}
		if progress.Status == models.StatusCompleted {
			return nil, db.Domain(ErrAlreadyCompleted)
		}
		if err := db.UpdateCurrentStepTx(tx, entityID, step); err != nil {
			return nil, err
		}
		progress.CurrentStep = step
		return progress, tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.OnboardingProgress), nil
}

// MarkSubmitted stamps submitted_at once the validation service has cleared
// the entity for review. Re-submission keeps the original timestamp.
func (e *ProgressEngine) MarkSubmitted(entityID string) error {
	_, err := e.queue.Execute(func(sqlDB *sql.DB) (interface{}, error) {
		return nil, db.SetSubmittedTx(sqlDB, entityID, time.Now())
	})
	return err
}

// Get returns the current coarse progress with percentages.
func (e *ProgressEngine) Get(entityID string) (*ProgressSnapshot, error) {
	progress, err := e.progressRepo.GetByEntity(entityID)
	if err != nil {
		return nil, err
	}
	return e.snapshot(progress, progress.CurrentStep), nil
}

// DeleteEntityArtifacts removes every progress record owned by the engine
// for one entity: coarse progress, field state, skip log, sessions, and
// their event log. Called from the entity deletion cascade.
func (e *ProgressEngine) DeleteEntityArtifacts(entityID string) error {
	_, err := e.queue.Execute(func(sqlDB *sql.DB) (interface{}, error) {
		tx, err := sqlDB.Begin()
		if err != nil {
			return nil, err
		}
		defer tx.Rollback()

		statements := []string{
			`DELETE FROM session_events WHERE session_id IN (SELECT id FROM onboarding_sessions WHERE entity_id = ?)`,
			`DELETE FROM onboarding_sessions WHERE entity_id = ?`,
			`DELETE FROM skipped_items WHERE entity_id = ?`,
			`DELETE FROM step_field_progress WHERE entity_id = ?`,
			`DELETE FROM onboarding_progress WHERE entity_id = ?`,
		}
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt, entityID); err != nil {
				return nil, err
			}
		}
		return nil, tx.Commit()
	})
	return err
}

func (e *ProgressEngine) recomputeFlagTx(tx db.Queryer, entityID string, step int) error {
	def, err := catalog.Definition(step)
	if err != nil {
		return err
	}
	records, err := db.ReadStepTx(tx, entityID, step)
	if err != nil {
		return err
	}
	completion := EvaluateStep(def, records)
	return db.SetStepFlagTx(tx, entityID, step, completion.Complete)
}

func (e *ProgressEngine) snapshot(progress *models.OnboardingProgress, step int) *ProgressSnapshot {
	return &ProgressSnapshot{
		Progress:             progress,
		CompletionPercentage: progress.CompletionPercentage(),
		StepPercentage:       (step*100 + progress.TotalSteps/2) / progress.TotalSteps,
	}
}

// valuePresent decides presence for progress tracking: nil and empty
// strings, slices, and maps count as absent, everything else as present.
func valuePresent(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case []interface{}:
		return len(v) > 0
	case map[string]interface{}:
		return len(v) > 0
	default:
		return true
	}
}
