package db

import (
	"database/sql"

	"github.com/ad/go-villa-onboarding/internal/models"
)

type SkippedItemRepository struct {
	queue *DBQueue
}

func NewSkippedItemRepository(queue *DBQueue) *SkippedItemRepository {
	return &SkippedItemRepository{queue: queue}
}

// InsertSkippedItemTx appends one entry to the skip log. A nil fieldKey
// records a whole-step skip. The log is append-only; there is no update path.
func InsertSkippedItemTx(q Queryer, entityID string, step int, fieldKey *string, reason string) error {
	_, err := q.Exec(`
		INSERT INTO skipped_items (entity_id, step, field_key, reason)
		VALUES (?, ?, ?, ?)
	`, entityID, step, fieldKey, reason)
	return err
}

func (r *SkippedItemRepository) ListByEntity(entityID string) ([]*models.SkippedItem, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		rows, err := db.Query(`
			SELECT id, entity_id, step, field_key, reason, created_at
			FROM skipped_items WHERE entity_id = ?
			ORDER BY id
		`, entityID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var items []*models.SkippedItem
		for rows.Next() {
			item := &models.SkippedItem{}
			var fieldKey sql.NullString
			if err := rows.Scan(&item.ID, &item.EntityID, &item.Step, &fieldKey, &item.Reason, &item.CreatedAt); err != nil {
				return nil, err
			}
			if fieldKey.Valid {
				item.FieldKey = &fieldKey.String
			}
			items = append(items, item)
		}
		return items, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]*models.SkippedItem), nil
}

func (r *SkippedItemRepository) CountByEntity(entityID string) (int, error) {
	result, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		var count int
		err := db.QueryRow(`SELECT COUNT(*) FROM skipped_items WHERE entity_id = ?`, entityID).Scan(&count)
		return count, err
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

func (r *SkippedItemRepository) DeleteByEntity(entityID string) error {
	_, err := r.queue.Execute(func(db *sql.DB) (interface{}, error) {
		_, err := db.Exec(`DELETE FROM skipped_items WHERE entity_id = ?`, entityID)
		return nil, err
	})
	return err
}
