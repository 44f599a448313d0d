package models

import "time"

// SkippedItem is one entry in the append-only skip log. A nil FieldKey
// records a whole-step skip.
type SkippedItem struct {
	ID        int64
	EntityID  string
	Step      int
	FieldKey  *string
	Reason    string
	CreatedAt time.Time
}
