package models

import "time"

// StepFieldProgress tracks value presence for one (entity, step, field).
// The actual field value lives in the domain record the step writes to;
// the engine only tracks whether something was written.
// HasValue and Skipped are never both true.
type StepFieldProgress struct {
	EntityID    string
	Step        int
	FieldKey    string
	HasValue    bool
	Skipped     bool
	LastWriteAt time.Time
}
