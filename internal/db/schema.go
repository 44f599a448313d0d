package db

import (
	"database/sql"
)

const schema = `
CREATE TABLE IF NOT EXISTS onboarding_progress (
    entity_id TEXT PRIMARY KEY,
    current_step INTEGER NOT NULL DEFAULT 1,
    total_steps INTEGER NOT NULL DEFAULT 10,
    step1_completed BOOLEAN DEFAULT FALSE,
    step2_completed BOOLEAN DEFAULT FALSE,
    step3_completed BOOLEAN DEFAULT FALSE,
    step4_completed BOOLEAN DEFAULT FALSE,
    step5_completed BOOLEAN DEFAULT FALSE,
    step6_completed BOOLEAN DEFAULT FALSE,
    step7_completed BOOLEAN DEFAULT FALSE,
    step8_completed BOOLEAN DEFAULT FALSE,
    step9_completed BOOLEAN DEFAULT FALSE,
    step10_completed BOOLEAN DEFAULT FALSE,
    status TEXT NOT NULL DEFAULT 'not_started',
    submitted_at DATETIME,
    completed_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS step_field_progress (
    entity_id TEXT NOT NULL,
    step INTEGER NOT NULL,
    field_key TEXT NOT NULL,
    has_value BOOLEAN NOT NULL DEFAULT FALSE,
    skipped BOOLEAN NOT NULL DEFAULT FALSE,
    last_write_at INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (entity_id, step, field_key)
);

CREATE TABLE IF NOT EXISTS skipped_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_id TEXT NOT NULL,
    step INTEGER NOT NULL,
    field_key TEXT,
    reason TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_skipped_items_entity ON skipped_items(entity_id);

CREATE TABLE IF NOT EXISTS onboarding_sessions (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    current_step INTEGER NOT NULL DEFAULT 1,
    steps_completed INTEGER NOT NULL DEFAULT 0,
    steps_skipped INTEGER NOT NULL DEFAULT 0,
    fields_completed INTEGER NOT NULL DEFAULT 0,
    fields_skipped INTEGER NOT NULL DEFAULT 0,
    total_fields INTEGER NOT NULL DEFAULT 0,
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    submitted_for_review BOOLEAN NOT NULL DEFAULT FALSE,
    total_time_spent INTEGER NOT NULL DEFAULT 0,
    last_activity_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    session_started_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    session_ended_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_sessions_entity_user ON onboarding_sessions(entity_id, user_id, last_activity_at);

CREATE TABLE IF NOT EXISTS session_events (
    session_id TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (session_id, idempotency_key)
);
`

func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
