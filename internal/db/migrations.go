package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS detection_events (
		id               UUID PRIMARY KEY,
		camera_id        TEXT NOT NULL,
		location         TEXT NOT NULL,
		location_class   TEXT,
		direction        TEXT NOT NULL,
		raw_plate        TEXT NOT NULL,
		normalized_plate TEXT NOT NULL,
		confidence       NUMERIC(5,4),
		vehicle_color    TEXT,
		vehicle_type     TEXT,
		snapshot_url     TEXT,
		event_time       TIMESTAMPTZ NOT NULL,
		raw_payload      JSONB,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_events_event_time ON detection_events(event_time);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_events_plate_time ON detection_events(normalized_plate, event_time);`,
	`CREATE INDEX IF NOT EXISTS idx_detection_events_location ON detection_events(location);`,
	`CREATE TABLE IF NOT EXISTS watchlist (
		normalized_plate TEXT PRIMARY KEY,
		note             TEXT,
		created_by       TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}

// Migrate applies every statement in order; all of them are idempotent.
func Migrate(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
