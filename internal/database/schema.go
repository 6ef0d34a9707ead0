package database

import (
	"context"
	"fmt"
)

// Schema holds the tables the patient repository reads and writes. Every
// statement is idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		id BIGSERIAL PRIMARY KEY,
		hospital_id BIGINT,
		name TEXT NOT NULL,
		age INTEGER,
		gender TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		condition TEXT NOT NULL DEFAULT '',
		diagnosis TEXT NOT NULL DEFAULT '',
		treatment TEXT NOT NULL DEFAULT '',
		medical_history TEXT NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS vital_signs (
		patient_id BIGINT PRIMARY KEY REFERENCES patients(id) ON DELETE CASCADE,
		blood_pressure TEXT,
		heart_rate INTEGER,
		temperature DOUBLE PRECISION,
		oxygen_level INTEGER,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS genetic_data (
		id BIGSERIAL PRIMARY KEY,
		patient_id BIGINT NOT NULL UNIQUE REFERENCES patients(id) ON DELETE CASCADE,
		source_file TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		upload_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		analysis JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS skin_screenings (
		id BIGSERIAL PRIMARY KEY,
		patient_id BIGINT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
		image_name TEXT NOT NULL,
		content_type TEXT NOT NULL,
		upload_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		prediction JSONB NOT NULL,
		confidence_score DOUBLE PRECISION NOT NULL,
		lesion_type TEXT NOT NULL,
		recommendations JSONB NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_skin_screenings_patient ON skin_screenings(patient_id, upload_date DESC)`,
}

// EnsureSchema creates any missing tables.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range Schema {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
	}
	db.log.Debug("Database schema ensured")
	return nil
}
