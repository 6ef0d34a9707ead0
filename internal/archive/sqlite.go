package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/badal-health/risk-server/internal/domain"
)

// SQLiteStore implements domain.AnalysisArchive using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite archive.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := createSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row into an AnalysisRecord.
func scanRecord(s scanner) (*domain.AnalysisRecord, error) {
	rec := &domain.AnalysisRecord{}
	var kind string
	var patientID sql.NullInt64

	err := s.Scan(&rec.ID, &kind, &patientID, &rec.RiskLevel, &rec.Summary, &rec.Payload, &rec.CreatedAt)
	if err != nil {
		return nil, err
	}

	rec.Kind = domain.AnalysisKind(kind)
	if patientID.Valid {
		id := patientID.Int64
		rec.PatientID = &id
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func nullablePatient(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// createSQLiteSchema creates the database tables and indexes.
func createSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_records (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		patient_id INTEGER,
		risk_level TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		payload TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_records_kind ON analysis_records(kind);
	CREATE INDEX IF NOT EXISTS idx_records_patient ON analysis_records(patient_id);
	CREATE INDEX IF NOT EXISTS idx_records_created_at ON analysis_records(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

const sqliteColumns = `id, kind, patient_id, risk_level, summary, payload, created_at`

// Save appends a record. Records are never updated.
func (s *SQLiteStore) Save(ctx context.Context, rec *domain.AnalysisRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_records (`+sqliteColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		string(rec.Kind),
		nullablePatient(rec.PatientID),
		rec.RiskLevel,
		rec.Summary,
		rec.Payload,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM analysis_records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("analysis record", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return rec, nil
}

// List returns records newest first.
func (s *SQLiteStore) List(ctx context.Context, opts domain.ListOptions) ([]*domain.AnalysisRecord, error) {
	opts = opts.Normalize()

	query := `SELECT ` + sqliteColumns + ` FROM analysis_records`
	args := []interface{}{}
	if opts.Kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(opts.Kind))
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	return s.query(ctx, query, args...)
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...interface{}) ([]*domain.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	result := []*domain.AnalysisRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Count returns the total number of records.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_records").Scan(&count)
	return count, err
}

// ExportJSON exports all records to a JSON writer.
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.query(ctx, `SELECT `+sqliteColumns+` FROM analysis_records ORDER BY created_at, id LIMIT ?`, maxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	return writeExport(writer, all)
}

// ImportJSON imports records from a JSON reader. Records whose id already
// exists are skipped.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	export, err := readExport(reader)
	if err != nil {
		return 0, 0, err
	}

	for _, rec := range export.Records {
		if err := rec.Validate(); err != nil {
			return imported, skipped, fmt.Errorf("invalid record in import: %w", err)
		}
		result, err := s.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO analysis_records (`+sqliteColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			rec.ID, string(rec.Kind), nullablePatient(rec.PatientID),
			rec.RiskLevel, rec.Summary, rec.Payload, rec.CreatedAt.UTC(),
		)
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to import record %s: %w", rec.ID, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return imported, skipped, fmt.Errorf("failed to read import result: %w", err)
		}
		if n == 0 {
			skipped++
			continue
		}
		imported++
	}

	return imported, skipped, nil
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func writeExport(writer io.Writer, records []*domain.AnalysisRecord) error {
	export := &Export{
		Version:    ExportVersion,
		ExportedAt: time.Now().UTC(),
		Count:      len(records),
		Records:    records,
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

func readExport(reader io.Reader) (*Export, error) {
	var export Export
	if err := json.NewDecoder(reader).Decode(&export); err != nil {
		return nil, domain.NewValidationError("archive", "failed to decode JSON: "+err.Error(), nil)
	}
	if export.Version != ExportVersion {
		return nil, domain.NewValidationError("version", "unsupported export version", export.Version)
	}
	return &export, nil
}
