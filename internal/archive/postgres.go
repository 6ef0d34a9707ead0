package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/lib/pq"

	"github.com/badal-health/risk-server/internal/domain"
)

// PostgresSchema creates the archive table when it does not exist.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS analysis_records (
	id UUID PRIMARY KEY,
	kind TEXT NOT NULL,
	patient_id BIGINT,
	risk_level TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL,
	created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_analysis_records_kind ON analysis_records(kind);
CREATE INDEX IF NOT EXISTS idx_analysis_records_created_at ON analysis_records(created_at DESC);
`

const pgColumns = `id, kind, patient_id, risk_level, summary, payload, created_at`

// PostgresStore implements domain.AnalysisArchive using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL opens a store from a connection URL and ensures
// its table exists.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := store.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// EnsureSchema creates the archive table and indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// Save appends a record. Records are never updated.
func (s *PostgresStore) Save(ctx context.Context, rec *domain.AnalysisRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analysis_records (`+pgColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		rec.ID,
		string(rec.Kind),
		nullablePatient(rec.PatientID),
		rec.RiskLevel,
		rec.Summary,
		rec.Payload,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis record: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgColumns+` FROM analysis_records WHERE id = $1`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("analysis record", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis record: %w", err)
	}
	return rec, nil
}

// List returns records newest first.
func (s *PostgresStore) List(ctx context.Context, opts domain.ListOptions) ([]*domain.AnalysisRecord, error) {
	opts = opts.Normalize()

	if opts.Kind != "" {
		return s.query(ctx, `SELECT `+pgColumns+` FROM analysis_records
			WHERE kind = $1 ORDER BY created_at DESC, id LIMIT $2 OFFSET $3`,
			string(opts.Kind), opts.Limit, opts.Offset)
	}
	return s.query(ctx, `SELECT `+pgColumns+` FROM analysis_records
		ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		opts.Limit, opts.Offset)
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...interface{}) ([]*domain.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis records: %w", err)
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
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analysis_records").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count analysis records: %w", err)
	}
	return count, nil
}

// ExportJSON exports all records to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.query(ctx, `SELECT `+pgColumns+` FROM analysis_records ORDER BY created_at, id LIMIT $1`, maxExportLimit)
	if err != nil {
		return fmt.Errorf("failed to list analysis records: %w", err)
	}
	return writeExport(writer, all)
}

// ImportJSON imports records from a JSON reader. Records whose id already
// exists are skipped.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	export, err := readExport(reader)
	if err != nil {
		return 0, 0, err
	}

	for _, rec := range export.Records {
		if err := rec.Validate(); err != nil {
			return imported, skipped, fmt.Errorf("invalid record in import: %w", err)
		}
		result, err := s.db.ExecContext(ctx, `
			INSERT INTO analysis_records (`+pgColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`,
			rec.ID, string(rec.Kind), nullablePatient(rec.PatientID),
			rec.RiskLevel, rec.Summary, rec.Payload, rec.CreatedAt,
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
