// Package archive provides the append-only analysis archive.
// Every scoring run is recorded so results can be audited and exported.
package archive

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/badal-health/risk-server/internal/domain"
)

// ExportVersion is written into every export document.
const ExportVersion = "1.0"

// maxExportLimit is the maximum number of entries to export at once.
const maxExportLimit = 1000000

// Export represents the JSON export format.
type Export struct {
	Version    string                   `json:"version"`
	ExportedAt time.Time                `json:"exported_at"`
	Count      int                      `json:"count"`
	Records    []*domain.AnalysisRecord `json:"records"`
}

// NewRecord builds an archive record for a scoring result.
func NewRecord(kind domain.AnalysisKind, patientID *int64, level, summary string, result interface{}) (*domain.AnalysisRecord, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encoding %s result: %w", kind, err)
	}
	return &domain.AnalysisRecord{
		ID:        uuid.New().String(),
		Kind:      kind,
		PatientID: patientID,
		RiskLevel: level,
		Summary:   summary,
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// New opens the archive selected by cfg.
func New(cfg domain.ArchiveConfig) (domain.AnalysisArchive, error) {
	switch cfg.Driver {
	case "", "sqlite":
		if cfg.SQLitePath == "" {
			return nil, fmt.Errorf("archive sqlite_path is required")
		}
		return NewSQLiteStore(cfg.SQLitePath)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("archive postgres_dsn is required")
		}
		return NewPostgresStoreFromURL(cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}
