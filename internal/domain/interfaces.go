package domain

import (
	"context"
	"image"
	"io"
)

// RiskClassifier applies the weighted rule tables to observed features.
type RiskClassifier interface {
	ScoreMarkers(markerNames []string) GeneticAssessment
	ClassifyByProbability(labelProbs map[LesionClass]float64) (LesionAssessment, error)
	Fingerprint() string
}

// ConditionPredictor infers a patient condition from age and vital signs.
type ConditionPredictor interface {
	PredictCondition(age int, vitals VitalSigns) (ConditionPrediction, error)
}

// HeaderReader extracts the header row of an uploaded spreadsheet.
type HeaderReader interface {
	ReadHeaders(name string, r io.Reader) ([]string, error)
}

// LesionModel produces per-class probabilities for a preprocessed image.
type LesionModel interface {
	Predict(ctx context.Context, img image.Image) (map[LesionClass]float64, error)
}

// PatientRepository defines persistence for patients and their analyses
type PatientRepository interface {
	CreatePatient(ctx context.Context, p *Patient) error
	GetPatient(ctx context.Context, id int64) (*Patient, error)
	UpdateCondition(ctx context.Context, id int64, condition Condition) error
	UpsertVitals(ctx context.Context, v *VitalSigns) error
	GetVitals(ctx context.Context, patientID int64) (*VitalSigns, error)
	UpsertGeneticData(ctx context.Context, g *GeneticData) error
	GetGeneticData(ctx context.Context, patientID int64) (*GeneticData, error)
	SaveScreening(ctx context.Context, s *SkinScreening) error
	ListScreenings(ctx context.Context, patientID int64) ([]*SkinScreening, error)
}

// AnalysisArchive stores an append-only history of scoring runs.
type AnalysisArchive interface {
	Save(ctx context.Context, rec *AnalysisRecord) error
	Get(ctx context.Context, id string) (*AnalysisRecord, error)
	List(ctx context.Context, opts ListOptions) ([]*AnalysisRecord, error)
	Count(ctx context.Context) (int64, error)
	ExportJSON(ctx context.Context, w io.Writer) error
	ImportJSON(ctx context.Context, r io.Reader) (imported int, skipped int, err error)
	Close() error
}

// ResultCache caches genetic assessments by content key.
type ResultCache interface {
	GetAssessment(ctx context.Context, key string) (*GeneticAssessment, bool)
	SetAssessment(ctx context.Context, key string, a *GeneticAssessment)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
