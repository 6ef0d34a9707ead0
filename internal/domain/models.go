package domain

import (
	"time"
)

// Patient represents a patient record
type Patient struct {
	ID             int64     `json:"id"`
	HospitalID     *int64    `json:"hospital_id,omitempty"`
	Name           string    `json:"name"`
	Age            *int      `json:"age,omitempty"`
	Gender         string    `json:"gender,omitempty"`
	Status         string    `json:"status"`
	Condition      string    `json:"condition,omitempty"`
	Diagnosis      string    `json:"diagnosis,omitempty"`
	Treatment      string    `json:"treatment,omitempty"`
	MedicalHistory string    `json:"medical_history,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Default values applied to new patients.
const (
	DefaultPatientStatus = "active"
)

// VitalSigns holds the most recent vital signs of a patient. Every reading is
// optional; missing readings take fixed defaults when fed to the predictor.
type VitalSigns struct {
	PatientID     int64     `json:"patient_id,omitempty"`
	BloodPressure *string   `json:"blood_pressure,omitempty"`
	HeartRate     *int      `json:"heart_rate,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	OxygenLevel   *int      `json:"oxygen_level,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Fallback readings used when a vital sign was never recorded.
const (
	DefaultBloodPressure = "120/80"
	DefaultTemperature   = 98.6
	DefaultHeartRate     = 70
)

// GeneticData is the analysed genetic spreadsheet of a patient. Each patient
// has at most one; re-uploading replaces it.
type GeneticData struct {
	ID          int64             `json:"id"`
	PatientID   int64             `json:"patient_id"`
	SourceFile  string            `json:"source_file"`
	ContentHash string            `json:"content_hash"`
	UploadDate  time.Time         `json:"upload_date"`
	Analysis    GeneticAssessment `json:"analysis"`
}

// SkinScreening is one lesion image screening of a patient.
type SkinScreening struct {
	ID              int64            `json:"id"`
	PatientID       int64            `json:"patient_id"`
	ImageName       string           `json:"image_name"`
	ContentType     string           `json:"content_type"`
	UploadDate      time.Time        `json:"upload_date"`
	Prediction      LesionAssessment `json:"prediction"`
	ConfidenceScore float64          `json:"confidence_score"`
	LesionType      string           `json:"lesion_type"`
	Recommendations []string         `json:"recommendations"`
}

// AnalysisRecord is an append-only archive entry describing one scoring run.
type AnalysisRecord struct {
	ID        string       `json:"id"`
	Kind      AnalysisKind `json:"kind"`
	PatientID *int64       `json:"patient_id,omitempty"`
	RiskLevel string       `json:"risk_level"`
	Summary   string       `json:"summary"`
	Payload   string       `json:"payload"`
	CreatedAt time.Time    `json:"created_at"`
}

// Validate validates the archive record fields
func (r *AnalysisRecord) Validate() error {
	if r.ID == "" {
		return NewValidationError("id", "record id is required", r.ID)
	}
	if !r.Kind.IsValid() {
		return NewValidationError("kind", "unknown analysis kind", r.Kind)
	}
	if r.Payload == "" {
		return NewValidationError("payload", "payload is required", r.Payload)
	}
	return nil
}

// ListOptions bounds list queries.
type ListOptions struct {
	Limit  int
	Offset int
	Kind   AnalysisKind
}

// Pagination limits.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Normalize clamps the options into the supported range.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.Limit > MaxListLimit {
		o.Limit = MaxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
