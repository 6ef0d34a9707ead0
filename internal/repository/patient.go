// Package repository persists patients and their analysis results in PostgreSQL.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/badal-health/risk-server/internal/domain"
)

// PatientRepository handles patient data persistence
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// CreatePatient inserts a new patient and fills in its generated fields.
func (r *PatientRepository) CreatePatient(ctx context.Context, p *domain.Patient) error {
	if p.Name == "" {
		return domain.NewValidationError("name", "patient name is required", p.Name)
	}
	if p.Status == "" {
		p.Status = domain.DefaultPatientStatus
	}

	query := `
		INSERT INTO patients (
			hospital_id, name, age, gender, status, condition,
			diagnosis, treatment, medical_history, is_active
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		p.HospitalID,
		p.Name,
		p.Age,
		p.Gender,
		p.Status,
		p.Condition,
		p.Diagnosis,
		p.Treatment,
		p.MedicalHistory,
		p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"name":  p.Name,
			"error": err,
		}).Error("Failed to create patient")
		return fmt.Errorf("creating patient: %w", err)
	}

	r.log.WithField("patient_id", p.ID).Info("Patient created successfully")
	return nil
}

// GetPatient retrieves a patient by id
func (r *PatientRepository) GetPatient(ctx context.Context, id int64) (*domain.Patient, error) {
	query := `
		SELECT id, hospital_id, name, age, gender, status, condition,
			   diagnosis, treatment, medical_history, is_active, created_at, updated_at
		FROM patients
		WHERE id = $1`

	var p domain.Patient
	err := r.db.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.HospitalID,
		&p.Name,
		&p.Age,
		&p.Gender,
		&p.Status,
		&p.Condition,
		&p.Diagnosis,
		&p.Treatment,
		&p.MedicalHistory,
		&p.IsActive,
		&p.CreatedAt,
		&p.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("patient", id)
		}
		r.log.WithFields(logrus.Fields{
			"patient_id": id,
			"error":      err,
		}).Error("Failed to get patient by ID")
		return nil, fmt.Errorf("getting patient by ID: %w", err)
	}

	return &p, nil
}

// UpdateCondition records the predicted condition of a patient.
func (r *PatientRepository) UpdateCondition(ctx context.Context, id int64, condition domain.Condition) error {
	result, err := r.db.Exec(ctx,
		`UPDATE patients SET condition = $2, updated_at = NOW() WHERE id = $1`,
		id, string(condition))
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": id,
			"error":      err,
		}).Error("Failed to update patient condition")
		return fmt.Errorf("updating patient condition: %w", err)
	}

	if result.RowsAffected() == 0 {
		return domain.NewNotFoundError("patient", id)
	}
	return nil
}

// UpsertVitals replaces the vital signs of a patient.
func (r *PatientRepository) UpsertVitals(ctx context.Context, v *domain.VitalSigns) error {
	query := `
		INSERT INTO vital_signs (patient_id, blood_pressure, heart_rate, temperature, oxygen_level, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (patient_id) DO UPDATE SET
			blood_pressure = EXCLUDED.blood_pressure,
			heart_rate = EXCLUDED.heart_rate,
			temperature = EXCLUDED.temperature,
			oxygen_level = EXCLUDED.oxygen_level,
			updated_at = EXCLUDED.updated_at
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		v.PatientID, v.BloodPressure, v.HeartRate, v.Temperature, v.OxygenLevel,
	).Scan(&v.UpdatedAt)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": v.PatientID,
			"error":      err,
		}).Error("Failed to save vital signs")
		return fmt.Errorf("saving vital signs: %w", err)
	}
	return nil
}

// GetVitals retrieves the vital signs of a patient.
func (r *PatientRepository) GetVitals(ctx context.Context, patientID int64) (*domain.VitalSigns, error) {
	query := `
		SELECT patient_id, blood_pressure, heart_rate, temperature, oxygen_level, updated_at
		FROM vital_signs
		WHERE patient_id = $1`

	var v domain.VitalSigns
	err := r.db.QueryRow(ctx, query, patientID).Scan(
		&v.PatientID, &v.BloodPressure, &v.HeartRate, &v.Temperature, &v.OxygenLevel, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("vital signs", patientID)
		}
		return nil, fmt.Errorf("getting vital signs: %w", err)
	}
	return &v, nil
}

// UpsertGeneticData replaces the genetic analysis of a patient.
func (r *PatientRepository) UpsertGeneticData(ctx context.Context, g *domain.GeneticData) error {
	analysis, err := json.Marshal(g.Analysis)
	if err != nil {
		return fmt.Errorf("encoding genetic analysis: %w", err)
	}
	if g.UploadDate.IsZero() {
		g.UploadDate = time.Now().UTC()
	}

	query := `
		INSERT INTO genetic_data (patient_id, source_file, content_hash, upload_date, analysis)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (patient_id) DO UPDATE SET
			source_file = EXCLUDED.source_file,
			content_hash = EXCLUDED.content_hash,
			upload_date = EXCLUDED.upload_date,
			analysis = EXCLUDED.analysis
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		g.PatientID, g.SourceFile, g.ContentHash, g.UploadDate, analysis,
	).Scan(&g.ID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id":   g.PatientID,
			"content_hash": g.ContentHash,
			"error":        err,
		}).Error("Failed to save genetic data")
		return fmt.Errorf("saving genetic data: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id": g.PatientID,
		"risk_level": g.Analysis.RiskLevel,
	}).Info("Genetic data saved")
	return nil
}

// GetGeneticData retrieves the genetic analysis of a patient.
func (r *PatientRepository) GetGeneticData(ctx context.Context, patientID int64) (*domain.GeneticData, error) {
	query := `
		SELECT id, patient_id, source_file, content_hash, upload_date, analysis
		FROM genetic_data
		WHERE patient_id = $1`

	var g domain.GeneticData
	var analysis []byte
	err := r.db.QueryRow(ctx, query, patientID).Scan(
		&g.ID, &g.PatientID, &g.SourceFile, &g.ContentHash, &g.UploadDate, &analysis,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("genetic data", patientID)
		}
		return nil, fmt.Errorf("getting genetic data: %w", err)
	}
	if err := json.Unmarshal(analysis, &g.Analysis); err != nil {
		return nil, fmt.Errorf("decoding genetic analysis: %w", err)
	}
	return &g, nil
}

// SaveScreening appends a skin screening result.
func (r *PatientRepository) SaveScreening(ctx context.Context, s *domain.SkinScreening) error {
	prediction, err := json.Marshal(s.Prediction)
	if err != nil {
		return fmt.Errorf("encoding screening prediction: %w", err)
	}
	recommendations, err := json.Marshal(s.Recommendations)
	if err != nil {
		return fmt.Errorf("encoding screening recommendations: %w", err)
	}
	if s.UploadDate.IsZero() {
		s.UploadDate = time.Now().UTC()
	}

	query := `
		INSERT INTO skin_screenings (
			patient_id, image_name, content_type, upload_date,
			prediction, confidence_score, lesion_type, recommendations
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	err = r.db.QueryRow(ctx, query,
		s.PatientID, s.ImageName, s.ContentType, s.UploadDate,
		prediction, s.ConfidenceScore, s.LesionType, recommendations,
	).Scan(&s.ID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": s.PatientID,
			"image_name": s.ImageName,
			"error":      err,
		}).Error("Failed to save skin screening")
		return fmt.Errorf("saving skin screening: %w", err)
	}
	return nil
}

// ListScreenings returns the screenings of a patient, newest first.
func (r *PatientRepository) ListScreenings(ctx context.Context, patientID int64) ([]*domain.SkinScreening, error) {
	query := `
		SELECT id, patient_id, image_name, content_type, upload_date,
			   prediction, confidence_score, lesion_type, recommendations
		FROM skin_screenings
		WHERE patient_id = $1
		ORDER BY upload_date DESC, id DESC`

	rows, err := r.db.Query(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing skin screenings: %w", err)
	}
	defer rows.Close()

	screenings := []*domain.SkinScreening{}
	for rows.Next() {
		var s domain.SkinScreening
		var prediction, recommendations []byte
		if err := rows.Scan(
			&s.ID, &s.PatientID, &s.ImageName, &s.ContentType, &s.UploadDate,
			&prediction, &s.ConfidenceScore, &s.LesionType, &recommendations,
		); err != nil {
			return nil, fmt.Errorf("scanning skin screening: %w", err)
		}
		if err := json.Unmarshal(prediction, &s.Prediction); err != nil {
			return nil, fmt.Errorf("decoding screening prediction: %w", err)
		}
		if err := json.Unmarshal(recommendations, &s.Recommendations); err != nil {
			return nil, fmt.Errorf("decoding screening recommendations: %w", err)
		}
		screenings = append(screenings, &s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating skin screenings: %w", err)
	}
	return screenings, nil
}
