package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/badal-health/risk-server/internal/archive"
	"github.com/badal-health/risk-server/internal/cache"
	"github.com/badal-health/risk-server/internal/domain"
)

// Observer receives classification and cache events. *metrics.Recorder
// satisfies it.
type Observer interface {
	ObserveClassification(operation, riskLevel string)
	ObserveCacheLookup(hit bool)
}

type noopObserver struct{}

func (noopObserver) ObserveClassification(string, string) {}
func (noopObserver) ObserveCacheLookup(bool)              {}

// AnalysisDeps wires the analysis service. Patients, Archive, Cache and
// Observer are optional.
type AnalysisDeps struct {
	Classifier domain.RiskClassifier
	Predictor  domain.ConditionPredictor
	Reader     domain.HeaderReader
	Lesions    *LesionPipeline
	Patients   domain.PatientRepository
	Archive    domain.AnalysisArchive
	Cache      domain.ResultCache
	Observer   Observer
	Logger     *logrus.Logger
}

// ConditionRequest carries the inputs of a condition prediction. Age may be
// omitted for a stored patient with a recorded age.
type ConditionRequest struct {
	Age    *int              `json:"age"`
	Vitals domain.VitalSigns `json:"vitals"`
}

// VitalsUpdateResponse is returned after a patient's vitals were stored.
type VitalsUpdateResponse struct {
	Vitals    domain.VitalSigns          `json:"vitals"`
	Condition domain.ConditionPrediction `json:"condition"`
}

// AnalysisService orchestrates reading uploads, scoring them and recording
// the results.
type AnalysisService struct {
	classifier domain.RiskClassifier
	predictor  domain.ConditionPredictor
	reader     domain.HeaderReader
	lesions    *LesionPipeline
	patients   domain.PatientRepository
	archive    domain.AnalysisArchive
	cache      domain.ResultCache
	observer   Observer
	logger     *logrus.Logger
}

// NewAnalysisService creates a new analysis service
func NewAnalysisService(deps AnalysisDeps) (*AnalysisService, error) {
	if deps.Classifier == nil {
		return nil, errors.New("analysis service requires a classifier")
	}
	if deps.Logger == nil {
		deps.Logger = logrus.New()
	}
	if deps.Predictor == nil {
		predictor, err := NewConditionPredictor(DefaultReferenceProfiles())
		if err != nil {
			return nil, err
		}
		deps.Predictor = predictor
	}
	if deps.Reader == nil {
		deps.Reader = NewSpreadsheetReader()
	}
	if deps.Lesions == nil {
		deps.Lesions = NewLesionPipeline(NewFixedLesionModel(), deps.Classifier)
	}
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}

	return &AnalysisService{
		classifier: deps.Classifier,
		predictor:  deps.Predictor,
		reader:     deps.Reader,
		lesions:    deps.Lesions,
		patients:   deps.Patients,
		archive:    deps.Archive,
		cache:      deps.Cache,
		observer:   deps.Observer,
		logger:     deps.Logger,
	}, nil
}

// StorageEnabled reports whether patient persistence is configured.
func (s *AnalysisService) StorageEnabled() bool {
	return s.patients != nil
}

// AnalyzeGeneticFile scores the marker columns of an uploaded spreadsheet.
// When patientID is set the result is stored for that patient.
func (s *AnalysisService) AnalyzeGeneticFile(ctx context.Context, patientID *int64, name string, content []byte) (*domain.GeneticAssessment, error) {
	if patientID != nil {
		if err := s.requirePatient(ctx, *patientID); err != nil {
			return nil, err
		}
	}
	if len(content) == 0 {
		return nil, domain.NewValidationError("file", "file is empty", name)
	}

	sum := sha256.Sum256(content)
	contentHash := hex.EncodeToString(sum[:])
	cacheKey := cache.Key(s.classifier.Fingerprint(), filepath.Ext(name), contentHash)

	assessment, hit := s.lookupCache(ctx, cacheKey)
	if !hit {
		headers, err := s.reader.ReadHeaders(name, bytes.NewReader(content))
		if err != nil {
			return nil, err
		}
		scored := s.classifier.ScoreMarkers(headers)
		assessment = &scored
		if s.cache != nil {
			s.cache.SetAssessment(ctx, cacheKey, assessment)
		}
	}

	s.observer.ObserveClassification(string(domain.KindGenetic), assessment.RiskLevel.String())
	s.logger.WithFields(logrus.Fields{
		"file":             name,
		"content_hash":     contentHash,
		"markers_analyzed": assessment.MarkersAnalyzed,
		"risk_level":       assessment.RiskLevel,
		"risk_score":       assessment.RiskScore,
		"cache_hit":        hit,
	}).Info("Genetic file analysed")

	summary := fmt.Sprintf("%s: %d markers, score %.2f", name, assessment.MarkersAnalyzed, assessment.RiskScore)
	if err := s.record(ctx, domain.KindGenetic, patientID, assessment.RiskLevel.String(), summary, assessment); err != nil {
		return nil, err
	}

	if patientID != nil {
		data := &domain.GeneticData{
			PatientID:   *patientID,
			SourceFile:  name,
			ContentHash: contentHash,
			UploadDate:  time.Now().UTC(),
			Analysis:    *assessment,
		}
		if err := s.patients.UpsertGeneticData(ctx, data); err != nil {
			return nil, err
		}
	}

	return assessment, nil
}

// ScreenLesionImage classifies an uploaded lesion image. When patientID is
// set the screening is stored for that patient.
func (s *AnalysisService) ScreenLesionImage(ctx context.Context, patientID *int64, name, contentType string, content []byte) (*domain.ScreeningResponse, error) {
	if patientID != nil {
		if err := s.requirePatient(ctx, *patientID); err != nil {
			return nil, err
		}
	}

	resp, err := s.lesions.Screen(ctx, name, contentType, content)
	if err != nil {
		return nil, err
	}
	prediction := resp.Prediction

	s.observer.ObserveClassification(string(domain.KindLesion), prediction.RiskLevel.String())
	s.logger.WithFields(logrus.Fields{
		"image":      name,
		"class_code": prediction.ClassCode,
		"confidence": prediction.Confidence,
		"risk_level": prediction.RiskLevel,
	}).Info("Lesion image screened")

	summary := fmt.Sprintf("%s: %s (%.2f%%)", name, prediction.Type, prediction.Confidence)
	if err := s.record(ctx, domain.KindLesion, patientID, prediction.RiskLevel.String(), summary, prediction); err != nil {
		return nil, err
	}

	if patientID != nil {
		screening := &domain.SkinScreening{
			PatientID:       *patientID,
			ImageName:       name,
			ContentType:     contentType,
			UploadDate:      time.Now().UTC(),
			Prediction:      prediction,
			ConfidenceScore: prediction.Confidence,
			LesionType:      prediction.Type,
			Recommendations: prediction.Recommendations,
		}
		if err := s.patients.SaveScreening(ctx, screening); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// PredictCondition infers a condition from age and vitals. When patientID is
// set the vitals and the resulting condition are stored for that patient.
func (s *AnalysisService) PredictCondition(ctx context.Context, patientID *int64, req ConditionRequest) (*VitalsUpdateResponse, error) {
	age := req.Age
	if patientID != nil {
		if s.patients == nil {
			return nil, domain.ErrStorageDisabled
		}
		patient, err := s.patients.GetPatient(ctx, *patientID)
		if err != nil {
			return nil, err
		}
		if age == nil {
			age = patient.Age
		}
	}
	if age == nil {
		return nil, domain.NewValidationError("age", "age is required", nil)
	}

	prediction, err := s.predictor.PredictCondition(*age, req.Vitals)
	if err != nil {
		return nil, err
	}

	s.observer.ObserveClassification(string(domain.KindCondition), string(prediction.Condition))
	s.logger.WithFields(logrus.Fields{
		"condition": prediction.Condition,
		"distance":  prediction.Distance,
	}).Info("Condition predicted")

	summary := fmt.Sprintf("age %d: %s", *age, prediction.Condition)
	if err := s.record(ctx, domain.KindCondition, patientID, string(prediction.Condition), summary, prediction); err != nil {
		return nil, err
	}

	vitals := req.Vitals
	if patientID != nil {
		vitals.PatientID = *patientID
		if err := s.patients.UpsertVitals(ctx, &vitals); err != nil {
			return nil, err
		}
		if err := s.patients.UpdateCondition(ctx, *patientID, prediction.Condition); err != nil {
			return nil, err
		}
	}

	return &VitalsUpdateResponse{Vitals: vitals, Condition: prediction}, nil
}

// ScoreMarkers scores an explicit list of marker names.
func (s *AnalysisService) ScoreMarkers(ctx context.Context, markers []string) (*domain.GeneticAssessment, error) {
	assessment := s.classifier.ScoreMarkers(markers)

	s.observer.ObserveClassification(string(domain.KindGenetic), assessment.RiskLevel.String())
	summary := fmt.Sprintf("%d markers, score %.2f", assessment.MarkersAnalyzed, assessment.RiskScore)
	if err := s.record(ctx, domain.KindGenetic, nil, assessment.RiskLevel.String(), summary, assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}

// ClassifyProbabilities classifies an externally produced lesion class
// distribution.
func (s *AnalysisService) ClassifyProbabilities(ctx context.Context, probs map[domain.LesionClass]float64) (*domain.LesionAssessment, error) {
	assessment, err := s.classifier.ClassifyByProbability(probs)
	if err != nil {
		return nil, err
	}

	s.observer.ObserveClassification(string(domain.KindLesion), assessment.RiskLevel.String())
	summary := fmt.Sprintf("%s (%.2f%%)", assessment.Type, assessment.Confidence)
	if err := s.record(ctx, domain.KindLesion, nil, assessment.RiskLevel.String(), summary, assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}

// GeneticData returns the stored genetic analysis of a patient.
func (s *AnalysisService) GeneticData(ctx context.Context, patientID int64) (*domain.GeneticData, error) {
	if s.patients == nil {
		return nil, domain.ErrStorageDisabled
	}
	return s.patients.GetGeneticData(ctx, patientID)
}

// Screenings returns the stored skin screenings of a patient.
func (s *AnalysisService) Screenings(ctx context.Context, patientID int64) ([]*domain.SkinScreening, error) {
	if err := s.requirePatient(ctx, patientID); err != nil {
		return nil, err
	}
	return s.patients.ListScreenings(ctx, patientID)
}

// Analyses lists archived scoring runs, newest first.
func (s *AnalysisService) Analyses(ctx context.Context, opts domain.ListOptions) ([]*domain.AnalysisRecord, error) {
	if s.archive == nil {
		return []*domain.AnalysisRecord{}, nil
	}
	records, err := s.archive.List(ctx, opts)
	if err != nil {
		return nil, domain.NewInternalError("listing analyses", err)
	}
	return records, nil
}

func (s *AnalysisService) requirePatient(ctx context.Context, id int64) error {
	if s.patients == nil {
		return domain.ErrStorageDisabled
	}
	_, err := s.patients.GetPatient(ctx, id)
	return err
}

func (s *AnalysisService) lookupCache(ctx context.Context, key string) (*domain.GeneticAssessment, bool) {
	if s.cache == nil {
		return nil, false
	}
	a, ok := s.cache.GetAssessment(ctx, key)
	s.observer.ObserveCacheLookup(ok)
	return a, ok
}

func (s *AnalysisService) record(ctx context.Context, kind domain.AnalysisKind, patientID *int64, level, summary string, result interface{}) error {
	if s.archive == nil {
		return nil
	}
	rec, err := archive.NewRecord(kind, patientID, level, summary, result)
	if err != nil {
		return domain.NewInternalError("building analysis record", err)
	}
	if err := s.archive.Save(ctx, rec); err != nil {
		s.logger.WithFields(logrus.Fields{
			"kind":  kind,
			"error": err,
		}).Error("Failed to archive analysis")
		return domain.NewInternalError("archiving analysis", err)
	}
	return nil
}
