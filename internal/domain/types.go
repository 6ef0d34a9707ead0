// Package domain contains the core entities and types for patient risk scoring:
// risk levels, lesion classes, classification results, patient records and the
// error taxonomy shared by the service, storage and transport layers.
package domain

import (
	"errors"
)

// RiskLevel is the discrete bucket a numeric score or confidence falls into.
// There is no "none" level; the lowest bucket is always LOW.
type RiskLevel string

const (
	HIGH   RiskLevel = "High"
	MEDIUM RiskLevel = "Medium"
	LOW    RiskLevel = "Low"
)

// LesionClass is one of the closed set of skin lesion categories produced
// by the image screening model.
type LesionClass string

const (
	AKIEC LesionClass = "akiec"
	BCC   LesionClass = "bcc"
	BKL   LesionClass = "bkl"
	DF    LesionClass = "df"
	MEL   LesionClass = "mel"
	NV    LesionClass = "nv"
	VASC  LesionClass = "vasc"
)

// LesionClasses lists every lesion class in canonical order. Probability
// ties are resolved in favour of the class that appears first here.
var LesionClasses = []LesionClass{AKIEC, BCC, BKL, DF, MEL, NV, VASC}

// Condition is the coarse patient state derived from vital signs.
type Condition string

const (
	STABLE    Condition = "stable"
	CRITICAL  Condition = "critical"
	RECOVERED Condition = "recovered"
)

// AnalysisKind identifies which scoring operation produced an archived record.
type AnalysisKind string

const (
	KindGenetic   AnalysisKind = "genetic"
	KindLesion    AnalysisKind = "lesion"
	KindCondition AnalysisKind = "condition"
)

// Sentinel errors
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidLevel    = errors.New("invalid risk level")
	ErrUnknownLesion   = errors.New("unknown lesion class")
	ErrStorageDisabled = errors.New("patient storage is not configured")
)

// IsValid reports whether the level is one of the three known buckets.
func (r RiskLevel) IsValid() bool {
	switch r {
	case HIGH, MEDIUM, LOW:
		return true
	default:
		return false
	}
}

// String returns the string representation of the risk level.
func (r RiskLevel) String() string {
	return string(r)
}

// ParseRiskLevel converts a configured level name into a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	level := RiskLevel(s)
	if !level.IsValid() {
		return "", ErrInvalidLevel
	}
	return level, nil
}

// IsValid reports whether the class belongs to the closed label set.
func (c LesionClass) IsValid() bool {
	switch c {
	case AKIEC, BCC, BKL, DF, MEL, NV, VASC:
		return true
	default:
		return false
	}
}

// String returns the class code.
func (c LesionClass) String() string {
	return string(c)
}

// Description returns the human-readable name used in screening reports.
func (c LesionClass) Description() string {
	switch c {
	case AKIEC:
		return "Actinic Keratoses and Intraepithelial Carcinoma"
	case BCC:
		return "Basal Cell Carcinoma"
	case BKL:
		return "Benign Keratosis-like Lesions"
	case DF:
		return "Dermatofibroma"
	case MEL:
		return "Melanoma"
	case NV:
		return "Melanocytic Nevi"
	case VASC:
		return "Vascular Lesions"
	default:
		return "Unknown lesion"
	}
}

// IsValid reports whether the condition is one of the known states.
func (c Condition) IsValid() bool {
	switch c {
	case STABLE, CRITICAL, RECOVERED:
		return true
	default:
		return false
	}
}

// IsValid reports whether the kind is a known analysis kind.
func (k AnalysisKind) IsValid() bool {
	switch k {
	case KindGenetic, KindLesion, KindCondition:
		return true
	default:
		return false
	}
}
