package service

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/badal-health/risk-server/internal/domain"
)

// ReferenceProfile is a labelled feature vector
// [age, systolic, diastolic, temperature, heart_rate].
type ReferenceProfile struct {
	Features  [5]float64
	Condition domain.Condition
}

// DefaultReferenceProfiles returns the reference condition table.
func DefaultReferenceProfiles() []ReferenceProfile {
	return []ReferenceProfile{
		{Features: [5]float64{30, 120, 70, 98.6, 98}, Condition: domain.STABLE},
		{Features: [5]float64{70, 180, 90, 102, 92}, Condition: domain.CRITICAL},
		{Features: [5]float64{25, 110, 65, 97.5, 99}, Condition: domain.RECOVERED},
	}
}

// NearestProfilePredictor assigns the condition of the closest reference
// profile by Euclidean distance. Equal distances resolve to the earlier profile.
type NearestProfilePredictor struct {
	profiles []ReferenceProfile
}

// NewConditionPredictor creates a predictor over a copy of profiles.
func NewConditionPredictor(profiles []ReferenceProfile) (*NearestProfilePredictor, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("condition predictor requires at least one reference profile")
	}
	for i, p := range profiles {
		if !p.Condition.IsValid() {
			return nil, fmt.Errorf("reference profile %d has unknown condition %q", i, p.Condition)
		}
	}
	owned := make([]ReferenceProfile, len(profiles))
	copy(owned, profiles)
	return &NearestProfilePredictor{profiles: owned}, nil
}

// PredictCondition infers the patient condition from age and vital signs.
func (p *NearestProfilePredictor) PredictCondition(age int, vitals domain.VitalSigns) (domain.ConditionPrediction, error) {
	features, err := FeatureVector(age, vitals)
	if err != nil {
		return domain.ConditionPrediction{}, err
	}

	bestIdx := 0
	bestDist := math.Inf(1)
	for i, profile := range p.profiles {
		d := euclidean(features, profile.Features)
		if d < bestDist {
			bestIdx, bestDist = i, d
		}
	}

	return domain.ConditionPrediction{
		Condition: p.profiles[bestIdx].Condition,
		Distance:  math.Round(bestDist*100) / 100,
		Features:  features,
	}, nil
}

// FeatureVector validates the inputs and builds the predictor feature vector,
// substituting defaults for vitals that were never recorded.
func FeatureVector(age int, vitals domain.VitalSigns) ([5]float64, error) {
	var features [5]float64

	if age < 0 || age > 150 {
		return features, domain.NewValidationError("age", "must be between 0 and 150", age)
	}

	bp := domain.DefaultBloodPressure
	if vitals.BloodPressure != nil {
		bp = *vitals.BloodPressure
	}
	systolic, diastolic, err := ParseBloodPressure(bp)
	if err != nil {
		return features, err
	}

	temperature := domain.DefaultTemperature
	if vitals.Temperature != nil {
		temperature = *vitals.Temperature
	}
	if math.IsNaN(temperature) || temperature <= 0 {
		return features, domain.NewValidationError("temperature", "must be a positive reading", temperature)
	}

	heartRate := domain.DefaultHeartRate
	if vitals.HeartRate != nil {
		heartRate = *vitals.HeartRate
	}
	if heartRate < 0 {
		return features, domain.NewValidationError("heart_rate", "must not be negative", heartRate)
	}

	if vitals.OxygenLevel != nil && (*vitals.OxygenLevel < 0 || *vitals.OxygenLevel > 100) {
		return features, domain.NewValidationError("oxygen_level", "must be between 0 and 100", *vitals.OxygenLevel)
	}

	features = [5]float64{float64(age), systolic, diastolic, temperature, float64(heartRate)}
	return features, nil
}

// ParseBloodPressure parses a "systolic/diastolic" reading such as "120/80".
func ParseBloodPressure(s string) (float64, float64, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return 0, 0, domain.NewValidationError("blood_pressure", "expected systolic/diastolic", s)
	}
	systolic, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, domain.NewValidationError("blood_pressure", "systolic reading is not a number", s)
	}
	diastolic, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, domain.NewValidationError("blood_pressure", "diastolic reading is not a number", s)
	}
	if !(systolic > 0 && diastolic > 0) || math.IsInf(systolic, 0) || math.IsInf(diastolic, 0) {
		return 0, 0, domain.NewValidationError("blood_pressure", "readings must be positive", s)
	}
	return systolic, diastolic, nil
}

func euclidean(a, b [5]float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
