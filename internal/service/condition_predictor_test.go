package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/badal-health/risk-server/internal/domain"
)

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func floatPtr(f float64) *float64 { return &f }

func newTestPredictor(t *testing.T) *NearestProfilePredictor {
	t.Helper()
	p, err := NewConditionPredictor(DefaultReferenceProfiles())
	require.NoError(t, err)
	return p
}

func TestPredictCondition(t *testing.T) {
	predictor := newTestPredictor(t)

	tests := []struct {
		name     string
		age      int
		vitals   domain.VitalSigns
		expected domain.Condition
	}{
		{
			name:     "exact stable profile",
			age:      30,
			vitals:   domain.VitalSigns{BloodPressure: strPtr("120/70"), Temperature: floatPtr(98.6), HeartRate: intPtr(98)},
			expected: domain.STABLE,
		},
		{
			name:     "hypertensive elderly patient",
			age:      72,
			vitals:   domain.VitalSigns{BloodPressure: strPtr("175/95"), Temperature: floatPtr(101.5), HeartRate: intPtr(90)},
			expected: domain.CRITICAL,
		},
		{
			name:     "young patient with low pressure",
			age:      24,
			vitals:   domain.VitalSigns{BloodPressure: strPtr("110/65"), Temperature: floatPtr(97.5), HeartRate: intPtr(99)},
			expected: domain.RECOVERED,
		},
		{
			name:     "defaults applied for missing vitals",
			age:      30,
			vitals:   domain.VitalSigns{},
			expected: domain.STABLE,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := predictor.PredictCondition(tt.age, tt.vitals)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result.Condition)
			assert.GreaterOrEqual(t, result.Distance, 0.0)
		})
	}
}

func TestPredictCondition_DefaultsFeatureVector(t *testing.T) {
	features, err := FeatureVector(40, domain.VitalSigns{})
	require.NoError(t, err)
	assert.Equal(t, [5]float64{40, 120, 80, 98.6, 70}, features)
}

func TestPredictCondition_TieResolvesToEarlierProfile(t *testing.T) {
	predictor, err := NewConditionPredictor([]ReferenceProfile{
		{Features: [5]float64{10, 100, 60, 98, 70}, Condition: domain.RECOVERED},
		{Features: [5]float64{30, 100, 60, 98, 70}, Condition: domain.CRITICAL},
	})
	require.NoError(t, err)

	result, err := predictor.PredictCondition(20, domain.VitalSigns{
		BloodPressure: strPtr("100/60"), Temperature: floatPtr(98), HeartRate: intPtr(70),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RECOVERED, result.Condition)
	assert.Equal(t, 10.0, result.Distance)
}

func TestPredictCondition_InvalidInput(t *testing.T) {
	predictor := newTestPredictor(t)

	tests := []struct {
		name   string
		age    int
		vitals domain.VitalSigns
		field  string
	}{
		{"malformed blood pressure", 30, domain.VitalSigns{BloodPressure: strPtr("abc")}, "blood_pressure"},
		{"non numeric systolic", 30, domain.VitalSigns{BloodPressure: strPtr("high/80")}, "blood_pressure"},
		{"three part reading", 30, domain.VitalSigns{BloodPressure: strPtr("120/80/60")}, "blood_pressure"},
		{"zero diastolic", 30, domain.VitalSigns{BloodPressure: strPtr("120/0")}, "blood_pressure"},
		{"negative age", -1, domain.VitalSigns{}, "age"},
		{"negative heart rate", 30, domain.VitalSigns{HeartRate: intPtr(-5)}, "heart_rate"},
		{"zero temperature", 30, domain.VitalSigns{Temperature: floatPtr(0)}, "temperature"},
		{"oxygen above 100", 30, domain.VitalSigns{OxygenLevel: intPtr(140)}, "oxygen_level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := predictor.PredictCondition(tt.age, tt.vitals)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrInvalidInput))

			var vErr *domain.ValidationError
			require.True(t, errors.As(err, &vErr))
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestNewConditionPredictor_Validation(t *testing.T) {
	_, err := NewConditionPredictor(nil)
	assert.Error(t, err)

	_, err = NewConditionPredictor([]ReferenceProfile{{Condition: "unknown"}})
	assert.Error(t, err)
}

func TestParseBloodPressure(t *testing.T) {
	sys, dia, err := ParseBloodPressure(" 135 / 85 ")
	require.NoError(t, err)
	assert.Equal(t, 135.0, sys)
	assert.Equal(t, 85.0, dia)
}
