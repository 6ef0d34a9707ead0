package domain

// GeneticAssessment is the result of scoring the markers found in a genetic
// dataset. RiskScore is a percentage in [0, 100] rounded to two decimals.
type GeneticAssessment struct {
	RiskLevel       RiskLevel `json:"risk_level"`
	RiskScore       float64   `json:"risk_score"`
	Findings        []string  `json:"findings"`
	Recommendations []string  `json:"recommendations"`
	MarkersAnalyzed int       `json:"markers_analyzed"`
}

// LesionAssessment is the result of classifying lesion class probabilities.
// Confidence is a percentage in [0, 100] rounded to two decimals.
type LesionAssessment struct {
	Type            string      `json:"type"`
	Confidence      float64     `json:"confidence"`
	RiskLevel       RiskLevel   `json:"risk_level"`
	Recommendations []string    `json:"recommendations"`
	ClassCode       LesionClass `json:"class_code"`
}

// ScreeningResponse pairs a lesion assessment with the processed image that
// was fed to the model, base64-encoded JPEG.
type ScreeningResponse struct {
	Prediction     LesionAssessment `json:"prediction"`
	ProcessedImage string           `json:"processed_image"`
}

// ConditionPrediction is the patient state inferred from vital signs, along
// with the feature vector that was compared against the reference profiles.
type ConditionPrediction struct {
	Condition Condition  `json:"condition"`
	Distance  float64    `json:"distance"`
	Features  [5]float64 `json:"features"`
}

// GeneticUploadResponse is returned when a patient's genetic file has been
// analysed and stored.
type GeneticUploadResponse struct {
	Message  string            `json:"message"`
	Analysis GeneticAssessment `json:"analysis"`
}
