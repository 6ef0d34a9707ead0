package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/badal-health/risk-server/internal/domain"
)

// RuleEngine implements the weighted rule classifier used for genetic marker
// scoring and lesion probability classification. It holds only immutable
// tables and performs no I/O, so one instance can serve concurrent callers.
type RuleEngine struct {
	rules             []weightedRule
	geneticThresholds []levelThreshold
	lesionThresholds  []levelThreshold
	fingerprint       string
}

type weightedRule struct {
	pattern string
	weight  decimal.Decimal
}

type levelThreshold struct {
	min   decimal.Decimal
	level domain.RiskLevel
}

var (
	scoreCeiling = decimal.NewFromInt(1)
	percent      = decimal.NewFromInt(100)

	melanomaUrgency = decimal.NewFromFloat(0.7)
	nevusConfidence = decimal.NewFromFloat(0.8)
)

// geneticFindings and geneticRecommendations are keyed by the bucketed level.
var geneticFindings = map[domain.RiskLevel][]string{
	domain.HIGH: {
		"High genetic predisposition to cancer",
		"Multiple high-risk genetic markers detected",
	},
	domain.MEDIUM: {
		"Moderate genetic risk factors present",
		"Some concerning genetic markers identified",
	},
	domain.LOW: {
		"Low genetic risk factors",
		"No significant genetic markers detected",
	},
}

var geneticRecommendations = map[domain.RiskLevel][]string{
	domain.HIGH: {
		"Regular cancer screening recommended",
		"Consider genetic counseling",
		"Lifestyle modifications may be beneficial",
	},
	domain.MEDIUM: {
		"Periodic screening recommended",
		"Monitor for any changes",
		"Maintain healthy lifestyle",
	},
	domain.LOW: {
		"Regular health check-ups recommended",
		"Maintain healthy lifestyle",
	},
}

// NewRuleEngine builds a rule engine from the given tables. Thresholds may be
// supplied in any order; they are evaluated highest minimum first.
func NewRuleEngine(cfg domain.ClassifierConfig) (*RuleEngine, error) {
	if len(cfg.GeneticRules) == 0 {
		return nil, fmt.Errorf("classifier config: at least one genetic rule is required")
	}

	e := &RuleEngine{
		rules: make([]weightedRule, 0, len(cfg.GeneticRules)),
	}

	for i, r := range cfg.GeneticRules {
		if r.Pattern == "" {
			return nil, fmt.Errorf("classifier config: genetic rule %d has an empty pattern", i)
		}
		if r.Weight < 0 || math.IsNaN(r.Weight) || math.IsInf(r.Weight, 0) {
			return nil, fmt.Errorf("classifier config: rule %q has invalid weight %v", r.Pattern, r.Weight)
		}
		e.rules = append(e.rules, weightedRule{pattern: r.Pattern, weight: decimal.NewFromFloat(r.Weight)})
	}

	var err error
	if e.geneticThresholds, err = buildThresholds("genetic", cfg.GeneticThresholds); err != nil {
		return nil, err
	}
	if e.lesionThresholds, err = buildThresholds("lesion", cfg.LesionThresholds); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting classifier config: %w", err)
	}
	sum := sha256.Sum256(raw)
	e.fingerprint = hex.EncodeToString(sum[:8])

	return e, nil
}

// NewDefaultRuleEngine builds a rule engine with the reference tables.
func NewDefaultRuleEngine() *RuleEngine {
	e, err := NewRuleEngine(domain.DefaultClassifierConfig())
	if err != nil {
		panic(fmt.Sprintf("default classifier config is invalid: %v", err))
	}
	return e
}

func buildThresholds(name string, in []domain.Threshold) ([]levelThreshold, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("classifier config: %s thresholds are required", name)
	}
	out := make([]levelThreshold, 0, len(in))
	for _, t := range in {
		if !t.Level.IsValid() {
			return nil, fmt.Errorf("classifier config: %s threshold has unknown level %q", name, t.Level)
		}
		if math.IsNaN(t.Min) || t.Min < 0 || t.Min > 1 {
			return nil, fmt.Errorf("classifier config: %s threshold %v outside [0, 1]", name, t.Min)
		}
		out = append(out, levelThreshold{min: decimal.NewFromFloat(t.Min), level: t.Level})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].min.GreaterThan(out[j].min)
	})
	return out, nil
}

// Fingerprint identifies the rule and threshold tables. Cached results are
// keyed by it so a configuration change never serves stale scores.
func (e *RuleEngine) Fingerprint() string {
	return e.fingerprint
}

// ScoreMarkers scores the detected genetic markers. Every marker containing a
// configured pattern contributes that pattern's weight, and a marker matching
// several patterns contributes each of them. The sum is capped at 1.0.
func (e *RuleEngine) ScoreMarkers(markerNames []string) domain.GeneticAssessment {
	score := decimal.Zero
	for _, rule := range e.rules {
		for _, marker := range markerNames {
			if strings.Contains(marker, rule.pattern) {
				score = score.Add(rule.weight)
			}
		}
	}
	if score.GreaterThan(scoreCeiling) {
		score = scoreCeiling
	}

	level := bucket(e.geneticThresholds, score)

	return domain.GeneticAssessment{
		RiskLevel:       level,
		RiskScore:       toPercent(score),
		Findings:        cloneStrings(geneticFindings[level]),
		Recommendations: cloneStrings(geneticRecommendations[level]),
		MarkersAnalyzed: len(markerNames),
	}
}

// ClassifyByProbability selects the most probable lesion class. Ties go to
// the class listed first in domain.LesionClasses.
func (e *RuleEngine) ClassifyByProbability(labelProbs map[domain.LesionClass]float64) (domain.LesionAssessment, error) {
	if len(labelProbs) == 0 {
		return domain.LesionAssessment{}, domain.NewValidationError("probabilities", "at least one class probability is required", labelProbs)
	}

	for label, p := range labelProbs {
		if !label.IsValid() {
			return domain.LesionAssessment{}, domain.NewValidationError("probabilities", fmt.Sprintf("unknown lesion class %q", label), string(label))
		}
		if math.IsNaN(p) || p < 0 || p > 1 {
			return domain.LesionAssessment{}, domain.NewValidationError("probabilities", fmt.Sprintf("probability for %s must be within [0, 1]", label), p)
		}
	}

	var (
		best     domain.LesionClass
		bestProb = -1.0
	)
	for _, label := range domain.LesionClasses {
		p, ok := labelProbs[label]
		if !ok {
			continue
		}
		if p > bestProb {
			best, bestProb = label, p
		}
	}

	confidence := decimal.NewFromFloat(bestProb)
	level := bucket(e.lesionThresholds, confidence)

	return domain.LesionAssessment{
		Type:            best.Description(),
		Confidence:      toPercent(confidence),
		RiskLevel:       level,
		Recommendations: lesionRecommendations(best, confidence),
		ClassCode:       best,
	}, nil
}

// lesionRecommendations applies the first matching rule.
func lesionRecommendations(class domain.LesionClass, confidence decimal.Decimal) []string {
	switch {
	case class == domain.MEL && confidence.GreaterThan(melanomaUrgency):
		return []string{
			"Immediate consultation with a dermatologist is recommended",
			"Consider biopsy for confirmation",
		}
	case class == domain.BCC || class == domain.AKIEC:
		return []string{
			"Schedule a dermatology appointment",
			"Monitor for changes in size or appearance",
		}
	case class == domain.NV && confidence.GreaterThan(nevusConfidence):
		return []string{
			"Regular monitoring recommended",
			"Follow ABCDE rule for self-examination",
		}
	default:
		return []string{}
	}
}

func bucket(thresholds []levelThreshold, score decimal.Decimal) domain.RiskLevel {
	for _, t := range thresholds {
		if score.GreaterThanOrEqual(t.min) {
			return t.level
		}
	}
	return domain.LOW
}

func toPercent(v decimal.Decimal) float64 {
	return v.Mul(percent).Round(2).InexactFloat64()
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
