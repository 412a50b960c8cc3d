package models

import "time"

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevelFor buckets a score into a discrete level. Cut points are
// fixed so dashboards and alerting agree on what "high" means.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score < 0.33:
		return RiskLow
	case score < 0.66:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// RiskFactor is one named contribution to a risk score, kept so the
// assessment can explain itself.
type RiskFactor struct {
	Name   string
	Value  float64
	Weight float64
	Detail string
}

// RiskAssessment is a derived per-region snapshot. It is fully
// recomputable from incident history; only the latest snapshot per
// region is retained.
type RiskAssessment struct {
	Region     string
	Window     time.Duration
	Score      float64
	Level      RiskLevel
	Confidence float64

	// SampleSize is the number of incidents the assessment saw.
	// InsufficientHistory marks assessments computed below the minimum
	// sample size; these are valid low-confidence results, not errors.
	SampleSize          int
	InsufficientHistory bool

	EscalationProbability float64
	Factors               []RiskFactor
	Reason                string
	GeneratedAt           time.Time
}
