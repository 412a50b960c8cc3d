// Package risk turns a region's recent incident history into an
// escalation outlook: a score, a discrete level and the factors that
// produced them.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/logging"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

// Score component weights plus the saturation point for incident
// density: ten incidents per window is treated as maximal activity.
const (
	densityWeight  = 0.40
	severityWeight = 0.35
	growthWeight   = 0.25

	densityNorm = 10.0
)

// Store is the slice of the repository the predictor needs.
type Store interface {
	ListIncidentsInRegion(ctx context.Context, region string, from, to time.Time) ([]models.Incident, error)
	CountWeatherPosts(ctx context.Context, region string, since time.Time) (int, error)
}

type Predictor struct {
	store  Store
	logger *slog.Logger

	minSamples    int
	defaultWindow time.Duration

	mu        sync.RWMutex
	snapshots map[string]models.RiskAssessment
}

func NewPredictor(store Store, cfg config.RiskConfig) *Predictor {
	minSamples := cfg.MinSamples
	if minSamples <= 0 {
		minSamples = 3
	}
	window := cfg.DefaultWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Predictor{
		store:         store,
		logger:        logging.Component("risk"),
		minSamples:    minSamples,
		defaultWindow: window,
		snapshots:     make(map[string]models.RiskAssessment),
	}
}

// Predict assesses escalation risk for the region over the trailing
// window. Sparse history degrades to a flagged low-confidence result,
// never an error. The result becomes the region's cached snapshot.
func (p *Predictor) Predict(ctx context.Context, region string, window time.Duration) (models.RiskAssessment, error) {
	region = strings.TrimSpace(region)
	if region == "" {
		return models.RiskAssessment{}, fmt.Errorf("error predicting risk: region required")
	}
	if window <= 0 {
		window = p.defaultWindow
	}

	now := time.Now().UTC()
	from := now.Add(-window)

	incidents, err := p.store.ListIncidentsInRegion(ctx, region, from, now)
	if err != nil {
		return models.RiskAssessment{}, fmt.Errorf("error loading incident history for %s: %w", region, err)
	}

	// Weather is context, not a dependency: a failed count never fails
	// the prediction.
	weatherCount, err := p.store.CountWeatherPosts(ctx, region, from)
	if err != nil {
		p.logger.Warn("error counting weather posts", "region", region, "error", err)
		weatherCount = 0
	}

	assessment := p.assess(region, window, now, incidents, weatherCount)

	p.mu.Lock()
	p.snapshots[snapshotKey(region)] = assessment
	p.mu.Unlock()

	p.logger.Info("risk assessed", "region", region,
		"score", assessment.Score, "level", assessment.Level, "samples", assessment.SampleSize)
	return assessment, nil
}

// Snapshot returns the latest cached assessment for the region.
func (p *Predictor) Snapshot(region string) (models.RiskAssessment, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	a, ok := p.snapshots[snapshotKey(region)]
	return a, ok
}

func snapshotKey(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}

func (p *Predictor) assess(region string, window time.Duration, now time.Time, incidents []models.Incident, weatherCount int) models.RiskAssessment {
	sample := len(incidents)

	density := float64(sample) / densityNorm
	if density > 1 {
		density = 1
	}

	mix, highShare := severityMix(incidents)

	mid := now.Add(-window / 2)
	recent, prior := 0, 0
	for i := range incidents {
		if !incidents[i].WindowEnd.Before(mid) {
			recent++
		} else {
			prior++
		}
	}
	growth := growthScore(recent, prior)

	base := densityWeight*density + severityWeight*mix + growthWeight*growth
	timeFactor := timeRiskFactor(now)
	weather := weatherFactor(weatherCount)
	score := clamp01(base * timeFactor * weather)

	insufficient := sample < p.minSamples
	confidence := 0.3 + 0.6*minF(float64(sample)/float64(2*p.minSamples), 1)
	if insufficient && confidence > 0.4 {
		confidence = 0.4
	}

	trend := "stable"
	switch {
	case growth > 0.6:
		trend = "rising"
	case growth < 0.4:
		trend = "declining"
	}

	reason := fmt.Sprintf("%d incidents in %s over the last %s with %s activity; high-severity share %.0f%%",
		sample, region, window, trend, highShare*100)
	if insufficient {
		reason = "limited history: " + reason
	}

	return models.RiskAssessment{
		Region:                region,
		Window:                window,
		Score:                 score,
		Level:                 models.RiskLevelFor(score),
		Confidence:            confidence,
		SampleSize:            sample,
		InsufficientHistory:   insufficient,
		EscalationProbability: clamp01(0.6*growth + 0.4*mix),
		Factors: []models.RiskFactor{
			{Name: "incident_density", Value: density, Weight: densityWeight,
				Detail: fmt.Sprintf("%d incidents in window", sample)},
			{Name: "severity_mix", Value: mix, Weight: severityWeight,
				Detail: fmt.Sprintf("high-severity share %.0f%%", highShare*100)},
			{Name: "growth", Value: growth, Weight: growthWeight,
				Detail: fmt.Sprintf("%d recent vs %d prior", recent, prior)},
			{Name: "time_of_week", Value: timeFactor,
				Detail: "weekend and evening hours carry more risk"},
			{Name: "weather_context", Value: weather,
				Detail: fmt.Sprintf("%d weather reports nearby", weatherCount)},
		},
		Reason:      reason,
		GeneratedAt: now,
	}
}

// severityMix maps the incident severities onto [0,1] and also reports
// the share of high-severity incidents.
func severityMix(incidents []models.Incident) (mix, highShare float64) {
	if len(incidents) == 0 {
		return 0, 0
	}
	var sum float64
	var high int
	for i := range incidents {
		switch incidents[i].Severity {
		case models.SeverityHigh:
			sum += 1.0
			high++
		case models.SeverityMedium:
			sum += 0.6
		default:
			sum += 0.25
		}
	}
	n := float64(len(incidents))
	return sum / n, float64(high) / n
}

// growthScore compares the recent half-window against the prior one:
// 0.5 is steady, above is accelerating, below is cooling off.
func growthScore(recent, prior int) float64 {
	base := prior
	if base < 1 {
		base = 1
	}
	raw := float64(recent-prior) / float64(base)
	return clamp01(0.5 + raw/2)
}

// timeRiskFactor raises risk on weekends and in evening hours, when
// gatherings historically peak.
func timeRiskFactor(t time.Time) float64 {
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return 1.15
	}
	if h := t.Hour(); h >= 18 && h <= 23 {
		return 1.15
	}
	return 1.0
}

// weatherFactor dampens the score slightly when weather reports
// cluster near the region; severe weather suppresses turnout.
func weatherFactor(count int) float64 {
	if count > 5 {
		count = 5
	}
	return 1 - 0.02*float64(count)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
