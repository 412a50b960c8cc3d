// Package verify decides whether an incident is corroborated well
// enough to publish as verified, and how confident that call is.
package verify

import (
	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

// Confidence weights. Each input is monotone: more distinct sources,
// higher mean relevance, hotter sentiment and a firmer canonical
// location can only raise the score.
const (
	relevanceWeight  = 0.35
	sourcesWeight    = 0.30
	intensityWeight  = 0.20
	resolutionWeight = 0.15
)

type Engine struct {
	minKinds       int
	minSources     int
	relevanceFloor float64
}

func NewEngine(cfg config.VerifyConfig) *Engine {
	return &Engine{
		minKinds:       cfg.MinSourceKinds,
		minSources:     cfg.MinSources,
		relevanceFloor: cfg.RelevanceFloor,
	}
}

// Score recomputes status and confidence from the current members.
// Terminal incidents come back unchanged, and verified never demotes
// to unverified: corroboration that happened cannot un-happen.
// Members without an extracted relevance stay linked but count toward
// nothing here.
func (e *Engine) Score(inc *models.Incident, members []models.Post) (models.IncidentStatus, float64) {
	if inc.Status.Terminal() {
		return inc.Status, inc.Confidence
	}

	scored := scoredMembers(members)
	confidence := e.confidence(inc, scored)

	status := inc.Status
	if status != models.StatusVerified && e.corroborated(scored) {
		status = models.StatusVerified
	}
	return status, confidence
}

// corroborated applies the promotion rule: enough distinct non-weather
// source kinds OR enough distinct sources of any kind, and the mean
// relevance clears the floor.
func (e *Engine) corroborated(scored []models.Post) bool {
	if len(scored) == 0 {
		return false
	}
	diverse := models.DistinctSourceKinds(scored) >= e.minKinds ||
		models.DistinctSources(scored) >= e.minSources
	return diverse && meanRelevance(scored) >= e.relevanceFloor
}

func (e *Engine) confidence(inc *models.Incident, scored []models.Post) float64 {
	if len(scored) == 0 {
		return 0
	}

	resolution := 0.0
	if inc.Located() {
		resolution = inc.Location.Confidence
	}

	c := relevanceWeight*meanRelevance(scored) +
		sourcesWeight*e.sourcesScore(models.DistinctSources(scored)) +
		intensityWeight*meanIntensity(scored) +
		resolutionWeight*resolution
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// sourcesScore ramps from 0 at one source to 1 at minSources, so a
// lone uncorroborated report cannot buy much confidence.
func (e *Engine) sourcesScore(distinct int) float64 {
	if distinct <= 0 {
		return 0
	}
	if e.minSources <= 1 || distinct >= e.minSources {
		return 1
	}
	return float64(distinct-1) / float64(e.minSources-1)
}

// scoredMembers keeps the posts that may corroborate: non-weather and
// carrying an extracted relevance.
func scoredMembers(members []models.Post) []models.Post {
	scored := make([]models.Post, 0, len(members))
	for i := range members {
		if members[i].SourceKind == models.SourceWeather {
			continue
		}
		if _, ok := members[i].Relevance(); ok {
			scored = append(scored, members[i])
		}
	}
	return scored
}

func meanRelevance(posts []models.Post) float64 {
	if len(posts) == 0 {
		return 0
	}
	var sum float64
	for i := range posts {
		rel, _ := posts[i].Relevance()
		sum += rel
	}
	return sum / float64(len(posts))
}

func meanIntensity(posts []models.Post) float64 {
	var sum float64
	var n int
	for i := range posts {
		if posts[i].Features == nil || posts[i].Features.Sentiment == nil {
			continue
		}
		sum += posts[i].Features.Sentiment.Intensity()
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
