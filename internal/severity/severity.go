// Package severity derives an incident's severity tier from its
// members: crowd-size mentions, sentiment distribution and source
// diversity.
package severity

import (
	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

type Classifier struct {
	minKinds         int
	minSources       int
	highParticipants int
}

func NewClassifier(cfg config.SeverityConfig, verifyCfg config.VerifyConfig) *Classifier {
	return &Classifier{
		minKinds:         verifyCfg.MinSourceKinds,
		minSources:       verifyCfg.MinSources,
		highParticipants: cfg.HighParticipants,
	}
}

// Classify walks the rule ladder top down, first match wins:
//
//	high    hostile share > 0.5 with enough distinct sources, or a
//	        participant estimate beyond the high threshold
//	medium  enough distinct source kinds, or hostile share > 0.25
//	low     everything else
//
// A moderation-pinned severity comes back untouched. Weather members
// are contextual and never counted.
func (c *Classifier) Classify(inc *models.Incident, members []models.Post) models.Severity {
	if inc.SeverityLocked {
		return inc.Severity
	}

	posts := clusterForming(members)
	if len(posts) == 0 {
		return models.SeverityLow
	}

	hostile := hostileShare(posts)

	switch {
	case (hostile > 0.5 && models.DistinctSources(posts) >= c.minSources) ||
		maxParticipants(posts) > c.highParticipants:
		return models.SeverityHigh
	case models.DistinctSourceKinds(posts) >= c.minKinds || hostile > 0.25:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func clusterForming(members []models.Post) []models.Post {
	posts := make([]models.Post, 0, len(members))
	for i := range members {
		if members[i].SourceKind.ClusterForming() {
			posts = append(posts, members[i])
		}
	}
	return posts
}

// hostileShare is the fraction of hostile posts among members carrying
// a sentiment label.
func hostileShare(posts []models.Post) float64 {
	var labeled, hostile int
	for i := range posts {
		if posts[i].Features == nil || posts[i].Features.Sentiment == nil {
			continue
		}
		labeled++
		if *posts[i].Features.Sentiment == models.SentimentHostile {
			hostile++
		}
	}
	if labeled == 0 {
		return 0
	}
	return float64(hostile) / float64(labeled)
}

// maxParticipants is the largest crowd estimate any member mentions.
func maxParticipants(posts []models.Post) int {
	max := 0
	for i := range posts {
		if posts[i].Features == nil || posts[i].Features.Participants == nil {
			continue
		}
		if *posts[i].Features.Participants > max {
			max = *posts[i].Features.Participants
		}
	}
	return max
}
