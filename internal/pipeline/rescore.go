package pipeline

import (
	"context"
	"fmt"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
	"github.com/mr1hm/go-unrest-alerts/internal/repository"
)

const rescoreBatch = 500

// RetryUnextracted re-runs feature extraction for posts that have none,
// then resolves and clusters any that now qualify. Returns how many
// posts recovered.
func (p *Pipeline) RetryUnextracted(ctx context.Context, limit int) (int, error) {
	posts, err := p.store.ListUnextracted(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("error listing unextracted posts: %w", err)
	}

	recovered := 0
	for i := range posts {
		post := &posts[i]

		features, err := p.extractor.Extract(ctx, post.Text)
		if err != nil {
			p.logger.Debug("extraction still unavailable", "post", post.ID, "error", err)
			continue
		}
		if err := p.store.SetFeatures(ctx, post.ID, &features); err != nil {
			return recovered, fmt.Errorf("error storing features for %s: %w", post.ID, err)
		}
		post.Features = &features

		if post.Resolved == nil {
			p.resolve(ctx, post)
		}
		if post.IncidentID == "" {
			if err := p.assign(ctx, post); err != nil {
				p.logger.Error("error clustering recovered post", "post", post.ID, "error", err)
				continue
			}
		}
		recovered++
	}

	if recovered > 0 {
		p.logger.Info("recovered unscored posts", "count", recovered)
	}
	return recovered, nil
}

// RescoreOpen re-runs aggregation, verification and severity over every
// open incident. Used after configuration changes and by the periodic
// maintenance pass.
func (p *Pipeline) RescoreOpen(ctx context.Context) (int, error) {
	count := 0
	for _, status := range []models.IncidentStatus{models.StatusUnverified, models.StatusVerified} {
		st := status
		incidents, err := p.store.ListIncidents(ctx, repository.IncidentFilter{Status: &st, Limit: rescoreBatch})
		if err != nil {
			return count, fmt.Errorf("error listing %s incidents: %w", st, err)
		}
		for i := range incidents {
			if err := p.rescoreIncident(ctx, incidents[i].ID, false); err != nil {
				p.logger.Error("error rescoring incident", "incident", incidents[i].ID, "error", err)
				continue
			}
			count++
		}
	}
	return count, nil
}
