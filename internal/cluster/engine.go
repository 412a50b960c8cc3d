package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/geo"
	"github.com/mr1hm/go-unrest-alerts/internal/logging"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
	"github.com/mr1hm/go-unrest-alerts/internal/repository"
	"github.com/mr1hm/go-unrest-alerts/internal/worker"
)

// Store is the slice of the repository the engine needs.
type Store interface {
	Candidates(ctx context.Context, q repository.CandidateQuery) ([]models.Incident, error)
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	CreateIncident(ctx context.Context, inc *models.Incident, firstPostID string) error
	AttachPost(ctx context.Context, inc *models.Incident, postID string) error
	ListPostsByIncident(ctx context.Context, incidentID string) ([]models.Post, error)
}

// Decision reports where a post ended up. The zero Decision means the
// post was not eligible for clustering (weather, unscored, or below
// the relevance threshold) and no incident was touched.
type Decision struct {
	IncidentID string
	Created    bool
}

// Engine groups posts into incidents. Candidate scoring runs without
// locks; the mutation that links a post is serialized per incident
// through a keyed mutex plus the store's versioned update, so
// different incidents always proceed in parallel.
type Engine struct {
	store  Store
	locks  *worker.KeyMutex
	logger *slog.Logger

	window       time.Duration
	radiusKM     float64
	threshold    float64
	minRelevance float64
	maxRetries   int
}

func NewEngine(store Store, locks *worker.KeyMutex, cfg config.ClusterConfig, maxRetries int) *Engine {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Engine{
		store:        store,
		locks:        locks,
		logger:       logging.Component("cluster"),
		window:       cfg.TimeWindow,
		radiusKM:     cfg.RadiusKM,
		threshold:    cfg.SimilarityThreshold,
		minRelevance: cfg.MinRelevance,
		maxRetries:   maxRetries,
	}
}

// Assign links the post to the best-matching active incident, or
// creates a new one when nothing clears the similarity threshold.
// Re-submitting an already-linked post is a no-op.
func (e *Engine) Assign(ctx context.Context, post *models.Post) (Decision, error) {
	if post.IncidentID != "" {
		return Decision{IncidentID: post.IncidentID}, nil
	}
	rel, scored := post.Relevance()
	if !scored || rel < e.minRelevance {
		return Decision{}, nil
	}
	if !post.SourceKind.ClusterForming() {
		return Decision{}, nil
	}

	candidates, err := e.candidates(ctx, post)
	if err != nil {
		return Decision{}, err
	}

	// Best score first; a candidate that became ineligible between
	// scoring and locking just falls through to the next one.
	for _, c := range e.rank(post, candidates) {
		dec, joined, err := e.join(ctx, post, c.ID)
		if err != nil {
			return Decision{}, err
		}
		if joined {
			return dec, nil
		}
	}

	return e.create(ctx, post)
}

// candidates loads active incidents whose window overlaps the post's.
// Unlocated incidents are always considered; located ones only for a
// located post, pre-filtered by bounding box when one exists.
func (e *Engine) candidates(ctx context.Context, post *models.Post) ([]models.Incident, error) {
	from := post.PublishedAt.Add(-e.window)
	to := post.PublishedAt.Add(e.window)

	unlocated := false
	list, err := e.store.Candidates(ctx, repository.CandidateQuery{From: from, To: to, Located: &unlocated})
	if err != nil {
		return nil, fmt.Errorf("error loading cluster candidates: %w", err)
	}
	if post.Resolved == nil {
		return list, nil
	}

	located := true
	q := repository.CandidateQuery{From: from, To: to, Located: &located}
	if box, ok := geo.BoundingBox(post.Resolved.Latitude, post.Resolved.Longitude, e.radiusKM); ok {
		q.Bounds = &repository.Bounds{MinLat: box.MinLat, MaxLat: box.MaxLat, MinLng: box.MinLng, MaxLng: box.MaxLng}
	}
	more, err := e.store.Candidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("error loading cluster candidates: %w", err)
	}
	return append(list, more...), nil
}

// rank filters candidates to those clearing the similarity threshold
// and orders them best first. Equal scores favor the most recently
// updated incident.
func (e *Engine) rank(post *models.Post, candidates []models.Incident) []models.Incident {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})

	scores := make(map[string]float64, len(candidates))
	var ranked []models.Incident
	for i := range candidates {
		c := candidates[i]
		if !e.pairable(post, &c) {
			continue
		}
		score := similarity(post, &c, e.window, e.radiusKM)
		if score < e.threshold {
			continue
		}
		scores[c.ID] = score
		ranked = append(ranked, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].ID] > scores[ranked[j].ID]
	})
	return ranked
}

// pairable enforces the location pairing rules: an unlocated post
// never joins a geo-anchored incident, and located pairs must sit
// within the clustering radius.
func (e *Engine) pairable(post *models.Post, inc *models.Incident) bool {
	if post.Resolved == nil {
		return !inc.Located()
	}
	if !inc.Located() {
		return true
	}
	d := geo.DistanceKM(post.Resolved.Latitude, post.Resolved.Longitude,
		inc.Location.Latitude, inc.Location.Longitude)
	return d <= e.radiusKM
}

// join attaches the post to the incident, retrying on version
// conflicts with a fresh read. joined=false without error means the
// incident no longer qualifies and the caller should move on.
func (e *Engine) join(ctx context.Context, post *models.Post, incidentID string) (Decision, bool, error) {
	for attempt := 0; attempt < e.maxRetries; attempt++ {
		joined, err := e.tryJoin(ctx, post, incidentID)
		if err == nil {
			if joined {
				return Decision{IncidentID: incidentID}, true, nil
			}
			return Decision{}, false, nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return Decision{}, false, err
		}
	}
	return Decision{}, false, fmt.Errorf("error attaching post %s to incident %s: %w",
		post.ID, incidentID, repository.ErrConflict)
}

func (e *Engine) tryJoin(ctx context.Context, post *models.Post, incidentID string) (bool, error) {
	e.locks.Lock(incidentID)
	defer e.locks.Unlock(incidentID)

	inc, err := e.store.GetIncident(ctx, incidentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("error reading incident %s: %w", incidentID, err)
	}
	if !e.eligible(post, inc) {
		return false, nil
	}

	members, err := e.store.ListPostsByIncident(ctx, incidentID)
	if err != nil {
		return false, fmt.Errorf("error loading incident members: %w", err)
	}

	updated := *inc
	Recompute(&updated, append(members, *post))
	updated.UpdatedAt = time.Now().UTC()
	if err := e.store.AttachPost(ctx, &updated, post.ID); err != nil {
		return false, err
	}

	e.logger.Info("assigned post to incident",
		"post", post.ID, "incident", incidentID, "posts", updated.PostCount)
	return true, nil
}

// eligible re-checks the match against a fresh read taken under the
// incident's lock.
func (e *Engine) eligible(post *models.Post, inc *models.Incident) bool {
	if !inc.Status.Active() {
		return false
	}
	from := post.PublishedAt.Add(-e.window)
	to := post.PublishedAt.Add(e.window)
	if inc.WindowStart.After(to) || inc.WindowEnd.Before(from) {
		return false
	}
	if !e.pairable(post, inc) {
		return false
	}
	return similarity(post, inc, e.window, e.radiusKM) >= e.threshold
}

func (e *Engine) create(ctx context.Context, post *models.Post) (Decision, error) {
	now := time.Now().UTC()
	inc := &models.Incident{
		ID:        uuid.NewString(),
		Status:    models.StatusUnverified,
		Severity:  models.SeverityLow,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	Recompute(inc, []models.Post{*post})

	place := ""
	if inc.Location != nil {
		place = inc.Location.PlaceName
	}
	inc.Title = titleFor(place, inc.Keywords)
	inc.Description = headline(post)

	if err := e.store.CreateIncident(ctx, inc, post.ID); err != nil {
		return Decision{}, fmt.Errorf("error creating incident for post %s: %w", post.ID, err)
	}

	e.logger.Info("created incident", "incident", inc.ID, "post", post.ID, "place", place)
	return Decision{IncidentID: inc.ID, Created: true}, nil
}
