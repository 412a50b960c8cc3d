// Package pipeline takes raw records end to end: normalize, store,
// extract features, resolve location, cluster, then rescore and
// announce the touched incident. Enrichment failures degrade the post
// rather than fail it; only store errors propagate to the caller.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mr1hm/go-unrest-alerts/internal/alerting"
	"github.com/mr1hm/go-unrest-alerts/internal/cluster"
	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/geo"
	"github.com/mr1hm/go-unrest-alerts/internal/ingestion"
	"github.com/mr1hm/go-unrest-alerts/internal/logging"
	"github.com/mr1hm/go-unrest-alerts/internal/metrics"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
	"github.com/mr1hm/go-unrest-alerts/internal/repository"
	"github.com/mr1hm/go-unrest-alerts/internal/severity"
	"github.com/mr1hm/go-unrest-alerts/internal/verify"
	"github.com/mr1hm/go-unrest-alerts/internal/worker"
)

type Pipeline struct {
	store       repository.Store
	extractor   nlpExtractor
	resolver    *geo.Resolver
	engine      *cluster.Engine
	verifier    *verify.Engine
	classifier  *severity.Classifier
	broadcaster *alerting.Broadcaster
	metrics     *metrics.Metrics
	locks       *worker.KeyMutex
	logger      *slog.Logger

	resolveTimeout time.Duration
	maxRetries     int
}

// nlpExtractor mirrors nlp.Extractor without importing the package
// into every test double.
type nlpExtractor interface {
	Extract(ctx context.Context, text string) (models.Features, error)
}

func New(
	store repository.Store,
	extractor nlpExtractor,
	resolver *geo.Resolver,
	engine *cluster.Engine,
	verifier *verify.Engine,
	classifier *severity.Classifier,
	broadcaster *alerting.Broadcaster,
	m *metrics.Metrics,
	locks *worker.KeyMutex,
	cfg *config.Config,
) *Pipeline {
	maxRetries := cfg.DB.MaxUpdateRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Pipeline{
		store:          store,
		extractor:      extractor,
		resolver:       resolver,
		engine:         engine,
		verifier:       verifier,
		classifier:     classifier,
		broadcaster:    broadcaster,
		metrics:        m,
		locks:          locks,
		logger:         logging.Component("pipeline"),
		resolveTimeout: cfg.Geo.ResolveTimeout,
		maxRetries:     maxRetries,
	}
}

// Process implements ingestion.Processor. A malformed record returns an
// error so the Kafka intake can dead-letter it; a duplicate is a no-op.
func (p *Pipeline) Process(ctx context.Context, rec ingestion.Record) error {
	start := time.Now()
	defer func() {
		p.metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	}()

	post, err := ingestion.Normalize(rec)
	if err != nil {
		p.metrics.PostsDiscarded.WithLabelValues("invalid").Inc()
		return fmt.Errorf("error normalizing record: %w", err)
	}

	exists, err := p.store.PostExists(ctx, post.ID)
	if err != nil {
		return fmt.Errorf("error checking existence: %w", err)
	}
	if exists {
		p.metrics.PostsDiscarded.WithLabelValues("duplicate").Inc()
		return nil
	}

	if err := p.store.AddPost(ctx, post); err != nil {
		return fmt.Errorf("error adding post: %w", err)
	}
	p.metrics.PostsIngested.WithLabelValues(string(post.SourceKind)).Inc()

	p.enrich(ctx, post)

	return p.assign(ctx, post)
}

// enrich fills features and a resolved location where possible. Both
// steps are allowed to fail without failing the post.
func (p *Pipeline) enrich(ctx context.Context, post *models.Post) {
	features, err := p.extractor.Extract(ctx, post.Text)
	if err != nil {
		// The post stays stored unscored and retries on the next
		// maintenance pass.
		p.logger.Warn("feature extraction failed", "post", post.ID, "error", err)
		return
	}
	if err := p.store.SetFeatures(ctx, post.ID, &features); err != nil {
		p.logger.Error("error storing features", "post", post.ID, "error", err)
		return
	}
	post.Features = &features

	p.resolve(ctx, post)
}

func (p *Pipeline) resolve(ctx context.Context, post *models.Post) {
	query := post.LocationRaw
	if query == "" && post.Features != nil {
		query = post.Features.LocationText
	}
	if query == "" {
		return
	}

	rctx, cancel := context.WithTimeout(ctx, p.resolveTimeout)
	defer cancel()

	loc, err := p.resolver.Resolve(rctx, query)
	if err != nil {
		switch {
		case errors.Is(err, geo.ErrNotFound):
			p.metrics.GeoFailures.WithLabelValues("not_found").Inc()
		case errors.Is(err, context.DeadlineExceeded):
			p.metrics.GeoFailures.WithLabelValues("timeout").Inc()
		default:
			p.metrics.GeoFailures.WithLabelValues("error").Inc()
		}
		p.logger.Debug("location unresolved", "post", post.ID, "query", query, "error", err)
		return
	}

	if err := p.store.SetResolved(ctx, post.ID, &loc); err != nil {
		p.logger.Error("error storing resolution", "post", post.ID, "error", err)
		return
	}
	post.Resolved = &loc
}

func (p *Pipeline) assign(ctx context.Context, post *models.Post) error {
	decision, err := p.engine.Assign(ctx, post)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			p.metrics.StoreConflicts.Inc()
		}
		return fmt.Errorf("error clustering post %s: %w", post.ID, err)
	}
	if decision.IncidentID == "" {
		p.metrics.Assignments.WithLabelValues("skipped").Inc()
		return nil
	}

	if decision.Created {
		p.metrics.Assignments.WithLabelValues("created").Inc()
	} else {
		p.metrics.Assignments.WithLabelValues("joined").Inc()
	}

	return p.rescoreIncident(ctx, decision.IncidentID, decision.Created)
}

// rescoreIncident recomputes aggregates, verification and severity for
// one incident and announces any transition. Runs under the incident's
// key lock with a bounded retry against concurrent writers.
func (p *Pipeline) rescoreIncident(ctx context.Context, id string, created bool) error {
	p.locks.Lock(id)
	defer p.locks.Unlock(id)

	for attempt := 0; attempt < p.maxRetries; attempt++ {
		inc, err := p.store.GetIncident(ctx, id)
		if err != nil {
			return fmt.Errorf("error loading incident %s: %w", id, err)
		}
		if !inc.Status.Active() {
			return nil
		}

		members, err := p.store.ListPostsByIncident(ctx, id)
		if err != nil {
			return fmt.Errorf("error loading members of %s: %w", id, err)
		}

		prevStatus, prevSeverity := inc.Status, inc.Severity

		cluster.Recompute(inc, members)
		if !inc.StatusLocked {
			inc.Status, inc.Confidence = p.verifier.Score(inc, members)
		}
		inc.Severity = p.classifier.Classify(inc, members)
		inc.UpdatedAt = time.Now().UTC()

		err = p.store.UpdateIncident(ctx, inc)
		if errors.Is(err, repository.ErrConflict) {
			p.metrics.StoreConflicts.Inc()
			continue
		}
		if err != nil {
			return fmt.Errorf("error updating incident %s: %w", id, err)
		}

		p.metrics.IncidentsScored.Inc()
		p.announce(inc, prevStatus, prevSeverity, created)
		return nil
	}

	return fmt.Errorf("error updating incident %s: %w", id, repository.ErrConflict)
}

func (p *Pipeline) announce(inc *models.Incident, prevStatus models.IncidentStatus, prevSeverity models.Severity, created bool) {
	if created {
		p.emit(alerting.EventIncidentCreated, inc)
	}
	if prevStatus == models.StatusUnverified && inc.Status == models.StatusVerified {
		p.logger.Info("incident verified", "incident", inc.ID, "confidence", inc.Confidence)
		p.emit(alerting.EventIncidentVerified, inc)
	}
	if inc.Severity.Rank() > prevSeverity.Rank() {
		p.logger.Info("severity raised", "incident", inc.ID, "severity", inc.Severity)
		p.emit(alerting.EventSeverityRaised, inc)
	}
}

func (p *Pipeline) emit(kind alerting.EventKind, inc *models.Incident) {
	if p.broadcaster == nil {
		return
	}
	p.broadcaster.Broadcast(alerting.Event{Kind: kind, Incident: *inc})
	p.metrics.EventsEmitted.WithLabelValues(string(kind)).Inc()
}
