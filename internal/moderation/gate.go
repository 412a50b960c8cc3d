// Package moderation applies human decisions to incidents: flagging
// false positives, confirming real events and merging duplicates.
// Every action is idempotent and leaves an audit row.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mr1hm/go-unrest-alerts/internal/cluster"
	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/logging"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
	"github.com/mr1hm/go-unrest-alerts/internal/repository"
	"github.com/mr1hm/go-unrest-alerts/internal/severity"
	"github.com/mr1hm/go-unrest-alerts/internal/verify"
	"github.com/mr1hm/go-unrest-alerts/internal/worker"
)

var (
	// ErrAlreadyTerminal means the operation touched an incident that
	// is already merged, or tried to revive a flagged one through merge.
	ErrAlreadyTerminal = errors.New("incident already in a terminal state")

	// ErrInvalidTargetState means the merge target cannot accept
	// members, e.g. it was flagged as a false positive.
	ErrInvalidTargetState = errors.New("merge target cannot accept members")
)

// Store is the slice of the repository the gate needs.
type Store interface {
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	UpdateIncident(ctx context.Context, inc *models.Incident) error
	MergeIncidents(ctx context.Context, source, target *models.Incident) error
	ListPostsByIncident(ctx context.Context, incidentID string) ([]models.Post, error)
	AddAudit(ctx context.Context, e *models.AuditEntry) error
}

type Gate struct {
	store      Store
	locks      *worker.KeyMutex
	verifier   *verify.Engine
	classifier *severity.Classifier
	logger     *slog.Logger

	confirmConfidence float64
	maxRetries        int
}

func NewGate(store Store, locks *worker.KeyMutex, verifier *verify.Engine, classifier *severity.Classifier, cfg config.ModerationConfig, maxRetries int) *Gate {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Gate{
		store:             store,
		locks:             locks,
		verifier:          verifier,
		classifier:        classifier,
		logger:            logging.Component("moderation"),
		confirmConfidence: cfg.ConfirmConfidence,
		maxRetries:        maxRetries,
	}
}

// Flag marks the incident as a false positive and pins both status and
// severity against automatic rescoring. Members stay linked for audit.
// Flagging an already-flagged incident is a no-op.
func (g *Gate) Flag(ctx context.Context, incidentID, reason, actor string) error {
	g.locks.Lock(incidentID)
	defer g.locks.Unlock(incidentID)

	changed := false
	err := g.updateLocked(ctx, incidentID, func(inc *models.Incident) (bool, error) {
		if inc.Status == models.StatusFlagged {
			return false, nil
		}
		if inc.Status == models.StatusMerged {
			return false, fmt.Errorf("error flagging incident %s: %w", incidentID, ErrAlreadyTerminal)
		}
		inc.Status = models.StatusFlagged
		inc.StatusLocked = true
		inc.SeverityLocked = true
		inc.LockReason = reason
		inc.UpdatedAt = time.Now().UTC()
		changed = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	g.audit(ctx, incidentID, "", models.ActionFlag, reason, actor)
	g.logger.Info("incident flagged", "incident", incidentID, "reason", reason, "actor", actor)
	return nil
}

// Confirm marks the incident verified regardless of automatic
// corroboration, raises its confidence to the configured floor and
// pins the status. Confirming a flagged incident un-flags it; this is
// the only path out of flagged_false_positive. Severity resumes
// automatic scoring.
func (g *Gate) Confirm(ctx context.Context, incidentID, actor string) error {
	g.locks.Lock(incidentID)
	defer g.locks.Unlock(incidentID)

	changed := false
	err := g.updateLocked(ctx, incidentID, func(inc *models.Incident) (bool, error) {
		if inc.Status == models.StatusMerged {
			return false, fmt.Errorf("error confirming incident %s: %w", incidentID, ErrAlreadyTerminal)
		}
		if inc.Status == models.StatusVerified && inc.StatusLocked && inc.Confidence >= g.confirmConfidence {
			return false, nil
		}
		inc.Status = models.StatusVerified
		inc.StatusLocked = true
		inc.SeverityLocked = false
		inc.LockReason = ""
		if inc.Confidence < g.confirmConfidence {
			inc.Confidence = g.confirmConfidence
		}
		inc.UpdatedAt = time.Now().UTC()
		changed = true
		return true, nil
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	g.audit(ctx, incidentID, "", models.ActionConfirm, "", actor)
	g.logger.Info("incident confirmed", "incident", incidentID, "actor", actor)
	return nil
}

// Merge folds the source incident into the target: the source becomes
// terminal with a forward reference, its members are re-parented in
// one transaction, and the target is re-scored as if its membership
// changed. Repeating a completed merge is a no-op.
func (g *Gate) Merge(ctx context.Context, sourceID, targetID, actor string) error {
	if sourceID == targetID {
		return fmt.Errorf("error merging incident %s into itself: %w", sourceID, ErrInvalidTargetState)
	}

	// Both locks taken in a fixed global order so crossing merges
	// cannot deadlock.
	g.locks.LockPair(sourceID, targetID)
	defer g.locks.UnlockPair(sourceID, targetID)

	for attempt := 0; attempt < g.maxRetries; attempt++ {
		source, err := g.store.GetIncident(ctx, sourceID)
		if err != nil {
			return fmt.Errorf("error reading merge source %s: %w", sourceID, err)
		}
		target, err := g.store.GetIncident(ctx, targetID)
		if err != nil {
			return fmt.Errorf("error reading merge target %s: %w", targetID, err)
		}

		if source.Status == models.StatusMerged {
			if source.MergedInto == targetID {
				return nil
			}
			return fmt.Errorf("error merging incident %s: %w", sourceID, ErrAlreadyTerminal)
		}
		if source.Status == models.StatusFlagged {
			return fmt.Errorf("error merging incident %s: %w", sourceID, ErrAlreadyTerminal)
		}
		if target.Status == models.StatusMerged {
			return fmt.Errorf("error merging into incident %s: %w", targetID, ErrAlreadyTerminal)
		}
		if target.Status == models.StatusFlagged {
			return fmt.Errorf("error merging into incident %s: %w", targetID, ErrInvalidTargetState)
		}

		now := time.Now().UTC()
		source.Status = models.StatusMerged
		source.MergedInto = targetID
		source.UpdatedAt = now
		target.UpdatedAt = now

		err = g.store.MergeIncidents(ctx, source, target)
		if err == nil {
			g.audit(ctx, sourceID, targetID, models.ActionMerge, "", actor)
			g.logger.Info("incidents merged", "source", sourceID, "target", targetID, "actor", actor)
			return g.rescoreTarget(ctx, targetID)
		}
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("error merging incident %s into %s: %w", sourceID, targetID, repository.ErrConflict)
}

// updateLocked applies mutate to a fresh read and writes it back,
// retrying on version conflicts. mutate returning false means nothing
// to write. The caller must hold the incident's key lock.
func (g *Gate) updateLocked(ctx context.Context, incidentID string, mutate func(*models.Incident) (bool, error)) error {
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		inc, err := g.store.GetIncident(ctx, incidentID)
		if err != nil {
			return fmt.Errorf("error reading incident %s: %w", incidentID, err)
		}
		write, err := mutate(inc)
		if err != nil {
			return err
		}
		if !write {
			return nil
		}
		err = g.store.UpdateIncident(ctx, inc)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("error updating incident %s: %w", incidentID, repository.ErrConflict)
}

// rescoreTarget rebuilds the target's aggregates and scores from its
// post-merge membership, honoring moderation locks.
func (g *Gate) rescoreTarget(ctx context.Context, targetID string) error {
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		inc, err := g.store.GetIncident(ctx, targetID)
		if err != nil {
			return fmt.Errorf("error reading incident %s: %w", targetID, err)
		}
		members, err := g.store.ListPostsByIncident(ctx, targetID)
		if err != nil {
			return fmt.Errorf("error loading incident members: %w", err)
		}

		cluster.Recompute(inc, members)
		if !inc.StatusLocked {
			inc.Status, inc.Confidence = g.verifier.Score(inc, members)
		}
		inc.Severity = g.classifier.Classify(inc, members)
		inc.UpdatedAt = time.Now().UTC()

		err = g.store.UpdateIncident(ctx, inc)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("error rescoring incident %s: %w", targetID, repository.ErrConflict)
}

func (g *Gate) audit(ctx context.Context, incidentID, targetID string, action models.ModerationAction, reason, actor string) {
	entry := &models.AuditEntry{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		TargetID:   targetID,
		Action:     action,
		Reason:     reason,
		Actor:      actor,
		CreatedAt:  time.Now().UTC(),
	}
	if err := g.store.AddAudit(ctx, entry); err != nil {
		g.logger.Error("error recording moderation audit",
			"incident", incidentID, "action", action, "error", err)
	}
}
