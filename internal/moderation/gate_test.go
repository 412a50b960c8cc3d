package moderation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mr1hm/go-unrest-alerts/internal/cluster"
	"github.com/mr1hm/go-unrest-alerts/internal/config"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
	"github.com/mr1hm/go-unrest-alerts/internal/repository"
	"github.com/mr1hm/go-unrest-alerts/internal/severity"
	"github.com/mr1hm/go-unrest-alerts/internal/verify"
	"github.com/mr1hm/go-unrest-alerts/internal/worker"
)

var (
	t0       = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	parisLoc = models.Location{Latitude: 48.8566, Longitude: 2.3522, PlaceName: "Paris", Confidence: 0.9}
)

func setupGate(t *testing.T) (*Gate, *repository.SQLiteDB) {
	t.Helper()
	store, err := repository.NewSQLiteDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	verifyCfg := config.VerifyConfig{MinSourceKinds: 2, MinSources: 3, RelevanceFloor: 0.5}
	gate := NewGate(
		store,
		worker.NewKeyMutex(),
		verify.NewEngine(verifyCfg),
		severity.NewClassifier(config.SeverityConfig{HighParticipants: 1000}, verifyCfg),
		config.ModerationConfig{ConfirmConfidence: 0.9},
		3,
	)
	return gate, store
}

func modPost(id string, kind models.SourceKind, author string, relevance float64, sentiment models.Sentiment, at time.Time) models.Post {
	loc := parisLoc
	return models.Post{
		ID:          id,
		SourceKind:  kind,
		Author:      author,
		Text:        "protest reported in the city center",
		PublishedAt: at,
		IngestedAt:  at,
		Features: &models.Features{
			Relevance: &relevance,
			Sentiment: &sentiment,
			Keywords:  []string{"protest"},
		},
		Resolved: &loc,
	}
}

func seedIncident(t *testing.T, store *repository.SQLiteDB, id string, posts ...models.Post) *models.Incident {
	t.Helper()
	ctx := context.Background()
	for i := range posts {
		if err := store.AddPost(ctx, &posts[i]); err != nil {
			t.Fatalf("AddPost failed: %v", err)
		}
	}

	inc := &models.Incident{
		ID:        id,
		Status:    models.StatusUnverified,
		Severity:  models.SeverityLow,
		CreatedAt: posts[0].PublishedAt,
		UpdatedAt: posts[0].PublishedAt,
	}
	cluster.Recompute(inc, posts[:1])
	if err := store.CreateIncident(ctx, inc, posts[0].ID); err != nil {
		t.Fatalf("CreateIncident failed: %v", err)
	}
	for _, p := range posts[1:] {
		members, err := store.ListPostsByIncident(ctx, id)
		if err != nil {
			t.Fatalf("ListPostsByIncident failed: %v", err)
		}
		cluster.Recompute(inc, append(members, p))
		if err := store.AttachPost(ctx, inc, p.ID); err != nil {
			t.Fatalf("AttachPost failed: %v", err)
		}
	}
	return inc
}

func TestFlag_LocksStatusAndSeverity(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()
	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))

	if err := gate.Flag(ctx, "inc-a", "hoax account", "admin"); err != nil {
		t.Fatalf("Flag failed: %v", err)
	}

	inc, err := store.GetIncident(ctx, "inc-a")
	if err != nil {
		t.Fatalf("GetIncident failed: %v", err)
	}
	if inc.Status != models.StatusFlagged {
		t.Errorf("status = %s, want flagged", inc.Status)
	}
	if !inc.StatusLocked || !inc.SeverityLocked {
		t.Errorf("expected both locks, got status=%v severity=%v", inc.StatusLocked, inc.SeverityLocked)
	}
	if inc.LockReason != "hoax account" {
		t.Errorf("lock reason = %q", inc.LockReason)
	}

	// Members stay linked for audit.
	members, err := store.ListPostsByIncident(ctx, "inc-a")
	if err != nil {
		t.Fatalf("ListPostsByIncident failed: %v", err)
	}
	if len(members) != 1 {
		t.Errorf("expected members retained, got %d", len(members))
	}

	entries, err := store.ListAuditByIncident(ctx, "inc-a")
	if err != nil {
		t.Fatalf("ListAuditByIncident failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != models.ActionFlag {
		t.Errorf("unexpected audit trail %+v", entries)
	}
}

func TestFlag_Idempotent(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()
	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))

	if err := gate.Flag(ctx, "inc-a", "hoax", "admin"); err != nil {
		t.Fatalf("first Flag failed: %v", err)
	}
	if err := gate.Flag(ctx, "inc-a", "hoax again", "admin"); err != nil {
		t.Fatalf("repeated Flag must be a no-op, got %v", err)
	}

	inc, _ := store.GetIncident(ctx, "inc-a")
	if inc.LockReason != "hoax" {
		t.Errorf("repeat flag overwrote reason: %q", inc.LockReason)
	}
	entries, _ := store.ListAuditByIncident(ctx, "inc-a")
	if len(entries) != 1 {
		t.Errorf("repeat flag added audit rows: %d", len(entries))
	}
}

func TestFlag_NotFound(t *testing.T) {
	gate, _ := setupGate(t)
	err := gate.Flag(context.Background(), "missing", "n/a", "admin")
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfirm_PromotesAndLocksStatus(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()
	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))

	if err := gate.Confirm(ctx, "inc-a", "admin"); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}

	inc, _ := store.GetIncident(ctx, "inc-a")
	if inc.Status != models.StatusVerified {
		t.Errorf("status = %s, want verified", inc.Status)
	}
	if inc.Confidence < 0.9 {
		t.Errorf("confidence = %v, want >= 0.9", inc.Confidence)
	}
	if !inc.StatusLocked {
		t.Error("confirm must lock status")
	}
	if inc.SeverityLocked {
		t.Error("confirm must not pin severity")
	}

	if err := gate.Confirm(ctx, "inc-a", "admin"); err != nil {
		t.Fatalf("repeated Confirm must be a no-op, got %v", err)
	}
	entries, _ := store.ListAuditByIncident(ctx, "inc-a")
	if len(entries) != 1 {
		t.Errorf("repeat confirm added audit rows: %d", len(entries))
	}
}

func TestConfirm_UnflagsFlaggedIncident(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()
	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))

	if err := gate.Flag(ctx, "inc-a", "looked fake", "admin"); err != nil {
		t.Fatalf("Flag failed: %v", err)
	}
	if err := gate.Confirm(ctx, "inc-a", "admin"); err != nil {
		t.Fatalf("Confirm on flagged incident failed: %v", err)
	}

	inc, _ := store.GetIncident(ctx, "inc-a")
	if inc.Status != models.StatusVerified {
		t.Errorf("status = %s, want verified after un-flag", inc.Status)
	}
	if inc.SeverityLocked {
		t.Error("severity must resume automatic scoring after un-flag")
	}
	if inc.LockReason != "" {
		t.Errorf("stale lock reason %q", inc.LockReason)
	}
}

func TestMerge_ReparentsAndRescores(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()

	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))
	seedIncident(t, store, "inc-b",
		modPost("news_1", models.SourceNews, "lemonde", 0.9, models.SentimentHostile, t0.Add(time.Hour)),
		modPost("forum_1", models.SourceForum, "bob", 0.7, models.SentimentTense, t0.Add(2*time.Hour)),
	)

	if err := gate.Merge(ctx, "inc-a", "inc-b", "admin"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	source, _ := store.GetIncident(ctx, "inc-a")
	if source.Status != models.StatusMerged || source.MergedInto != "inc-b" {
		t.Errorf("source = %s -> %q, want merged -> inc-b", source.Status, source.MergedInto)
	}

	target, _ := store.GetIncident(ctx, "inc-b")
	if target.PostCount != 3 {
		t.Errorf("target post count = %d, want 3", target.PostCount)
	}
	if !target.WindowStart.Equal(t0) || !target.WindowEnd.Equal(t0.Add(2*time.Hour)) {
		t.Errorf("target window = [%v, %v], want member min/max", target.WindowStart, target.WindowEnd)
	}
	// Three kinds and three sources now corroborate the target.
	if target.Status != models.StatusVerified {
		t.Errorf("target status = %s, want verified", target.Status)
	}
	if target.Severity != models.SeverityHigh {
		t.Errorf("target severity = %s, want high", target.Severity)
	}

	members, _ := store.ListPostsByIncident(ctx, "inc-b")
	if len(members) != 3 {
		t.Errorf("expected 3 members on target, got %d", len(members))
	}
	orphans, _ := store.ListPostsByIncident(ctx, "inc-a")
	if len(orphans) != 0 {
		t.Errorf("source still owns %d posts", len(orphans))
	}

	entries, _ := store.ListAuditByIncident(ctx, "inc-a")
	if len(entries) != 1 || entries[0].Action != models.ActionMerge || entries[0].TargetID != "inc-b" {
		t.Errorf("unexpected audit trail %+v", entries)
	}
}

func TestMerge_RepeatSameTargetIsNoOp(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()

	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))
	seedIncident(t, store, "inc-b", modPost("news_1", models.SourceNews, "lemonde", 0.9, models.SentimentHostile, t0.Add(time.Hour)))

	if err := gate.Merge(ctx, "inc-a", "inc-b", "admin"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if err := gate.Merge(ctx, "inc-a", "inc-b", "admin"); err != nil {
		t.Fatalf("repeating a completed merge must be a no-op, got %v", err)
	}

	entries, _ := store.ListAuditByIncident(ctx, "inc-a")
	if len(entries) != 1 {
		t.Errorf("repeat merge added audit rows: %d", len(entries))
	}
}

func TestMerge_SourceMergedElsewhere(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()

	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))
	seedIncident(t, store, "inc-b", modPost("news_1", models.SourceNews, "lemonde", 0.9, models.SentimentHostile, t0.Add(time.Hour)))
	seedIncident(t, store, "inc-c", modPost("forum_1", models.SourceForum, "bob", 0.7, models.SentimentTense, t0.Add(2*time.Hour)))

	if err := gate.Merge(ctx, "inc-a", "inc-b", "admin"); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	err := gate.Merge(ctx, "inc-a", "inc-c", "admin")
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestMerge_FlaggedTargetRejected(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()

	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))
	seedIncident(t, store, "inc-b", modPost("news_1", models.SourceNews, "lemonde", 0.9, models.SentimentHostile, t0.Add(time.Hour)))

	if err := gate.Flag(ctx, "inc-b", "fabricated", "admin"); err != nil {
		t.Fatalf("Flag failed: %v", err)
	}

	err := gate.Merge(ctx, "inc-a", "inc-b", "admin")
	if !errors.Is(err, ErrInvalidTargetState) {
		t.Fatalf("expected ErrInvalidTargetState, got %v", err)
	}

	// The failed merge must leave the source untouched.
	source, _ := store.GetIncident(ctx, "inc-a")
	if source.Status != models.StatusUnverified || source.MergedInto != "" {
		t.Errorf("source mutated by rejected merge: %s -> %q", source.Status, source.MergedInto)
	}
	members, _ := store.ListPostsByIncident(ctx, "inc-a")
	if len(members) != 1 {
		t.Errorf("source lost members: %d", len(members))
	}
}

func TestMerge_FlaggedSourceRejected(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()

	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))
	seedIncident(t, store, "inc-b", modPost("news_1", models.SourceNews, "lemonde", 0.9, models.SentimentHostile, t0.Add(time.Hour)))

	if err := gate.Flag(ctx, "inc-a", "fabricated", "admin"); err != nil {
		t.Fatalf("Flag failed: %v", err)
	}

	err := gate.Merge(ctx, "inc-a", "inc-b", "admin")
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("suppressed content must not revive through merge, got %v", err)
	}
}

func TestMerge_SelfMergeRejected(t *testing.T) {
	gate, store := setupGate(t)
	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))

	err := gate.Merge(context.Background(), "inc-a", "inc-a", "admin")
	if !errors.Is(err, ErrInvalidTargetState) {
		t.Fatalf("expected ErrInvalidTargetState, got %v", err)
	}
}

func TestMerge_ChainConvergesWithDirect(t *testing.T) {
	ctx := context.Background()

	memberIDs := func(t *testing.T, store *repository.SQLiteDB, id string) map[string]bool {
		t.Helper()
		posts, err := store.ListPostsByIncident(ctx, id)
		if err != nil {
			t.Fatalf("ListPostsByIncident failed: %v", err)
		}
		ids := make(map[string]bool, len(posts))
		for _, p := range posts {
			ids[p.ID] = true
		}
		return ids
	}
	seedAll := func(t *testing.T, store *repository.SQLiteDB) {
		seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.8, models.SentimentHostile, t0))
		seedIncident(t, store, "inc-b", modPost("news_1", models.SourceNews, "lemonde", 0.9, models.SentimentHostile, t0.Add(time.Hour)))
		seedIncident(t, store, "inc-c", modPost("forum_1", models.SourceForum, "bob", 0.7, models.SentimentTense, t0.Add(2*time.Hour)))
	}

	// Path one: A into B, then B into C.
	gate1, store1 := setupGate(t)
	seedAll(t, store1)
	if err := gate1.Merge(ctx, "inc-a", "inc-b", "admin"); err != nil {
		t.Fatalf("Merge a->b failed: %v", err)
	}
	if err := gate1.Merge(ctx, "inc-b", "inc-c", "admin"); err != nil {
		t.Fatalf("Merge b->c failed: %v", err)
	}

	// Path two: A into C, then B into C.
	gate2, store2 := setupGate(t)
	seedAll(t, store2)
	if err := gate2.Merge(ctx, "inc-a", "inc-c", "admin"); err != nil {
		t.Fatalf("Merge a->c failed: %v", err)
	}
	if err := gate2.Merge(ctx, "inc-b", "inc-c", "admin"); err != nil {
		t.Fatalf("Merge b->c failed: %v", err)
	}

	got := memberIDs(t, store1, "inc-c")
	want := memberIDs(t, store2, "inc-c")
	if len(got) != 3 || len(want) != 3 {
		t.Fatalf("expected 3 members on both paths, got %d and %d", len(got), len(want))
	}
	for id := range want {
		if !got[id] {
			t.Errorf("member %s missing from chained merge", id)
		}
	}

	// Sources end merged with forward references on both paths.
	a1, _ := store1.GetIncident(ctx, "inc-a")
	b1, _ := store1.GetIncident(ctx, "inc-b")
	if a1.Status != models.StatusMerged || b1.Status != models.StatusMerged {
		t.Errorf("chained sources = %s/%s, want merged/merged", a1.Status, b1.Status)
	}
	if a1.MergedInto != "inc-b" || b1.MergedInto != "inc-c" {
		t.Errorf("forward refs = %q/%q, want inc-b/inc-c", a1.MergedInto, b1.MergedInto)
	}
}

func TestMerge_ConfirmedTargetKeepsLockedStatus(t *testing.T) {
	gate, store := setupGate(t)
	ctx := context.Background()

	seedIncident(t, store, "inc-a", modPost("social_1", models.SourceSocial, "alice", 0.2, models.SentimentNeutral, t0))
	seedIncident(t, store, "inc-b", modPost("news_1", models.SourceNews, "lemonde", 0.9, models.SentimentHostile, t0.Add(time.Hour)))

	if err := gate.Confirm(ctx, "inc-b", "admin"); err != nil {
		t.Fatalf("Confirm failed: %v", err)
	}
	if err := gate.Merge(ctx, "inc-a", "inc-b", "admin"); err != nil {
		t.Fatalf("Merge into confirmed target failed: %v", err)
	}

	target, _ := store.GetIncident(ctx, "inc-b")
	if target.Status != models.StatusVerified {
		t.Errorf("locked status changed to %s", target.Status)
	}
	if target.Confidence < 0.9 {
		t.Errorf("locked confidence dropped to %v", target.Confidence)
	}
	if target.PostCount != 2 {
		t.Errorf("target post count = %d, want 2", target.PostCount)
	}
}
