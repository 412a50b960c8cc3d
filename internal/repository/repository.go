package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

// ErrConflict is returned when a versioned incident update lost the race
// to a concurrent writer. Callers re-read and retry with fresh state.
var ErrConflict = errors.New("concurrent update conflict")

// ErrNotFound is returned for point lookups of unknown IDs.
var ErrNotFound = errors.New("not found")

type IncidentFilter struct {
	Limit       int
	Offset      int
	Status      *models.IncidentStatus
	Severity    *models.Severity
	MinSeverity *models.Severity
	Region      string // case-insensitive substring of the place name
	Since       *time.Time
	Until       *time.Time
}

// Bounds is a latitude/longitude box used to prefilter candidate
// incidents before exact distance checks.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// CandidateQuery selects active incidents whose time window overlaps
// [From, To]. Located narrows to incidents with or without a location
// fix; Bounds applies only when selecting located incidents.
type CandidateQuery struct {
	From    time.Time
	To      time.Time
	Located *bool
	Bounds  *Bounds
}

// Summary holds the dashboard aggregates.
type Summary struct {
	Total      int
	ByStatus   map[models.IncidentStatus]int
	BySeverity map[models.Severity]int
	TopRegions []RegionCount
}

type RegionCount struct {
	Region string
	Count  int
}

type PostRepository interface {
	AddPost(ctx context.Context, p *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	PostExists(ctx context.Context, id string) (bool, error)
	ListPostsByIncident(ctx context.Context, incidentID string) ([]models.Post, error)
	// ListUnextracted returns posts still waiting for feature
	// extraction, oldest first.
	ListUnextracted(ctx context.Context, limit int) ([]models.Post, error)
	SetFeatures(ctx context.Context, id string, f *models.Features) error
	SetResolved(ctx context.Context, id string, loc *models.Location) error
	// CountWeatherPosts counts contextual weather reports mentioning a
	// region since the given time.
	CountWeatherPosts(ctx context.Context, region string, since time.Time) (int, error)
}

type IncidentRepository interface {
	// CreateIncident inserts the incident and links its first post in
	// one transaction.
	CreateIncident(ctx context.Context, inc *models.Incident, firstPostID string) error
	GetIncident(ctx context.Context, id string) (*models.Incident, error)
	ListIncidents(ctx context.Context, f IncidentFilter) ([]models.Incident, error)
	LatestVerified(ctx context.Context, limit int) ([]models.Incident, error)
	Candidates(ctx context.Context, q CandidateQuery) ([]models.Incident, error)
	// AttachPost writes the rescored incident and links the post in one
	// transaction, guarded by inc.Version. Returns ErrConflict when the
	// stored version moved on.
	AttachPost(ctx context.Context, inc *models.Incident, postID string) error
	// UpdateIncident writes the incident guarded by inc.Version.
	UpdateIncident(ctx context.Context, inc *models.Incident) error
	// MergeIncidents marks source merged, re-parents its posts and
	// writes the rescored target, all in one transaction guarded by both
	// versions.
	MergeIncidents(ctx context.Context, source, target *models.Incident) error
	Summary(ctx context.Context) (Summary, error)
	ListIncidentsInRegion(ctx context.Context, region string, from, to time.Time) ([]models.Incident, error)
}

type AuditRepository interface {
	AddAudit(ctx context.Context, e *models.AuditEntry) error
	ListAuditByIncident(ctx context.Context, incidentID string) ([]models.AuditEntry, error)
}

// Store is the full persistence surface backing the pipeline.
type Store interface {
	PostRepository
	IncidentRepository
	AuditRepository
}
