package models

import "time"

type IncidentStatus string

const (
	StatusUnverified IncidentStatus = "unverified"
	StatusVerified   IncidentStatus = "verified"
	StatusFlagged    IncidentStatus = "flagged_false_positive"
	StatusMerged     IncidentStatus = "merged"
)

func ParseIncidentStatus(s string) (IncidentStatus, bool) {
	switch st := IncidentStatus(s); st {
	case StatusUnverified, StatusVerified, StatusFlagged, StatusMerged:
		return st, true
	default:
		return "", false
	}
}

// Active incidents accept new posts and automatic rescoring.
func (s IncidentStatus) Active() bool {
	return s == StatusUnverified || s == StatusVerified
}

// Terminal states are retained for audit but never mutated automatically.
func (s IncidentStatus) Terminal() bool {
	return s == StatusFlagged || s == StatusMerged
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func ParseSeverity(s string) (Severity, bool) {
	switch sv := Severity(s); sv {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return sv, true
	default:
		return "", false
	}
}

// Rank orders severities for min-severity filtering.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Incident aggregates one or more posts believed to describe the same
// real-world event.
//
// Invariants: WindowStart/WindowEnd equal the min/max published
// timestamps of member posts; a merged incident carries MergedInto and
// receives no further automatic mutation; scores are recomputed from
// current members unless locked by moderation.
type Incident struct {
	ID          string
	Title       string
	Description string
	Status      IncidentStatus
	Severity    Severity
	Confidence  float64
	Location    *Location // nil until any member resolves
	WindowStart time.Time
	WindowEnd   time.Time
	Keywords    []string
	SourceKinds []SourceKind
	PostCount   int
	MergedInto  string

	// Moderation locks. A locked field is skipped by automatic
	// rescoring; only moderation actions may change it.
	StatusLocked   bool
	SeverityLocked bool
	LockReason     string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version increments on every store write and guards concurrent
	// updates.
	Version int64
}

// Located reports whether the incident has a canonical location fix.
// Unlocated incidents only cluster with unlocated posts.
func (i *Incident) Located() bool {
	return i.Location != nil
}

// HasSourceKind reports whether any member post came from kind k.
func (i *Incident) HasSourceKind(k SourceKind) bool {
	for _, sk := range i.SourceKinds {
		if sk == k {
			return true
		}
	}
	return false
}
