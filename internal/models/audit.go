package models

import "time"

type ModerationAction string

const (
	ActionFlag    ModerationAction = "flag"
	ActionConfirm ModerationAction = "confirm"
	ActionMerge   ModerationAction = "merge"
)

// AuditEntry records one moderation decision. Entries are append-only.
type AuditEntry struct {
	ID         string
	IncidentID string
	TargetID   string // set for merges
	Action     ModerationAction
	Reason     string
	Actor      string
	CreatedAt  time.Time
}
