package ingestion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

// Record is one raw item pulled from an upstream source before
// normalization. Collectors and the Kafka intake both produce these.
type Record struct {
	SourceID    string    `json:"source_id"`
	Kind        string    `json:"kind"`
	Author      string    `json:"author"`
	Text        string    `json:"text"`
	URL         string    `json:"url"`
	LocationRaw string    `json:"location"`
	PublishedAt time.Time `json:"published_at"`
}

// Collector pulls one batch of raw records from one upstream source.
type Collector interface {
	Name() string
	Collect(ctx context.Context) ([]Record, error)
}

// Normalize validates a raw record and shapes it into a Post. The post
// ID is source-qualified so the same upstream item never ingests twice.
func Normalize(rec Record) (*models.Post, error) {
	kind, ok := models.ParseSourceKind(rec.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown source kind: %q", rec.Kind)
	}

	sourceID := strings.TrimSpace(rec.SourceID)
	if sourceID == "" {
		return nil, fmt.Errorf("record missing source id")
	}

	text := strings.TrimSpace(rec.Text)
	if text == "" {
		return nil, fmt.Errorf("record %s missing text", sourceID)
	}

	published := rec.PublishedAt
	if published.IsZero() {
		return nil, fmt.Errorf("record %s missing publish time", sourceID)
	}

	return &models.Post{
		ID:          string(kind) + "_" + sourceID,
		SourceKind:  kind,
		Author:      strings.TrimSpace(rec.Author),
		Text:        text,
		URL:         strings.TrimSpace(rec.URL),
		LocationRaw: strings.TrimSpace(rec.LocationRaw),
		PublishedAt: published.UTC(),
		IngestedAt:  time.Now().UTC(),
	}, nil
}
