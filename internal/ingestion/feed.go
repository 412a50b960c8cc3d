package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type feedResponse struct {
	Posts []feedPost `json:"posts"`
}

type feedPost struct {
	ID       string `json:"id"`
	Author   string `json:"author"`
	Text     string `json:"text"`
	URL      string `json:"url"`
	Location string `json:"location"`
	Time     int64  `json:"time"` // unix millis
}

// FeedCollector polls a JSON intake feed. One instance per upstream
// source; the kind tags every record it emits.
type FeedCollector struct {
	name   string
	kind   string
	url    string
	client *http.Client
}

func NewFeedCollector(name, kind, url string) *FeedCollector {
	return &FeedCollector{
		name: name,
		kind: kind,
		url:  url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *FeedCollector) Name() string { return c.name }

func (c *FeedCollector) Collect(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error while doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	records := make([]Record, 0, len(data.Posts))
	for _, p := range data.Posts {
		records = append(records, Record{
			SourceID:    p.ID,
			Kind:        c.kind,
			Author:      p.Author,
			Text:        p.Text,
			URL:         p.URL,
			LocationRaw: p.Location,
			PublishedAt: time.UnixMilli(p.Time).UTC(),
		})
	}

	return records, nil
}
