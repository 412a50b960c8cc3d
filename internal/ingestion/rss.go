package ingestion

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

type rssFeed struct {
	Channel rssChannel `xml:"channel"`
}
type rssChannel struct {
	Items []rssItem `xml:"item"`
}
type rssItem struct {
	Title       string `xml:"title"`
	Description string `xml:"description"`
	Link        string `xml:"link"`
	GUID        string `xml:"guid"`
	PubDate     string `xml:"pubDate"`
}

// RSSCollector polls a news RSS feed. Items become news-kind records;
// the headline and body fold into one text field.
type RSSCollector struct {
	name   string
	url    string
	client *http.Client
}

func NewRSSCollector(name, url string) *RSSCollector {
	return &RSSCollector{
		name: name,
		url:  url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *RSSCollector) Name() string { return c.name }

func (c *RSSCollector) Collect(ctx context.Context) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error doing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d - status: %s", resp.StatusCode, resp.Status)
	}

	var data rssFeed
	if err := xml.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("error decoding resp.Body: %w", err)
	}

	records := make([]Record, 0, len(data.Channel.Items))
	for _, item := range data.Channel.Items {
		id := item.GUID
		if id == "" {
			id = item.Link
		}
		if id == "" {
			slog.Warn("rss item without identity skipped", "source", c.name, "title", item.Title)
			continue
		}

		published, err := parsePubDate(item.PubDate)
		if err != nil {
			slog.Warn("rss timestamp parsing failed", "source", c.name, "id", id, "error", err.Error())
		}

		records = append(records, Record{
			SourceID:    id,
			Kind:        string(models.SourceNews),
			Text:        joinHeadline(item.Title, item.Description),
			URL:         item.Link,
			PublishedAt: published,
		})
	}

	return records, nil
}

func joinHeadline(title, description string) string {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	switch {
	case title == "":
		return description
	case description == "":
		return title
	default:
		return title + ". " + description
	}
}

func parsePubDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC822Z, time.RFC822} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized pubDate: %q", raw)
}
