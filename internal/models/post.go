package models

import (
	"net/url"
	"strings"
	"time"
)

type SourceKind string

const (
	SourceSocial  SourceKind = "social"
	SourceForum   SourceKind = "forum"
	SourceNews    SourceKind = "news"
	SourceChannel SourceKind = "channel"
	SourceWeather SourceKind = "weather"
)

func ParseSourceKind(s string) (SourceKind, bool) {
	switch k := SourceKind(strings.ToLower(strings.TrimSpace(s))); k {
	case SourceSocial, SourceForum, SourceNews, SourceChannel, SourceWeather:
		return k, true
	default:
		return "", false
	}
}

// ClusterForming reports whether posts of this kind may create or join
// incidents. Weather reports are contextual only.
func (k SourceKind) ClusterForming() bool {
	return k != SourceWeather
}

func (k SourceKind) String() string {
	return string(k)
}

type Sentiment string

const (
	SentimentPeaceful Sentiment = "peaceful"
	SentimentTense    Sentiment = "tense"
	SentimentHostile  Sentiment = "hostile"
	SentimentNeutral  Sentiment = "neutral"
)

// Intensity maps a sentiment label onto [0,1] for confidence scoring.
// Hostile crowds corroborate unrest more strongly than calm ones.
func (s Sentiment) Intensity() float64 {
	switch s {
	case SentimentHostile:
		return 1.0
	case SentimentTense:
		return 0.7
	case SentimentPeaceful:
		return 0.4
	default:
		return 0.2
	}
}

// Features holds whatever extraction recovered from a post's text. Every
// field is independently optional; nil means the extractor produced
// nothing for it and scoring must proceed without it.
type Features struct {
	Relevance    *float64
	Sentiment    *Sentiment
	Entities     []string
	Keywords     []string
	LocationText string
	Participants *int
	Language     string
}

// Location is a resolved geographic point with a resolution confidence.
type Location struct {
	Latitude   float64
	Longitude  float64
	PlaceName  string
	Confidence float64
}

// Post is one normalized observation from one source. Text is immutable
// after ingestion; enrichment only fills Features, Resolved and
// IncidentID. Posts are never deleted.
type Post struct {
	ID          string // source-qualified, e.g. "social_188812"
	SourceKind  SourceKind
	Author      string
	Text        string
	URL         string
	LocationRaw string
	PublishedAt time.Time
	Features    *Features
	Resolved    *Location
	IncidentID  string // empty until clustered
	IngestedAt  time.Time
}

// Relevance returns the extracted relevance score. ok is false when
// extraction has not produced one, in which case the post must not count
// toward corroboration.
func (p *Post) Relevance() (float64, bool) {
	if p.Features == nil || p.Features.Relevance == nil {
		return 0, false
	}
	return *p.Features.Relevance, true
}

// SourceIdentity is the identity used when counting distinct sources:
// the author when known, otherwise the URL host, otherwise the post ID.
func (p *Post) SourceIdentity() string {
	if p.Author != "" {
		return string(p.SourceKind) + ":" + strings.ToLower(p.Author)
	}
	if u, err := url.Parse(p.URL); err == nil && u.Host != "" {
		return string(p.SourceKind) + ":" + strings.ToLower(u.Host)
	}
	return string(p.SourceKind) + ":" + p.ID
}

// DistinctSources counts distinct posting identities among posts.
func DistinctSources(posts []Post) int {
	seen := make(map[string]struct{}, len(posts))
	for i := range posts {
		seen[posts[i].SourceIdentity()] = struct{}{}
	}
	return len(seen)
}

// DistinctSourceKinds counts distinct source kinds among posts.
// Weather never corroborates and is skipped.
func DistinctSourceKinds(posts []Post) int {
	seen := make(map[SourceKind]struct{}, len(posts))
	for i := range posts {
		if posts[i].SourceKind == SourceWeather {
			continue
		}
		seen[posts[i].SourceKind] = struct{}{}
	}
	return len(seen)
}
