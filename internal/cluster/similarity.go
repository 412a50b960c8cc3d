package cluster

import (
	"sort"
	"strings"
	"time"

	"github.com/mr1hm/go-unrest-alerts/internal/geo"
	"github.com/mr1hm/go-unrest-alerts/internal/models"
	"github.com/mr1hm/go-unrest-alerts/internal/nlp"
)

// Similarity component weights. Co-location is the strongest signal
// that two reports describe one event, so it carries the largest
// share; when either side lacks coordinates the remaining components
// are renormalized instead of scoring the pair down.
const (
	spatialWeight  = 0.4
	temporalWeight = 0.3
	lexicalWeight  = 0.3
)

const maxIncidentKeywords = 12

func similarity(post *models.Post, inc *models.Incident, window time.Duration, radiusKM float64) float64 {
	temporal := temporalScore(post.PublishedAt, inc.WindowStart, inc.WindowEnd, window)
	lexical := lexicalScore(postTerms(post), inc.Keywords)

	if post.Resolved != nil && inc.Located() {
		d := geo.DistanceKM(post.Resolved.Latitude, post.Resolved.Longitude,
			inc.Location.Latitude, inc.Location.Longitude)
		return spatialWeight*spatialScore(d, radiusKM) +
			temporalWeight*temporal +
			lexicalWeight*lexical
	}

	return (temporalWeight*temporal + lexicalWeight*lexical) / (temporalWeight + lexicalWeight)
}

func spatialScore(distanceKM, radiusKM float64) float64 {
	if radiusKM <= 0 || distanceKM >= radiusKM {
		return 0
	}
	return 1 - distanceKM/radiusKM
}

// temporalScore is 1 inside the incident window and decays linearly to
// 0 at `window` away from its nearest edge.
func temporalScore(t, start, end time.Time, window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	var gap time.Duration
	switch {
	case t.Before(start):
		gap = start.Sub(t)
	case t.After(end):
		gap = t.Sub(end)
	default:
		return 1
	}
	if gap >= window {
		return 0
	}
	return 1 - float64(gap)/float64(window)
}

// lexicalScore is the overlap coefficient between the post's terms and
// the incident's keyword set.
func lexicalScore(terms, keywords []string) float64 {
	if len(terms) == 0 || len(keywords) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		set[strings.ToLower(k)] = struct{}{}
	}
	shared := 0
	for _, t := range terms {
		if _, ok := set[t]; ok {
			shared++
		}
	}
	smaller := len(terms)
	if len(set) < smaller {
		smaller = len(set)
	}
	return float64(shared) / float64(smaller)
}

// postTerms merges a post's extracted keywords and entities into one
// lowercased, deduplicated term list.
func postTerms(post *models.Post) []string {
	if post.Features == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var terms []string
	add := func(values []string) {
		for _, v := range values {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			terms = append(terms, v)
		}
	}
	add(post.Features.Keywords)
	add(post.Features.Entities)
	return terms
}

// Recompute rebuilds every member-derived aggregate on the incident:
// time window, post count, source kinds, merged keyword set and the
// canonical location. The time window always equals the min/max of the
// member publish times.
func Recompute(inc *models.Incident, members []models.Post) {
	if len(members) == 0 {
		return
	}

	start, end := members[0].PublishedAt, members[0].PublishedAt
	kindSeen := make(map[models.SourceKind]struct{})
	var kinds []models.SourceKind
	freq := make(map[string]int)

	for i := range members {
		p := &members[i]
		if p.PublishedAt.Before(start) {
			start = p.PublishedAt
		}
		if p.PublishedAt.After(end) {
			end = p.PublishedAt
		}
		if _, ok := kindSeen[p.SourceKind]; !ok {
			kindSeen[p.SourceKind] = struct{}{}
			kinds = append(kinds, p.SourceKind)
		}
		for _, term := range postTerms(p) {
			freq[term]++
		}
	}

	inc.WindowStart = start
	inc.WindowEnd = end
	inc.PostCount = len(members)
	inc.SourceKinds = kinds
	inc.Keywords = topKeywords(freq, maxIncidentKeywords)
	inc.Location = centroid(members)
}

// topKeywords orders by frequency, then alphabetically for stable
// output, and keeps the first limit entries.
func topKeywords(freq map[string]int, limit int) []string {
	keywords := make([]string, 0, len(freq))
	for term := range freq {
		keywords = append(keywords, term)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if freq[keywords[i]] != freq[keywords[j]] {
			return freq[keywords[i]] > freq[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})
	if len(keywords) > limit {
		keywords = keywords[:limit]
	}
	return keywords
}

// centroid averages member coordinates weighted by resolution
// confidence. The place name follows the most confidently resolved
// member; the canonical confidence is the plain mean.
func centroid(members []models.Post) *models.Location {
	var sumLat, sumLng, sumWeight, sumConf float64
	var located int
	best := -1.0
	place := ""

	for i := range members {
		loc := members[i].Resolved
		if loc == nil {
			continue
		}
		w := loc.Confidence
		if w <= 0 {
			w = 0.05
		}
		sumLat += loc.Latitude * w
		sumLng += loc.Longitude * w
		sumWeight += w
		sumConf += loc.Confidence
		located++
		if loc.Confidence > best {
			best = loc.Confidence
			place = loc.PlaceName
		}
	}
	if located == 0 {
		return nil
	}
	return &models.Location{
		Latitude:   sumLat / sumWeight,
		Longitude:  sumLng / sumWeight,
		PlaceName:  place,
		Confidence: sumConf / float64(located),
	}
}

// leadTerms are preferred title subjects when present among keywords,
// so a cluster about a protest is titled "Protest in X" rather than
// after an incidental word.
var leadTerms = []string{
	"protest", "riot", "clashes", "clash", "strike", "demonstration",
	"rally", "march", "blockade", "curfew", "unrest",
}

func pickLead(keywords []string) string {
	if len(keywords) == 0 {
		return ""
	}
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		set[k] = struct{}{}
	}
	for _, t := range leadTerms {
		if _, ok := set[t]; ok {
			return t
		}
	}
	return keywords[0]
}

// titleFor builds the display title from the resolved place and the
// leading keyword, e.g. "Protest in Paris".
func titleFor(place string, keywords []string) string {
	keyword := capitalize(pickLead(keywords))
	switch {
	case keyword != "" && place != "":
		return keyword + " in " + place
	case place != "":
		return "Unrest reports in " + place
	case keyword != "":
		return keyword + " reports"
	default:
		return "Unverified unrest report"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// headline condenses the founding post's text into the incident
// description.
func headline(post *models.Post) string {
	return nlp.Headline(post.Text, 24)
}
