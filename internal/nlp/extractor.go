package nlp

import (
	"context"
	"errors"
	"html"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

// ErrUnavailable signals that the extractor produced nothing for a post.
// The post stays stored and is excluded from scoring until retried.
var ErrUnavailable = errors.New("feature extraction unavailable")

// Extractor annotates raw post text with unrest features. Implementations
// must tolerate empty text and return partial features rather than fail.
type Extractor interface {
	Extract(ctx context.Context, text string) (models.Features, error)
}

var (
	urlRegex    = regexp.MustCompile(`https?://[^\s]+`)
	whitespace  = regexp.MustCompile(`\s+`)
	punctuation = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "to": {}, "in": {}, "for": {},
	"of": {}, "and": {}, "is": {}, "are": {}, "was": {}, "at": {},
	"on": {}, "with": {}, "near": {}, "this": {}, "that": {}, "have": {},
}

// unrestTerms drive the relevance fallback. Multi-word phrases are
// matched before single tokens.
var unrestTerms = []string{
	"tear gas", "water cannon", "general strike",
	"protest", "protests", "protesters", "riot", "riots", "rioters",
	"strike", "demonstration", "demonstrators", "rally", "unrest",
	"clashes", "clash", "curfew", "blockade", "barricade", "marchers",
	"mob", "uprising", "andolan", "hartal", "vidroh", "birodh", "andolon",
}

var hostileTerms = []string{
	"riot", "riots", "clash", "clashes", "violence", "violent", "gunfire",
	"shots", "tear gas", "burned", "burning", "looting", "injured",
	"attacked", "stormed", "stampede",
}

var tenseTerms = []string{
	"protest", "protests", "strike", "blockade", "barricade", "standoff",
	"curfew", "unrest", "confrontation", "riot police", "warning",
}

var peacefulTerms = []string{
	"peaceful", "peacefully", "vigil", "calm", "calmly", "orderly",
	"dispersed", "celebration",
}

var orgTerms = []string{"police", "government", "army", "military", "party", "ministry"}

var crowdNouns = regexp.MustCompile(
	`(\d[\d,]*)\s+(?:people|protesters|demonstrators|marchers|rioters|workers)`)

var crowdScales = []struct {
	phrase   string
	estimate int
}{
	{"tens of thousands", 20000},
	{"thousands", 2000},
	{"hundreds", 200},
	{"dozens", 24},
}

// locationPrep captures "in Paris", "at Nairobi CBD", "near Lyon".
var locationPrep = regexp.MustCompile(
	`(?:\bin|\bat|\bnear|\bacross)\s+((?:\p{Lu}[\p{L}'-]+)(?:\s+\p{Lu}[\p{L}'-]+)*)`)

// KeywordExtractor is the built-in lexicon-based extractor. It is
// deterministic and cheap, meant as the default when no external NLP
// service is wired in.
type KeywordExtractor struct{}

func NewKeywordExtractor() *KeywordExtractor {
	return &KeywordExtractor{}
}

func (e *KeywordExtractor) Extract(ctx context.Context, text string) (models.Features, error) {
	if err := ctx.Err(); err != nil {
		return models.Features{}, err
	}

	clean := CleanText(text)
	lower := strings.ToLower(clean)

	relevance := relevanceScore(lower)
	sentiment := sentimentLabel(lower)

	f := models.Features{
		Relevance: &relevance,
		Sentiment: &sentiment,
		Entities:  extractEntities(clean, lower),
		Keywords:  ExtractKeywords(text, 8, 3),
		Language:  languageHint(text),
	}
	if loc := locationCandidate(text); loc != "" {
		f.LocationText = loc
	}
	if n, ok := participantEstimate(lower); ok {
		f.Participants = &n
	}
	return f, nil
}

// relevanceScore is a keyword-density heuristic: matched unrest terms
// per word, boosted when more than one term hits, scaled onto [0,1].
func relevanceScore(lower string) float64 {
	words := strings.Fields(lower)
	if len(words) == 0 {
		return 0
	}
	count := 0
	for _, term := range unrestTerms {
		count += countTerm(lower, term)
	}
	if count == 0 {
		return 0
	}
	density := float64(count) / float64(len(words))
	if count > 1 {
		density *= 1.5
	}
	if density*10 > 1 {
		return 1
	}
	return density * 10
}

func sentimentLabel(lower string) models.Sentiment {
	hostile, tense, peaceful := 0, 0, 0
	for _, term := range hostileTerms {
		hostile += countTerm(lower, term)
	}
	for _, term := range tenseTerms {
		tense += countTerm(lower, term)
	}
	for _, term := range peacefulTerms {
		peaceful += countTerm(lower, term)
	}

	switch {
	case hostile == 0 && tense == 0 && peaceful == 0:
		return models.SentimentNeutral
	case hostile >= tense && hostile >= peaceful && hostile > 0:
		return models.SentimentHostile
	case tense >= peaceful && tense > 0:
		return models.SentimentTense
	default:
		return models.SentimentPeaceful
	}
}

func extractEntities(clean, lower string) []string {
	var entities []string
	seen := make(map[string]struct{})
	for _, org := range orgTerms {
		if countTerm(lower, org) > 0 {
			title := strings.ToUpper(org[:1]) + org[1:]
			if _, ok := seen[title]; !ok {
				seen[title] = struct{}{}
				entities = append(entities, title)
			}
		}
	}
	for _, m := range locationPrep.FindAllStringSubmatch(clean, -1) {
		if _, ok := seen[m[1]]; !ok {
			seen[m[1]] = struct{}{}
			entities = append(entities, m[1])
		}
	}
	return entities
}

func locationCandidate(text string) string {
	m := locationPrep.FindStringSubmatch(RemoveURLs(text))
	if m == nil {
		return ""
	}
	return m[1]
}

func participantEstimate(lower string) (int, bool) {
	if m := crowdNouns.FindStringSubmatch(lower); m != nil {
		digits := strings.ReplaceAll(m[1], ",", "")
		if n, err := strconv.Atoi(digits); err == nil && n > 0 {
			return n, true
		}
	}
	for _, scale := range crowdScales {
		if strings.Contains(lower, scale.phrase) {
			return scale.estimate, true
		}
	}
	return 0, false
}

// languageHint guesses by script. Good enough to route downstream
// consumers; never used for scoring.
func languageHint(text string) string {
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Devanagari):
			return "hi"
		case unicode.In(r, unicode.Bengali):
			return "bn"
		case unicode.In(r, unicode.Arabic):
			return "ur"
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) {
			return "en"
		}
	}
	return ""
}

// countTerm counts whole-word occurrences of term in lower, where term
// may be a multi-word phrase.
func countTerm(lower, term string) int {
	count := 0
	for start := 0; ; {
		i := strings.Index(lower[start:], term)
		if i < 0 {
			return count
		}
		i += start
		end := i + len(term)
		beforeOK := i == 0 || !isWordRune(rune(lower[i-1]))
		afterOK := end == len(lower) || !isWordRune(rune(lower[end]))
		if beforeOK && afterOK {
			count++
		}
		start = end
	}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// RemoveURLs removes all URLs from the input text.
func RemoveURLs(input string) string {
	return urlRegex.ReplaceAllString(input, " ")
}

// CleanText strips HTML entities, punctuation, squeezes whitespace, and
// removes URLs.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = RemoveURLs(decoded)
	decoded = punctuation.ReplaceAllString(decoded, " ")
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// ExtractKeywords returns the most frequent words that are not
// stop-words, ties broken alphabetically.
func ExtractKeywords(text string, limit, minLen int) []string {
	clean := strings.ToLower(CleanText(text))
	if clean == "" {
		return nil
	}

	freq := make(map[string]int)
	for _, token := range strings.Fields(clean) {
		token = strings.TrimFunc(token, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if len([]rune(token)) < minLen {
			continue
		}
		if _, skip := stopwords[token]; skip {
			continue
		}
		freq[token]++
	}
	if len(freq) == 0 {
		return nil
	}

	type kv struct {
		word  string
		count int
	}
	pairs := make([]kv, 0, len(freq))
	for word, count := range freq {
		pairs = append(pairs, kv{word: word, count: count})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count == pairs[j].count {
			return pairs[i].word < pairs[j].word
		}
		return pairs[i].count > pairs[j].count
	})

	max := limit
	if max <= 0 || max > len(pairs) {
		max = len(pairs)
	}
	keywords := make([]string, 0, max)
	for i := 0; i < max; i++ {
		keywords = append(keywords, pairs[i].word)
	}
	return keywords
}

// Headline derives a short description from the first sentence of text,
// truncated to maxWords.
func Headline(text string, maxWords int) string {
	if text == "" {
		return ""
	}
	withoutURLs := RemoveURLs(text)
	sentenceEnd := strings.IndexAny(withoutURLs, ".!?")
	first := withoutURLs
	if sentenceEnd > 0 {
		first = withoutURLs[:sentenceEnd]
	}
	words := strings.Fields(strings.TrimSpace(first))
	if len(words) == 0 {
		return ""
	}
	if maxWords > 0 && len(words) > maxWords {
		return strings.Join(words[:maxWords], " ") + "..."
	}
	return strings.Join(words, " ")
}
