package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

const (
	defaultNominatimURL = "https://nominatim.openstreetmap.org"
	nominatimUserAgent  = "go-unrest-alerts/1.0"
)

// NominatimClient geocodes through the OpenStreetMap Nominatim search
// API. The public instance allows at most one request per second, so
// every call goes through a rate limiter.
type NominatimClient struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

func NewNominatimClient(baseURL string) *NominatimClient {
	if baseURL == "" {
		baseURL = defaultNominatimURL
	}
	return &NominatimClient{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

type nominatimResult struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

func (c *NominatimClient) Geocode(ctx context.Context, text string) (models.Location, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return models.Location{}, err
	}

	query := url.Values{}
	query.Set("q", text)
	query.Set("format", "json")
	query.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+query.Encode(), nil)
	if err != nil {
		return models.Location{}, fmt.Errorf("error creating nominatim request: %w", err)
	}
	req.Header.Set("User-Agent", nominatimUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return models.Location{}, fmt.Errorf("error querying nominatim: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Location{}, fmt.Errorf("error querying nominatim: unexpected status code %d", resp.StatusCode)
	}

	var results []nominatimResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return models.Location{}, fmt.Errorf("error decoding nominatim response: %w", err)
	}
	if len(results) == 0 {
		return models.Location{}, ErrNotFound
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return models.Location{}, fmt.Errorf("error parsing nominatim latitude %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return models.Location{}, fmt.Errorf("error parsing nominatim longitude %q: %w", results[0].Lon, err)
	}

	return models.Location{
		Latitude:   lat,
		Longitude:  lng,
		PlaceName:  displayPlace(results[0].DisplayName, text),
		Confidence: importanceConfidence(results[0].Importance),
	}, nil
}

// displayPlace keeps the most specific segment of a Nominatim display
// name, e.g. "Paris, Ile-de-France, France" becomes "Paris".
func displayPlace(displayName, fallback string) string {
	name := displayName
	if i := strings.Index(name, ","); i > 0 {
		name = name[:i]
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return strings.TrimSpace(fallback)
	}
	return name
}

// importanceConfidence maps Nominatim's importance score (roughly 0..1)
// onto [0.5, 0.95]. An absent score still counts as a usable match.
func importanceConfidence(importance float64) float64 {
	if importance <= 0 {
		return 0.7
	}
	conf := 0.5 + importance/2
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
