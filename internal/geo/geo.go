package geo

import (
	"container/list"
	"context"
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

// ErrNotFound means the text could not be mapped to any known place.
var ErrNotFound = errors.New("location not found")

// Geocoder maps free-text location hints to canonical places.
// Implementations must be deterministic for identical input.
type Geocoder interface {
	Geocode(ctx context.Context, text string) (models.Location, error)
}

const earthRadiusKM = 6371.0

// DistanceKM is the great-circle distance between two points.
func DistanceKM(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Box is a latitude/longitude bounding box.
type Box struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

// BoundingBox returns a box containing every point within radiusKM of
// the center. ok is false near the poles or the antimeridian, where a
// single box cannot represent the area; callers fall back to an
// unbounded scan there.
func BoundingBox(lat, lng, radiusKM float64) (Box, bool) {
	dLat := radiusKM / earthRadiusKM * 180 / math.Pi
	minLat := lat - dLat
	maxLat := lat + dLat
	if minLat <= -89 || maxLat >= 89 {
		return Box{}, false
	}
	dLng := dLat / math.Cos(lat*math.Pi/180)
	minLng := lng - dLng
	maxLng := lng + dLng
	if minLng < -180 || maxLng > 180 {
		return Box{}, false
	}
	return Box{MinLat: minLat, MaxLat: maxLat, MinLng: minLng, MaxLng: maxLng}, true
}

type cacheEntry struct {
	key   string
	loc   models.Location
	found bool
}

// Resolver fronts a chain of geocoders with a bounded LRU cache.
// Negative results are cached too, so repeated junk input stays cheap.
type Resolver struct {
	geocoders []Geocoder

	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

// NewResolver builds a resolver trying each geocoder in order until one
// answers. capacity bounds the cache; zero or negative means 4096.
func NewResolver(capacity int, geocoders ...Geocoder) *Resolver {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Resolver{
		geocoders: geocoders,
		capacity:  capacity,
		order:     list.New(),
		entries:   make(map[string]*list.Element),
	}
}

// Resolve maps free text to a canonical location. Returns ErrNotFound
// when no geocoder recognizes the text. Context errors pass through so
// callers can bound resolution latency.
func (r *Resolver) Resolve(ctx context.Context, text string) (models.Location, error) {
	key := normalizeKey(text)
	if key == "" {
		return models.Location{}, ErrNotFound
	}

	if loc, found, ok := r.cached(key); ok {
		if !found {
			return models.Location{}, ErrNotFound
		}
		return loc, nil
	}

	for _, g := range r.geocoders {
		loc, err := g.Geocode(ctx, text)
		if err == nil {
			r.store(key, loc, true)
			return loc, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return models.Location{}, err
		}
		// Unreachable or unknown: try the next geocoder.
	}

	r.store(key, models.Location{}, false)
	return models.Location{}, ErrNotFound
}

func (r *Resolver) cached(key string) (models.Location, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	el, ok := r.entries[key]
	if !ok {
		return models.Location{}, false, false
	}
	r.order.MoveToFront(el)
	entry := el.Value.(*cacheEntry)
	return entry.loc, entry.found, true
}

func (r *Resolver) store(key string, loc models.Location, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if el, ok := r.entries[key]; ok {
		r.order.MoveToFront(el)
		entry := el.Value.(*cacheEntry)
		entry.loc = loc
		entry.found = found
		return
	}
	el := r.order.PushFront(&cacheEntry{key: key, loc: loc, found: found})
	r.entries[key] = el
	for len(r.entries) > r.capacity {
		oldest := r.order.Back()
		if oldest == nil {
			break
		}
		r.order.Remove(oldest)
		delete(r.entries, oldest.Value.(*cacheEntry).key)
	}
}

// CacheLen reports the number of cached resolutions.
func (r *Resolver) CacheLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func normalizeKey(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
