package geo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mr1hm/go-unrest-alerts/internal/models"
)

type stubGeocoder struct {
	calls int
	loc   models.Location
	err   error
}

func (s *stubGeocoder) Geocode(ctx context.Context, text string) (models.Location, error) {
	s.calls++
	if s.err != nil {
		return models.Location{}, s.err
	}
	return s.loc, nil
}

func TestDistanceKM(t *testing.T) {
	// Paris to London is roughly 344 km.
	d := DistanceKM(48.8566, 2.3522, 51.5074, -0.1278)
	require.InDelta(t, 344, d, 10)

	require.Equal(t, 0.0, DistanceKM(48.8566, 2.3522, 48.8566, 2.3522))
}

func TestBoundingBox(t *testing.T) {
	box, ok := BoundingBox(48.8566, 2.3522, 50)
	require.True(t, ok)
	require.Less(t, box.MinLat, 48.8566)
	require.Greater(t, box.MaxLat, 48.8566)
	require.Less(t, box.MinLng, 2.3522)
	require.Greater(t, box.MaxLng, 2.3522)

	// London is well beyond 50 km and must fall outside.
	require.Greater(t, 51.5074, box.MaxLat)
}

func TestBoundingBox_NearPole(t *testing.T) {
	_, ok := BoundingBox(89.5, 0, 50)
	require.False(t, ok)
}

func TestBoundingBox_Antimeridian(t *testing.T) {
	_, ok := BoundingBox(0, 179.8, 50)
	require.False(t, ok)
}

func TestResolver_CachesPositive(t *testing.T) {
	stub := &stubGeocoder{loc: models.Location{Latitude: 48.8566, Longitude: 2.3522, PlaceName: "Paris", Confidence: 0.9}}
	resolver := NewResolver(16, stub)

	loc, err := resolver.Resolve(context.Background(), "Paris")
	require.NoError(t, err)
	require.Equal(t, "Paris", loc.PlaceName)

	// Same place after normalization, so the backend is not asked again.
	loc, err = resolver.Resolve(context.Background(), "  PARIS ")
	require.NoError(t, err)
	require.Equal(t, "Paris", loc.PlaceName)
	require.Equal(t, 1, stub.calls)
	require.Equal(t, 1, resolver.CacheLen())
}

func TestResolver_CachesNegative(t *testing.T) {
	stub := &stubGeocoder{err: ErrNotFound}
	resolver := NewResolver(16, stub)

	_, err := resolver.Resolve(context.Background(), "nowhere special")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = resolver.Resolve(context.Background(), "nowhere special")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 1, stub.calls)
}

func TestResolver_FallsThroughChain(t *testing.T) {
	broken := &stubGeocoder{err: errors.New("upstream down")}
	working := &stubGeocoder{loc: models.Location{PlaceName: "Tokyo", Latitude: 35.6762, Longitude: 139.6503, Confidence: 0.9}}
	resolver := NewResolver(16, broken, working)

	loc, err := resolver.Resolve(context.Background(), "Tokyo")
	require.NoError(t, err)
	require.Equal(t, "Tokyo", loc.PlaceName)
	require.Equal(t, 1, broken.calls)
	require.Equal(t, 1, working.calls)
}

func TestResolver_ContextErrorNotCached(t *testing.T) {
	stub := &stubGeocoder{err: context.DeadlineExceeded}
	resolver := NewResolver(16, stub)

	_, err := resolver.Resolve(context.Background(), "Paris")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, resolver.CacheLen())

	// A timed-out lookup must be retried on the next call.
	stub.err = nil
	stub.loc = models.Location{PlaceName: "Paris", Confidence: 0.9}
	loc, err := resolver.Resolve(context.Background(), "Paris")
	require.NoError(t, err)
	require.Equal(t, "Paris", loc.PlaceName)
	require.Equal(t, 2, stub.calls)
}

func TestResolver_EvictsOldest(t *testing.T) {
	stub := &stubGeocoder{loc: models.Location{PlaceName: "Somewhere", Confidence: 0.9}}
	resolver := NewResolver(2, stub)

	for _, text := range []string{"first", "second", "third"} {
		_, err := resolver.Resolve(context.Background(), text)
		require.NoError(t, err)
	}
	require.Equal(t, 2, resolver.CacheLen())

	// "first" was evicted, so it costs another backend call.
	_, err := resolver.Resolve(context.Background(), "first")
	require.NoError(t, err)
	require.Equal(t, 4, stub.calls)
}

func TestResolver_EmptyText(t *testing.T) {
	stub := &stubGeocoder{}
	resolver := NewResolver(16, stub)

	_, err := resolver.Resolve(context.Background(), "   ")
	require.ErrorIs(t, err, ErrNotFound)
	require.Equal(t, 0, stub.calls)
}
