package eta

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/example/ride-client/internal/geo"
	"github.com/example/ride-client/internal/models"
)

// FallbackSpeedKmh is the city speed assumed when no routing engine answer
// is available. Fixed policy, not configuration.
const FallbackSpeedKmh = 30.0

// Router is the routing engine boundary.
type Router interface {
	Route(ctx context.Context, from, to models.Coord) (models.RouteInfo, error)
}

// Cache is a small TTL cache of routes keyed by endpoint pair.
type Cache struct {
	c *gocache.Cache
}

// NewCache creates a cache with the provided TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{c: gocache.New(ttl, 2*ttl)}
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lon)
}

// Get returns cached value and true if present and not expired.
func (c *Cache) Get(a, b models.Coord) (models.RouteInfo, bool) {
	v, ok := c.c.Get(keyFor(a, b))
	if !ok {
		return models.RouteInfo{}, false
	}
	ri, ok := v.(models.RouteInfo)
	return ri, ok
}

// Set stores a value in the cache.
func (c *Cache) Set(a, b models.Coord, v models.RouteInfo) {
	c.c.SetDefault(keyFor(a, b), v)
}

// CachedRouter serves repeated endpoint pairs from Cache. Failures are not cached.
type CachedRouter struct {
	Next  Router
	Cache *Cache
}

func (r *CachedRouter) Route(ctx context.Context, from, to models.Coord) (models.RouteInfo, error) {
	if v, ok := r.Cache.Get(from, to); ok {
		return v, nil
	}
	v, err := r.Next.Route(ctx, from, to)
	if err != nil {
		return models.RouteInfo{}, err
	}
	r.Cache.Set(from, to, v)
	return v, nil
}

// EstimateSeconds is distance / speed_mps over the great circle.
func EstimateSeconds(from, to models.Coord, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = FallbackSpeedKmh / 3.6
	}
	return geo.Distance(from, to) / speedMps
}

// Fallback is the straight-line route at FallbackSpeedKmh. No geometry.
func Fallback(from, to models.Coord) models.RouteInfo {
	return models.RouteInfo{
		DistanceMeters:  geo.Distance(from, to),
		DurationSeconds: EstimateSeconds(from, to, FallbackSpeedKmh/3.6),
	}
}
