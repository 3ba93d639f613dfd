package eta

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/ride-client/internal/errs"
	"github.com/example/ride-client/internal/models"
)

var (
	benThanh = models.Coord{Lat: 10.772, Lon: 106.698}
	goVap    = models.Coord{Lat: 10.8206, Lon: 106.6602}
)

func TestOSRMRouteParsesSummary(t *testing.T) {
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path
		if r.URL.Query().Get("overview") != "full" {
			t.Errorf("expected overview=full, got %q", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"code":"Ok","routes":[{"distance":7342.1,"duration":912.4,"geometry":"abc"}]}`)
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL+"/", time.Second)
	ri, err := c.Route(context.Background(), benThanh, goVap)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if ri.DistanceMeters != 7342.1 || ri.DurationSeconds != 912.4 || ri.Geometry != "abc" {
		t.Fatalf("unexpected route %+v", ri)
	}
	if path := <-paths; !strings.HasPrefix(path, "/route/v1/driving/106.698000,10.772000;106.660200,10.820600") {
		t.Fatalf("expected lon,lat ordering in path, got %s", path)
	}
}

func TestOSRMNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"NoRoute","message":"Impossible route","routes":[]}`)
	}))
	defer srv.Close()
	_, err := NewOSRMClient(srv.URL, time.Second).Route(context.Background(), benThanh, goVap)
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestOSRMRateLimitIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	_, err := NewOSRMClient(srv.URL, time.Second).Route(context.Background(), benThanh, goVap)
	var ne *errs.NetworkError
	if !errors.As(err, &ne) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
}

func TestOSRMTimeoutBoundsWait(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)
	start := time.Now()
	_, err := NewOSRMClient(srv.URL, 50*time.Millisecond).Route(context.Background(), benThanh, goVap)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout did not bound the wait")
	}
}

type countingRouter struct {
	calls atomic.Int32
	err   error
}

func (c *countingRouter) Route(ctx context.Context, from, to models.Coord) (models.RouteInfo, error) {
	c.calls.Add(1)
	if c.err != nil {
		return models.RouteInfo{}, c.err
	}
	return models.RouteInfo{DistanceMeters: 1000, DurationSeconds: 120}, nil
}

func TestCachedRouterServesRepeats(t *testing.T) {
	next := &countingRouter{}
	r := &CachedRouter{Next: next, Cache: NewCache(time.Minute)}
	for i := 0; i < 3; i++ {
		if _, err := r.Route(context.Background(), benThanh, goVap); err != nil {
			t.Fatalf("route: %v", err)
		}
	}
	if next.calls.Load() != 1 {
		t.Fatalf("expected one upstream call, got %d", next.calls.Load())
	}
	// reversed pair is a different route
	_, _ = r.Route(context.Background(), goVap, benThanh)
	if next.calls.Load() != 2 {
		t.Fatalf("expected reversed pair to miss, got %d calls", next.calls.Load())
	}
}

func TestCachedRouterDoesNotCacheFailures(t *testing.T) {
	next := &countingRouter{err: errors.New("boom")}
	r := &CachedRouter{Next: next, Cache: NewCache(time.Minute)}
	_, _ = r.Route(context.Background(), benThanh, goVap)
	_, _ = r.Route(context.Background(), benThanh, goVap)
	if next.calls.Load() != 2 {
		t.Fatalf("failures must not be cached, got %d calls", next.calls.Load())
	}
}

func TestFallbackUsesThirtyKmh(t *testing.T) {
	ri := Fallback(models.Coord{Lat: 10, Lon: 106}, models.Coord{Lat: 11, Lon: 106})
	wantDur := ri.DistanceMeters / (30.0 / 3.6)
	if math.Abs(ri.DurationSeconds-wantDur) > 1e-6 {
		t.Fatalf("expected %f seconds, got %f", wantDur, ri.DurationSeconds)
	}
}
