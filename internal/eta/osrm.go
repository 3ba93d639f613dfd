package eta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-client/internal/errs"
	"github.com/example/ride-client/internal/models"
)

// DefaultOSRMEndpoint is the public OSM car profile.
const DefaultOSRMEndpoint = "https://routing.openstreetmap.de/routed-car"

// ErrNoRoute is returned when OSRM answers but has no usable route.
var ErrNoRoute = errors.New("osrm: no route")

// OSRMClient performs route lookups against an OSRM HTTP server.
type OSRMClient struct {
	Endpoint string
	Client   *http.Client
}

// NewOSRMClient bounds every lookup by timeout, independently of any caller deadline.
func NewOSRMClient(endpoint string, timeout time.Duration) *OSRMClient {
	if endpoint == "" {
		endpoint = DefaultOSRMEndpoint
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OSRMClient{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: timeout}}
}

// Route queries OSRM /route between points and returns distance, duration and geometry.
func (o *OSRMClient) Route(ctx context.Context, from, to models.Coord) (models.RouteInfo, error) {
	// /route/v1/driving/{lon1},{lat1};{lon2},{lat2}
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=polyline", o.Endpoint, from.Lon, from.Lat, to.Lon, to.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.RouteInfo{}, err
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return models.RouteInfo{}, &errs.NetworkError{Op: "osrm.route", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return models.RouteInfo{}, &errs.NetworkError{Op: "osrm.route", Err: fmt.Errorf("rate limited")}
	}
	var out struct {
		Routes []struct {
			Distance float64 `json:"distance"`
			Duration float64 `json:"duration"`
			Geometry string  `json:"geometry"`
		} `json:"routes"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.RouteInfo{}, &errs.NetworkError{Op: "osrm.route", Err: fmt.Errorf("decode (status %d): %w", resp.StatusCode, err)}
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.RouteInfo{}, fmt.Errorf("%w: %s %s", ErrNoRoute, out.Code, out.Message)
	}
	r := out.Routes[0]
	return models.RouteInfo{DistanceMeters: r.Distance, DurationSeconds: r.Duration, Geometry: r.Geometry}, nil
}
