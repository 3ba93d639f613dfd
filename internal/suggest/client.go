// Package suggest looks up location candidates for free-text queries.
package suggest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-client/internal/errs"
	"github.com/example/ride-client/internal/models"
)

// Client queries GET {BaseURL}/api/location-suggestions?q=.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Cache   Cache // optional
}

func NewClient(baseURL string, timeout time.Duration, cache Cache) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
		Cache:   cache,
	}
}

// Suggest returns candidates in backend order. Queries are trimmed and
// lower-cased before lookup. An empty query returns nil without touching
// the network.
func (c *Client) Suggest(ctx context.Context, query string) ([]models.LocationCandidate, error) {
	key := normalize(query)
	if key == "" {
		return nil, nil
	}
	if c.Cache != nil {
		if v, ok := c.Cache.Get(ctx, key); ok {
			return v, nil
		}
	}
	// the geocoder is case-insensitive; sending the cache key keeps what is
	// cached identical to what was asked
	u := c.BaseURL + "/api/location-suggestions?q=" + url.QueryEscape(key)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, &errs.NetworkError{Op: "suggest", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &errs.NetworkError{Op: "suggest", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))}
	}
	var out []models.LocationCandidate
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &errs.NetworkError{Op: "suggest", Err: fmt.Errorf("decode: %w", err)}
	}
	if c.Cache != nil {
		c.Cache.Set(ctx, key, out)
	}
	return out, nil
}

func normalize(q string) string { return strings.ToLower(strings.TrimSpace(q)) }
