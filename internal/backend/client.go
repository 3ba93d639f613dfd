// Package backend is the HTTP client for the ride backend.
package backend

import (
	"bytes"
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

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{Timeout: timeout}}
}

// Assignment is the backend's answer to a ride request.
type Assignment struct {
	RideID string
	Driver *models.Driver
}

type wirePoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type rideRequestBody struct {
	Pickup            wirePoint `json:"pickup"`
	Dropoff           wirePoint `json:"dropoff"`
	VehicleType       string    `json:"vehicle_type"`
	PaymentMethod     string    `json:"payment_method"`
	EstimatedPrice    int64     `json:"estimated_price"`
	EstimatedDistance float64   `json:"estimated_distance"`
	EstimatedDuration float64   `json:"estimated_duration"`
}

type wireDriver struct {
	ID              models.FlexID `json:"id"`
	Name            string        `json:"name"`
	Phone           string        `json:"phone"`
	VehicleInfo     string        `json:"vehicle_info"`
	CurrentLocation wirePoint     `json:"current_location"`
}

type rideRequestReply struct {
	RideID models.FlexID `json:"ride_id"`
	Driver *wireDriver   `json:"driver"`
	Error  string        `json:"error"`
}

type okReply struct {
	OK    any    `json:"ok"`
	Error string `json:"error"`
}

// RequestRide submits the ride. A null driver yields errs.ErrNoDriverAvailable
// alongside the assignment so the ride id is still known.
func (c *Client) RequestRide(ctx context.Context, r models.RideRequest) (Assignment, error) {
	body := rideRequestBody{
		Pickup:            wirePoint{Lat: r.Pickup.Lat, Lng: r.Pickup.Lon, Address: r.Pickup.DisplayName},
		Dropoff:           wirePoint{Lat: r.Dropoff.Lat, Lng: r.Dropoff.Lon, Address: r.Dropoff.DisplayName},
		VehicleType:       string(r.VehicleClass),
		PaymentMethod:     string(r.PaymentMethod),
		EstimatedPrice:    r.EstimatedFare,
		EstimatedDistance: r.EstimatedDistanceMeters,
		EstimatedDuration: r.EstimatedDurationSeconds,
	}
	var out rideRequestReply
	if err := c.do(ctx, "ride.request", http.MethodPost, "/api/ride/request", body, &out); err != nil {
		return Assignment{}, err
	}
	if out.Error != "" {
		return Assignment{}, &errs.BackendError{Op: "ride.request", Status: http.StatusOK, Message: out.Error}
	}
	a := Assignment{RideID: string(out.RideID)}
	if out.Driver == nil {
		return a, fmt.Errorf("ride %s: %w", a.RideID, errs.ErrNoDriverAvailable)
	}
	a.Driver = &models.Driver{
		ID:              string(out.Driver.ID),
		Name:            out.Driver.Name,
		Phone:           out.Driver.Phone,
		VehicleInfo:     out.Driver.VehicleInfo,
		CurrentLocation: models.Coord{Lat: out.Driver.CurrentLocation.Lat, Lon: out.Driver.CurrentLocation.Lng},
	}
	return a, nil
}

func (c *Client) CancelRide(ctx context.Context, rideID string) error {
	return c.postOK(ctx, "ride.cancel", "/api/ride/cancel/"+url.PathEscape(rideID))
}

func (c *Client) CompleteRide(ctx context.Context, rideID string) error {
	return c.postOK(ctx, "ride.complete", "/api/ride/complete/"+url.PathEscape(rideID))
}

// DriverDetails fetches the driver dashboard payload.
func (c *Client) DriverDetails(ctx context.Context, driverID string) (models.DriverDetails, error) {
	var out models.DriverDetails
	err := c.do(ctx, "driver.details", http.MethodGet, "/api/driver/"+url.PathEscape(driverID)+"/details", nil, &out)
	return out, err
}

func (c *Client) postOK(ctx context.Context, op, path string) error {
	var out okReply
	if err := c.do(ctx, op, http.MethodPost, path, struct{}{}, &out); err != nil {
		return err
	}
	if out.Error != "" {
		return &errs.BackendError{Op: op, Status: http.StatusOK, Message: out.Error}
	}
	return nil
}

// do sends body as JSON and decodes the reply into out. A non-2xx status
// is a BackendError carrying the body's "error" field when there is one.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &errs.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &errs.NetworkError{Op: op, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(raw))
		var e struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &e) == nil {
			if e.Error != "" {
				msg = e.Error
			} else if e.Message != "" {
				msg = e.Message
			}
		}
		return &errs.BackendError{Op: op, Status: resp.StatusCode, Message: msg}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &errs.NetworkError{Op: op, Err: fmt.Errorf("decode: %w", err)}
	}
	return nil
}
