package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// LocationCandidate is one geocoder hit. The geocoder proxies Nominatim,
// which sends lat/lon as strings, so decoding accepts both forms.
type LocationCandidate struct {
	DisplayName string  `json:"display_name"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
}

func (c LocationCandidate) Coord() Coord { return Coord{Lat: c.Lat, Lon: c.Lon} }

func (c *LocationCandidate) UnmarshalJSON(b []byte) error {
	var raw struct {
		DisplayName string          `json:"display_name"`
		Lat         json.RawMessage `json:"lat"`
		Lon         json.RawMessage `json:"lon"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	lat, err := flexFloat(raw.Lat)
	if err != nil {
		return fmt.Errorf("lat: %w", err)
	}
	lon, err := flexFloat(raw.Lon)
	if err != nil {
		return fmt.Errorf("lon: %w", err)
	}
	c.DisplayName, c.Lat, c.Lon = raw.DisplayName, lat, lon
	return nil
}

func flexFloat(b json.RawMessage) (float64, error) {
	if len(b) == 0 || string(b) == "null" {
		return 0, fmt.Errorf("missing")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(s, 64)
	}
	var f float64
	err := json.Unmarshal(b, &f)
	return f, err
}

type VehicleClass string

const (
	VehicleBike VehicleClass = "bike"
	VehicleCar  VehicleClass = "car"
	VehicleVan  VehicleClass = "van"
)

func (v VehicleClass) Valid() bool {
	switch v {
	case VehicleBike, VehicleCar, VehicleVan:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
)

func (p PaymentMethod) Valid() bool { return p == PaymentCash || p == PaymentCard }

type RideRequest struct {
	Pickup                   LocationCandidate `json:"pickup"`
	Dropoff                  LocationCandidate `json:"dropoff"`
	VehicleClass             VehicleClass      `json:"vehicle_class"`
	PaymentMethod            PaymentMethod     `json:"payment_method"`
	EstimatedFare            int64             `json:"estimated_fare"`
	EstimatedDistanceMeters  float64           `json:"estimated_distance_meters"`
	EstimatedDurationSeconds float64           `json:"estimated_duration_seconds"`
}

type Driver struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	VehicleInfo     string `json:"vehicle_info"`
	CurrentLocation Coord  `json:"current_location"`
}

// RouteInfo is ephemeral; Geometry is the encoded polyline used for overlays.
type RouteInfo struct {
	DistanceMeters  float64 `json:"distance_meters"`
	DurationSeconds float64 `json:"duration_seconds"`
	Geometry        string  `json:"geometry,omitempty"`
}

// RideEvent is one lifecycle transition as emitted to the journal.
type RideEvent struct {
	RideID       string       `json:"ride_id"`
	From         string       `json:"from"`
	To           string       `json:"to"`
	DriverID     string       `json:"driver_id,omitempty"`
	Fare         int64        `json:"fare"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	Pickup       Coord        `json:"pickup"`
	Dropoff      Coord        `json:"dropoff"`
	At           time.Time    `json:"at"`
}

type Ride struct {
	ID           string
	DriverID     string
	VehicleClass VehicleClass
	Pickup       Coord
	Dropoff      Coord
	Fare         int64
	Status       string // last lifecycle state seen, e.g. driver_en_route
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DriverDetails is the driver dashboard payload.
type DriverDetails struct {
	Driver struct {
		ID          FlexID  `json:"id"`
		Name        string  `json:"name"`
		Phone       string  `json:"phone"`
		Email       string  `json:"email"`
		VehicleType string  `json:"vehicle_type"`
		VehicleInfo string  `json:"vehicle_info"`
		Status      string  `json:"status"`
		Rating      float64 `json:"rating"`
	} `json:"driver"`
	Earnings struct {
		Total     int64 `json:"total"`
		RideCount int   `json:"ride_count"`
	} `json:"earnings"`
	RideStats struct {
		Completed int `json:"completed"`
		Cancelled int `json:"cancelled"`
		Ongoing   int `json:"ongoing"`
	} `json:"ride_stats"`
	RecentRides []struct {
		ID      FlexID `json:"id"`
		Pickup  string `json:"pickup"`
		Dropoff string `json:"dropoff"`
		Status  string `json:"status"`
		Fare    int64  `json:"fare"`
	} `json:"recent_rides"`
}

// FlexID accepts either a JSON string or number; the backend hands out
// integer ids. It always encodes as a string.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexID(n.String())
	return nil
}
