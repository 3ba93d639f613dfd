// Package ride owns the rider-side lifecycle of a single ride: location
// selection, route and fare coordination, driver assignment, the two
// countdowns and cancellation.
//
// All state changes go through Reduce, a pure function of (Session, Event).
// Controller runs Reduce on one goroutine and executes the returned effects.
package ride

import (
	"math"

	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/route"
)

type State string

const (
	Idle           State = "idle"
	AwaitingDriver State = "awaiting_driver"
	EnRoute        State = "driver_en_route"
	TripInProgress State = "trip_in_progress"
	Completed      State = "completed"
	Cancelled      State = "cancelled"
)

// ArrivalThresholdSeconds is the remaining driver-approach time at which the
// driver counts as arrived. Fixed business policy.
const ArrivalThresholdSeconds = 30

type Field string

const (
	FieldPickup  Field = "pickup"
	FieldDropoff Field = "dropoff"
)

func (f Field) Valid() bool { return f == FieldPickup || f == FieldDropoff }

type TimerKind string

const (
	DriverETATimer TimerKind = "driver_eta"
	TripTimer      TimerKind = "trip"
)

// Input is one location field: what was typed, what the geocoder offered and
// what the user picked. Only a picked candidate counts for submission.
type Input struct {
	Query       string
	Selected    *models.LocationCandidate
	Suggestions []models.LocationCandidate
	Gen         uint64
}

// Countdown is the reducer-owned half of a timer.
type Countdown struct {
	Running   bool
	Remaining int
	Gen       uint64
}

// Session is the single source of truth for one rider client.
type Session struct {
	State State

	Pickup        Input
	Dropoff       Input
	VehicleClass  models.VehicleClass
	PaymentMethod models.PaymentMethod

	Main           route.Slot
	DriverApproach route.Slot
	Fare           *int64

	Request *models.RideRequest
	RideID  string
	Driver  *models.Driver

	DriverTimer Countdown
	TripTimer   Countdown

	CancelPending   bool
	PaymentIntentID string

	Notice string
	Error  string

	submitGen uint64
	cancelGen uint64
}

// NewSession is an idle session with default car/cash selections.
func NewSession() Session {
	return Session{State: Idle, VehicleClass: models.VehicleCar, PaymentMethod: models.PaymentCash}
}

func (s Session) input(f Field) Input {
	if f == FieldDropoff {
		return s.Dropoff
	}
	return s.Pickup
}

func (s Session) withInput(f Field, in Input) Session {
	if f == FieldDropoff {
		s.Dropoff = in
	} else {
		s.Pickup = in
	}
	return s
}

// FieldView is the presentation shape of an Input.
type FieldView struct {
	Query       string                     `json:"query"`
	Selected    *models.LocationCandidate  `json:"selected,omitempty"`
	Suggestions []models.LocationCandidate `json:"suggestions"`
}

// Snapshot is what the presentation layer renders.
type Snapshot struct {
	State         State                `json:"state"`
	Editable      bool                 `json:"editable"`
	Pickup        FieldView            `json:"pickup"`
	Dropoff       FieldView            `json:"dropoff"`
	VehicleClass  models.VehicleClass  `json:"vehicle_class"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`

	Fare            *int64   `json:"fare,omitempty"`
	DistanceMeters  *float64 `json:"distance_meters,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`

	RideID        string            `json:"ride_id,omitempty"`
	Driver        *models.Driver    `json:"driver,omitempty"`
	DriverVisible bool              `json:"driver_visible"`
	DriverRoute   *models.RouteInfo `json:"driver_route,omitempty"`

	DriverETASeconds     *int `json:"driver_eta_seconds,omitempty"`
	TripRemainingSeconds *int `json:"trip_remaining_seconds,omitempty"`

	CancelPending bool   `json:"cancel_pending"`
	Notice        string `json:"notice,omitempty"`
	Error         string `json:"error,omitempty"`
}

func (s Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:         s.State,
		Editable:      s.State == Idle,
		Pickup:        fieldView(s.Pickup),
		Dropoff:       fieldView(s.Dropoff),
		VehicleClass:  s.VehicleClass,
		PaymentMethod: s.PaymentMethod,
		Fare:          s.Fare,
		RideID:        s.RideID,
		Driver:        s.Driver,
		DriverVisible: s.State == EnRoute,
		DriverRoute:   s.DriverApproach.Info,
		CancelPending: s.CancelPending,
		Notice:        s.Notice,
		Error:         s.Error,
	}
	if s.Main.Info != nil {
		d, t := s.Main.Info.DistanceMeters, s.Main.Info.DurationSeconds
		snap.DistanceMeters, snap.DurationSeconds = &d, &t
	}
	if s.DriverTimer.Running {
		v := s.DriverTimer.Remaining
		snap.DriverETASeconds = &v
	}
	if s.TripTimer.Running {
		v := s.TripTimer.Remaining
		snap.TripRemainingSeconds = &v
	}
	return snap
}

func fieldView(in Input) FieldView {
	sugg := in.Suggestions
	if sugg == nil {
		sugg = []models.LocationCandidate{}
	}
	return FieldView{Query: in.Query, Selected: in.Selected, Suggestions: sugg}
}

func floorSeconds(v float64) int {
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	return int(math.Floor(v))
}
