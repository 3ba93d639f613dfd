package ride

import (
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/route"
)

// Event is anything fed into Reduce: user actions and completions of
// earlier effects. Completions carry the generation they answer.
type Event interface{ isEvent() }

type QueryChanged struct {
	Field Field
	Text  string
}

type SuggestionsLoaded struct {
	Field      Field
	Gen        uint64
	Candidates []models.LocationCandidate
	Err        error
}

type CandidateSelected struct {
	Field Field
	Index int
}

type VehicleClassChanged struct{ Class models.VehicleClass }

type PaymentMethodChanged struct{ Method models.PaymentMethod }

type Submit struct{}

type RideRequested struct {
	Gen    uint64
	RideID string
	Driver *models.Driver
	Err    error
}

type RouteResolved struct {
	Slot route.Name
	Gen  uint64
	Info models.RouteInfo
	Err  error
}

type TimerTicked struct {
	Timer TimerKind
	Gen   uint64
}

// Cancel is a confirmed cancellation request.
type Cancel struct{}

type CancelResolved struct {
	Gen uint64
	Err error
}

type CompletionResolved struct {
	RideID string
	Err    error
}

type PaymentHeld struct {
	RideID   string
	IntentID string
	Err      error
}

// Reset leaves Completed, or clears an idle form.
type Reset struct{}

func (QueryChanged) isEvent()         {}
func (SuggestionsLoaded) isEvent()    {}
func (CandidateSelected) isEvent()    {}
func (VehicleClassChanged) isEvent()  {}
func (PaymentMethodChanged) isEvent() {}
func (Submit) isEvent()               {}
func (RideRequested) isEvent()        {}
func (RouteResolved) isEvent()        {}
func (TimerTicked) isEvent()          {}
func (Cancel) isEvent()               {}
func (CancelResolved) isEvent()       {}
func (CompletionResolved) isEvent()   {}
func (PaymentHeld) isEvent()          {}
func (Reset) isEvent()                {}
