package ride

import (
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/route"
)

// Effect is work Reduce asks the runtime to do. Effects that complete
// asynchronously answer with exactly one Event.
type Effect interface{ isEffect() }

// ScheduleSuggest answers with SuggestionsLoaded after the debounce window.
type ScheduleSuggest struct {
	Field Field
	Query string
	Gen   uint64
}

type CancelSuggest struct{ Field Field }

// FetchRoute answers with RouteResolved.
type FetchRoute struct {
	Slot route.Name
	Pair route.Pair
	Gen  uint64
}

type DrawOverlay struct {
	Slot route.Name
	Pair route.Pair
	Info models.RouteInfo
}

type ClearOverlay struct{ Slot route.Name }

// SubmitRide answers with RideRequested.
type SubmitRide struct {
	Gen     uint64
	Request models.RideRequest
}

// CancelRide answers with CancelResolved.
type CancelRide struct {
	Gen    uint64
	RideID string
}

// CompleteRide answers with CompletionResolved; nothing waits on it.
type CompleteRide struct{ RideID string }

// StartTimer answers with a TimerTicked every tick until StopTimer.
type StartTimer struct {
	Timer TimerKind
	Gen   uint64
}

type StopTimer struct{ Timer TimerKind }

// Transitioned records a lifecycle move; Event.At is filled by the runtime.
type Transitioned struct{ Event models.RideEvent }

// HoldPayment answers with PaymentHeld.
type HoldPayment struct {
	RideID string
	Amount int64
}

type CapturePayment struct{ IntentID string }

type ReleasePayment struct{ IntentID string }

// Discarded notes a completion that arrived for a superseded request.
type Discarded struct{ Kind string }

func (ScheduleSuggest) isEffect() {}
func (CancelSuggest) isEffect()   {}
func (FetchRoute) isEffect()      {}
func (DrawOverlay) isEffect()     {}
func (ClearOverlay) isEffect()    {}
func (SubmitRide) isEffect()      {}
func (CancelRide) isEffect()      {}
func (CompleteRide) isEffect()    {}
func (StartTimer) isEffect()      {}
func (StopTimer) isEffect()       {}
func (Transitioned) isEffect()    {}
func (HoldPayment) isEffect()     {}
func (CapturePayment) isEffect()  {}
func (ReleasePayment) isEffect()  {}
func (Discarded) isEffect()       {}
