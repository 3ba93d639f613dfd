package ride

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/ride-client/internal/errs"
	"github.com/example/ride-client/internal/eta"
	"github.com/example/ride-client/internal/fare"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/route"
)

const (
	noticeNoDriver  = "no driver available right now, please try again"
	noticeCancelled = "ride cancelled"
)

// Reduce applies ev to s. The returned error is user-facing and only set
// for input the user must fix; s is never changed in place.
func Reduce(s Session, ev Event) (Session, []Effect, error) {
	switch ev := ev.(type) {
	case QueryChanged:
		return onQueryChanged(s, ev)
	case SuggestionsLoaded:
		return onSuggestionsLoaded(s, ev)
	case CandidateSelected:
		return onCandidateSelected(s, ev)
	case VehicleClassChanged:
		return onVehicleClassChanged(s, ev)
	case PaymentMethodChanged:
		return onPaymentMethodChanged(s, ev)
	case Submit:
		return onSubmit(s)
	case RideRequested:
		return onRideRequested(s, ev)
	case RouteResolved:
		return onRouteResolved(s, ev)
	case TimerTicked:
		return onTimerTicked(s, ev)
	case Cancel:
		return onCancel(s)
	case CancelResolved:
		return onCancelResolved(s, ev)
	case CompletionResolved:
		return onCompletionResolved(s, ev)
	case PaymentHeld:
		return onPaymentHeld(s, ev)
	case Reset:
		return onReset(s)
	}
	return s, nil, fmt.Errorf("ride: unknown event %T", ev)
}

func onQueryChanged(s Session, ev QueryChanged) (Session, []Effect, error) {
	if s.State != Idle || !ev.Field.Valid() {
		return s, nil, nil
	}
	in := s.input(ev.Field)
	if ev.Text == in.Query {
		return s, nil, nil
	}
	s.Notice, s.Error = "", ""
	var effects []Effect
	in.Query = ev.Text
	in.Gen++
	if in.Selected != nil {
		in.Selected = nil
		s, effects = dropMainRoute(s)
	}
	if strings.TrimSpace(ev.Text) == "" {
		in.Suggestions = nil
		effects = append(effects, CancelSuggest{Field: ev.Field})
	} else {
		effects = append(effects, ScheduleSuggest{Field: ev.Field, Query: ev.Text, Gen: in.Gen})
	}
	return s.withInput(ev.Field, in), effects, nil
}

func onSuggestionsLoaded(s Session, ev SuggestionsLoaded) (Session, []Effect, error) {
	in := s.input(ev.Field)
	if s.State != Idle || ev.Gen != in.Gen {
		return s, []Effect{Discarded{Kind: "suggestions"}}, nil
	}
	if ev.Err != nil {
		in.Suggestions = nil
	} else {
		in.Suggestions = ev.Candidates
	}
	return s.withInput(ev.Field, in), nil, nil
}

func onCandidateSelected(s Session, ev CandidateSelected) (Session, []Effect, error) {
	if s.State != Idle || !ev.Field.Valid() {
		return s, nil, nil
	}
	in := s.input(ev.Field)
	if ev.Index < 0 || ev.Index >= len(in.Suggestions) {
		err := &errs.ValidationError{Field: string(ev.Field), Reason: "choose a location from the suggestions"}
		s.Error = err.Error()
		return s, nil, err
	}
	s.Notice, s.Error = "", ""
	c := in.Suggestions[ev.Index]
	in.Selected = &c
	in.Query = c.DisplayName
	in.Suggestions = nil
	in.Gen++
	s = s.withInput(ev.Field, in)
	effects := []Effect{CancelSuggest{Field: ev.Field}}
	s, more := requestMainRoute(s)
	return s, append(effects, more...), nil
}

func onVehicleClassChanged(s Session, ev VehicleClassChanged) (Session, []Effect, error) {
	if s.State != Idle {
		return s, nil, nil
	}
	if !ev.Class.Valid() {
		err := &errs.ValidationError{Field: "vehicle_class", Reason: fmt.Sprintf("unknown vehicle class %q", ev.Class)}
		return s, nil, err
	}
	s.VehicleClass = ev.Class
	return repriced(s), nil, nil
}

func onPaymentMethodChanged(s Session, ev PaymentMethodChanged) (Session, []Effect, error) {
	if s.State != Idle {
		return s, nil, nil
	}
	if !ev.Method.Valid() {
		return s, nil, &errs.ValidationError{Field: "payment_method", Reason: fmt.Sprintf("unknown payment method %q", ev.Method)}
	}
	s.PaymentMethod = ev.Method
	return s, nil, nil
}

func onSubmit(s Session) (Session, []Effect, error) {
	if s.State != Idle {
		return s, nil, nil
	}
	s.Notice, s.Error = "", ""
	var missing []string
	if s.Pickup.Selected == nil {
		missing = append(missing, string(FieldPickup))
	}
	if s.Dropoff.Selected == nil {
		missing = append(missing, string(FieldDropoff))
	}
	if len(missing) > 0 {
		err := &errs.ValidationError{Field: strings.Join(missing, ","), Reason: "choose pickup and dropoff from the suggestions"}
		s.Error = err.Error()
		return s, nil, err
	}

	info := eta.Fallback(s.Pickup.Selected.Coord(), s.Dropoff.Selected.Coord())
	if s.Main.Info != nil {
		info = *s.Main.Info
	}
	quote := fare.Estimate(s.VehicleClass, info.DistanceMeters)
	req := models.RideRequest{
		Pickup:                   *s.Pickup.Selected,
		Dropoff:                  *s.Dropoff.Selected,
		VehicleClass:             s.VehicleClass,
		PaymentMethod:            s.PaymentMethod,
		EstimatedFare:            quote,
		EstimatedDistanceMeters:  info.DistanceMeters,
		EstimatedDurationSeconds: info.DurationSeconds,
	}
	s.Request = &req
	s.Fare = &quote
	s.submitGen++
	s, t := moveTo(s, AwaitingDriver)
	return s, []Effect{t, SubmitRide{Gen: s.submitGen, Request: req}}, nil
}

func onRideRequested(s Session, ev RideRequested) (Session, []Effect, error) {
	if s.State != AwaitingDriver || ev.Gen != s.submitGen {
		return s, []Effect{Discarded{Kind: "ride_request"}}, nil
	}
	var t Effect
	switch {
	case errors.Is(ev.Err, errs.ErrNoDriverAvailable) || (ev.Err == nil && ev.Driver == nil):
		s.Request = nil
		s.Notice = noticeNoDriver
		s, t = moveTo(s, Idle)
		return repriced(s), []Effect{t}, nil
	case ev.Err != nil:
		s.Request = nil
		s.Error = "could not request a ride, please try again: " + ev.Err.Error()
		s, t = moveTo(s, Idle)
		return repriced(s), []Effect{t}, nil
	}

	drv := *ev.Driver
	s.RideID = ev.RideID
	s.Driver = &drv
	quote := s.Request.EstimatedFare
	s.Fare = &quote
	s, t = moveTo(s, EnRoute)
	effects := []Effect{t}

	var changed bool
	pair := route.Pair{From: drv.CurrentLocation, To: s.Pickup.Selected.Coord()}
	s.DriverApproach, changed = s.DriverApproach.Request(pair)
	if changed {
		effects = append(effects, FetchRoute{Slot: route.Driver, Pair: pair, Gen: s.DriverApproach.Gen})
	}
	if s.PaymentMethod == models.PaymentCard {
		effects = append(effects, HoldPayment{RideID: s.RideID, Amount: quote})
	}
	return s, effects, nil
}

func onRouteResolved(s Session, ev RouteResolved) (Session, []Effect, error) {
	switch ev.Slot {
	case route.Main:
		slot, ok := s.Main.Resolve(ev.Gen, ev.Info, ev.Err)
		if !ok {
			return s, []Effect{Discarded{Kind: "route_main"}}, nil
		}
		s.Main = slot
		var effects []Effect
		if ev.Err == nil {
			effects = append(effects, DrawOverlay{Slot: route.Main, Pair: *slot.Target, Info: ev.Info})
		}
		return repriced(s), effects, nil

	case route.Driver:
		slot, ok := s.DriverApproach.Resolve(ev.Gen, ev.Info, ev.Err)
		if !ok || s.State != EnRoute {
			return s, []Effect{Discarded{Kind: "route_driver"}}, nil
		}
		s.DriverApproach = slot
		var effects []Effect
		if ev.Err == nil {
			effects = append(effects, DrawOverlay{Slot: route.Driver, Pair: *slot.Target, Info: ev.Info})
		}
		if s.DriverTimer.Running {
			return s, effects, nil
		}
		approach := eta.Fallback(slot.Target.From, slot.Target.To)
		if slot.Info != nil {
			approach = *slot.Info
		}
		s, more := startDriverTimer(s, floorSeconds(approach.DurationSeconds))
		return s, append(effects, more...), nil
	}
	return s, nil, nil
}

func onTimerTicked(s Session, ev TimerTicked) (Session, []Effect, error) {
	switch ev.Timer {
	case DriverETATimer:
		if s.State != EnRoute || !s.DriverTimer.Running || ev.Gen != s.DriverTimer.Gen {
			return s, []Effect{Discarded{Kind: "tick_driver_eta"}}, nil
		}
		s.DriverTimer.Remaining--
		if s.DriverTimer.Remaining <= ArrivalThresholdSeconds {
			return arrive(s)
		}
		return s, nil, nil

	case TripTimer:
		if s.State != TripInProgress || !s.TripTimer.Running || ev.Gen != s.TripTimer.Gen {
			return s, []Effect{Discarded{Kind: "tick_trip"}}, nil
		}
		s.TripTimer.Remaining--
		if s.TripTimer.Remaining <= 0 {
			return complete(s, nil)
		}
		return s, nil, nil
	}
	return s, nil, nil
}

func onCancel(s Session) (Session, []Effect, error) {
	if (s.State != EnRoute && s.State != TripInProgress) || s.CancelPending {
		return s, nil, nil
	}
	s.Error = ""
	s.CancelPending = true
	s.cancelGen++
	return s, []Effect{CancelRide{Gen: s.cancelGen, RideID: s.RideID}}, nil
}

func onCancelResolved(s Session, ev CancelResolved) (Session, []Effect, error) {
	if !s.CancelPending || ev.Gen != s.cancelGen {
		return s, []Effect{Discarded{Kind: "cancel"}}, nil
	}
	s.CancelPending = false
	if ev.Err != nil {
		s.Error = "could not cancel the ride, please try again: " + ev.Err.Error()
		return s, nil, nil
	}
	s, toCancelled := moveTo(s, Cancelled)
	effects := []Effect{toCancelled}
	if s.PaymentIntentID != "" {
		effects = append(effects, ReleasePayment{IntentID: s.PaymentIntentID})
	}
	// the fresh form carries no ride id, so cancelled stays the ride's last state
	s, more := resetSession(s)
	s, toIdle := moveTo(s, Idle)
	s.Notice = noticeCancelled
	return s, append(append(effects, toIdle), more...), nil
}

func onCompletionResolved(s Session, ev CompletionResolved) (Session, []Effect, error) {
	if ev.Err != nil && s.State == Completed && ev.RideID == s.RideID {
		// no rollback: the local countdown decides the trip is over
		s.Error = "could not confirm ride completion: " + ev.Err.Error()
	}
	return s, nil, nil
}

func onPaymentHeld(s Session, ev PaymentHeld) (Session, []Effect, error) {
	if ev.Err != nil || ev.IntentID == "" {
		return s, nil, nil
	}
	if ev.RideID == "" || ev.RideID != s.RideID {
		// the ride this hold belongs to is gone
		return s, []Effect{ReleasePayment{IntentID: ev.IntentID}}, nil
	}
	s.PaymentIntentID = ev.IntentID
	if s.State == Completed {
		return s, []Effect{CapturePayment{IntentID: ev.IntentID}}, nil
	}
	return s, nil, nil
}

func onReset(s Session) (Session, []Effect, error) {
	switch s.State {
	case Completed:
		s, more := resetSession(s)
		s, t := moveTo(s, Idle)
		return s, append([]Effect{t}, more...), nil
	case Idle:
		s, more := resetSession(s)
		return s, more, nil
	}
	return s, nil, nil
}

// arrive moves en-route to in-progress: the driver overlay goes away and
// the trip countdown starts from the main route.
func arrive(s Session) (Session, []Effect, error) {
	s.DriverTimer.Running = false
	s.DriverTimer.Remaining = 0
	s.DriverApproach = s.DriverApproach.Reset()
	s, t := moveTo(s, TripInProgress)
	effects := []Effect{t, StopTimer{Timer: DriverETATimer}, ClearOverlay{Slot: route.Driver}}

	secs := 0
	if s.Main.Info != nil {
		secs = floorSeconds(s.Main.Info.DurationSeconds)
	} else if s.Request != nil {
		secs = floorSeconds(s.Request.EstimatedDurationSeconds)
	}
	if secs <= 0 {
		return complete(s, effects)
	}
	s.TripTimer = Countdown{Running: true, Remaining: secs, Gen: s.TripTimer.Gen + 1}
	return s, append(effects, StartTimer{Timer: TripTimer, Gen: s.TripTimer.Gen}), nil
}

func complete(s Session, effects []Effect) (Session, []Effect, error) {
	s.TripTimer.Running = false
	s.TripTimer.Remaining = 0
	s.CancelPending = false
	s, t := moveTo(s, Completed)
	effects = append(effects, t, StopTimer{Timer: TripTimer}, CompleteRide{RideID: s.RideID})
	if s.PaymentIntentID != "" {
		effects = append(effects, CapturePayment{IntentID: s.PaymentIntentID})
	}
	return s, effects, nil
}

func startDriverTimer(s Session, secs int) (Session, []Effect) {
	if secs <= ArrivalThresholdSeconds {
		s, effects, _ := arrive(s)
		return s, effects
	}
	s.DriverTimer = Countdown{Running: true, Remaining: secs, Gen: s.DriverTimer.Gen + 1}
	return s, []Effect{StartTimer{Timer: DriverETATimer, Gen: s.DriverTimer.Gen}}
}

func requestMainRoute(s Session) (Session, []Effect) {
	if s.Pickup.Selected == nil || s.Dropoff.Selected == nil {
		return s, nil
	}
	pair := route.Pair{From: s.Pickup.Selected.Coord(), To: s.Dropoff.Selected.Coord()}
	slot, changed := s.Main.Request(pair)
	if !changed {
		return s, nil
	}
	s.Main = slot
	s.Fare = nil
	return s, []Effect{FetchRoute{Slot: route.Main, Pair: pair, Gen: slot.Gen}}
}

func dropMainRoute(s Session) (Session, []Effect) {
	s.Main = s.Main.Reset()
	s.Fare = nil
	return s, []Effect{ClearOverlay{Slot: route.Main}}
}

// repriced recomputes the displayed fare while it is still a quote.
func repriced(s Session) Session {
	if s.State != Idle && s.State != AwaitingDriver {
		return s
	}
	if s.Main.Info == nil {
		if s.State == Idle {
			s.Fare = nil
		}
		return s
	}
	f := fare.Estimate(s.VehicleClass, s.Main.Info.DistanceMeters)
	s.Fare = &f
	return s
}

// resetSession returns a fresh idle form. Generations keep counting so that
// anything still in flight for the old session is discarded on arrival.
func resetSession(s Session) (Session, []Effect) {
	n := NewSession()
	n.State = s.State
	n.Pickup.Gen = s.Pickup.Gen + 1
	n.Dropoff.Gen = s.Dropoff.Gen + 1
	n.Main = s.Main.Reset()
	n.DriverApproach = s.DriverApproach.Reset()
	n.DriverTimer.Gen = s.DriverTimer.Gen + 1
	n.TripTimer.Gen = s.TripTimer.Gen + 1
	n.submitGen = s.submitGen + 1
	n.cancelGen = s.cancelGen + 1
	return n, []Effect{
		StopTimer{Timer: DriverETATimer},
		StopTimer{Timer: TripTimer},
		ClearOverlay{Slot: route.Main},
		ClearOverlay{Slot: route.Driver},
		CancelSuggest{Field: FieldPickup},
		CancelSuggest{Field: FieldDropoff},
	}
}

func moveTo(s Session, to State) (Session, Effect) {
	ev := models.RideEvent{
		RideID:       s.RideID,
		From:         string(s.State),
		To:           string(to),
		VehicleClass: s.VehicleClass,
	}
	if s.Driver != nil {
		ev.DriverID = s.Driver.ID
	}
	if s.Fare != nil {
		ev.Fare = *s.Fare
	}
	if s.Pickup.Selected != nil {
		ev.Pickup = s.Pickup.Selected.Coord()
	}
	if s.Dropoff.Selected != nil {
		ev.Dropoff = s.Dropoff.Selected.Coord()
	}
	s.State = to
	return s, Transitioned{Event: ev}
}
