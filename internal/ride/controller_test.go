package ride

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-client/internal/backend"
	"github.com/example/ride-client/internal/errs"
	"github.com/example/ride-client/internal/geo"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/route"
)

type fakeBackend struct {
	mu        sync.Mutex
	cancelErr error
	noDriver  bool
	cancelled []string
	completed chan string
}

func newFakeBackend() *fakeBackend { return &fakeBackend{completed: make(chan string, 4)} }

func (f *fakeBackend) RequestRide(_ context.Context, _ models.RideRequest) (backend.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noDriver {
		return backend.Assignment{RideID: "r0"}, fmt.Errorf("ride.request: %w", errs.ErrNoDriverAvailable)
	}
	drv := testDriver
	return backend.Assignment{RideID: "r1", Driver: &drv}, nil
}

func (f *fakeBackend) CancelRide(_ context.Context, rideID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, rideID)
	return f.cancelErr
}

func (f *fakeBackend) CompleteRide(_ context.Context, rideID string) error {
	f.completed <- rideID
	return nil
}

// fakeRouter answers driver approaches and main routes with fixed durations.
type fakeRouter struct {
	approach, trip float64
}

func (r fakeRouter) Route(_ context.Context, from, _ models.Coord) (models.RouteInfo, error) {
	if geo.Equal(from, testDriver.CurrentLocation) {
		return models.RouteInfo{DistanceMeters: 500, DurationSeconds: r.approach}, nil
	}
	return models.RouteInfo{DistanceMeters: 12000, DurationSeconds: r.trip}, nil
}

type fakeSuggester struct{}

func (fakeSuggester) Suggest(_ context.Context, q string) ([]models.LocationCandidate, error) {
	if strings.Contains(q, "ben") {
		return []models.LocationCandidate{benThanh}, nil
	}
	return []models.LocationCandidate{hoConRua}, nil
}

type fakeSurface struct {
	mu    sync.Mutex
	next  int
	live  map[route.Handle]route.Name
	drawn []route.Name
}

func newFakeSurface() *fakeSurface { return &fakeSurface{live: make(map[route.Handle]route.Name)} }

func (s *fakeSurface) Draw(slot route.Name, _ route.Pair, _ models.RouteInfo) (route.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := route.Handle(fmt.Sprintf("h%d", s.next))
	s.live[h] = slot
	s.drawn = append(s.drawn, slot)
	return h, nil
}

func (s *fakeSurface) Remove(_ route.Name, h route.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, h)
}

func (s *fakeSurface) liveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

type fakeJournal struct {
	mu     sync.Mutex
	events []models.RideEvent
}

func (j *fakeJournal) Record(_ context.Context, ev models.RideEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, ev)
	return nil
}

func (j *fakeJournal) moves() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, ev := range j.events {
		out = append(out, ev.From+"->"+ev.To)
	}
	return out
}

type fakePayments struct {
	mu       sync.Mutex
	captured []string
	released []string
}

func (p *fakePayments) Hold(context.Context, int64, string, string) (string, error) {
	return "pi_test", nil
}

func (p *fakePayments) Capture(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captured = append(p.captured, id)
	return nil
}

func (p *fakePayments) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.released = append(p.released, id)
	return nil
}

func (p *fakePayments) releasedIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.released...)
}

func startController(t *testing.T, deps Deps, tick time.Duration) *Controller {
	t.Helper()
	if deps.Router == nil {
		deps.Router = fakeRouter{approach: 35, trip: 20}
	}
	if deps.Suggester == nil {
		deps.Suggester = fakeSuggester{}
	}
	c := NewController(deps, Options{TickInterval: tick, Debounce: time.Millisecond})
	go func() { _ = c.Run(context.Background()) }()
	t.Cleanup(c.Close)
	return c
}

func waitFor(t *testing.T, c *Controller, what string, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s := c.Snapshot(); cond(s) {
			return s
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s: %+v", what, c.Snapshot())
	return Snapshot{}
}

func dispatch(t *testing.T, c *Controller, ev Event) Snapshot {
	t.Helper()
	snap, err := c.Dispatch(context.Background(), ev)
	if err != nil {
		t.Fatalf("dispatch %T: %v", ev, err)
	}
	return snap
}

// fillForm types, waits for suggestions and picks both endpoints.
func fillForm(t *testing.T, c *Controller) {
	t.Helper()
	dispatch(t, c, QueryChanged{Field: FieldPickup, Text: "ho con"})
	waitFor(t, c, "pickup suggestions", func(s Snapshot) bool { return len(s.Pickup.Suggestions) > 0 })
	dispatch(t, c, CandidateSelected{Field: FieldPickup, Index: 0})
	dispatch(t, c, QueryChanged{Field: FieldDropoff, Text: "ben thanh"})
	waitFor(t, c, "dropoff suggestions", func(s Snapshot) bool { return len(s.Dropoff.Suggestions) > 0 })
	dispatch(t, c, CandidateSelected{Field: FieldDropoff, Index: 0})
	waitFor(t, c, "fare", func(s Snapshot) bool { return s.Fare != nil })
}

func TestControllerRunsARideToCompletion(t *testing.T) {
	be := newFakeBackend()
	surface := newFakeSurface()
	journal := &fakeJournal{}
	c := startController(t, Deps{Backend: be, Surface: surface, Journal: journal}, time.Millisecond)

	fillForm(t, c)
	if snap := c.Snapshot(); *snap.Fare != 111000 || snap.Pickup.Selected.DisplayName != hoConRua.DisplayName {
		t.Fatalf("unexpected form: %+v", snap)
	}
	if snap := dispatch(t, c, Submit{}); snap.State != AwaitingDriver {
		t.Fatalf("expected awaiting driver, got %s", snap.State)
	}
	waitFor(t, c, "completion", func(s Snapshot) bool { return s.State == Completed })

	select {
	case id := <-be.completed:
		if id != "r1" {
			t.Fatalf("completed wrong ride %q", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("completion call never made")
	}

	want := []string{"awaiting_driver->driver_en_route", "driver_en_route->trip_in_progress", "trip_in_progress->completed"}
	deadline := time.Now().Add(2 * time.Second)
	for len(journal.moves()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	got := journal.moves()
	if len(got) != len(want) {
		t.Fatalf("journal %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("journal %v, want %v", got, want)
		}
	}
	if surface.liveCount() != 1 {
		t.Fatalf("only the main overlay should remain, got %d", surface.liveCount())
	}

	if snap := dispatch(t, c, Reset{}); snap.State != Idle || snap.Pickup.Selected != nil {
		t.Fatalf("reset should clear the form: %+v", snap)
	}
	if surface.liveCount() != 0 {
		t.Fatalf("reset should release overlays")
	}
}

func TestControllerReturnsValidationErrors(t *testing.T) {
	c := startController(t, Deps{Backend: newFakeBackend()}, time.Hour)
	snap, err := c.Dispatch(context.Background(), Submit{})
	var ve *errs.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if snap.State != Idle || snap.Error == "" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestControllerNoDriver(t *testing.T) {
	be := newFakeBackend()
	be.noDriver = true
	c := startController(t, Deps{Backend: be}, time.Hour)
	fillForm(t, c)
	dispatch(t, c, Submit{})
	snap := waitFor(t, c, "no-driver notice", func(s Snapshot) bool { return s.Notice != "" })
	if snap.State != Idle || snap.Pickup.Selected == nil {
		t.Fatalf("expected idle form kept, got %+v", snap)
	}
}

func TestControllerCancelFailureKeepsRide(t *testing.T) {
	be := newFakeBackend()
	be.cancelErr = &errs.BackendError{Op: "ride.cancel", Status: 200, Message: "ride not found"}
	c := startController(t, Deps{Backend: be, Router: fakeRouter{approach: 600, trip: 900}}, time.Hour)
	fillForm(t, c)
	dispatch(t, c, Submit{})
	waitFor(t, c, "driver eta", func(s Snapshot) bool { return s.DriverETASeconds != nil })

	if snap := dispatch(t, c, Cancel{}); !snap.CancelPending {
		t.Fatalf("cancel should be pending")
	}
	snap := waitFor(t, c, "cancel error", func(s Snapshot) bool { return !s.CancelPending && s.Error != "" })
	if snap.State != EnRoute || snap.RideID != "r1" || *snap.DriverETASeconds != 600 {
		t.Fatalf("failed cancel changed the ride: %+v", snap)
	}
}

func TestControllerCancelReleasesHold(t *testing.T) {
	be := newFakeBackend()
	pay := &fakePayments{}
	surface := newFakeSurface()
	c := startController(t, Deps{Backend: be, Surface: surface, Payments: pay, Router: fakeRouter{approach: 600, trip: 900}}, time.Hour)
	fillForm(t, c)
	dispatch(t, c, PaymentMethodChanged{Method: models.PaymentCard})
	dispatch(t, c, Submit{})
	waitFor(t, c, "driver eta", func(s Snapshot) bool { return s.DriverETASeconds != nil })
	// the hold lands asynchronously; give it a moment before cancelling
	time.Sleep(20 * time.Millisecond)

	dispatch(t, c, Cancel{})
	snap := waitFor(t, c, "idle", func(s Snapshot) bool { return s.State == Idle })
	if snap.RideID != "" || snap.Driver != nil || snap.Fare != nil {
		t.Fatalf("cancel should clear the session: %+v", snap)
	}
	if surface.liveCount() != 0 {
		t.Fatalf("overlays should be released, %d live", surface.liveCount())
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(pay.releasedIDs()) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := pay.releasedIDs(); len(got) != 1 || got[0] != "pi_test" {
		t.Fatalf("expected hold release, got %v", got)
	}
}

func TestControllerSubscribe(t *testing.T) {
	c := startController(t, Deps{Backend: newFakeBackend()}, time.Hour)
	ch, cancel := c.Subscribe()
	defer cancel()
	dispatch(t, c, VehicleClassChanged{Class: models.VehicleVan})
	select {
	case snap := <-ch:
		if snap.VehicleClass != models.VehicleVan {
			t.Fatalf("unexpected snapshot: %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatalf("no snapshot delivered")
	}
}

func TestControllerCloseTearsDown(t *testing.T) {
	surface := newFakeSurface()
	c := startController(t, Deps{Backend: newFakeBackend(), Surface: surface, Router: fakeRouter{approach: 100000, trip: 900}}, time.Millisecond)
	fillForm(t, c)
	dispatch(t, c, Submit{})
	waitFor(t, c, "driver eta", func(s Snapshot) bool { return s.DriverETASeconds != nil })
	ch, _ := c.Subscribe()

	c.Close()
	frozen := c.Snapshot()
	time.Sleep(20 * time.Millisecond)
	if after := c.Snapshot(); *after.DriverETASeconds != *frozen.DriverETASeconds {
		t.Fatalf("countdown kept running after close: %d -> %d", *frozen.DriverETASeconds, *after.DriverETASeconds)
	}
	if surface.liveCount() != 0 {
		t.Fatalf("close should release overlays, %d live", surface.liveCount())
	}
	if _, err := c.Dispatch(context.Background(), Cancel{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	for range ch {
	}
}

func TestCloseWithoutRun(t *testing.T) {
	c := NewController(Deps{Backend: newFakeBackend(), Router: fakeRouter{}, Suggester: fakeSuggester{}}, Options{})
	c.Close()
	c.Close()
	if _, err := c.Dispatch(context.Background(), Submit{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
