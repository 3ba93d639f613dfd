package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-client/internal/dispatch"
	"github.com/example/ride-client/internal/errs"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/ride"
)

type fakeSession struct {
	mu     sync.Mutex
	events []ride.Event
	err    error
	snap   ride.Snapshot
}

func (f *fakeSession) Dispatch(_ context.Context, ev ride.Event) (ride.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.snap, f.err
}

func (f *fakeSession) Snapshot() ride.Snapshot { return f.snap }

func (f *fakeSession) last() ride.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.events) == 0 {
		return nil
	}
	return f.events[len(f.events)-1]
}

type fakeDrivers struct{ err error }

func (f fakeDrivers) DriverDetails(_ context.Context, id string) (models.DriverDetails, error) {
	var d models.DriverDetails
	if f.err != nil {
		return d, f.err
	}
	d.Driver.ID = models.FlexID(id)
	d.Driver.Name = "Minh"
	d.Earnings.Total = 450000
	return d, nil
}

func newTestServer(sess *fakeSession, drivers DriverDirectory) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(sess, drivers, dispatch.NewHub(logger), logger)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestSnapshotEndpoint(t *testing.T) {
	sess := &fakeSession{snap: ride.NewSession().Snapshot()}
	rec := do(t, newTestServer(sess, fakeDrivers{}), "GET", "/api/v1/session", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var snap ride.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.State != ride.Idle || !snap.Editable || snap.VehicleClass != models.VehicleCar {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestInputEndpointsDispatchEvents(t *testing.T) {
	sess := &fakeSession{}
	s := newTestServer(sess, fakeDrivers{})

	cases := []struct {
		path string
		body string
		want ride.Event
	}{
		{"/api/v1/session/query", `{"field":"pickup","text":"ho con"}`, ride.QueryChanged{Field: ride.FieldPickup, Text: "ho con"}},
		{"/api/v1/session/select", `{"field":"dropoff","index":0}`, ride.CandidateSelected{Field: ride.FieldDropoff, Index: 0}},
		{"/api/v1/session/vehicle", `{"vehicle_class":"bike"}`, ride.VehicleClassChanged{Class: models.VehicleBike}},
		{"/api/v1/session/payment", `{"payment_method":"card"}`, ride.PaymentMethodChanged{Method: models.PaymentCard}},
		{"/api/v1/session/submit", ``, ride.Submit{}},
		{"/api/v1/session/cancel", ``, ride.Cancel{}},
		{"/api/v1/session/reset", ``, ride.Reset{}},
	}
	for _, tc := range cases {
		rec := do(t, s, "POST", tc.path, tc.body)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", tc.path, rec.Code, rec.Body.String())
		}
		if got := sess.last(); got != tc.want {
			t.Fatalf("%s: dispatched %#v, want %#v", tc.path, got, tc.want)
		}
	}
}

func TestBadInputIsRejectedBeforeDispatch(t *testing.T) {
	sess := &fakeSession{}
	s := newTestServer(sess, fakeDrivers{})
	for _, tc := range []struct{ path, body string }{
		{"/api/v1/session/query", `{"field":"origin","text":"x"}`},
		{"/api/v1/session/select", `{"field":"pickup"}`},
		{"/api/v1/session/vehicle", `not json`},
	} {
		if rec := do(t, s, "POST", tc.path, tc.body); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", tc.path, rec.Code)
		}
	}
	if sess.last() != nil {
		t.Fatalf("nothing should be dispatched")
	}
}

func TestSubmitValidationErrorIs422(t *testing.T) {
	sess := &fakeSession{
		snap: ride.NewSession().Snapshot(),
		err:  &errs.ValidationError{Field: "pickup", Reason: "choose pickup and dropoff from the suggestions"},
	}
	rec := do(t, newTestServer(sess, fakeDrivers{}), "POST", "/api/v1/session/submit", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Field != "pickup" || resp.Snapshot == nil || resp.Snapshot.State != ride.Idle {
		t.Fatalf("unexpected body: %+v", resp)
	}
}

func TestClosedSessionIs503(t *testing.T) {
	sess := &fakeSession{err: ride.ErrClosed}
	if rec := do(t, newTestServer(sess, fakeDrivers{}), "POST", "/api/v1/session/cancel", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestDriverDetailsProxy(t *testing.T) {
	s := newTestServer(&fakeSession{}, fakeDrivers{})
	rec := do(t, s, "GET", "/api/v1/drivers/d-7/details", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var d models.DriverDetails
	if err := json.NewDecoder(rec.Body).Decode(&d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.Driver.ID != "d-7" || d.Earnings.Total != 450000 {
		t.Fatalf("unexpected details: %+v", d)
	}

	missing := newTestServer(&fakeSession{}, fakeDrivers{err: &errs.BackendError{Op: "driver.details", Status: 404, Message: "driver not found"}})
	if rec := do(t, missing, "GET", "/api/v1/drivers/nope/details", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	broken := newTestServer(&fakeSession{}, fakeDrivers{err: &errs.NetworkError{Op: "driver.details", Err: io.ErrUnexpectedEOF}})
	if rec := do(t, broken, "GET", "/api/v1/drivers/d-7/details", ""); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(&fakeSession{}, fakeDrivers{}), "GET", "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestWebSocketStreamsSnapshots(t *testing.T) {
	s := newTestServer(&fakeSession{}, fakeDrivers{})
	s.Hub.PublishSnapshot(ride.NewSession().Snapshot())
	srv := httptest.NewServer(s)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg dispatch.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != dispatch.TypeSnapshot || msg.Snapshot == nil || msg.Snapshot.State != ride.Idle {
		t.Fatalf("unexpected message: %+v", msg)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for s.Hub.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if s.Hub.Len() != 0 {
		t.Fatalf("closed client should be dropped")
	}
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(newTestServer(&fakeSession{}, fakeDrivers{}), []string{"http://localhost:5173"})
	req := httptest.NewRequest("OPTIONS", "/api/v1/session/submit", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("expected origin to be allowed, got %q", got)
	}

	req = httptest.NewRequest("GET", "/api/v1/session", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}
