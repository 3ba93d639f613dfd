package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-client/internal/dispatch"
	"github.com/example/ride-client/internal/errs"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/ride"
)

// RideSession is the lifecycle the presentation layer drives.
type RideSession interface {
	Dispatch(ctx context.Context, ev ride.Event) (ride.Snapshot, error)
	Snapshot() ride.Snapshot
}

type DriverDirectory interface {
	DriverDetails(ctx context.Context, driverID string) (models.DriverDetails, error)
}

type Server struct {
	Rides   RideSession
	Drivers DriverDirectory
	Hub     *dispatch.Hub
	logger  *slog.Logger
	mux     *mux.Router
}

func NewServer(rides RideSession, drivers DriverDirectory, hub *dispatch.Hub, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{Rides: rides, Drivers: drivers, Hub: hub, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", s.handleSnapshot).Methods("GET")
	api.HandleFunc("/session/query", s.handleQuery).Methods("POST")
	api.HandleFunc("/session/select", s.handleSelect).Methods("POST")
	api.HandleFunc("/session/vehicle", s.handleVehicle).Methods("POST")
	api.HandleFunc("/session/payment", s.handlePayment).Methods("POST")
	api.HandleFunc("/session/submit", s.event(ride.Submit{})).Methods("POST")
	api.HandleFunc("/session/cancel", s.event(ride.Cancel{})).Methods("POST")
	api.HandleFunc("/session/reset", s.event(ride.Reset{})).Methods("POST")
	api.HandleFunc("/drivers/{id}/details", s.handleDriverDetails).Methods("GET")

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Rides.Snapshot())
}

type queryRequest struct {
	Field ride.Field `json:"field"`
	Text  string     `json:"text"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Field.Valid() {
		writeError(w, http.StatusBadRequest, "field must be pickup or dropoff")
		return
	}
	s.dispatch(w, r, ride.QueryChanged{Field: req.Field, Text: req.Text})
}

type selectRequest struct {
	Field ride.Field `json:"field"`
	Index *int       `json:"index"`
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if !decode(w, r, &req) {
		return
	}
	if !req.Field.Valid() || req.Index == nil {
		writeError(w, http.StatusBadRequest, "field and index are required")
		return
	}
	s.dispatch(w, r, ride.CandidateSelected{Field: req.Field, Index: *req.Index})
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VehicleClass models.VehicleClass `json:"vehicle_class"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.dispatch(w, r, ride.VehicleClassChanged{Class: req.VehicleClass})
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentMethod models.PaymentMethod `json:"payment_method"`
	}
	if !decode(w, r, &req) {
		return
	}
	s.dispatch(w, r, ride.PaymentMethodChanged{Method: req.PaymentMethod})
}

func (s *Server) event(ev ride.Event) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { s.dispatch(w, r, ev) }
}

type errorResponse struct {
	Error    string         `json:"error"`
	Field    string         `json:"field,omitempty"`
	Snapshot *ride.Snapshot `json:"snapshot,omitempty"`
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, ev ride.Event) {
	snap, err := s.Rides.Dispatch(r.Context(), ev)
	var ve *errs.ValidationError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: ve.Error(), Field: ve.Field, Snapshot: &snap})
	case errors.Is(err, ride.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "ride session closed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.logger.Error("dispatch failed", "event", eventName(ev), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleDriverDetails(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	if id == "" {
		writeError(w, http.StatusBadRequest, "driver id required")
		return
	}
	details, err := s.Drivers.DriverDetails(r.Context(), id)
	if err != nil {
		var be *errs.BackendError
		if errors.As(err, &be) && be.Status == http.StatusNotFound {
			writeError(w, http.StatusNotFound, be.Message)
			return
		}
		s.logger.Error("driver details lookup failed", "driver_id", id, "error", err)
		writeError(w, http.StatusBadGateway, "driver details unavailable")
		return
	}
	writeJSON(w, http.StatusOK, details)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	id := s.Hub.Add(conn)
	// the read loop only exists to notice the client going away
	go func() {
		defer s.Hub.Remove(id)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func eventName(ev ride.Event) string {
	switch ev.(type) {
	case ride.Submit:
		return "submit"
	case ride.Cancel:
		return "cancel"
	case ride.Reset:
		return "reset"
	case ride.QueryChanged:
		return "query"
	case ride.CandidateSelected:
		return "select"
	case ride.VehicleClassChanged:
		return "vehicle"
	case ride.PaymentMethodChanged:
		return "payment"
	}
	return "unknown"
}
