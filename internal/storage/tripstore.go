package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/example/ride-client/internal/models"
)

// TripStore persists the journal's view of each ride.
type TripStore interface {
	// Apply folds one transition into the ride's row. Events older than the
	// row's last update are ignored, so redelivery is harmless.
	Apply(ctx context.Context, ev models.RideEvent) error
	Ping(ctx context.Context) error
}

var ErrInvalidEvent = errors.New("storage: event has no ride id or target state")

type MemoryStore struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[string]*models.Ride)}
}

func (m *MemoryStore) Apply(_ context.Context, ev models.RideEvent) error {
	if ev.RideID == "" || ev.To == "" {
		return ErrInvalidEvent
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[ev.RideID]
	if !ok {
		r = &models.Ride{ID: ev.RideID, CreatedAt: ev.At}
		m.rides[ev.RideID] = r
	} else if ev.At.Before(r.UpdatedAt) {
		return nil
	}
	applyEvent(r, ev)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Get(id string) (models.Ride, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, false
	}
	return *r, true
}

func applyEvent(r *models.Ride, ev models.RideEvent) {
	if ev.DriverID != "" {
		r.DriverID = ev.DriverID
	}
	if ev.VehicleClass != "" {
		r.VehicleClass = ev.VehicleClass
	}
	if ev.Fare != 0 {
		r.Fare = ev.Fare
	}
	if ev.Pickup != (models.Coord{}) {
		r.Pickup = ev.Pickup
	}
	if ev.Dropoff != (models.Coord{}) {
		r.Dropoff = ev.Dropoff
	}
	r.Status = ev.To
	r.UpdatedAt = ev.At
}
