// Package route tracks the two route slots of a ride (main and driver
// approach) and the overlay handle each one owns on the map surface.
package route

import (
	"github.com/example/ride-client/internal/geo"
	"github.com/example/ride-client/internal/models"
)

// Name identifies an overlay slot.
type Name string

const (
	Main   Name = "main"   // pickup -> dropoff
	Driver Name = "driver" // driver location -> pickup
)

// Pair is an ordered origin/destination.
type Pair struct {
	From models.Coord `json:"from"`
	To   models.Coord `json:"to"`
}

func (p Pair) Same(o Pair) bool { return geo.Equal(p.From, o.From) && geo.Equal(p.To, o.To) }

// Slot is the request state of one route slot. It is a value type so the
// reducer can copy it freely.
type Slot struct {
	Target  *Pair             `json:"target,omitempty"`
	Gen     uint64            `json:"generation"`
	Pending bool              `json:"pending"`
	Info    *models.RouteInfo `json:"info,omitempty"`
}

// Request points the slot at p. changed is false when p equals the previous
// target, in which case nothing should be fetched or redrawn.
func (s Slot) Request(p Pair) (next Slot, changed bool) {
	if s.Target != nil && s.Target.Same(p) {
		return s, false
	}
	s.Target = &p
	s.Gen++
	s.Pending = true
	return s, true
}

// Resolve applies the answer for generation gen. accepted is false for a
// superseded request. On err the previous Info is kept.
func (s Slot) Resolve(gen uint64, info models.RouteInfo, err error) (next Slot, accepted bool) {
	if gen != s.Gen || s.Target == nil {
		return s, false
	}
	s.Pending = false
	if err == nil {
		s.Info = &info
	}
	return s, true
}

// Reset forgets target and info. The generation keeps counting so answers to
// requests made before the reset are recognised as stale.
func (s Slot) Reset() Slot { return Slot{Gen: s.Gen + 1} }
