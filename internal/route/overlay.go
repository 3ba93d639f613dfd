package route

import (
	"sync"

	"github.com/example/ride-client/internal/models"
)

// Handle is an opaque reference to something drawn on the map surface.
type Handle string

// Surface is the map that route overlays are drawn on.
type Surface interface {
	Draw(slot Name, p Pair, info models.RouteInfo) (Handle, error)
	Remove(slot Name, h Handle)
}

// Overlays keeps at most one live handle per slot.
type Overlays struct {
	mu      sync.Mutex
	surface Surface
	handles map[Name]Handle
}

func NewOverlays(s Surface) *Overlays {
	return &Overlays{surface: s, handles: make(map[Name]Handle)}
}

// Replace tears down the slot's previous overlay, then draws the new one.
func (o *Overlays) Replace(slot Name, p Pair, info models.RouteInfo) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releaseLocked(slot)
	h, err := o.surface.Draw(slot, p, info)
	if err != nil {
		return err
	}
	o.handles[slot] = h
	return nil
}

func (o *Overlays) Release(slot Name) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.releaseLocked(slot)
}

func (o *Overlays) ReleaseAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for slot := range o.handles {
		o.releaseLocked(slot)
	}
}

func (o *Overlays) Handle(slot Name) (Handle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.handles[slot]
	return h, ok
}

func (o *Overlays) releaseLocked(slot Name) {
	if h, ok := o.handles[slot]; ok {
		o.surface.Remove(slot, h)
		delete(o.handles, slot)
	}
}

// NopSurface draws nothing; handles are slot names.
type NopSurface struct{}

func (NopSurface) Draw(slot Name, _ Pair, _ models.RouteInfo) (Handle, error) {
	return Handle(slot), nil
}
func (NopSurface) Remove(Name, Handle) {}
