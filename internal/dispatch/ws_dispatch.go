// Package dispatch pushes ride state to connected presentation clients over
// websockets and acts as the map surface route overlays are drawn on.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
	"github.com/example/ride-client/internal/ride"
	"github.com/example/ride-client/internal/route"
)

const writeWait = 5 * time.Second

const (
	TypeSnapshot      = "snapshot"
	TypeOverlayDraw   = "overlay.draw"
	TypeOverlayRemove = "overlay.remove"
)

// Message is one frame sent to a client.
type Message struct {
	Type     string         `json:"type"`
	Snapshot *ride.Snapshot `json:"snapshot,omitempty"`
	Overlay  *Overlay       `json:"overlay,omitempty"`
}

// Overlay is a route line the client should draw, or remove by handle.
type Overlay struct {
	Handle          route.Handle `json:"handle"`
	Slot            route.Name   `json:"slot"`
	Pair            *route.Pair  `json:"pair,omitempty"`
	Geometry        string       `json:"geometry,omitempty"`
	DistanceMeters  float64      `json:"distance_meters,omitempty"`
	DurationSeconds float64      `json:"duration_seconds,omitempty"`
}

// sendQueue bounds the frames waiting for one client. A client that falls
// this far behind is dropped.
const sendQueue = 64

var (
	errSessionClosed = errors.New("dispatch: session closed")
	errSlowClient    = errors.New("dispatch: client send queue full")
)

// frameWriter is the part of *websocket.Conn a session writes through.
type frameWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteJSON(v interface{}) error
	Close() error
}

// WSSession represents a connected presentation client. Frames are queued
// and written by the session's own goroutine, so Send never blocks.
type WSSession struct {
	conn frameWriter
	send chan Message
	done chan struct{}
	once sync.Once
}

func newWSSession(conn frameWriter, onWriteError func(error)) *WSSession {
	s := &WSSession{conn: conn, send: make(chan Message, sendQueue), done: make(chan struct{})}
	go s.writeLoop(onWriteError)
	return s
}

func (s *WSSession) Send(msg Message) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- msg:
		return nil
	default:
		return errSlowClient
	}
}

func (s *WSSession) writeLoop(onWriteError func(error)) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(msg); err != nil {
				onWriteError(err)
				return
			}
		}
	}
}

func (s *WSSession) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// Hub fans messages out to every session. Late joiners get the last
// snapshot and the live overlays replayed. Broadcasting only enqueues, so it
// is safe to call from the ride controller's loop.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*WSSession
	last     *ride.Snapshot
	overlays map[route.Handle]Overlay
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:   logger.With("component", "dispatch"),
		sessions: make(map[string]*WSSession),
		overlays: make(map[route.Handle]Overlay),
	}
}

// Add registers conn and returns its session id.
func (h *Hub) Add(conn *websocket.Conn) string { return h.add(conn) }

func (h *Hub) add(conn frameWriter) string {
	id := uuid.NewString()
	sess := newWSSession(conn, func(err error) {
		h.logger.Warn("ws send error", "session", id, "error", err)
		h.Remove(id)
	})

	h.mu.Lock()
	h.sessions[id] = sess
	if h.last != nil {
		snap := *h.last
		_ = sess.Send(Message{Type: TypeSnapshot, Snapshot: &snap})
	}
	for _, o := range h.overlays {
		_ = sess.Send(Message{Type: TypeOverlayDraw, Overlay: &o})
	}
	n := len(h.sessions)
	h.mu.Unlock()

	observability.WSClients.Set(float64(n))
	return id
}

func (h *Hub) Remove(id string) {
	h.mu.Lock()
	sess, ok := h.sessions[id]
	delete(h.sessions, id)
	n := len(h.sessions)
	h.mu.Unlock()
	if ok {
		sess.close()
		observability.WSClients.Set(float64(n))
	}
}

// Len is the number of connected sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	targets := make(map[string]*WSSession, len(h.sessions))
	for id, s := range h.sessions {
		targets[id] = s
	}
	h.mu.RUnlock()

	for id, s := range targets {
		if err := s.Send(msg); err != nil {
			h.logger.Warn("ws client dropped", "session", id, "type", msg.Type, "error", err)
			h.Remove(id)
		}
	}
}

func (h *Hub) PublishSnapshot(snap ride.Snapshot) {
	h.mu.Lock()
	h.last = &snap
	h.mu.Unlock()
	h.Broadcast(Message{Type: TypeSnapshot, Snapshot: &snap})
}

// Pump publishes snapshots from ch until it closes or ctx is done.
func (h *Hub) Pump(ctx context.Context, ch <-chan ride.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			h.PublishSnapshot(snap)
		}
	}
}

// Draw publishes an overlay to every client and returns its handle.
func (h *Hub) Draw(slot route.Name, p route.Pair, info models.RouteInfo) (route.Handle, error) {
	o := Overlay{
		Handle:          route.Handle(uuid.NewString()),
		Slot:            slot,
		Pair:            &p,
		Geometry:        info.Geometry,
		DistanceMeters:  info.DistanceMeters,
		DurationSeconds: info.DurationSeconds,
	}
	h.mu.Lock()
	h.overlays[o.Handle] = o
	h.mu.Unlock()
	h.Broadcast(Message{Type: TypeOverlayDraw, Overlay: &o})
	return o.Handle, nil
}

// RemoveOverlay withdraws an overlay from every client.
func (h *Hub) RemoveOverlay(slot route.Name, handle route.Handle) {
	h.mu.Lock()
	_, ok := h.overlays[handle]
	delete(h.overlays, handle)
	h.mu.Unlock()
	if ok {
		h.Broadcast(Message{Type: TypeOverlayRemove, Overlay: &Overlay{Handle: handle, Slot: slot}})
	}
}

// Surface adapts the hub to route.Surface; Hub.Remove is taken by sessions.
func (h *Hub) Surface() route.Surface { return hubSurface{h} }

type hubSurface struct{ h *Hub }

func (s hubSurface) Draw(slot route.Name, p route.Pair, info models.RouteInfo) (route.Handle, error) {
	return s.h.Draw(slot, p, info)
}

func (s hubSurface) Remove(slot route.Name, handle route.Handle) { s.h.RemoveOverlay(slot, handle) }

// LiveOverlays is the number of overlays currently drawn.
func (h *Hub) LiveOverlays() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.overlays)
}
