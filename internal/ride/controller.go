package ride

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/ride-client/internal/backend"
	"github.com/example/ride-client/internal/errs"
	"github.com/example/ride-client/internal/eta"
	"github.com/example/ride-client/internal/models"
	"github.com/example/ride-client/internal/observability"
	"github.com/example/ride-client/internal/route"
	"github.com/example/ride-client/internal/suggest"
	"github.com/example/ride-client/internal/timer"
)

// ErrClosed is returned by Dispatch after Close.
var ErrClosed = errors.New("ride: controller closed")

// Backend is the subset of the ride backend the lifecycle needs.
type Backend interface {
	RequestRide(ctx context.Context, r models.RideRequest) (backend.Assignment, error)
	CancelRide(ctx context.Context, rideID string) error
	CompleteRide(ctx context.Context, rideID string) error
}

type Suggester interface {
	Suggest(ctx context.Context, query string) ([]models.LocationCandidate, error)
}

// Journal receives every lifecycle transition of a ride with a known id.
type Journal interface {
	Record(ctx context.Context, ev models.RideEvent) error
}

// PaymentHolder places and settles card holds.
type PaymentHolder interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// Deps are the controller's collaborators. Journal and Payments are optional.
type Deps struct {
	Backend   Backend
	Router    eta.Router
	Suggester Suggester
	Surface   route.Surface
	Journal   Journal
	Payments  PaymentHolder
}

type Options struct {
	TickInterval time.Duration // countdown tick, 1s in production
	Debounce     time.Duration
	Currency     string
	Logger       *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.Debounce <= 0 {
		o.Debounce = suggest.DefaultDebounce
	}
	if o.Currency == "" {
		o.Currency = "vnd"
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type envelope struct {
	ev    Event
	reply chan result
}

type result struct {
	snap Snapshot
	err  error
}

// Controller runs Reduce on a single goroutine (Run) and carries out the
// effects. Helper goroutines only ever post events back.
type Controller struct {
	deps   Deps
	opts   Options
	logger *slog.Logger

	overlays  *route.Overlays
	debouncer *suggest.Debouncer
	timers    map[TimerKind]*timer.Countdown
	journal   chan models.RideEvent

	events chan envelope
	stop   chan struct{}
	done   chan struct{}
	exited chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce     sync.Once
	teardownOnce sync.Once

	mu      sync.Mutex
	started bool

	// loop goroutine only
	session Session

	snapMu sync.RWMutex
	snap   Snapshot

	subsMu sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

func NewController(deps Deps, opts Options) *Controller {
	opts = opts.withDefaults()
	if deps.Surface == nil {
		deps.Surface = route.NopSurface{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		deps:      deps,
		opts:      opts,
		logger:    opts.Logger.With("component", "ride"),
		overlays:  route.NewOverlays(deps.Surface),
		debouncer: suggest.NewDebouncer(opts.Debounce),
		timers:    make(map[TimerKind]*timer.Countdown),
		journal:   make(chan models.RideEvent, 64),
		events:    make(chan envelope),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		session:   NewSession(),
		subs:      make(map[int]chan Snapshot),
	}
	c.snap = c.session.Snapshot()
	if deps.Journal != nil {
		go c.journalLoop()
	}
	return c
}

// Run processes events until ctx is done or Close is called.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("ride: controller already running")
	}
	c.started = true
	c.mu.Unlock()
	defer close(c.exited)

	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return ctx.Err()
		case <-c.stop:
			c.teardown()
			return nil
		case env := <-c.events:
			c.handle(env)
		}
	}
}

// Close tears the controller down: timers and debouncers stop, in-flight
// calls are cancelled and every overlay is released. Nothing mutates the
// session afterwards.
func (c *Controller) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()
	if started {
		<-c.exited
		return
	}
	c.teardown()
}

// Dispatch feeds ev to the reducer and waits for the resulting snapshot.
// The error is the user-facing rejection, if any.
func (c *Controller) Dispatch(ctx context.Context, ev Event) (Snapshot, error) {
	env := envelope{ev: ev, reply: make(chan result, 1)}
	select {
	case c.events <- env:
	case <-c.done:
		return c.Snapshot(), ErrClosed
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
	select {
	case r := <-env.reply:
		return r.snap, r.err
	case <-c.done:
		return c.Snapshot(), ErrClosed
	case <-ctx.Done():
		return c.Snapshot(), ctx.Err()
	}
}

// Snapshot returns the latest published state.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Subscribe delivers every new snapshot until the returned cancel is called
// or the controller closes. Slow subscribers miss intermediate snapshots.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	ch := make(chan Snapshot, 16)
	select {
	case <-c.done:
		close(ch)
		return ch, func() {}
	default:
	}
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	return ch, func() {
		c.subsMu.Lock()
		defer c.subsMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Controller) handle(env envelope) {
	c.observe(env.ev)
	before := c.session.State
	next, effects, err := Reduce(c.session, env.ev)
	c.session = next
	for _, eff := range effects {
		c.apply(eff)
	}
	if err != nil {
		c.logger.Info("input rejected", "error", err, "state", before)
	}
	snap := next.Snapshot()
	c.publish(snap)
	if env.reply != nil {
		env.reply <- result{snap: snap, err: err}
	}
}

// observe logs and counts completions before they are reduced.
func (c *Controller) observe(ev Event) {
	switch ev := ev.(type) {
	case SuggestionsLoaded:
		if ev.Err != nil {
			observability.SuggestionRequests.WithLabelValues("error").Inc()
			c.logger.Warn("suggestion lookup failed", "field", ev.Field, "error", ev.Err)
		} else {
			observability.SuggestionRequests.WithLabelValues("ok").Inc()
		}
	case RouteResolved:
		if ev.Err != nil {
			observability.RouteLookups.WithLabelValues(string(ev.Slot), "error").Inc()
			c.logger.Warn("route lookup failed, keeping previous route", "slot", ev.Slot, "error", ev.Err)
		} else {
			observability.RouteLookups.WithLabelValues(string(ev.Slot), "ok").Inc()
		}
	case RideRequested:
		switch {
		case errors.Is(ev.Err, errs.ErrNoDriverAvailable):
			observability.BackendCalls.WithLabelValues("ride.request", "no_driver").Inc()
			c.logger.Info("no driver available", "ride_id", ev.RideID)
		case ev.Err != nil:
			observability.BackendCalls.WithLabelValues("ride.request", "error").Inc()
			c.logger.Error("ride request failed", "error", ev.Err)
		default:
			observability.BackendCalls.WithLabelValues("ride.request", "ok").Inc()
		}
	case CancelResolved:
		if ev.Err != nil {
			observability.BackendCalls.WithLabelValues("ride.cancel", "error").Inc()
			c.logger.Error("ride cancel failed", "error", ev.Err)
		} else {
			observability.BackendCalls.WithLabelValues("ride.cancel", "ok").Inc()
		}
	case CompletionResolved:
		if ev.Err != nil {
			observability.BackendCalls.WithLabelValues("ride.complete", "error").Inc()
			c.logger.Error("ride completion call failed", "ride_id", ev.RideID, "error", ev.Err)
		} else {
			observability.BackendCalls.WithLabelValues("ride.complete", "ok").Inc()
		}
	case PaymentHeld:
		if ev.Err != nil {
			c.logger.Error("payment hold failed", "ride_id", ev.RideID, "error", ev.Err)
		}
	}
}

func (c *Controller) apply(eff Effect) {
	switch e := eff.(type) {
	case ScheduleSuggest:
		c.debouncer.Trigger(string(e.Field), func() {
			cands, err := c.deps.Suggester.Suggest(c.ctx, e.Query)
			c.post(SuggestionsLoaded{Field: e.Field, Gen: e.Gen, Candidates: cands, Err: err})
		})
	case CancelSuggest:
		c.debouncer.Cancel(string(e.Field))
	case FetchRoute:
		go func() {
			info, err := c.deps.Router.Route(c.ctx, e.Pair.From, e.Pair.To)
			c.post(RouteResolved{Slot: e.Slot, Gen: e.Gen, Info: info, Err: err})
		}()
	case DrawOverlay:
		if err := c.overlays.Replace(e.Slot, e.Pair, e.Info); err != nil {
			c.logger.Warn("overlay draw failed", "slot", e.Slot, "error", err)
		}
	case ClearOverlay:
		c.overlays.Release(e.Slot)
	case SubmitRide:
		go func() {
			a, err := c.deps.Backend.RequestRide(c.ctx, e.Request)
			c.post(RideRequested{Gen: e.Gen, RideID: a.RideID, Driver: a.Driver, Err: err})
		}()
	case CancelRide:
		go func() {
			err := c.deps.Backend.CancelRide(c.ctx, e.RideID)
			c.post(CancelResolved{Gen: e.Gen, Err: err})
		}()
	case CompleteRide:
		go func() {
			err := c.deps.Backend.CompleteRide(c.ctx, e.RideID)
			c.post(CompletionResolved{RideID: e.RideID, Err: err})
		}()
	case StartTimer:
		c.stopTimer(e.Timer)
		kind, gen := e.Timer, e.Gen
		c.timers[kind] = timer.Start(c.opts.TickInterval, func() {
			c.post(TimerTicked{Timer: kind, Gen: gen})
		})
	case StopTimer:
		c.stopTimer(e.Timer)
	case Transitioned:
		c.transitioned(e.Event)
	case HoldPayment:
		if c.deps.Payments == nil {
			return
		}
		go func() {
			id, err := c.deps.Payments.Hold(c.ctx, e.Amount, c.opts.Currency, "")
			c.post(PaymentHeld{RideID: e.RideID, IntentID: id, Err: err})
		}()
	case CapturePayment:
		c.settle("capture", e.IntentID)
	case ReleasePayment:
		c.settle("release", e.IntentID)
	case Discarded:
		observability.StaleEvents.WithLabelValues(e.Kind).Inc()
		c.logger.Debug("discarded stale completion", "kind", e.Kind)
	}
}

func (c *Controller) transitioned(ev models.RideEvent) {
	observability.Transitions.WithLabelValues(ev.From, ev.To).Inc()
	c.logger.Info("ride transition", "from", ev.From, "to", ev.To, "ride_id", ev.RideID)
	if c.deps.Journal == nil || ev.RideID == "" {
		return
	}
	ev.At = time.Now().UTC()
	select {
	case c.journal <- ev:
	default:
		c.logger.Warn("journal backlog full, dropping event", "ride_id", ev.RideID, "to", ev.To)
	}
}

// journalLoop keeps journal writes ordered and off the event loop.
func (c *Controller) journalLoop() {
	for {
		select {
		case ev := <-c.journal:
			c.record(ev)
		case <-c.done:
			for {
				select {
				case ev := <-c.journal:
					c.record(ev)
				default:
					return
				}
			}
		}
	}
}

func (c *Controller) record(ev models.RideEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.deps.Journal.Record(ctx, ev); err != nil {
		c.logger.Error("journal write failed", "ride_id", ev.RideID, "to", ev.To, "error", err)
	}
}

func (c *Controller) settle(op, intentID string) {
	if c.deps.Payments == nil || intentID == "" {
		return
	}
	fn := c.deps.Payments.Cancel
	if op == "capture" {
		fn = c.deps.Payments.Capture
	}
	go func() {
		// own context: c.ctx is already cancelled during teardown
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := fn(ctx, intentID); err != nil {
			c.logger.Error("payment "+op+" failed", "payment_intent", intentID, "error", err)
		}
	}()
}

func (c *Controller) stopTimer(kind TimerKind) {
	if t, ok := c.timers[kind]; ok {
		t.Stop()
		delete(c.timers, kind)
	}
}

// post hands an async completion to the loop; after teardown it is dropped.
func (c *Controller) post(ev Event) {
	select {
	case c.events <- envelope{ev: ev}:
	case <-c.done:
	}
}

func (c *Controller) publish(snap Snapshot) {
	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (c *Controller) teardown() {
	c.teardownOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.debouncer.Stop()
		for kind := range c.timers {
			c.stopTimer(kind)
		}
		c.overlays.ReleaseAll()

		c.subsMu.Lock()
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
		c.subsMu.Unlock()
	})
}
