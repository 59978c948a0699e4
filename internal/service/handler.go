package service

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dbconduit/internal/core"
	"dbconduit/internal/dbclient"
	"dbconduit/internal/domain"
	"dbconduit/internal/event"
	"dbconduit/internal/export"
	"dbconduit/internal/log"
	"dbconduit/internal/secret"
	"dbconduit/internal/source"
)

// ─────────────────────────────────────────────────────────────
// Handler is the single entry point the editor calls into.
// ─────────────────────────────────────────────────────────────

// HistoryPurger drops the persisted history of a removed connection.
type HistoryPurger interface {
	DeleteCallsByConnection(connID string) error
}

// Options wires the handler's collaborators. All fields are optional.
type Options struct {
	// Archive persists drained rows; nil keeps results in memory.
	Archive core.Archive
	// Recorder persists terminal calls so history survives restarts.
	Recorder core.CallRecorder
	// Purger deletes history when a connection is removed from its source.
	Purger HistoryPurger
	// Resolver expands placeholders in connection URLs before opening drivers.
	Resolver *secret.Resolver
	// DriverFactory overrides dbclient.NewDriver, mostly for tests.
	DriverFactory core.DriverFactory
	// Sinks receive buffer and clipboard exports.
	Sinks export.Sinks
	// Helpers are extra helper templates keyed by driver type then name.
	Helpers map[string]map[string]string
}

// Handler owns the sources, the connection registry and the event bus.
type Handler struct {
	ctx    context.Context
	cancel context.CancelFunc

	bus      *event.Bus
	registry *core.Registry
	inflight *core.InFlight
	purger   HistoryPurger
	sinks    export.Sinks

	mu      sync.RWMutex
	sources map[string]source.Source
	helpers map[string]map[string]string // driver type ("" = any) → name → template

	lifecycle sync.Mutex
	cronSched *cron.Cron
	watcher   *source.Watcher
}

// NewHandler creates a handler with no sources.
func NewHandler(opts Options) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		ctx:      ctx,
		cancel:   cancel,
		bus:      event.NewBus(),
		inflight: &core.InFlight{},
		purger:   opts.Purger,
		sinks:    opts.Sinks,
		sources:  make(map[string]source.Source),
		helpers:  make(map[string]map[string]string),
	}

	factory := opts.DriverFactory
	if factory == nil {
		factory = dbclient.NewDriver
	}
	if opts.Resolver != nil {
		factory = resolvingFactory(opts.Resolver, factory)
	}

	h.registry = core.NewRegistry(factory, core.Options{
		Context:  ctx,
		Emitter:  h.bus,
		Archive:  opts.Archive,
		Recorder: opts.Recorder,
		InFlight: h.inflight,
	})

	for typ, helpers := range opts.Helpers {
		h.AddHelpers(typ, helpers)
	}
	return h
}

// resolvingFactory expands URL placeholders right before a driver is opened,
// so the registry and the editor only ever see the unresolved URL.
func resolvingFactory(r *secret.Resolver, next core.DriverFactory) core.DriverFactory {
	return func(spec domain.ConnectionSpec) (dbclient.Driver, error) {
		url, err := r.Resolve(spec.URL)
		if err != nil {
			return nil, err
		}
		spec.URL = url
		return next(spec)
	}
}

// RegisterEventListener subscribes fn to an event. The returned function
// unsubscribes it.
func (h *Handler) RegisterEventListener(name string, fn event.Listener) func() {
	return h.bus.Register(name, fn)
}

// AddHelpers registers extra helper templates for a driver type, or for
// every type when typ is empty. Later registrations win.
func (h *Handler) AddHelpers(typ string, helpers map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dst := h.helpers[typ]
	if dst == nil {
		dst = make(map[string]string, len(helpers))
		h.helpers[typ] = dst
	}
	for name, tpl := range helpers {
		dst[name] = tpl
	}
}

func (h *Handler) extraHelpers(typ string) map[string]string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]string)
	for name, tpl := range h.helpers[""] {
		out[name] = tpl
	}
	for name, tpl := range h.helpers[typ] {
		out[name] = tpl
	}
	return out
}

// abortGrace bounds how long Close waits for canceled calls to record their
// final state.
const abortGrace = 5 * time.Second

// Close stops background reloads, waits for running calls until ctx is done,
// then cancels whatever is left and closes every connection. It returns once
// the canceled calls have recorded their final state, or after abortGrace.
func (h *Handler) Close(ctx context.Context) {
	h.StopAutoReload()
	h.StopWatching()

	if n := h.inflight.Len(); n > 0 {
		log.Logger.WithField("calls", n).Info("waiting for running calls")
	}
	h.inflight.WaitAll(ctx)

	h.cancel()
	h.registry.Close()

	if n := h.inflight.Len(); n > 0 {
		log.Logger.WithField("calls", n).Info("waiting for canceled calls to stop")
		abortCtx, cancel := context.WithTimeout(context.Background(), abortGrace)
		h.inflight.WaitAll(abortCtx)
		cancel()
		if n := h.inflight.Len(); n > 0 {
			log.Logger.WithField("calls", n).Warn("calls still running after shutdown")
		}
	}
	h.bus.Clear()
}
