// Package event implements the synchronous priority event bus.
//
// The engine dispatches events to handlers in descending priority order,
// runs a middleware chain before any handler sees an event, and isolates
// handler failures: a panicking or erroring handler is counted and logged,
// and dispatch continues with the next handler. A put call completes all
// middleware, all handlers, and all recursively re-dispatched events
// before returning.
package event

import (
	"log/slog"
	"reflect"
	"sort"
	"sync"
	"time"

	"quantcore/internal/errs"
)

// Type identifies the event class. The enumeration is closed; producers
// must use one of the declared constants.
type Type string

const (
	// Market data events.
	BAR   Type = "BAR"
	TICK  Type = "TICK"
	QUOTE Type = "QUOTE"

	// Trading events.
	ORDER    Type = "ORDER"
	TRADE    Type = "TRADE"
	POSITION Type = "POSITION"
	SIGNAL   Type = "SIGNAL"

	// System events.
	START     Type = "START"
	STOP      Type = "STOP"
	ERROR     Type = "ERROR"
	LOG       Type = "LOG"
	HEARTBEAT Type = "HEARTBEAT"

	// Risk events.
	RISK         Type = "RISK"
	RISK_CHECK   Type = "RISK_CHECK"
	RISK_TRIGGER Type = "RISK_TRIGGER"

	// Strategy lifecycle events.
	STRATEGY_INIT Type = "STRATEGY_INIT"
	STRATEGY_STOP Type = "STRATEGY_STOP"
)

// Event is the unit of dispatch.
type Event struct {
	Type      Type
	Payload   any
	Source    string
	Timestamp time.Time
}

// New builds an event stamped with the current time.
func New(t Type, payload any) Event {
	return Event{Type: t, Payload: payload, Timestamp: time.Now()}
}

// Handler processes one event. Returning a non-nil event re-dispatches it
// recursively; returning nil, nil means the handler is done.
type Handler func(Event) (*Event, error)

// Middleware transforms an event before handlers run. Returning nil drops
// the event and halts propagation.
type Middleware func(Event) (*Event, error)

// maxDispatchDepth caps recursive re-dispatch. A handler chain that keeps
// producing follow-up events beyond this depth is cut off with a typed
// validation error, counted and logged like any other handler failure.
const maxDispatchDepth = 64

type handlerInfo struct {
	handler  Handler
	priority int
	seq      int // registration order, breaks priority ties
}

// Stats is a snapshot of engine counters.
type Stats struct {
	Running     bool
	EventCount  int
	ErrorCount  int
	Dropped     int
	Handlers    map[Type]int
	Middlewares int
}

// Engine is the synchronous event bus. All dispatch happens on the
// caller's goroutine; the mutex only guards registration state and
// counters so handlers may safely re-enter Put.
type Engine struct {
	mu          sync.Mutex
	handlers    map[Type][]handlerInfo
	middlewares []Middleware
	running     bool
	eventCount  int
	errorCount  int
	dropped     int
	seq         int

	logger *slog.Logger
}

// NewEngine creates a stopped event engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		handlers: make(map[Type][]handlerInfo),
		logger:   logger.With("component", "events"),
	}
}

// Register adds a handler for one event type. Higher priority runs first;
// ties resolve by registration order. A nil handler is rejected.
func (e *Engine) Register(t Type, h Handler, priority int) error {
	if h == nil {
		return errs.New(errs.KindValidation, "event handler must not be nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	list := append(e.handlers[t], handlerInfo{handler: h, priority: priority, seq: e.seq})
	sort.SliceStable(list, func(i, j int) bool { return list[i].priority > list[j].priority })
	e.handlers[t] = list
	return nil
}

// RegisterHandler is the symbolic-name alias for Register.
func (e *Engine) RegisterHandler(t Type, h Handler, priority int) error {
	return e.Register(t, h, priority)
}

// Unregister removes the first handler matching h by function identity.
// Returns whether anything was removed.
func (e *Engine) Unregister(t Type, h Handler) bool {
	if h == nil {
		return false
	}
	target := reflect.ValueOf(h).Pointer()

	e.mu.Lock()
	defer e.mu.Unlock()

	list := e.handlers[t]
	for i, info := range list {
		if reflect.ValueOf(info.handler).Pointer() == target {
			e.handlers[t] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Use appends a middleware to the chain. A nil middleware is rejected.
func (e *Engine) Use(m Middleware) error {
	if m == nil {
		return errs.New(errs.KindValidation, "event middleware must not be nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.middlewares = append(e.middlewares, m)
	return nil
}

// Start resets the counters, marks the engine running, and emits a
// synthetic START event.
func (e *Engine) Start() {
	e.mu.Lock()
	e.running = true
	e.eventCount = 0
	e.errorCount = 0
	e.dropped = 0
	e.mu.Unlock()

	_ = e.Put(Event{Type: START, Source: "engine", Timestamp: time.Now()})
	e.logger.Info("event engine started")
}

// Stop emits a synthetic STOP event and marks the engine stopped.
func (e *Engine) Stop() {
	_ = e.Put(Event{Type: STOP, Source: "engine", Timestamp: time.Now()})

	e.mu.Lock()
	e.running = false
	events, errors := e.eventCount, e.errorCount
	e.mu.Unlock()

	e.logger.Info("event engine stopped", "events", events, "errors", errors)
}

// Running reports whether the engine accepts events.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Put dispatches an event through the middleware chain and handler list.
// While the engine is stopped, events are dropped and counted.
func (e *Engine) Put(ev Event) error {
	return e.dispatch(ev, 0)
}

// Emit is the symbolic-name alias for Put.
func (e *Engine) Emit(ev Event) error {
	return e.Put(ev)
}

func (e *Engine) dispatch(ev Event, depth int) error {
	if depth > maxDispatchDepth {
		err := errs.Newf(errs.KindValidation,
			"event re-dispatch depth exceeded %d", maxDispatchDepth).
			WithCode("EVENT_DEPTH_EXCEEDED").
			With("type", string(ev.Type))
		return err
	}

	e.mu.Lock()
	if !e.running {
		e.dropped++
		e.mu.Unlock()
		e.logger.Warn("engine not running, event dropped", "type", ev.Type)
		return nil
	}
	e.eventCount++
	middlewares := e.middlewares
	e.mu.Unlock()

	current := ev
	for _, m := range middlewares {
		next, err := callMiddleware(m, current)
		if err != nil {
			e.countError()
			e.logger.Error("middleware error", "type", current.Type, "error", err)
			continue
		}
		if next == nil {
			e.logger.Debug("event filtered by middleware", "type", ev.Type)
			return nil
		}
		current = *next
	}

	e.mu.Lock()
	list := make([]handlerInfo, len(e.handlers[current.Type]))
	copy(list, e.handlers[current.Type])
	e.mu.Unlock()

	for _, info := range list {
		next, err := callHandler(info.handler, current)
		if err != nil {
			e.countError()
			e.logger.Error("handler error", "type", current.Type, "error", err)
			continue
		}
		if next != nil {
			if err := e.dispatch(*next, depth+1); err != nil {
				e.countError()
				e.logger.Error("re-dispatch failed", "type", next.Type, "error", err)
			}
		}
	}
	return nil
}

func (e *Engine) countError() {
	e.mu.Lock()
	e.errorCount++
	e.mu.Unlock()
}

// Stats returns a snapshot of the engine counters and registrations.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	handlers := make(map[Type]int, len(e.handlers))
	for t, list := range e.handlers {
		handlers[t] = len(list)
	}
	return Stats{
		Running:     e.running,
		EventCount:  e.eventCount,
		ErrorCount:  e.errorCount,
		Dropped:     e.dropped,
		Handlers:    handlers,
		Middlewares: len(e.middlewares),
	}
}

// callHandler runs a handler inside a recover boundary so a panic is
// reported as an error instead of unwinding the dispatcher.
func callHandler(h Handler, ev Event) (next *Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = errs.Newf(errs.KindGeneric, "handler panic: %v", r)
		}
	}()
	return h(ev)
}

func callMiddleware(m Middleware, ev Event) (next *Event, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = nil
			err = errs.Newf(errs.KindGeneric, "middleware panic: %v", r)
		}
	}()
	return m(ev)
}
