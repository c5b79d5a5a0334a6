package event

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"quantcore/internal/errs"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchPriorityOrder(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	var order []string

	record := func(name string) Handler {
		return func(Event) (*Event, error) {
			order = append(order, name)
			return nil, nil
		}
	}
	if err := e.Register(BAR, record("low"), 1); err != nil {
		t.Fatal(err)
	}
	if err := e.Register(BAR, record("high"), 10); err != nil {
		t.Fatal(err)
	}
	// same priority as "low": registration order breaks the tie
	if err := e.Register(BAR, record("low2"), 1); err != nil {
		t.Fatal(err)
	}

	e.Start()
	if err := e.Put(New(BAR, nil)); err != nil {
		t.Fatal(err)
	}

	want := []string{"high", "low", "low2"}
	if len(order) != len(want) {
		t.Fatalf("handler order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("handler order = %v, want %v", order, want)
		}
	}
}

func TestHandlerErrorIsolation(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	var reached bool

	_ = e.Register(ORDER, func(Event) (*Event, error) {
		return nil, errors.New("boom")
	}, 10)
	_ = e.Register(ORDER, func(Event) (*Event, error) {
		panic("worse")
	}, 5)
	_ = e.Register(ORDER, func(Event) (*Event, error) {
		reached = true
		return nil, nil
	}, 1)

	e.Start()
	if err := e.Put(New(ORDER, nil)); err != nil {
		t.Fatal(err)
	}

	if !reached {
		t.Error("later handler should still run after earlier failures")
	}
	if got := e.Stats().ErrorCount; got != 2 {
		t.Errorf("errorCount = %d, want 2", got)
	}
}

func TestMiddlewareTransformAndDrop(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	var seen []string

	_ = e.Use(func(ev Event) (*Event, error) {
		if ev.Type == TICK {
			return nil, nil // drop ticks
		}
		ev.Source = "tagged"
		return &ev, nil
	})
	_ = e.Register(BAR, func(ev Event) (*Event, error) {
		seen = append(seen, ev.Source)
		return nil, nil
	}, 0)
	_ = e.Register(TICK, func(Event) (*Event, error) {
		t.Error("dropped event must not reach handlers")
		return nil, nil
	}, 0)

	e.Start()
	_ = e.Put(New(BAR, nil))
	_ = e.Put(New(TICK, nil))

	if len(seen) != 1 || seen[0] != "tagged" {
		t.Errorf("seen = %v, want the transformed event", seen)
	}
}

func TestMiddlewareErrorContinuesUnchanged(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	var got Event

	// error only on BAR so Start's synthetic START stays out of the count
	_ = e.Use(func(ev Event) (*Event, error) {
		if ev.Type != BAR {
			return &ev, nil
		}
		return nil, errors.New("middleware broke")
	})
	_ = e.Register(BAR, func(ev Event) (*Event, error) {
		got = ev
		return nil, nil
	}, 0)

	e.Start()
	ev := New(BAR, "payload")
	ev.Source = "origin"
	_ = e.Put(ev)

	if got.Source != "origin" || got.Payload != "payload" {
		t.Errorf("event should pass through unchanged on middleware error, got %+v", got)
	}
	if e.Stats().ErrorCount != 1 {
		t.Errorf("errorCount = %d, want 1", e.Stats().ErrorCount)
	}
}

func TestPutWhileStoppedDropsAndCounts(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	_ = e.Register(BAR, func(Event) (*Event, error) {
		t.Error("handler must not run while stopped")
		return nil, nil
	}, 0)

	if err := e.Put(New(BAR, nil)); err != nil {
		t.Fatal(err)
	}

	stats := e.Stats()
	if stats.Dropped != 1 {
		t.Errorf("dropped = %d, want 1", stats.Dropped)
	}
	if stats.EventCount != 0 {
		t.Errorf("eventCount = %d, want 0", stats.EventCount)
	}
}

func TestHandlerResultRedispatch(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	var trades int

	_ = e.Register(ORDER, func(Event) (*Event, error) {
		next := New(TRADE, nil)
		return &next, nil
	}, 0)
	_ = e.Register(TRADE, func(Event) (*Event, error) {
		trades++
		return nil, nil
	}, 0)

	e.Start()
	_ = e.Put(New(ORDER, nil))

	if trades != 1 {
		t.Errorf("trades = %d, want 1", trades)
	}
}

func TestRedispatchDepthCeiling(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	var calls int

	// re-dispatches itself forever; the depth ceiling must cut it off
	_ = e.Register(HEARTBEAT, func(Event) (*Event, error) {
		calls++
		next := New(HEARTBEAT, nil)
		return &next, nil
	}, 0)

	e.Start()
	if err := e.Put(New(HEARTBEAT, nil)); err != nil {
		t.Fatal(err)
	}

	if calls != maxDispatchDepth+1 {
		t.Errorf("handler ran %d times, want %d", calls, maxDispatchDepth+1)
	}
	if e.Stats().ErrorCount != 1 {
		t.Errorf("errorCount = %d, want 1", e.Stats().ErrorCount)
	}
}

func TestRedispatchDepthErrorIsTyped(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()

	err := e.dispatch(New(BAR, nil), maxDispatchDepth+1)
	if !errs.IsKind(err, errs.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var fe *errs.Error
	if !errors.As(err, &fe) || fe.Code != "EVENT_DEPTH_EXCEEDED" {
		t.Errorf("code = %v, want EVENT_DEPTH_EXCEEDED", err)
	}
}

func TestStartStopEmitSyntheticEvents(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	var starts, stops int

	_ = e.Register(START, func(Event) (*Event, error) {
		starts++
		return nil, nil
	}, 0)
	_ = e.Register(STOP, func(Event) (*Event, error) {
		stops++
		return nil, nil
	}, 0)

	e.Start()
	e.Stop()

	if starts != 1 || stops != 1 {
		t.Errorf("starts=%d stops=%d, want 1 and 1", starts, stops)
	}
	if e.Running() {
		t.Error("engine should be stopped")
	}
}

func TestUnregisterRemovesByIdentity(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	var a, b int

	ha := Handler(func(Event) (*Event, error) { a++; return nil, nil })
	hb := Handler(func(Event) (*Event, error) { b++; return nil, nil })
	_ = e.Register(BAR, ha, 0)
	_ = e.Register(BAR, hb, 0)

	if !e.Unregister(BAR, ha) {
		t.Fatal("Unregister should report removal")
	}
	if e.Unregister(BAR, ha) {
		t.Error("second Unregister should report nothing removed")
	}

	e.Start()
	_ = e.Put(New(BAR, nil))

	if a != 0 || b != 1 {
		t.Errorf("a=%d b=%d, want 0 and 1", a, b)
	}
}

func TestRegisterRejectsNil(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	if err := e.Register(BAR, nil, 0); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("Register(nil) = %v, want validation error", err)
	}
	if err := e.Use(nil); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("Use(nil) = %v, want validation error", err)
	}
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()

	e := NewEngine(testLogger())
	for i := 0; i < 3; i++ {
		_ = e.Register(BAR, func(Event) (*Event, error) { return nil, nil }, i)
	}
	_ = e.Register(TRADE, func(Event) (*Event, error) { return nil, nil }, 0)
	_ = e.Use(func(ev Event) (*Event, error) { return &ev, nil })

	e.Start()
	for i := 0; i < 5; i++ {
		_ = e.Put(New(BAR, fmt.Sprintf("p%d", i)))
	}

	stats := e.Stats()
	if !stats.Running {
		t.Error("stats should report running")
	}
	// 5 bars + the START event
	if stats.EventCount != 6 {
		t.Errorf("eventCount = %d, want 6", stats.EventCount)
	}
	if stats.Handlers[BAR] != 3 || stats.Handlers[TRADE] != 1 {
		t.Errorf("handlers = %v", stats.Handlers)
	}
	if stats.Middlewares != 1 {
		t.Errorf("middlewares = %d, want 1", stats.Middlewares)
	}
}
