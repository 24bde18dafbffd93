package kb

import (
	"fmt"
	"sync"
	"testing"

	"github.com/signalsfoundry/coverage-simulator/model"
)

var visible = model.InstrumentProperties{Band: model.VisNIR, Aperture: 1}

func TestRegisterAndInstruments(t *testing.T) {
	r := NewImagerRegistry()
	r.Register("p1", []model.InstrumentProperties{visible})

	got, ok := r.Instruments("p1")
	if !ok || len(got) != 1 || got[0] != visible {
		t.Fatalf("Instruments(p1) = %#v, %v, want [%#v], true", got, ok, visible)
	}
	if _, ok := r.Instruments("missing"); ok {
		t.Fatalf("Instruments(missing) reported ok")
	}
}

func TestRegisterReplacesAndCopies(t *testing.T) {
	r := NewImagerRegistry()
	inst := []model.InstrumentProperties{visible}
	r.Register("p1", inst)
	inst[0].Aperture = 42

	got, _ := r.Instruments("p1")
	if got[0].Aperture != 1 {
		t.Fatalf("registry aliased caller slice: aperture = %v, want 1", got[0].Aperture)
	}

	r.Register("p1", []model.InstrumentProperties{{Band: model.MidInfrared, Aperture: 0.5}, visible})
	got, _ = r.Instruments("p1")
	if len(got) != 2 || got[0].Band != model.MidInfrared {
		t.Fatalf("Register did not replace instruments: %#v", got)
	}
	if r.Len() != 1 {
		t.Fatalf("Len = %d, want 1", r.Len())
	}
}

func TestUnregisterAndClearAreIdempotent(t *testing.T) {
	r := NewImagerRegistry()
	r.Register("p1", []model.InstrumentProperties{visible})
	r.Register("p2", []model.InstrumentProperties{visible})

	r.Unregister("p1")
	r.Unregister("p1")
	if r.Len() != 1 {
		t.Fatalf("Len after Unregister = %d, want 1", r.Len())
	}

	r.Clear()
	r.Clear()
	if r.Len() != 0 {
		t.Fatalf("Len after Clear = %d, want 0", r.Len())
	}
}

func TestSnapshotIsSortedAndDetached(t *testing.T) {
	r := NewImagerRegistry()
	for _, id := range []string{"c", "a", "b"} {
		r.Register(id, []model.InstrumentProperties{visible})
	}

	snap := r.Snapshot()
	if len(snap) != 3 || snap[0].PlatformID != "a" || snap[1].PlatformID != "b" || snap[2].PlatformID != "c" {
		t.Fatalf("Snapshot order = %v, want a, b, c", snap)
	}

	r.Unregister("a")
	if len(snap) != 3 || snap[0].PlatformID != "a" {
		t.Fatalf("snapshot changed after Unregister: %v", snap)
	}
}

func TestSubscribeReceivesEvents(t *testing.T) {
	r := NewImagerRegistry()
	var events []Event
	unsubscribe := r.Subscribe(func(ev Event) { events = append(events, ev) })

	r.Register("p1", []model.InstrumentProperties{visible})
	r.Unregister("p1")
	r.Unregister("p1") // no-op, no event
	r.Clear()

	want := []EventType{EventImagerRegistered, EventImagerUnregistered, EventImagersCleared}
	if len(events) != len(want) {
		t.Fatalf("got %d events, want %d: %#v", len(events), len(want), events)
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Fatalf("event %d type = %v, want %v", i, ev.Type, want[i])
		}
	}
	if events[0].Active != 1 || events[1].Active != 0 {
		t.Fatalf("Active counts = %d, %d, want 1, 0", events[0].Active, events[1].Active)
	}

	unsubscribe()
	r.Register("p2", []model.InstrumentProperties{visible})
	if len(events) != len(want) {
		t.Fatalf("received event after unsubscribe")
	}
}

func TestConcurrentRegisterAndSnapshot(t *testing.T) {
	r := NewImagerRegistry()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p-%d", i)
			r.Register(id, []model.InstrumentProperties{visible})
			_ = r.Snapshot()
		}(i)
	}
	wg.Wait()

	if r.Len() != 8 {
		t.Fatalf("Len = %d, want 8", r.Len())
	}
}
