// Package kb holds the registry of platforms that are currently imaging.
package kb

import (
	"sort"
	"sync"

	"github.com/signalsfoundry/coverage-simulator/model"
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventImagerRegistered EventType = iota
	EventImagerUnregistered
	EventImagersCleared
)

// Event is emitted to subscribers after every registry mutation.
type Event struct {
	Type       EventType
	PlatformID string
	// Active is the number of registered imagers after the change.
	Active int
}

// Imager is a snapshot of one registered platform.
type Imager struct {
	PlatformID  string
	Instruments []model.InstrumentProperties
}

// ImagerRegistry is an in-memory, thread-safe map from platform ID to the
// instruments it is currently operating. It owns no orbital state.
type ImagerRegistry struct {
	mu sync.RWMutex

	imagers map[string][]model.InstrumentProperties

	subs   map[int]func(Event)
	nextID int
}

// NewImagerRegistry constructs an empty registry.
func NewImagerRegistry() *ImagerRegistry {
	return &ImagerRegistry{
		imagers: make(map[string][]model.InstrumentProperties),
		subs:    make(map[int]func(Event)),
	}
}

// Register inserts or replaces the instruments of a platform. The slice is
// copied so later caller mutations do not leak into stepping.
func (r *ImagerRegistry) Register(platformID string, instruments []model.InstrumentProperties) {
	r.mu.Lock()
	r.imagers[platformID] = append([]model.InstrumentProperties(nil), instruments...)
	ev := Event{Type: EventImagerRegistered, PlatformID: platformID, Active: len(r.imagers)}
	subs := r.subscribers()
	r.mu.Unlock()

	notify(subs, ev)
}

// Unregister removes a platform. Unknown IDs are ignored.
func (r *ImagerRegistry) Unregister(platformID string) {
	r.mu.Lock()
	if _, ok := r.imagers[platformID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.imagers, platformID)
	ev := Event{Type: EventImagerUnregistered, PlatformID: platformID, Active: len(r.imagers)}
	subs := r.subscribers()
	r.mu.Unlock()

	notify(subs, ev)
}

// Clear removes every platform.
func (r *ImagerRegistry) Clear() {
	r.mu.Lock()
	clear(r.imagers)
	subs := r.subscribers()
	r.mu.Unlock()

	notify(subs, Event{Type: EventImagersCleared})
}

// Instruments returns a copy of the instruments registered for a platform.
func (r *ImagerRegistry) Instruments(platformID string) ([]model.InstrumentProperties, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.imagers[platformID]
	if !ok {
		return nil, false
	}
	return append([]model.InstrumentProperties(nil), inst...), true
}

// Len returns the number of registered platforms.
func (r *ImagerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.imagers)
}

// Snapshot returns the registered imagers ordered by platform ID. The
// result is independent of later registry changes.
func (r *ImagerRegistry) Snapshot() []Imager {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]Imager, 0, len(r.imagers))
	for id, inst := range r.imagers {
		res = append(res, Imager{
			PlatformID:  id,
			Instruments: append([]model.InstrumentProperties(nil), inst...),
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].PlatformID < res[j].PlatformID })
	return res
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function.
func (r *ImagerRegistry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// subscribers must be called with r.mu held.
func (r *ImagerRegistry) subscribers() []func(Event) {
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.subs[id])
	}
	return out
}

// notify runs outside the lock to avoid deadlocks with subscribers that
// read the registry.
func notify(subs []func(Event), ev Event) {
	for _, sub := range subs {
		sub(ev)
	}
}
