// Package geofence tracks whether a position is inside the loading or unloading
// radius of an order and reports boundary crossings.
package geofence

import (
	"sync"

	"github.com/BearBump/LoadTrack/internal/geo"
)

const DefaultRadiusMeters = 150.0

type Kind string

const (
	EnteredLoading   Kind = "entered_loading"
	ExitedLoading    Kind = "exited_loading"
	EnteredUnloading Kind = "entered_unloading"
	ExitedUnloading  Kind = "exited_unloading"
)

// Fences are the centers to check. A nil center is never entered.
type Fences struct {
	Loading      *geo.Point
	Unloading    *geo.Point
	RadiusMeters float64
}

func (f Fences) radius() float64 {
	if f.RadiusMeters <= 0 {
		return DefaultRadiusMeters
	}
	return f.RadiusMeters
}

type State struct {
	InsideLoading   bool
	InsideUnloading bool
}

type Events struct {
	EnteredLoading   bool
	ExitedLoading    bool
	EnteredUnloading bool
	ExitedUnloading  bool
}

func (e Events) Any() bool {
	return e.EnteredLoading || e.ExitedLoading || e.EnteredUnloading || e.ExitedUnloading
}

// Kinds lists the fired events in a stable order.
func (e Events) Kinds() []Kind {
	var out []Kind
	if e.ExitedLoading {
		out = append(out, ExitedLoading)
	}
	if e.EnteredLoading {
		out = append(out, EnteredLoading)
	}
	if e.ExitedUnloading {
		out = append(out, ExitedUnloading)
	}
	if e.EnteredUnloading {
		out = append(out, EnteredUnloading)
	}
	return out
}

// Evaluate is edge-triggered: an event fires only when the inside flag flips.
func Evaluate(prev State, pos geo.Point, fences Fences) (State, Events) {
	r := fences.radius()
	next := State{
		InsideLoading:   inside(pos, fences.Loading, r),
		InsideUnloading: inside(pos, fences.Unloading, r),
	}
	ev := Events{
		EnteredLoading:   !prev.InsideLoading && next.InsideLoading,
		ExitedLoading:    prev.InsideLoading && !next.InsideLoading,
		EnteredUnloading: !prev.InsideUnloading && next.InsideUnloading,
		ExitedUnloading:  prev.InsideUnloading && !next.InsideUnloading,
	}
	return next, ev
}

func inside(pos geo.Point, center *geo.Point, radius float64) bool {
	if center == nil {
		return false
	}
	return geo.DistanceMeters(pos, *center) <= radius
}

// Monitor keeps per-order State between samples.
type Monitor struct {
	mu     sync.Mutex
	states map[string]State
}

func NewMonitor() *Monitor {
	return &Monitor{states: make(map[string]State)}
}

func (m *Monitor) Evaluate(orderID string, pos geo.Point, fences Fences) Events {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, ev := Evaluate(m.states[orderID], pos, fences)
	m.states[orderID] = next
	return ev
}

func (m *Monitor) Reset(orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, orderID)
}

func (m *Monitor) State(orderID string) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[orderID]
	return s, ok
}
