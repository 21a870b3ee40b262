// Package camera holds the single most-recently-published camera
// state: a mutex-guarded snapshot written by whichever client
// request last moved the viewport, and read by anyone else
// who wants to know where the camera currently is without racing the
// writer.
package camera

import (
	"sync"
	"time"

	"camtiles/internal/aabb"
)

// Mode is the client's rendering mode, carried through unchanged so a
// response can echo back what was requested.
type Mode string

const (
	TwoD   Mode = "TWO_D"
	ThreeD Mode = "THREE_D"
)

// State is a camera pose as reported by a client: the viewport box in
// the planar metric CRS, the client's resolution, its zoom level, and
// its 2D/3D mode.
type State struct {
	Bounds         aabb.Box
	MetersPerPixel float64
	Zoom           float64
	Mode           Mode
	UpdatedAt      time.Time
}

// Store is a single-writer-many-reader snapshot of the most recent
// camera State. The zero value is ready to use and reports no state
// published yet.
type Store struct {
	mu    sync.Mutex
	state State
	set   bool
}

// Publish records s as the current camera state.
func (s *Store) Publish(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.set = true
}

// Current returns the most recently published state and whether any
// state has been published yet.
func (s *Store) Current() (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.set
}
