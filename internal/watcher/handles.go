package watcher

import (
	"sync"
	"time"
)

// handles is the set of cancellable resources owned by a watcher. Release
// stops them in reverse order of acquisition, exactly once.
type handles struct {
	mu       sync.Mutex
	stops    []func()
	released bool
}

// add registers a stop function. If the set is already released, stop runs
// immediately.
func (h *handles) add(stop func()) {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		stop()
		return
	}
	h.stops = append(h.stops, stop)
	h.mu.Unlock()
}

func (h *handles) release() {
	h.mu.Lock()
	stops := h.stops
	h.stops = nil
	h.released = true
	h.mu.Unlock()

	for i := len(stops) - 1; i >= 0; i-- {
		stops[i]()
	}
}

// debouncer runs fn once after calls stop arriving for window.
type debouncer struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, fn func()) *debouncer {
	return &debouncer{window: window, fn: fn}
}

// trigger (re)starts the window.
func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fn)
}

// stop cancels a pending run. Later triggers are ignored.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
