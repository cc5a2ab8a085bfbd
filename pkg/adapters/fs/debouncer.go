package fs

import (
	"sync"
	"time"

	"github.com/aretw0/docsync/pkg/core"
)

// debouncer coalesces bursts of events for the same name. Editors and
// atomic renames produce several fsnotify events per logical write; only
// the last one inside the window is delivered.
type debouncer struct {
	window time.Duration

	mu      sync.Mutex
	timers  map[string]*time.Timer
	latest  map[string]core.Event
	stopped bool
	wg      sync.WaitGroup
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window: window,
		timers: make(map[string]*time.Timer),
		latest: make(map[string]core.Event),
	}
}

func (d *debouncer) add(e core.Event, deliver func(core.Event)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.latest[e.Name] = e
	if t, ok := d.timers[e.Name]; ok {
		if t.Stop() {
			t.Reset(d.window)
			return
		}
		// Timer already fired; its callback owns the wg slot.
	}

	d.wg.Add(1)
	name := e.Name
	d.timers[name] = time.AfterFunc(d.window, func() {
		defer d.wg.Done()
		d.mu.Lock()
		ev, ok := d.latest[name]
		delete(d.latest, name)
		delete(d.timers, name)
		stopped := d.stopped
		d.mu.Unlock()
		if ok && !stopped {
			deliver(ev)
		}
	})
}

// stopAndWait drops pending events and waits up to timeout for callbacks
// already running.
func (d *debouncer) stopAndWait(timeout time.Duration) {
	d.mu.Lock()
	d.stopped = true
	for name, t := range d.timers {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.timers, name)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
