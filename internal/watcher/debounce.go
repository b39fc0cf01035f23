package watcher

import (
	"context"
	"sync"
	"time"
)

// DefaultWindow is the quiet period a path needs before its event is emitted.
const DefaultWindow = 300 * time.Millisecond

// Debouncer holds one timer per path. Each new event for a path resets its
// timer; when the timer expires the merged event is queued for dispatch.
// If the queue is full a single Rescan is raised instead.
type Debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]*pendingEvent
	stopped bool

	out    chan Event
	rescan chan struct{}
}

type pendingEvent struct {
	kind  Kind
	seq   uint64
	timer *time.Timer
}

// NewDebouncer creates a debouncer with the given window and output queue size.
func NewDebouncer(window time.Duration, queue int) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	if queue <= 0 {
		queue = 256
	}
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		out:     make(chan Event, queue),
		rescan:  make(chan struct{}, 1),
	}
}

// Add records a raw event for path and restarts its timer.
func (d *Debouncer) Add(path string, kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	p, ok := d.pending[path]
	if !ok {
		p = &pendingEvent{}
		d.pending[path] = p
	} else {
		p.timer.Stop()
	}
	p.kind = merge(p.kind, kind)
	p.seq++
	seq := p.seq
	p.timer = time.AfterFunc(d.window, func() { d.fire(path, seq) })
}

func (d *Debouncer) fire(path string, seq uint64) {
	d.mu.Lock()
	p, ok := d.pending[path]
	if !ok || p.seq != seq || d.stopped {
		// superseded by a later Add, or dropped by a rescan
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	kind := p.kind
	d.mu.Unlock()

	select {
	case d.out <- Event{Path: path, Kind: kind, At: time.Now()}:
	default:
		d.Rescan()
	}
}

// Rescan drops every pending path and raises one Rescan event. Repeated
// calls before the dispatcher picks it up collapse into one.
func (d *Debouncer) Rescan() {
	d.mu.Lock()
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
	d.mu.Unlock()

	select {
	case d.rescan <- struct{}{}:
	default:
	}
}

// Pending returns the number of paths waiting for their window to expire.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Run delivers events to h from a single goroutine until ctx is cancelled.
func (d *Debouncer) Run(ctx context.Context, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.rescan:
			h(Event{Kind: Rescan, At: time.Now()})
		case ev := <-d.out:
			h(ev)
		}
	}
}

// Stop cancels all pending timers. Events already queued are not delivered
// once Run has returned.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for path, p := range d.pending {
		p.timer.Stop()
		delete(d.pending, path)
	}
}
