package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func runDebouncer(t *testing.T, d *Debouncer) *recorder {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx, rec.handle)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		d.Stop()
	})
	return rec
}

func TestMerge(t *testing.T) {
	cases := []struct {
		prev, next, want Kind
	}{
		{0, Modified, Modified},
		{Modified, Removed, Removed},
		{Removed, Modified, Removed},
		{Created, Modified, Created},
		{Created, Removed, Removed},
		{Removed, Created, Modified},
		{Modified, Modified, Modified},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, merge(c.prev, c.next), "%s then %s", c.prev, c.next)
	}
}

func TestDebouncer_BurstCoalescesToOneEvent(t *testing.T) {
	d := NewDebouncer(50*time.Millisecond, 16)
	rec := runDebouncer(t, d)

	for i := 0; i < 5; i++ {
		d.Add("/c/a.md", Modified)
		time.Sleep(5 * time.Millisecond)
	}

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(rec.snapshot()) == 1
	}, "expected one coalesced event")

	// nothing else trickles in after the window
	time.Sleep(150 * time.Millisecond)
	events := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "/c/a.md", events[0].Path)
	assert.Equal(t, Modified, events[0].Kind)
}

func TestDebouncer_RemovedWinsOverModified(t *testing.T) {
	d := NewDebouncer(40*time.Millisecond, 16)
	rec := runDebouncer(t, d)

	d.Add("/c/a.md", Modified)
	d.Add("/c/a.md", Removed)
	d.Add("/c/a.md", Modified)

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(rec.snapshot()) == 1
	}, "expected one event")
	assert.Equal(t, Removed, rec.snapshot()[0].Kind)
}

func TestDebouncer_AtomicSaveIsModified(t *testing.T) {
	d := NewDebouncer(40*time.Millisecond, 16)
	rec := runDebouncer(t, d)

	d.Add("/c/a.md", Removed)
	d.Add("/c/a.md", Created)

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(rec.snapshot()) == 1
	}, "expected one event")
	assert.Equal(t, Modified, rec.snapshot()[0].Kind)
}

func TestDebouncer_PathsDebounceIndependently(t *testing.T) {
	d := NewDebouncer(40*time.Millisecond, 16)
	rec := runDebouncer(t, d)

	d.Add("/c/a.md", Created)
	d.Add("/c/b.md", Modified)
	d.Add("/c/a.md", Modified)

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(rec.snapshot()) == 2
	}, "expected one event per path")

	got := map[string]Kind{}
	for _, ev := range rec.snapshot() {
		got[ev.Path] = ev.Kind
	}
	assert.Equal(t, map[string]Kind{"/c/a.md": Created, "/c/b.md": Modified}, got)
}

func TestDebouncer_FullQueueRaisesSingleRescan(t *testing.T) {
	d := NewDebouncer(10*time.Millisecond, 1)

	// no dispatcher yet, so only one event fits in the queue
	d.Add("/c/a.md", Modified)
	d.Add("/c/b.md", Modified)
	d.Add("/c/c.md", Modified)
	eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		return d.Pending() == 0
	}, "timers did not fire")
	time.Sleep(20 * time.Millisecond)

	rec := runDebouncer(t, d)
	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool {
		return len(rec.snapshot()) == 2
	}, "expected queued event plus rescan")

	var rescans int
	for _, ev := range rec.snapshot() {
		if ev.Kind == Rescan {
			rescans++
			assert.Empty(t, ev.Path)
		}
	}
	assert.Equal(t, 1, rescans)
}

func TestDebouncer_RescanDropsPending(t *testing.T) {
	d := NewDebouncer(time.Hour, 4)
	d.Add("/c/a.md", Modified)
	d.Add("/c/b.md", Modified)
	require.Equal(t, 2, d.Pending())

	d.Rescan()
	d.Rescan()
	assert.Equal(t, 0, d.Pending())

	rec := runDebouncer(t, d)
	eventually(t, time.Second, 10*time.Millisecond, func() bool {
		return len(rec.snapshot()) == 1
	}, "expected one rescan")
	assert.Equal(t, Rescan, rec.snapshot()[0].Kind)
}

func TestDebouncer_StopCancelsTimers(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 4)
	d.Add("/c/a.md", Modified)
	d.Stop()
	d.Add("/c/b.md", Modified)

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, d.out, 0)
	assert.Equal(t, 0, d.Pending())
}
