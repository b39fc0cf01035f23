package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsAllTasks(t *testing.T) {
	p := New(nil, 4, 8)
	var n atomic.Int32
	for i := 0; i < 100; i++ {
		require.NoError(t, p.Submit(context.Background(), func() { n.Add(1) }))
	}
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(100), n.Load())
}

func TestPool_TrySubmitFull(t *testing.T) {
	p := New(nil, 1, 1)
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, p.TrySubmit(func() {
		close(started)
		<-release
	}))
	<-started
	require.NoError(t, p.TrySubmit(func() {}))

	assert.ErrorIs(t, p.TrySubmit(func() {}), ErrPoolFull)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_SubmitBlocksUntilCtxDone(t *testing.T) {
	p := New(nil, 1, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_ClosedRejects(t *testing.T) {
	p := New(nil, 2, 2)
	require.NoError(t, p.Shutdown(context.Background()))

	assert.ErrorIs(t, p.Submit(context.Background(), func() {}), ErrPoolClosed)
	assert.ErrorIs(t, p.TrySubmit(func() {}), ErrPoolClosed)
	// second shutdown is a no-op
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPool_ShutdownReleasesBlockedSubmitter(t *testing.T) {
	p := New(nil, 1, 0)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() {
		close(started)
		<-release
	}))
	<-started

	errc := make(chan error, 1)
	go func() { errc <- p.Submit(context.Background(), func() {}) }()
	time.Sleep(20 * time.Millisecond)

	shut := make(chan error, 1)
	go func() { shut <- p.Shutdown(context.Background()) }()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrPoolClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked submitter not released")
	}
	close(release)
	require.NoError(t, <-shut)
}

func TestPool_ShutdownDrainsQueue(t *testing.T) {
	p := New(nil, 1, 10)
	var mu sync.Mutex
	var order []int
	gate := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func() { <-gate }))
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, p.Submit(context.Background(), func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}
	close(gate)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPool_ShutdownTimeout(t *testing.T) {
	p := New(nil, 1, 1)
	release := make(chan struct{})
	defer close(release)
	require.NoError(t, p.Submit(context.Background(), func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), context.DeadlineExceeded)
}

func TestPool_PanicDoesNotKillWorker(t *testing.T) {
	p := New(nil, 1, 4)
	var ran atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func() { panic("boom") }))
	require.NoError(t, p.Submit(context.Background(), func() { ran.Store(true) }))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.True(t, ran.Load())
}
