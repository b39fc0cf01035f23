// Package store caches rendered artifacts by route. Renders are
// single-flight per route, ordered by generation, and stale entries are
// served while a refresh runs in the background.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/starford/quill/internal/apperr"
	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/pool"
)

// Loader produces the artifact for a route. It returns an error wrapping
// apperr.ErrNotFound when the route has no source.
type Loader interface {
	Load(ctx context.Context, route string) (*models.Artifact, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, route string) (*models.Artifact, error)

func (f LoaderFunc) Load(ctx context.Context, route string) (*models.Artifact, error) {
	return f(ctx, route)
}

// PlaceholderFunc builds the body served for a route that failed to render
// and has nothing to fall back on.
type PlaceholderFunc func(route string, err error) []byte

type entry struct {
	// key identifies this entry's single flight; a replacement entry for
	// the same route never joins a render started for this one.
	key string

	mu       sync.Mutex
	artifact *models.Artifact
	gen      uint64 // bumped by Invalidate
	builtGen uint64 // generation artifact was rendered from
	err      error
	errGen   uint64 // generation err was produced at
	// refreshing is set while a background refresh is queued or running.
	refreshing bool
}

// attempted is the newest generation a render has completed for.
func (e *entry) attempted() uint64 {
	return max(e.builtGen, e.errGen)
}

func (e *entry) stale() bool {
	return e.attempted() < e.gen
}

// Store is the route to artifact cache.
type Store struct {
	loader      Loader
	pool        *pool.Pool
	logger      *slog.Logger
	placeholder PlaceholderFunc
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]*entry

	group singleflight.Group

	bg       context.Context
	cancel   context.CancelFunc
	closed   atomic.Bool
	renders  atomic.Int64
	failures atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithPlaceholder sets the body used for failed renders with no fallback.
func WithPlaceholder(fn PlaceholderFunc) Option {
	return func(s *Store) { s.placeholder = fn }
}

// WithClock overrides the clock used to stamp artifacts.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store that renders through loader on p. The store owns p
// and shuts it down in Close.
func New(loader Loader, p *pool.Pool, logger *slog.Logger, opts ...Option) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		loader:  loader,
		pool:    p,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]*entry),
		bg:      ctx,
		cancel:  cancel,
		placeholder: func(route string, err error) []byte {
			return []byte(fmt.Sprintf("render failed for %s: %v\n", route, err))
		},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the artifact for route. A missing route is rendered while the
// caller waits; concurrent callers share one render. A stale route returns
// the current artifact at once and schedules a refresh. The error is
// non-nil only when ctx ends first or the store is closed.
func (s *Store) Get(ctx context.Context, route string) (Result, error) {
	if s.closed.Load() {
		return Result{}, apperr.ErrStoreClosed
	}
	e := s.lookupOrCreate(route)

	e.mu.Lock()
	switch {
	case e.attempted() == 0:
		// never rendered
		e.mu.Unlock()
		return s.renderAndWait(ctx, route, e)

	case !e.stale():
		res := s.resultLocked(route, e)
		e.mu.Unlock()
		return res, nil

	case e.artifact == nil:
		// stale, but the last attempt failed and there is nothing to serve
		e.mu.Unlock()
		return s.renderAndWait(ctx, route, e)

	default:
		res := s.resultLocked(route, e)
		schedule := !e.refreshing
		e.refreshing = true
		e.mu.Unlock()
		if schedule {
			s.scheduleRefresh(route, e)
		}
		return res, nil
	}
}

func (s *Store) renderAndWait(ctx context.Context, route string, e *entry) (Result, error) {
	for {
		ch := s.group.DoChan(e.key, s.flight(route, e, false, nil))
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case r := <-ch:
			if errors.Is(r.Err, pool.ErrPoolFull) {
				// joined a background refresh that could not be queued
				continue
			}
			if r.Err != nil {
				return Result{}, r.Err
			}
			return r.Val.(Result), nil
		}
	}
}

// scheduleRefresh starts a background refresh for a stale entry. It never
// blocks the caller; a full pool queue drops the refresh and the next Get
// tries again.
func (s *Store) scheduleRefresh(route string, e *entry) {
	go s.refresh(route, e, true, nil)
}

func (s *Store) refresh(route string, e *entry, try bool, queued chan<- error) {
	_, err, _ := s.group.Do(e.key, s.flight(route, e, try, queued))
	e.mu.Lock()
	e.refreshing = false
	e.mu.Unlock()
	if err != nil && !errors.Is(err, apperr.ErrStoreClosed) {
		s.logger.Debug("store: refresh deferred", slog.String("route", route), slog.String("error", err.Error()))
	}
}

// flight is the single-flight body for e. It queues one render on the pool
// and waits for it, so renders never run outside the pool's workers. With
// try set a full queue fails fast with pool.ErrPoolFull instead of
// blocking. queued, if non-nil, receives the submission result.
//
// Only non-worker goroutines run flights: a worker waiting on a queued task
// could starve the pool.
func (s *Store) flight(route string, e *entry, try bool, queued chan<- error) func() (any, error) {
	return func() (any, error) {
		done := make(chan Result, 1)
		task := func() { done <- s.renderOnce(route, e) }

		var err error
		if try {
			err = s.pool.TrySubmit(task)
		} else {
			err = s.pool.Submit(s.bg, task)
		}
		if queued != nil {
			queued <- err
		}
		if err != nil {
			return nil, s.submitErr(err)
		}

		select {
		case res := <-done:
			return res, nil
		case <-s.bg.Done():
			return nil, apperr.ErrStoreClosed
		}
	}
}

func (s *Store) submitErr(err error) error {
	if errors.Is(err, pool.ErrPoolClosed) || s.bg.Err() != nil {
		return apperr.ErrStoreClosed
	}
	return err
}

// renderOnce renders route at the entry's current generation and installs
// the result. It runs on a pool worker.
func (s *Store) renderOnce(route string, e *entry) Result {
	e.mu.Lock()
	g := e.gen
	if e.attempted() > 0 && !e.stale() {
		// someone else finished this generation first
		res := s.resultLocked(route, e)
		e.mu.Unlock()
		return res
	}
	e.mu.Unlock()

	art, err := s.load(route)
	return s.install(route, e, g, art, err)
}

func (s *Store) load(route string) (art *models.Artifact, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", apperr.ErrRenderFailed, p)
		}
	}()
	s.renders.Add(1)
	art, err = s.loader.Load(s.bg, route)
	if err == nil && art == nil {
		err = fmt.Errorf("%w: loader returned no artifact", apperr.ErrRenderFailed)
	}
	return art, err
}

// install applies a render started at generation g.
func (s *Store) install(route string, e *entry, g uint64, art *models.Artifact, err error) Result {
	s.mu.RLock()
	current := s.entries[route] == e
	s.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !current {
		// removed while rendering
		return Result{Outcome: OutcomeNotFound}
	}

	if errors.Is(err, apperr.ErrNotFound) {
		s.mu.Lock()
		if s.entries[route] == e {
			delete(s.entries, route)
		}
		s.mu.Unlock()
		return Result{Outcome: OutcomeNotFound}
	}

	if err != nil {
		s.failures.Add(1)
		if g > e.errGen && g >= e.builtGen {
			e.err = err
			e.errGen = g
		}
		s.logger.Warn("store: render failed",
			slog.String("route", route),
			slog.Uint64("generation", g),
			slog.String("error", err.Error()))
		return s.resultLocked(route, e)
	}

	if g > e.builtGen {
		e.artifact = art.WithRenderedAt(s.now())
		e.builtGen = g
		if e.errGen <= g {
			e.err = nil
			e.errGen = 0
		}
	}
	return s.resultLocked(route, e)
}

func (s *Store) resultLocked(route string, e *entry) Result {
	var errCurrent bool
	if e.err != nil && e.errGen >= e.builtGen {
		errCurrent = true
	}
	if e.artifact == nil {
		return Result{
			Outcome:   OutcomeFailed,
			Freshness: Errored,
			Artifact: &models.Artifact{
				Route:       route,
				Body:        s.placeholder(route, e.err),
				ContentType: "text/html; charset=utf-8",
				RenderedAt:  s.now(),
			},
			Err: e.err,
		}
	}
	res := Result{Outcome: OutcomeOK, Artifact: e.artifact}
	switch {
	case errCurrent:
		res.Freshness = Errored
		res.Err = e.err
	case e.stale():
		res.Freshness = Stale
	default:
		res.Freshness = Fresh
	}
	return res
}

func (s *Store) lookupOrCreate(route string) *entry {
	s.mu.RLock()
	e, ok := s.entries[route]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[route]; ok {
		return e
	}
	e = &entry{gen: 1}
	e.key = fmt.Sprintf("%s\x00%p", route, e)
	s.entries[route] = e
	return e
}

func (s *Store) lookup(route string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[route]
}

// Invalidate marks route stale. Unknown routes are ignored.
func (s *Store) Invalidate(route string) {
	e := s.lookup(route)
	if e == nil {
		return
	}
	e.mu.Lock()
	// always bump: a render already in flight read the old source
	e.gen++
	e.mu.Unlock()
}

// InvalidateAll marks every route stale.
func (s *Store) InvalidateAll() {
	for _, e := range s.snapshot() {
		e.mu.Lock()
		e.gen++
		e.mu.Unlock()
	}
}

// Remove evicts route. Renders already in flight for it are discarded.
func (s *Store) Remove(route string) {
	s.mu.Lock()
	delete(s.entries, route)
	s.mu.Unlock()
}

// ListRoutes returns a sorted snapshot of routes holding an artifact.
func (s *Store) ListRoutes() []string {
	s.mu.RLock()
	candidates := make(map[string]*entry, len(s.entries))
	for route, e := range s.entries {
		candidates[route] = e
	}
	s.mu.RUnlock()

	routes := make([]string, 0, len(candidates))
	for route, e := range candidates {
		e.mu.Lock()
		ok := e.artifact != nil
		e.mu.Unlock()
		if ok {
			routes = append(routes, route)
		}
	}
	sort.Strings(routes)
	return routes
}

func (s *Store) snapshot() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out
}

// Sweep schedules a refresh for every stale entry, blocking while the pool
// queue is full. It returns the number of refreshes queued or joined.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	var n int
	for _, re := range s.snapshotRoutes() {
		route, e := re.route, re.entry
		e.mu.Lock()
		want := e.stale() && !e.refreshing
		if want {
			e.refreshing = true
		}
		e.mu.Unlock()
		if !want {
			continue
		}

		queued := make(chan error, 1)
		finished := make(chan struct{})
		go func() {
			defer close(finished)
			s.refresh(route, e, false, queued)
		}()

		var err error
		select {
		case err = <-queued:
		case <-finished:
			// joined a render already under way, or it failed to queue
			select {
			case err = <-queued:
			default:
			}
		case <-ctx.Done():
			return n, ctx.Err()
		}
		if err != nil {
			return n, s.submitErr(err)
		}
		n++
	}
	return n, nil
}

type routeEntry struct {
	route string
	entry *entry
}

func (s *Store) snapshotRoutes() []routeEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]routeEntry, 0, len(s.entries))
	for route, e := range s.entries {
		out = append(out, routeEntry{route: route, entry: e})
	}
	return out
}

// Warm renders routes that have not been rendered yet, or are stale, and
// waits for them. Renders run on the pool.
func (s *Store) Warm(ctx context.Context, routes []string) error {
	if s.closed.Load() {
		return apperr.ErrStoreClosed
	}
	pending := make([]<-chan singleflight.Result, 0, len(routes))
	for _, route := range routes {
		e := s.lookupOrCreate(route)
		e.mu.Lock()
		need := e.attempted() == 0 || e.stale()
		e.mu.Unlock()
		if need {
			pending = append(pending, s.group.DoChan(e.key, s.flight(route, e, false, nil)))
		}
	}

	for _, ch := range pending {
		select {
		case r := <-ch:
			if r.Err != nil && !errors.Is(r.Err, pool.ErrPoolFull) {
				return r.Err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stats returns counters for monitoring.
func (s *Store) Stats() Stats {
	st := Stats{Renders: s.renders.Load(), Failures: s.failures.Load()}
	for _, e := range s.snapshot() {
		e.mu.Lock()
		if e.artifact != nil || e.err != nil {
			st.Entries++
		}
		if e.attempted() > 0 && e.stale() {
			st.Stale++
		}
		if e.err != nil {
			st.Errored++
		}
		e.mu.Unlock()
	}
	return st
}

// Close stops accepting requests and drains queued renders, bounded by ctx.
func (s *Store) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.pool.Shutdown(ctx)
	s.cancel()
	return err
}
