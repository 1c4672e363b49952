// Package scheduler implements a keyed operation scheduler: per-key
// coalescing debounce, single-flight execution, and indefinite retry with
// exponential backoff.
//
// Every push/prune/metadata-flush operation in docstore is keyed by docId
// and routed through a Scheduler (the storage manager, the pruner and the
// metadata queue each own one) so that repeated document edits
// collapse into a single trailing push, concurrent pushes for the same
// document never overlap, and a failure on one document never blocks any
// other document's operations.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/gristlabs/docstore/pkg/metrics"
)

// state is the per-key lifecycle stage.
type state int

const (
	stateIdle state = iota
	stateScheduled
	stateRunning
	stateRetrying
)

// WorkerFunc performs the operation for key. A non-nil error triggers a
// retry (unless Config.Retry is false).
type WorkerFunc func(ctx context.Context, key string) error

// LogErrorFunc is invoked once per failed attempt.
type LogErrorFunc func(key string, failureCount int, err error)

// Config configures a Scheduler.
type Config struct {
	// DelayBeforeOperation is the debounce window: a worker run for key
	// happens no sooner than this long after the latest AddOperation(key).
	DelayBeforeOperation time.Duration

	// InitialRetryDelay is the backoff delay after the first failure.
	InitialRetryDelay time.Duration

	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration

	// Retry controls whether a failed run is retried at all. The value
	// passed in is ignored: New sets it true and NewNoRetry sets it false
	// (each key then runs at most once per AddOperation).
	Retry bool

	// MaxConcurrent bounds how many worker invocations run at once across
	// all keys. Zero means unbounded.
	MaxConcurrent uint

	// OpsPerSecond paces run starts globally via a token bucket, smoothing
	// bursts (e.g. many documents edited at once) rather than launching
	// them all in the same instant. Zero means unpaced.
	OpsPerSecond uint

	// LogError is called once per failed attempt, after the state machine
	// has recorded the failure. May be nil.
	LogError LogErrorFunc

	// Metrics receives run outcomes and active-key counts. May be nil.
	Metrics *metrics.SchedulerMetrics

	// Logger receives debug/warn output. Defaults to a no-op logger.
	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.DelayBeforeOperation == 0 {
		c.DelayBeforeOperation = 2 * time.Second
	}
	if c.InitialRetryDelay == 0 {
		c.InitialRetryDelay = 500 * time.Millisecond
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// keyEntry holds the mutable state for a single key.
type keyEntry struct {
	mu           sync.Mutex
	state        state
	dirty        bool
	failureCount int
	timer        *time.Timer
	waiters      []chan error
}

func (e *keyEntry) arm(d time.Duration, fn func()) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(d, fn)
}

// Scheduler runs a WorkerFunc for a set of dynamically-registered keys,
// coalescing repeated requests and retrying failures independently per key.
//
// Thread safety: all exported methods are safe for concurrent use.
type Scheduler struct {
	cfg    Config
	worker WorkerFunc

	// limiter paces run starts globally across all keys at cfg.OpsPerSecond,
	// with a burst of twice that rate, so a sudden backlog of debounced keys
	// firing at once ramps into the run loop instead of hitting it all at
	// once. nil when OpsPerSecond is unset (no global pacing).
	limiter *rate.Limiter
	sem     chan struct{}

	mu     sync.Mutex
	keys   map[string]*keyEntry
	closed bool
	wg     sync.WaitGroup
}

// New creates a Scheduler that invokes worker for each key with pending
// operations.
func New(worker WorkerFunc, cfg Config) *Scheduler {
	cfg.Retry = true
	cfg.setDefaults()

	s := &Scheduler{
		cfg:    cfg,
		worker: worker,
		keys:   make(map[string]*keyEntry),
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	if cfg.OpsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), int(cfg.OpsPerSecond*2))
	}
	return s
}

// NewNoRetry is like New but a failed run is never retried.
func NewNoRetry(worker WorkerFunc, cfg Config) *Scheduler {
	cfg.Retry = false
	cfg.setDefaults()
	s := &Scheduler{
		cfg:    cfg,
		worker: worker,
		keys:   make(map[string]*keyEntry),
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	if cfg.OpsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.OpsPerSecond), int(cfg.OpsPerSecond*2))
	}
	return s
}

func (s *Scheduler) getOrCreate(key string) (*keyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.keys[key]
	if !ok {
		e = &keyEntry{}
		s.keys[key] = e
	}
	return e, nil
}

// AddOperation marks key dirty, scheduling a worker run no sooner than
// Config.DelayBeforeOperation after this call. Calling it again before that
// run starts restarts the debounce window.
func (s *Scheduler) AddOperation(key string) error {
	e, err := s.getOrCreate(key)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case stateIdle:
		e.state = stateScheduled
		e.arm(s.cfg.DelayBeforeOperation, func() { s.run(key, e) })
	case stateScheduled:
		e.arm(s.cfg.DelayBeforeOperation, func() { s.run(key, e) })
	case stateRunning, stateRetrying:
		e.dirty = true
	}
	return nil
}

// ExpediteOperation collapses key's pending delay to zero: a scheduled or
// retrying run fires immediately; a run already in progress is marked
// dirty, so once it succeeds one more run is scheduled after the usual
// DelayBeforeOperation; an idle key is left untouched.
func (s *Scheduler) ExpediteOperation(key string) error {
	s.mu.Lock()
	e, ok := s.keys[key]
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return nil
	}

	e.mu.Lock()
	switch e.state {
	case stateScheduled, stateRetrying:
		e.arm(0, func() { s.run(key, e) })
	case stateRunning:
		e.dirty = true
	}
	e.mu.Unlock()
	return nil
}

// ExpediteOperations expedites every key with a pending operation.
func (s *Scheduler) ExpediteOperations() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, k := range keys {
		_ = s.ExpediteOperation(k)
	}
	return nil
}

// ExpediteOperationAndWait expedites key and blocks until the next run for
// that key completes, returning its error. If key has no pending or running
// operation, it returns nil immediately.
func (s *Scheduler) ExpediteOperationAndWait(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e, err := s.getOrCreate(key)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.state == stateIdle {
		e.mu.Unlock()
		return nil
	}
	ch := make(chan error, 1)
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	if err := s.ExpediteOperation(key); err != nil {
		return err
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HasPendingOperation reports whether key has a scheduled, running, or
// retrying operation.
func (s *Scheduler) HasPendingOperation(key string) bool {
	s.mu.Lock()
	e, ok := s.keys[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state != stateIdle
}

// HasPendingOperations reports whether any key has a scheduled, running, or
// retrying operation.
func (s *Scheduler) HasPendingOperations() bool {
	s.mu.Lock()
	keys := make([]*keyEntry, 0, len(s.keys))
	for _, e := range s.keys {
		keys = append(keys, e)
	}
	s.mu.Unlock()

	for _, e := range keys {
		e.mu.Lock()
		pending := e.state != stateIdle
		e.mu.Unlock()
		if pending {
			return true
		}
	}
	return false
}

// Wait blocks until no key has a pending or running operation. notifyCb, if
// non-nil, is invoked once if the wait is nontrivial (something was pending
// when Wait was called). ctx cancellation aborts the wait early.
func (s *Scheduler) Wait(ctx context.Context, notifyCb func()) error {
	const pollInterval = 25 * time.Millisecond

	if !s.HasPendingOperations() {
		return nil
	}
	if notifyCb != nil {
		notifyCb()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !s.HasPendingOperations() {
				return nil
			}
		}
	}
}

// Close prevents further AddOperation calls, cancels all pending timers,
// and waits for in-flight runs to finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	for _, e := range s.keys {
		e.mu.Lock()
		if e.timer != nil {
			e.timer.Stop()
		}
		e.mu.Unlock()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// run executes one worker invocation for key and drives the state
// transition that follows: success clears failureCount and either goes
// idle or immediately reschedules (if dirtied during the run); failure
// increments failureCount, reports it, and reschedules with backoff unless
// Config.Retry is false.
func (s *Scheduler) run(key string, e *keyEntry) {
	s.wg.Add(1)
	defer s.wg.Done()

	if s.sem != nil {
		s.sem <- struct{}{}
		defer func() { <-s.sem }()
	}
	if s.limiter != nil {
		_ = s.limiter.Wait(context.Background())
	}

	e.mu.Lock()
	e.state = stateRunning
	e.dirty = false
	e.mu.Unlock()

	s.setActiveKeys()

	err := s.worker(context.Background(), key)

	s.cfg.Metrics.ObserveRun(err == nil)

	e.mu.Lock()
	waiters := e.waiters
	e.waiters = nil
	dirty := e.dirty

	if err != nil {
		e.failureCount++
		failureCount := e.failureCount
		e.mu.Unlock()

		if s.cfg.LogError != nil {
			s.cfg.LogError(key, failureCount, err)
		}
		s.cfg.Logger.Warn("scheduler run failed", "key", key, "failure_count", failureCount, "error", err)

		for _, w := range waiters {
			w <- err
			close(w)
		}

		if !s.cfg.Retry {
			e.mu.Lock()
			e.state = stateIdle
			e.mu.Unlock()
			s.setActiveKeys()
			return
		}

		delay := backoffDelay(s.cfg.InitialRetryDelay, s.cfg.MaxRetryDelay, failureCount)
		e.mu.Lock()
		e.state = stateRetrying
		e.arm(delay, func() { s.run(key, e) })
		e.mu.Unlock()
		s.setActiveKeys()
		return
	}

	e.failureCount = 0
	if dirty {
		e.state = stateScheduled
		e.arm(s.cfg.DelayBeforeOperation, func() { s.run(key, e) })
	} else {
		e.state = stateIdle
	}
	e.mu.Unlock()

	for _, w := range waiters {
		w <- nil
		close(w)
	}

	s.setActiveKeys()
}

func (s *Scheduler) setActiveKeys() {
	if s.cfg.Metrics == nil {
		return
	}
	s.mu.Lock()
	n := 0
	for _, e := range s.keys {
		e.mu.Lock()
		if e.state != stateIdle {
			n++
		}
		e.mu.Unlock()
	}
	s.mu.Unlock()
	s.cfg.Metrics.SetActiveKeys(n)
}

// backoffDelay doubles initial once per failure past the first, capped at
// max.
func backoffDelay(initial, max time.Duration, failureCount int) time.Duration {
	if failureCount < 1 {
		failureCount = 1
	}
	delay := initial
	for i := 1; i < failureCount; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		delay = max
	}
	return delay
}

// String renders a state for debugging.
func (st state) String() string {
	switch st {
	case stateIdle:
		return "idle"
	case stateScheduled:
		return "scheduled"
	case stateRunning:
		return "running"
	case stateRetrying:
		return "retrying"
	default:
		return fmt.Sprintf("state(%d)", int(st))
	}
}
