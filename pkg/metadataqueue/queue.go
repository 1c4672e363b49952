// Package metadataqueue debounces "document edited" signals and pushes
// them to a Sink asynchronously, bounding write QPS against the workspace
// database regardless of how often a document is actually edited.
package metadataqueue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gristlabs/docstore/pkg/scheduler"
)

// Update is one "document edited" record pushed to a Sink.
type Update struct {
	DocID     string
	UpdatedAt time.Time
	EditedBy  string
}

// Sink persists Updates. Implementations should treat Push as idempotent
// for the same DocID/UpdatedAt pair where possible, since a retried push
// may be delivered more than once.
type Sink interface {
	Push(ctx context.Context, update Update) error
}

// Config configures a Queue.
type Config struct {
	// DebounceDelay coalesces repeated ScheduleUpdate calls for the same
	// docId within this window into a single push of the latest edit.
	DebounceDelay time.Duration

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.DebounceDelay == 0 {
		c.DebounceDelay = 2 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Queue debounces per-docId "last edited" events before handing them to a
// Sink.
type Queue struct {
	cfg   Config
	sink  Sink
	sched *scheduler.Scheduler

	mu      sync.Mutex
	pending map[string]Update
}

// New creates a Queue that pushes coalesced updates to sink.
func New(sink Sink, cfg Config) *Queue {
	cfg.setDefaults()
	q := &Queue{cfg: cfg, sink: sink, pending: make(map[string]Update)}
	q.sched = scheduler.New(q.push, scheduler.Config{
		DelayBeforeOperation: cfg.DebounceDelay,
		Logger:               cfg.Logger,
		LogError: func(key string, failureCount int, err error) {
			cfg.Logger.Warn("metadata push failed", "doc_id", key, "failure_count", failureCount, "error", err)
		},
	})
	return q
}

// ScheduleUpdate records that docID was edited by editedBy at the current
// time, and debounces a push of that fact to the sink.
func (q *Queue) ScheduleUpdate(docID, editedBy string) error {
	q.mu.Lock()
	q.pending[docID] = Update{DocID: docID, UpdatedAt: time.Now().UTC(), EditedBy: editedBy}
	q.mu.Unlock()
	return q.sched.AddOperation(docID)
}

// Close expedites and waits for any pending update to be pushed, then stops
// accepting new ones.
func (q *Queue) Close() {
	_ = q.sched.ExpediteOperations()
	_ = q.sched.Wait(context.Background(), nil)
	q.sched.Close()
}

// push is the scheduler worker: it sends the latest pending Update for
// docID, regardless of how many ScheduleUpdate calls coalesced into it.
func (q *Queue) push(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	q.mu.Lock()
	update, ok := q.pending[docID]
	delete(q.pending, docID)
	q.mu.Unlock()
	if !ok {
		return nil
	}

	if err := q.sink.Push(ctx, update); err != nil {
		q.mu.Lock()
		if _, stillPending := q.pending[docID]; !stillPending {
			q.pending[docID] = update
		}
		q.mu.Unlock()
		return fmt.Errorf("push metadata update for %s: %w", docID, err)
	}
	return nil
}
