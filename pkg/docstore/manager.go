// Package docstore implements the top-level storage manager (spec.md §4.1):
// it orchestrates the worker directory, the checksummed object store, the
// SQLite snapshotter, the keyed upload scheduler, the metadata push queue,
// and the snapshot pruner to keep a population of local SQLite "documents"
// synchronized with a versioned external object store.
package docstore

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gristlabs/docstore/pkg/directory"
	"github.com/gristlabs/docstore/pkg/docid"
	"github.com/gristlabs/docstore/pkg/metadataqueue"
	"github.com/gristlabs/docstore/pkg/metrics"
	"github.com/gristlabs/docstore/pkg/objectstore"
	"github.com/gristlabs/docstore/pkg/pruner"
	"github.com/gristlabs/docstore/pkg/scheduler"
	"github.com/gristlabs/docstore/pkg/snapshot"
)

// EventKind identifies which observable operation an Observer callback
// fired for.
type EventKind string

const (
	EventPrepared EventKind = "prepared"
	EventPushed   EventKind = "pushed"
	EventReplaced EventKind = "replaced"
	EventDeleted  EventKind = "deleted"
)

// Event is fired to an optional Observer after prepare/push/replace/delete
// complete, purely for integration tests; production code may leave
// Observer nil.
type Event struct {
	Kind  EventKind
	DocID string
	Err   error
}

// Observer receives Events. It must not block.
type Observer func(Event)

// Session identifies the caller of prepareLocalDoc, used to decide
// canCreateFork per spec.md §4.1 step 3.
type Session struct {
	UserID int
}

// DebugConfig toggles local-only diagnostic aids.
type DebugConfig struct {
	// WriteEditMetadataSidecar, when true, makes MarkAsEdited write a
	// "<docId>.grist-meta.json" sidecar recording {editedBy, editedAt}. Pure
	// local diagnostic; the manager never reads it back, so its absence is
	// never an error.
	WriteEditMetadataSidecar bool
}

// Config configures a StorageManager.
type Config struct {
	// Root is the local directory holding every document's artifacts.
	Root string

	// WorkerID identifies this worker in the worker directory.
	WorkerID string

	// DisableS3 mirrors GRIST_DISABLE_S3: with it set, PrepareLocalDoc never
	// fetches from the RawStore (a missing fork is copied only from a trunk
	// already on local disk, and a snapshot docId fails with
	// ErrUnsupportedOp), and GetSnapshots reports a single "current" entry.
	// Pushes still upload to the supplied RawStore.
	DisableS3 bool

	// PushDelay is the debounce window before a changed document is
	// pushed (GRIST_BACKUP_DELAY_SECS).
	PushDelay time.Duration

	// FirstRetryDelay is the initial backoff after a failed push.
	FirstRetryDelay time.Duration

	// MaxConcurrentPushes caps concurrently running push workers.
	MaxConcurrentPushes uint

	Directory directory.Directory
	RawStore  objectstore.RawStore

	// MetadataSink, when non-nil, enables the metadata push queue backing
	// markAsEdited.
	MetadataSink metadataqueue.Sink

	PrunerEnabled   bool
	PrunerDryRun    bool
	RetentionPolicy pruner.RetentionPolicy

	// Debug holds development-only diagnostic toggles; never enable in
	// production since the sidecars it writes are never read back.
	Debug DebugConfig

	PushMetrics        *metrics.PushMetrics
	ObjectStoreMetrics *metrics.ObjectStoreMetrics
	SchedulerMetrics   *metrics.SchedulerMetrics

	Logger   *slog.Logger
	Observer Observer
}

func (c *Config) setDefaults() {
	if c.PushDelay == 0 {
		c.PushDelay = 15 * time.Second
	}
	if c.FirstRetryDelay == 0 {
		c.FirstRetryDelay = 3 * time.Second
	}
	if c.MaxConcurrentPushes == 0 {
		c.MaxConcurrentPushes = 8
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// docState tracks per-docId reentrancy: prepareDone is non-nil (and closed
// when done) while a prepareLocalDoc is actively running for this docId, and
// closing is non-nil (and closed when done) while a closeDocument is in
// flight for it.
type docState struct {
	prepareDone chan struct{}
	closing     chan struct{}
}

// StorageManager is the document lifecycle orchestrator described in
// spec.md §4.1. Construct with NewStorageManager.
type StorageManager struct {
	root      string
	workerID  string
	disableS3 bool

	dir   directory.Directory
	store *objectstore.Checksummed
	snap  *snapshot.Snapshotter
	sched *scheduler.Scheduler
	mq    *metadataqueue.Queue
	pr    *pruner.Pruner

	metrics  *metrics.PushMetrics
	log      *slog.Logger
	observer Observer
	watch    *sidecarWatcher
	debug    DebugConfig

	mu           sync.Mutex
	states       map[string]*docState
	present      map[string]struct{} // docIds currently prepared and not yet closed
	preparingSet map[string]struct{} // docIds a prepare is actively running for, before install into present
	closed       bool
}

// NewStorageManager builds a StorageManager rooted at cfg.Root.
func NewStorageManager(cfg Config) (*StorageManager, error) {
	cfg.setDefaults()
	if cfg.Root == "" {
		return nil, fmt.Errorf("docstore: Root is required")
	}
	if cfg.WorkerID == "" {
		return nil, fmt.Errorf("docstore: WorkerID is required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("docstore: Directory is required")
	}
	if cfg.RawStore == nil {
		return nil, fmt.Errorf("docstore: RawStore is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: create root %s: %w", cfg.Root, err)
	}
	if err := sweepStaleSidecars(cfg.Root, cfg.Logger); err != nil {
		return nil, fmt.Errorf("docstore: startup recovery sweep: %w", err)
	}

	shared := directory.SharedHashAdapter{Dir: cfg.Directory, SelfWorkerID: cfg.WorkerID}
	local := &localHashStore{root: cfg.Root}
	store := objectstore.NewChecksummed(cfg.RawStore, shared, local,
		objectstore.WithMetrics(cfg.ObjectStoreMetrics),
		objectstore.WithLogger(cfg.Logger),
	)

	m := &StorageManager{
		root:         cfg.Root,
		workerID:     cfg.WorkerID,
		disableS3:    cfg.DisableS3,
		dir:          cfg.Directory,
		store:        store,
		snap:         snapshot.New(snapshot.Config{Logger: cfg.Logger}),
		metrics:      cfg.PushMetrics,
		log:          cfg.Logger,
		observer:     cfg.Observer,
		debug:        cfg.Debug,
		states:       make(map[string]*docState),
		present:      make(map[string]struct{}),
		preparingSet: make(map[string]struct{}),
	}

	m.pr = pruner.New(store, pruner.Config{
		Enabled:       cfg.PrunerEnabled,
		DryRun:        cfg.PrunerDryRun,
		DebounceDelay: 4 * cfg.PushDelay,
		Policy:        cfg.RetentionPolicy,
		Logger:        cfg.Logger,
	})

	if cfg.MetadataSink != nil {
		m.mq = metadataqueue.New(cfg.MetadataSink, metadataqueue.Config{Logger: cfg.Logger})
	}

	m.sched = scheduler.New(m.pushToRemote, scheduler.Config{
		DelayBeforeOperation: cfg.PushDelay,
		InitialRetryDelay:    cfg.FirstRetryDelay,
		MaxConcurrent:        cfg.MaxConcurrentPushes,
		Metrics:              cfg.SchedulerMetrics,
		Logger:               cfg.Logger,
		LogError: func(key string, failureCount int, err error) {
			cfg.Logger.Warn("push failed", "doc_id", key, "failure_count", failureCount, "error", err)
		},
	})

	if watch, err := startSidecarWatcher(cfg.Root, cfg.Logger); err != nil {
		cfg.Logger.Warn("sidecar watcher unavailable, continuing without external-deletion visibility", "error", err)
	} else {
		m.watch = watch
	}

	return m, nil
}

// Metrics returns the push pipeline metrics sink, nil if metrics are
// disabled. Exposed for tests and for wiring into an HTTP /metrics handler.
func (m *StorageManager) Metrics() *metrics.PushMetrics {
	return m.metrics
}

// emit fires ev to the configured Observer, if any.
func (m *StorageManager) emit(ev Event) {
	if m.observer != nil {
		m.observer(ev)
	}
}

// GetPath returns docID's local live-file path. Pure computation; validates
// docID shape but performs no I/O.
func (m *StorageManager) GetPath(docID string) (string, error) {
	if err := docid.Validate(docID); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocId, err)
	}
	return gristPath(m.root, docID), nil
}

// requireOpen returns ErrAfterClose if closeStorage has already run.
func (m *StorageManager) requireOpen() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrAfterClose
	}
	return nil
}
