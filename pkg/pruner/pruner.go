// Package pruner deletes historical object-store versions that fall
// outside a document's retention policy, triggered by "just uploaded"
// signals from the storage manager rather than by a fixed scan interval.
package pruner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gristlabs/docstore/pkg/objectstore"
	"github.com/gristlabs/docstore/pkg/scheduler"
)

// VersionStore is the slice of Checksummed that pruning needs: list and
// delete historical versions of a key. Kept narrow so pruner never depends
// on upload/download machinery.
type VersionStore interface {
	Versions(ctx context.Context, key string) ([]objectstore.VersionInfo, error)
	DeleteVersion(ctx context.Context, key, versionID string) error
}

// KeyFunc maps a docId to the object-store key holding its versions.
type KeyFunc func(docID string) string

// Config configures a Pruner.
type Config struct {
	// Enabled controls whether prune requests do anything at all.
	Enabled bool

	// DryRun logs what would be deleted without deleting it.
	DryRun bool

	// DebounceDelay is the minimum interval between two prune runs for the
	// same docId. spec.md mandates 4x the push debounce window.
	DebounceDelay time.Duration

	// Policy decides which versions survive. Defaults to KeepLastN{N: 1}.
	Policy RetentionPolicy

	// ToKey maps a docId to its object-store key. Defaults to the identity
	// function.
	ToKey KeyFunc

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.DebounceDelay == 0 {
		c.DebounceDelay = time.Minute
	}
	if c.Policy == nil {
		c.Policy = KeepLastN{N: 1}
	}
	if c.ToKey == nil {
		c.ToKey = func(docID string) string { return docID }
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Pruner debounces prune requests per docId and deletes versions outside
// the configured retention policy.
type Pruner struct {
	cfg   Config
	store VersionStore
	sched *scheduler.Scheduler
}

// New creates a Pruner backed by store. If cfg.Enabled is false,
// RequestPrune is a no-op and Close returns immediately.
func New(store VersionStore, cfg Config) *Pruner {
	cfg.setDefaults()
	p := &Pruner{cfg: cfg, store: store}
	if cfg.Enabled {
		p.sched = scheduler.New(p.prune, scheduler.Config{
			DelayBeforeOperation: cfg.DebounceDelay,
			Logger:               cfg.Logger,
			LogError: func(key string, failureCount int, err error) {
				cfg.Logger.Warn("prune run failed", "doc_id", key, "failure_count", failureCount, "error", err)
			},
		})
	}
	return p
}

// RequestPrune signals that docID was just uploaded and its old versions
// are eligible for pruning, subject to the debounce window.
func (p *Pruner) RequestPrune(docID string) {
	if p.sched == nil {
		return
	}
	_ = p.sched.AddOperation(docID)
}

// Wait blocks until no prune run is scheduled or in progress.
func (p *Pruner) Wait(ctx context.Context) error {
	if p.sched == nil {
		return nil
	}
	return p.sched.Wait(ctx, nil)
}

// Close drains any pending prune runs and stops accepting new ones.
func (p *Pruner) Close() {
	if p.sched == nil {
		return
	}
	_ = p.sched.ExpediteOperations()
	_ = p.sched.Wait(context.Background(), nil)
	p.sched.Close()
}

// prune is the scheduler worker: list docID's versions, ask the policy
// which to delete, and delete them (unless DryRun).
func (p *Pruner) prune(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := p.cfg.ToKey(docID)
	versions, err := p.store.Versions(ctx, key)
	if err != nil {
		return fmt.Errorf("list versions of %s for prune: %w", key, err)
	}

	toDelete := p.cfg.Policy.SelectForDeletion(versions)
	if len(toDelete) == 0 {
		return nil
	}

	if p.cfg.DryRun {
		p.cfg.Logger.Info("prune dry run", "doc_id", docID, "would_delete", len(toDelete))
		return nil
	}

	for _, v := range toDelete {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.store.DeleteVersion(ctx, key, v.SnapshotID); err != nil {
			return fmt.Errorf("delete version %s of %s: %w", v.SnapshotID, key, err)
		}
	}

	p.cfg.Logger.Info("pruned old versions", "doc_id", docID, "deleted", len(toDelete))
	return nil
}
