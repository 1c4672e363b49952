// Package snapshot takes consistent point-in-time copies of a live SQLite
// document using SQLite's own online backup API, so a document can be
// pushed to the object store without blocking the engine that is still
// writing to it.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Phase identifies where in the backup lifecycle a ProgressEvent fires.
type Phase string

// Action identifies what step a ProgressEvent describes.
type Action string

const (
	PhaseBefore Phase = "before"
	PhaseAfter  Phase = "after"

	ActionOpen  Action = "open"
	ActionStep  Action = "step"
	ActionClose Action = "close"
)

// ProgressEvent is emitted to an optional Config.Progress callback, mainly
// so tests can assert on backup lifecycle without racing real timing.
type ProgressEvent struct {
	Action Action
	Phase  Phase
}

// Default step size and pacing, matching the values SQLite's own backup
// shell command uses: enough pages per step to make real progress, short
// enough sleeps that a writer never waits long for the backup's page lock.
const (
	DefaultPagesPerStep = 1024
	DefaultStepSleep    = 10 * time.Millisecond
	busyLogInterval     = time.Second
)

// Config configures a Snapshotter.
type Config struct {
	// PagesPerStep is how many database pages are copied per backup step.
	// Defaults to DefaultPagesPerStep.
	PagesPerStep int

	// StepSleep is how long to sleep between steps (and while waiting out a
	// busy/locked source). Defaults to DefaultStepSleep.
	StepSleep time.Duration

	// Logger receives busy/restart diagnostics. Defaults to a no-op logger.
	Logger *slog.Logger

	// Progress, if set, is called around each backup lifecycle step. Used by
	// tests; production callers can leave it nil.
	Progress func(ProgressEvent)
}

func (c *Config) notify(action Action, phase Phase) {
	if c.Progress != nil {
		c.Progress(ProgressEvent{Action: action, Phase: phase})
	}
}

func (c *Config) setDefaults() {
	if c.PagesPerStep <= 0 {
		c.PagesPerStep = DefaultPagesPerStep
	}
	if c.StepSleep <= 0 {
		c.StepSleep = DefaultStepSleep
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

// Snapshotter copies SQLite documents using the incremental backup API.
type Snapshotter struct {
	cfg Config
}

// New creates a Snapshotter.
func New(cfg Config) *Snapshotter {
	cfg.setDefaults()
	return &Snapshotter{cfg: cfg}
}

// Snapshot copies the SQLite database at srcPath into a fresh database file
// at dstPath, stepping the backup PagesPerStep pages at a time so a
// concurrent writer on srcPath is never blocked for more than one step.
//
// If srcPath is modified while the backup is in progress, SQLite restarts
// the backup from scratch internally; Snapshot detects this (Remaining()
// growing between steps) and logs it, but otherwise handles it
// transparently — the caller always gets a complete, consistent copy.
func (s *Snapshotter) Snapshot(ctx context.Context, srcPath, dstPath string) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The destination is disposable: on a crash mid-backup the source
	// remains canonical, so dstPath trades durability for speed.
	if removeErr := os.Remove(dstPath); removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("remove stale snapshot %s: %w", dstPath, removeErr)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(dstPath)
		}
	}()

	s.cfg.notify(ActionOpen, PhaseBefore)
	src, err := sqlite3.Open("file:" + srcPath + "?mode=ro")
	if err != nil {
		return fmt.Errorf("open snapshot source %s: %w", srcPath, err)
	}
	defer src.Close()

	dstURI := "file:" + dstPath + "?_pragma=synchronous(OFF)&_pragma=journal_mode(OFF)"
	backup, err := src.BackupInit("main", dstURI)
	if err != nil {
		return fmt.Errorf("init backup %s -> %s: %w", srcPath, dstPath, err)
	}
	s.cfg.notify(ActionOpen, PhaseAfter)
	defer func() {
		s.cfg.notify(ActionClose, PhaseBefore)
		backup.Close()
		s.cfg.notify(ActionClose, PhaseAfter)
	}()

	var lastBusyLog time.Time
	prevRemaining := int64(-1)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.cfg.notify(ActionStep, PhaseBefore)
		done, err := backup.Step(s.cfg.PagesPerStep)
		s.cfg.notify(ActionStep, PhaseAfter)
		if err != nil {
			if isBusy(err) {
				if time.Since(lastBusyLog) >= busyLogInterval {
					s.cfg.Logger.Warn("snapshot backup source busy, retrying", "source", srcPath)
					lastBusyLog = time.Now()
				}
				select {
				case <-time.After(s.cfg.StepSleep):
				case <-ctx.Done():
					return ctx.Err()
				}
				continue
			}
			return fmt.Errorf("backup step %s -> %s: %w", srcPath, dstPath, err)
		}

		remaining := int64(backup.Remaining())
		if prevRemaining >= 0 && remaining > prevRemaining {
			s.cfg.Logger.Info("snapshot backup restarted: source modified mid-backup", "source", srcPath)
		}
		prevRemaining = remaining

		if done {
			return nil
		}

		select {
		case <-time.After(s.cfg.StepSleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// isBusy reports whether err reflects a transient SQLITE_BUSY/SQLITE_LOCKED
// condition that a retried Step call can resolve on its own.
func isBusy(err error) bool {
	var serr *sqlite3.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqlite3.BUSY || code == sqlite3.LOCKED
}
