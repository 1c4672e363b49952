package docstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// sweepStaleSidecars deletes any transient "-backup-<uuid>"/"-replacing"
// files left behind under root by a process that crashed mid-operation,
// per spec.md §5's startup recovery step.
func sweepStaleSidecars(root string, log *slog.Logger) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("read docs root %s: %w", root, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !isTransientSidecar(entry.Name()) {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale sidecar %s: %w", path, err)
		}
		log.Info("removed stale sidecar from crashed prior process", "path", path)
	}
	return nil
}

// sidecarWatcher watches docsRoot for transient sidecars disappearing
// outside of this process's own control flow (an operator clearing disk
// pressure, another worker's recovery sweep on a shared mount) and logs
// each occurrence for operational visibility.
type sidecarWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

func startSidecarWatcher(root string, log *slog.Logger) (*sidecarWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create sidecar watcher: %w", err)
	}
	if err := w.Add(root); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch docs root %s: %w", root, err)
	}

	sw := &sidecarWatcher{watcher: w, done: make(chan struct{})}
	sw.wg.Add(1)
	go sw.run(log)
	return sw, nil
}

func (sw *sidecarWatcher) run(log *slog.Logger) {
	defer sw.wg.Done()
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Remove) && isTransientSidecar(filepath.Base(event.Name)) {
				log.Debug("transient sidecar removed externally", "path", event.Name)
			}
		case err, ok := <-sw.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("sidecar watcher error", "error", err)
		}
	}
}

func (sw *sidecarWatcher) Close() error {
	close(sw.done)
	err := sw.watcher.Close()
	sw.wg.Wait()
	return err
}
