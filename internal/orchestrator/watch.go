package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/yamlio"
)

const (
	watchDebounce = 500 * time.Millisecond
	watchInterval = 60 * time.Second
)

// LoadSources reads the source list. A missing file is an empty list, not
// an error: watch mode starts before the operator writes the first source.
func LoadSources(path string) (model.Sources, error) {
	var sources model.Sources
	err := yamlio.Read(path, &sources)
	if errors.Is(err, yamlio.ErrNotExist) {
		return model.Sources{}, nil
	}
	if err != nil {
		return model.Sources{}, fmt.Errorf("load sources %s: %w", path, err)
	}
	return sources, nil
}

// Watch runs the pipeline continuously: a full pass on start, on every
// change to the sources file (debounced), and on a periodic tick so
// retryable failures make progress without operator action. Blocks until
// ctx is cancelled.
func (o *Orchestrator) Watch(ctx context.Context, sourcesPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save and
	// a watch on the old inode goes silent.
	if err := watcher.Add(filepath.Dir(sourcesPath)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(sourcesPath), err)
	}

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	passCh := make(chan struct{}, 1)
	trigger := func() {
		select {
		case passCh <- struct{}{}:
		default:
		}
	}

	var debounceMu sync.Mutex
	var debounceTimer *time.Timer
	debounced := func() {
		debounceMu.Lock()
		defer debounceMu.Unlock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(watchDebounce, trigger)
	}

	o.logger.Infof("watch_start sources=%s interval=%s", sourcesPath, watchInterval)
	o.pass(ctx, sourcesPath)

	for {
		select {
		case <-ctx.Done():
			o.logger.Infof("watch_stop")
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name == sourcesPath && (event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				o.logger.Debugf("sources_event op=%s", event.Op)
				debounced()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			o.logger.Errorf("fsnotify error=%v", err)
		case <-ticker.C:
			trigger()
		case <-passCh:
			o.pass(ctx, sourcesPath)
		}
	}
}

// pass reloads sources and executes one full pipeline pass. Failures are
// logged, not fatal: watch mode outlives individual bad passes. The reload
// goes through the shared view, so the stage executors see the new sources
// on this very pass.
func (o *Orchestrator) pass(ctx context.Context, sourcesPath string) {
	sources, err := LoadSources(sourcesPath)
	if err != nil {
		o.logger.Errorf("pass_sources error=%v", err)
		return
	}
	o.sources.Set(sources)

	report, err := o.Run(ctx, Options{RetryFailed: true})
	if err != nil {
		o.logger.Errorf("pass_run error=%v", err)
		return
	}
	o.logger.Infof("pass_done completed=%d failed=%d", report.Completed, report.Failed)
}
