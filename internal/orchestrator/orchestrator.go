// Package orchestrator drives pipeline runs: it registers sources, resolves
// which items are eligible for each stage, dispatches batches through the
// scheduler, and reports the outcome.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/taskforge/internal/lock"
	"github.com/msageha/taskforge/internal/logx"
	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/scheduler"
	"github.com/msageha/taskforge/internal/stage"
	"github.com/msageha/taskforge/internal/store"
)

// Options selects what a run covers.
type Options struct {
	// Stages restricts the run to the named stages, in registry order.
	// Empty means every stage.
	Stages []string
	// IDs restricts each variant to an explicit item list. A nil slice
	// means all items of that variant.
	IDs map[model.Variant][]string
	// RetryFailed makes failed stages eligible again.
	RetryFailed bool
	// Resume continues items already in the store without registering
	// new sources.
	Resume bool
	// DryRun resolves eligibility and reports the plan without executing.
	DryRun bool
}

// Orchestrator owns one data directory for the duration of a run.
type Orchestrator struct {
	cfg      model.Config
	sources  *model.SourceView
	store    *store.Store
	registry *stage.Registry
	pool     *scheduler.Pool
	logger   *logx.Logger

	// now is swappable for stale-claim tests.
	now func() time.Time
}

// New wires an orchestrator. sources must be the same view the stage
// executors consult, so watch-mode reloads reach both.
func New(cfg model.Config, sources *model.SourceView, st *store.Store, reg *stage.Registry, pool *scheduler.Pool, logger *logx.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		sources:  sources,
		store:    st,
		registry: reg,
		pool:     pool,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes one pipeline pass. It holds the run lock for the whole pass:
// concurrent runs over one data directory would race on checkouts and
// metadata.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Report, error) {
	// The lock file lives inside the data directory, which does not exist
	// yet on the first run of a fresh project.
	if err := os.MkdirAll(o.store.DataDir(), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	runLock := lock.NewFileLock(filepath.Join(o.store.DataDir(), "run.lock"))
	if err := runLock.TryLock(); err != nil {
		return nil, fmt.Errorf("run lock: %w", err)
	}
	defer runLock.Unlock()

	report := newReport(o.now().UTC())

	if !opts.Resume {
		if err := o.registerSources(); err != nil {
			return nil, err
		}
	}

	stages, err := o.selectStages(opts.Stages)
	if err != nil {
		return nil, err
	}

	for _, def := range stages {
		if ctx.Err() != nil {
			break
		}
		items, err := o.eligible(def, opts)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			o.logger.Debugf("stage_empty stage=%s", def.Name)
			continue
		}

		if opts.DryRun {
			report.addPlanned(def.Name, items)
			continue
		}

		o.logger.Infof("stage_start stage=%s items=%d", def.Name, len(items))
		report.addSummary(o.pool.Run(ctx, def, items))
	}

	report.finish(o.now().UTC())
	if !opts.DryRun {
		if err := o.writeReport(report); err != nil {
			// A run that did real work should not fail on the report file.
			o.logger.Warnf("report_write error=%v", err)
		}
	}
	return report, nil
}

// registerSources ensures every configured source has a WorkItem. An item
// is created when its source is first observed; re-registering is a no-op.
func (o *Orchestrator) registerSources() error {
	sources := o.sources.Get()
	for _, r := range sources.Repos {
		if _, err := o.store.Register(model.VariantRepository, r.Name); err != nil {
			return fmt.Errorf("register repository %q: %w", r.Name, err)
		}
	}
	for _, v := range sources.Videos {
		if _, err := o.store.Register(model.VariantVideo, v.ID); err != nil {
			return fmt.Errorf("register video %q: %w", v.ID, err)
		}
	}
	return nil
}

func (o *Orchestrator) selectStages(names []string) ([]stage.Definition, error) {
	if len(names) == 0 {
		return o.registry.Ordered(), nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		if _, ok := o.registry.Get(n); !ok {
			return nil, fmt.Errorf("unknown stage %q", n)
		}
		want[n] = true
	}
	var out []stage.Definition
	for _, def := range o.registry.Ordered() {
		if want[def.Name] {
			out = append(out, def)
		}
	}
	return out, nil
}

// eligible lists the items a stage may run on: prerequisites completed, own
// status pending, failed with --retry-failed, or in_progress gone stale past
// the reclaim grace period.
func (o *Orchestrator) eligible(def stage.Definition, opts Options) ([]*model.WorkItem, error) {
	idFilter := toSet(opts.IDs[def.Variant])
	reclaimAfter := time.Duration(o.cfg.ReclaimAfter()) * time.Minute

	return o.store.List(def.Variant, func(item *model.WorkItem) bool {
		if idFilter != nil && !idFilter[item.ID] {
			return false
		}
		for _, p := range def.Prereqs {
			if item.StageStatusOf(p) != model.StatusCompleted {
				return false
			}
		}
		switch item.StageStatusOf(def.Name) {
		case model.StatusPending:
			return true
		case model.StatusFailed:
			return opts.RetryFailed
		case model.StatusInProgress:
			age := o.now().UTC().Sub(item.LastUpdatedTime())
			if age <= reclaimAfter {
				return false
			}
			o.logger.Warnf("stale_reclaim stage=%s item=%s age=%s", def.Name, item.ID, age.Round(time.Second))
			return true
		default:
			return false
		}
	})
}

func (o *Orchestrator) writeReport(r *Report) error {
	dir := filepath.Join(o.store.DataDir(), "reports")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	name := fmt.Sprintf("run_%s.yaml", r.StartedAt.Format("20060102T150405Z"))
	return r.write(filepath.Join(dir, name))
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
