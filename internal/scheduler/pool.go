// Package scheduler fans one stage out over a batch of eligible items with
// bounded concurrency. Workers are stateless and share nothing but the
// metadata store.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/taskforge/internal/logx"
	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/stage"
	"github.com/msageha/taskforge/internal/store"
)

// ItemOutcome records one item's result within a batch.
type ItemOutcome struct {
	ID       string
	Status   model.StageStatus
	Kind     model.ErrorKind
	Message  string
	Artifact string
}

// Summary aggregates a batch for the run report.
type Summary struct {
	Stage     string
	Completed int
	Failed    int
	Skipped   int
	Outcomes  []ItemOutcome
}

// Pool executes stage batches.
type Pool struct {
	store   *store.Store
	workers int
	logger  *logx.Logger
}

func New(st *store.Store, workers int, logger *logx.Logger) *Pool {
	if workers <= 0 {
		workers = 8
	}
	return &Pool{store: st, workers: workers, logger: logger}
}

// Run drives def's executor over items. Each item is claimed
// (pending/failed → in_progress, persisted) before dispatch so progress is
// inspectable mid-flight and an interrupt leaves a truthful record. One
// item's failure never aborts the others; only context cancellation stops
// the batch early.
func (p *Pool) Run(ctx context.Context, def stage.Definition, items []*model.WorkItem) Summary {
	summary := Summary{Stage: def.Name}
	var mu sync.Mutex

	record := func(o ItemOutcome) {
		mu.Lock()
		defer mu.Unlock()
		summary.Outcomes = append(summary.Outcomes, o)
		switch o.Status {
		case model.StatusCompleted:
			summary.Completed++
		case model.StatusFailed:
			summary.Failed++
		default:
			summary.Skipped++
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, item := range items {
		item := item
		if ctx.Err() != nil {
			record(ItemOutcome{ID: item.ID, Status: item.StageStatusOf(def.Name)})
			continue
		}
		g.Go(func() error {
			p.runOne(ctx, def, item, record)
			return nil
		})
	}
	_ = g.Wait()

	p.logger.Infof("batch_done stage=%s completed=%d failed=%d skipped=%d",
		def.Name, summary.Completed, summary.Failed, summary.Skipped)
	return summary
}

func (p *Pool) runOne(ctx context.Context, def stage.Definition, item *model.WorkItem, record func(ItemOutcome)) {
	// Claim before dispatch. A claim that cannot be persisted means the
	// item is in no state to run (or the disk is gone); skip it rather
	// than execute without a durable in_progress record.
	if err := p.store.UpdateStage(item.Variant, item.ID, def.Name, model.StatusInProgress, "", ""); err != nil {
		p.logger.Warnf("claim_failed stage=%s item=%s error=%v", def.Name, item.ID, err)
		record(ItemOutcome{ID: item.ID, Status: item.StageStatusOf(def.Name), Kind: model.KindStore, Message: err.Error()})
		return
	}

	if ctx.Err() != nil {
		// Interrupted after the claim: leave in_progress for the stale
		// reclaim pass, record nothing as completed.
		record(ItemOutcome{ID: item.ID, Status: model.StatusInProgress})
		return
	}

	artifact, err := p.execute(ctx, def, item)
	if err != nil {
		kind := model.KindOf(err)
		if uerr := p.store.UpdateStage(item.Variant, item.ID, def.Name, model.StatusFailed, kind, err.Error()); uerr != nil {
			p.logger.Errorf("record_failure stage=%s item=%s error=%v", def.Name, item.ID, uerr)
		}
		p.logger.Warnf("item_failed stage=%s item=%s kind=%s error=%v", def.Name, item.ID, kind, err)
		record(ItemOutcome{ID: item.ID, Status: model.StatusFailed, Kind: kind, Message: err.Error()})
		return
	}

	if uerr := p.store.UpdateStage(item.Variant, item.ID, def.Name, model.StatusCompleted, "", ""); uerr != nil {
		// The work happened but the record didn't stick: surface as a
		// store failure so the item is retried instead of lost.
		p.logger.Errorf("record_success stage=%s item=%s error=%v", def.Name, item.ID, uerr)
		record(ItemOutcome{ID: item.ID, Status: model.StatusFailed, Kind: model.KindStore, Message: uerr.Error()})
		return
	}

	p.logger.Debugf("item_done stage=%s item=%s artifact=%s", def.Name, item.ID, artifact)
	record(ItemOutcome{ID: item.ID, Status: model.StatusCompleted, Artifact: artifact})
}

// execute invokes the stage executor with panic isolation: a panicking
// executor fails its own item, never the batch.
func (p *Pool) execute(ctx context.Context, def stage.Definition, item *model.WorkItem) (artifact string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = model.Errorf(model.KindInternal, "executor panic: %v", r)
		}
	}()
	return def.Executor.Execute(ctx, item)
}

func (s Summary) String() string {
	return fmt.Sprintf("stage=%s completed=%d failed=%d skipped=%d",
		s.Stage, s.Completed, s.Failed, s.Skipped)
}
