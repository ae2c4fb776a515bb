package orchestrator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/taskforge/internal/logx"
	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/scheduler"
	"github.com/msageha/taskforge/internal/stage"
	"github.com/msageha/taskforge/internal/store"
)

// testRegistry builds a two-stage video pipeline whose executors just
// append to calls.
func testRegistry(t *testing.T, calls *[]string, fail map[string]bool) *stage.Registry {
	t.Helper()
	var mu sync.Mutex
	exec := func(name string) stage.Executor {
		return stage.ExecutorFunc(func(ctx context.Context, item *model.WorkItem) (string, error) {
			mu.Lock()
			*calls = append(*calls, name+"/"+item.ID)
			mu.Unlock()
			if fail[name+"/"+item.ID] {
				return "", model.Errorf(model.KindCollaboratorFailure, "induced failure")
			}
			return "", nil
		})
	}
	reg, err := stage.NewRegistry(
		stage.Definition{Name: "fetch", Variant: model.VariantVideo, Executor: exec("fetch")},
		stage.Definition{Name: "index", Variant: model.VariantVideo, Prereqs: []string{"fetch"}, Executor: exec("index")},
	)
	require.NoError(t, err)
	return reg
}

func newTestOrchestrator(t *testing.T, reg *stage.Registry, sources model.Sources) (*Orchestrator, *store.Store) {
	t.Helper()
	cfg := model.Config{}
	cfg.Pipeline.DataDir = t.TempDir()
	st := store.New(cfg.Pipeline.DataDir, reg.StagesByVariant())
	logger := logx.New(io.Discard, logx.LevelError, "test")
	pool := scheduler.New(st, 2, logger)
	return New(cfg, model.NewSourceView(sources), st, reg, pool, logger), st
}

func videoSources(ids ...string) model.Sources {
	var s model.Sources
	for _, id := range ids {
		s.Videos = append(s.Videos, model.VideoSource{ID: id})
	}
	return s
}

func TestRunProgressesThroughStagesInOrder(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, nil)
	orch, st := newTestOrchestrator(t, reg, videoSources("vid_a"))

	report, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)

	// Both stages complete in a single pass because the second batch sees
	// the first one's completions.
	assert.Equal(t, []string{"fetch/vid_a", "index/vid_a"}, calls)
	assert.Equal(t, 2, report.Completed)
	assert.False(t, report.HasFailures())

	item, err := st.Load(model.VariantVideo, "vid_a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, item.StageStatusOf("fetch"))
	assert.Equal(t, model.StatusCompleted, item.StageStatusOf("index"))
}

func TestRunCreatesMissingDataDir(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, nil)

	// A fresh project has config and sources but no data directory yet;
	// the first run must create it rather than fail on the lock file.
	cfg := model.Config{}
	cfg.Pipeline.DataDir = filepath.Join(t.TempDir(), "data")
	st := store.New(cfg.Pipeline.DataDir, reg.StagesByVariant())
	logger := logx.New(io.Discard, logx.LevelError, "test")
	pool := scheduler.New(st, 2, logger)
	orch := New(cfg, model.NewSourceView(videoSources("vid_a")), st, reg, pool, logger)

	report, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Completed)

	info, err := os.Stat(cfg.Pipeline.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPassReloadsSourcesForExecutors(t *testing.T) {
	dir := t.TempDir()
	sourcesPath := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(sourcesPath, []byte("videos:\n  - id: vid_a\n"), 0644))

	// The executor consults the shared view the way the download stage
	// does: an item whose source is not declared fails.
	view := model.NewSourceView(model.Sources{})
	exec := stage.ExecutorFunc(func(ctx context.Context, item *model.WorkItem) (string, error) {
		for _, v := range view.Get().Videos {
			if v.ID == item.ID {
				return "", nil
			}
		}
		return "", model.Errorf(model.KindNotFound, "video %s not declared in sources", item.ID)
	})
	reg, err := stage.NewRegistry(
		stage.Definition{Name: "fetch", Variant: model.VariantVideo, Executor: exec},
	)
	require.NoError(t, err)

	cfg := model.Config{}
	cfg.Pipeline.DataDir = filepath.Join(dir, "data")
	st := store.New(cfg.Pipeline.DataDir, reg.StagesByVariant())
	logger := logx.New(io.Discard, logx.LevelError, "test")
	pool := scheduler.New(st, 2, logger)
	orch := New(cfg, view, st, reg, pool, logger)

	orch.pass(context.Background(), sourcesPath)
	item, err := st.Load(model.VariantVideo, "vid_a")
	require.NoError(t, err)
	require.Equal(t, model.StatusCompleted, item.StageStatusOf("fetch"))

	// A source added while watching must reach the executors on the next
	// pass, not only the orchestrator's registration loop.
	require.NoError(t, os.WriteFile(sourcesPath, []byte("videos:\n  - id: vid_a\n  - id: vid_b\n"), 0644))
	orch.pass(context.Background(), sourcesPath)

	item, err = st.Load(model.VariantVideo, "vid_b")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, item.StageStatusOf("fetch"))
}

func TestRunGatesOnPrerequisites(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, map[string]bool{"fetch/vid_a": true})
	orch, st := newTestOrchestrator(t, reg, videoSources("vid_a"))

	report, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"fetch/vid_a"}, calls, "index must not run after fetch failed")
	assert.True(t, report.HasFailures())

	item, err := st.Load(model.VariantVideo, "vid_a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, item.StageStatusOf("fetch"))
	assert.Equal(t, model.StatusPending, item.StageStatusOf("index"))
}

func TestRunSkipsCompletedOnSecondPass(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, nil)
	orch, _ := newTestOrchestrator(t, reg, videoSources("vid_a"))

	_, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	calls = calls[:0]

	report, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, calls, "completed stages must not re-run")
	assert.Equal(t, 0, report.Completed+report.Failed)
}

func TestRunRetryFailed(t *testing.T) {
	var calls []string
	failures := map[string]bool{"fetch/vid_a": true}
	reg := testRegistry(t, &calls, failures)
	orch, st := newTestOrchestrator(t, reg, videoSources("vid_a"))

	_, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	calls = calls[:0]

	// Without the flag the failed stage stays put.
	_, err = orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, calls)

	delete(failures, "fetch/vid_a")
	report, err := orch.Run(context.Background(), Options{RetryFailed: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch/vid_a", "index/vid_a"}, calls)
	assert.False(t, report.HasFailures())

	item, err := st.Load(model.VariantVideo, "vid_a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, item.StageStatusOf("fetch"))
}

func TestRunReclaimsStaleInProgress(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, nil)
	orch, st := newTestOrchestrator(t, reg, videoSources("vid_a"))

	_, err := st.Register(model.VariantVideo, "vid_a")
	require.NoError(t, err)
	require.NoError(t, st.UpdateStage(model.VariantVideo, "vid_a", "fetch", model.StatusInProgress, "", ""))

	// A fresh claim is not eligible.
	_, err = orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Empty(t, calls)

	// Past the grace period the claim is considered orphaned.
	orch.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Contains(t, calls, "fetch/vid_a")
}

func TestRunExplicitIDFilter(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, nil)
	orch, _ := newTestOrchestrator(t, reg, videoSources("vid_a", "vid_b"))

	_, err := orch.Run(context.Background(), Options{
		IDs: map[model.Variant][]string{model.VariantVideo: {"vid_b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch/vid_b", "index/vid_b"}, calls)
}

func TestRunStageFilter(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, nil)
	orch, _ := newTestOrchestrator(t, reg, videoSources("vid_a"))

	_, err := orch.Run(context.Background(), Options{Stages: []string{"fetch"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"fetch/vid_a"}, calls)

	_, err = orch.Run(context.Background(), Options{Stages: []string{"bogus"}})
	assert.Error(t, err)
}

func TestRunDryRunChangesNothing(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, nil)
	orch, st := newTestOrchestrator(t, reg, videoSources("vid_a"))

	report, err := orch.Run(context.Background(), Options{DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, calls)
	require.Len(t, report.Stages, 1, "only fetch is eligible before anything completed")
	assert.Equal(t, []string{"vid_a"}, report.Stages[0].Planned)

	item, err := st.Load(model.VariantVideo, "vid_a")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, item.StageStatusOf("fetch"))
}

func TestRunResumeSkipsRegistration(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, nil)
	orch, st := newTestOrchestrator(t, reg, videoSources("vid_a"))

	_, err := orch.Run(context.Background(), Options{Resume: true})
	require.NoError(t, err)
	assert.Empty(t, calls)

	items, err := st.List(model.VariantVideo, nil)
	require.NoError(t, err)
	assert.Empty(t, items, "resume must not register new sources")
}

func TestRunWritesReport(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, nil)
	orch, st := newTestOrchestrator(t, reg, videoSources("vid_a"))

	_, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(st.DataDir(), "reports"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Regexp(t, `^run_\d{8}T\d{6}Z\.yaml$`, entries[0].Name())
}

func TestStatsCountsByStageStatus(t *testing.T) {
	var calls []string
	reg := testRegistry(t, &calls, map[string]bool{"index/vid_a": true})
	orch, _ := newTestOrchestrator(t, reg, videoSources("vid_a", "vid_b"))

	_, err := orch.Run(context.Background(), Options{})
	require.NoError(t, err)

	stats, err := orch.Stats()
	require.NoError(t, err)
	require.Len(t, stats.Variants, 1)
	vs := stats.Variants[0]
	assert.Equal(t, model.VariantVideo, vs.Variant)
	assert.Equal(t, 2, vs.Total)

	byStage := map[string]StageStats{}
	for _, ss := range vs.Stages {
		byStage[ss.Stage] = ss
	}
	assert.Equal(t, 2, byStage["fetch"].Counts[model.StatusCompleted])
	assert.Equal(t, 1, byStage["index"].Counts[model.StatusCompleted])
	assert.Equal(t, 1, byStage["index"].Counts[model.StatusFailed])
}

func TestLoadSourcesMissingFile(t *testing.T) {
	sources, err := LoadSources(filepath.Join(t.TempDir(), "sources.yaml"))
	require.NoError(t, err)
	assert.Empty(t, sources.Videos)
	assert.Empty(t, sources.Repos)
}
