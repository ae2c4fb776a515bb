package gitx

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/msageha/taskforge/internal/lock"
	"github.com/msageha/taskforge/internal/logx"
	"github.com/msageha/taskforge/internal/model"
)

// ExtractionResult holds the two snapshot trees for one task.
type ExtractionResult struct {
	GroundTruth        string
	StartingPoint      string
	GroundTruthFiles   []string
	StartingPointFiles []string
}

// Extractor materializes ground-truth and starting-point trees from a
// commit pair. Checkout mutates the shared working tree, so extractions
// against the same repository serialize on a per-path mutex; different
// repositories proceed independently.
type Extractor struct {
	locks    *lock.MutexMap
	patterns []string
	logger   *logx.Logger
}

func NewExtractor(patterns []string, logger *logx.Logger) *Extractor {
	return &Extractor{
		locks:    lock.NewMutexMap(),
		patterns: patterns,
		logger:   logger,
	}
}

// Snapshot copies the full file tree at ref into outDir, version-control
// metadata excluded. The repository is left checked out at ref; Extract
// owns the restore. The dirty check runs before any mutation.
func (e *Extractor) Snapshot(ctx context.Context, repo *Repo, ref, outDir string) ([]string, error) {
	dirty, err := repo.IsDirty(ctx)
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, model.Errorf(model.KindDirtyWorkingTree,
			"repository %s has uncommitted changes", repo.Path())
	}

	commit, err := repo.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if err := repo.Checkout(ctx, commit); err != nil {
		return nil, err
	}

	files, err := repo.ListFiles(ctx, commit)
	if err != nil {
		return nil, err
	}

	var copied []string
	for _, rel := range files {
		if !e.matches(rel) {
			continue
		}
		src := filepath.Join(repo.Path(), rel)
		info, err := os.Stat(src)
		if err != nil || info.IsDir() {
			continue
		}
		dst := filepath.Join(outDir, rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", rel, err)
		}
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", rel, err)
		}
		copied = append(copied, rel)
	}
	return copied, nil
}

// Extract produces both snapshots for (baseRef, headRef) under taskDir and
// restores the repository to its original ref on every exit path. If both
// output trees already exist the call is a no-op: once written, snapshots
// are owned by the task and later stages may add files to them.
func (e *Extractor) Extract(ctx context.Context, repo *Repo, baseRef, headRef, taskDir string) (result *ExtractionResult, err error) {
	e.locks.Lock(repo.Path())
	defer e.locks.Unlock(repo.Path())

	gtDir := filepath.Join(taskDir, "ground_truth")
	spDir := filepath.Join(taskDir, "starting_point")

	if dirExists(gtDir) && dirExists(spDir) {
		e.logger.Infof("extract_skip repo=%s task_dir=%s reason=already_extracted", repo.Path(), taskDir)
		return &ExtractionResult{GroundTruth: gtDir, StartingPoint: spDir}, nil
	}

	baseCommit, err := repo.Resolve(ctx, baseRef)
	if err != nil {
		return nil, err
	}
	headCommit, err := repo.Resolve(ctx, headRef)
	if err != nil {
		return nil, err
	}
	if baseCommit == headCommit {
		return nil, model.Errorf(model.KindAmbiguousHistory,
			"base and head resolve to the same commit %s", headCommit)
	}

	parents, err := repo.ParentCount(ctx, headCommit)
	if err != nil {
		return nil, err
	}
	if parents > 1 {
		return nil, model.Errorf(model.KindAmbiguousHistory,
			"head %s is a merge commit (%d parents)", headCommit, parents)
	}
	ancestor, err := repo.IsAncestor(ctx, baseCommit, headCommit)
	if err != nil {
		return nil, err
	}
	if !ancestor {
		return nil, model.Errorf(model.KindAmbiguousHistory,
			"base %s is not an ancestor of head %s", baseCommit, headCommit)
	}

	dirty, err := repo.IsDirty(ctx)
	if err != nil {
		return nil, err
	}
	if dirty {
		// Checked before any checkout so a dirty tree is left untouched.
		return nil, model.Errorf(model.KindDirtyWorkingTree,
			"repository %s has uncommitted changes", repo.Path())
	}

	originalRef, err := repo.CurrentRef(ctx)
	if err != nil {
		return nil, err
	}

	defer func() {
		// The restore must run on every exit path, including snapshot
		// failures; otherwise later work on this repository silently sees
		// the wrong commit checked out. Uses a fresh context so a
		// cancelled run still restores.
		restoreCtx, cancel := context.WithTimeout(context.Background(), restoreTimeout)
		defer cancel()
		if rerr := repo.Checkout(restoreCtx, originalRef); rerr != nil {
			e.logger.Errorf("extract_restore_failed repo=%s ref=%s error=%v", repo.Path(), originalRef, rerr)
			if err == nil {
				err = fmt.Errorf("restore %q: %w", originalRef, rerr)
				result = nil
			}
			return
		}
		e.logger.Debugf("extract_restore repo=%s ref=%s", repo.Path(), originalRef)
		if err != nil {
			// Partial snapshots are worthless without a completed record.
			_ = os.RemoveAll(gtDir)
			_ = os.RemoveAll(spDir)
		}
	}()

	gtFiles, err := e.Snapshot(ctx, repo, headCommit, gtDir)
	if err != nil {
		return nil, fmt.Errorf("ground truth: %w", err)
	}
	spFiles, err := e.Snapshot(ctx, repo, baseCommit, spDir)
	if err != nil {
		return nil, fmt.Errorf("starting point: %w", err)
	}

	e.logger.Infof("extract_done repo=%s base=%s head=%s gt_files=%d sp_files=%d",
		repo.Path(), baseCommit[:8], headCommit[:8], len(gtFiles), len(spFiles))

	return &ExtractionResult{
		GroundTruth:        gtDir,
		StartingPoint:      spDir,
		GroundTruthFiles:   gtFiles,
		StartingPointFiles: spFiles,
	}, nil
}

const restoreTimeout = 60 * time.Second

func (e *Extractor) matches(path string) bool {
	if len(e.patterns) == 0 {
		return true
	}
	if strings.HasPrefix(path, ".git/") {
		return false
	}
	for _, p := range e.patterns {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
