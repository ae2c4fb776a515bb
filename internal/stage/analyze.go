package stage

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/msageha/taskforge/internal/gitx"
	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/yamlio"
)

const commitsFile = "commits.yaml"

// runAnalyzeCommits walks the clone's history and records the commits that
// touch engine-relevant files. Discovery later matches transcript segments
// against this log.
func (env *Env) runAnalyzeCommits(ctx context.Context, item *model.WorkItem) (string, error) {
	dir := env.Store.ItemDir(model.VariantRepository, item.ID)

	repo, err := gitx.Open(filepath.Join(dir, codeDir))
	if err != nil {
		return "", err
	}

	commits, err := repo.Log(ctx, env.Config.Git.MaxCommits)
	if err != nil {
		return "", model.NewError(model.KindCollaboratorFailure, err)
	}

	patterns := env.Config.FilePatterns()
	var kept []model.Commit
	for _, c := range commits {
		var relevant []model.FileChange
		for _, fc := range c.FilesChanged {
			if matchesAny(fc.Path, patterns) {
				relevant = append(relevant, fc)
			}
		}
		if len(relevant) == 0 {
			continue
		}
		c.FilesChanged = relevant
		kept = append(kept, c)
	}

	log := model.CommitLog{
		SchemaVersion: model.ItemSchemaVersion,
		Repo:          item.ID,
		Commits:       kept,
	}
	if err := yamlio.AtomicWrite(filepath.Join(dir, commitsFile), log); err != nil {
		return "", model.NewError(model.KindStore, err)
	}

	env.Logger.Infof("analyze_done repo=%s commits=%d relevant=%d", item.ID, len(commits), len(kept))
	return commitsFile, nil
}

func matchesAny(path string, patterns []string) bool {
	for _, p := range patterns {
		if strings.HasSuffix(path, p) {
			return true
		}
	}
	return false
}
