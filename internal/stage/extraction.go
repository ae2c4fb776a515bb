package stage

import (
	"context"
	"path/filepath"

	"github.com/msageha/taskforge/internal/gitx"
	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/yamlio"
)

// runExtraction materializes the ground-truth and starting-point trees for
// a task from its commit pair. The extractor serializes checkouts per
// repository and restores the original ref on every exit path.
func (env *Env) runExtraction(ctx context.Context, item *model.WorkItem) (string, error) {
	taskDir := env.Store.ItemDir(model.VariantTask, item.ID)

	var spec model.TaskSpec
	if err := yamlio.Read(filepath.Join(taskDir, taskSpecFile), &spec); err != nil {
		return "", model.Errorf(model.KindNotFound, "task %s: %w", item.ID, err)
	}

	repoDir := filepath.Join(env.Store.ItemDir(model.VariantRepository, spec.RepoName), codeDir)
	repo, err := gitx.Open(repoDir)
	if err != nil {
		return "", err
	}

	res, err := env.Extractor.Extract(ctx, repo, spec.BaseRef, spec.HeadRef, taskDir)
	if err != nil {
		return "", err
	}

	if len(res.GroundTruthFiles) > 0 || len(res.StartingPointFiles) > 0 {
		spec.GroundTruthFiles = len(res.GroundTruthFiles)
		spec.StartingPointFiles = len(res.StartingPointFiles)
		if err := yamlio.AtomicWrite(filepath.Join(taskDir, taskSpecFile), spec); err != nil {
			return "", model.NewError(model.KindStore, err)
		}
	}

	env.Logger.Infof("extraction_done task=%s gt_files=%d sp_files=%d",
		item.ID, spec.GroundTruthFiles, spec.StartingPointFiles)
	return "ground_truth,starting_point", nil
}
