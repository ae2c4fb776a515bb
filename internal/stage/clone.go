package stage

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/taskforge/internal/gitx"
	"github.com/msageha/taskforge/internal/model"
)

const codeDir = "code"

// runClone clones a repository item's source into <repo>/code. Already
// cloned repositories are left alone; the pipeline never mutates history.
func (env *Env) runClone(ctx context.Context, item *model.WorkItem) (string, error) {
	dir := env.Store.ItemDir(model.VariantRepository, item.ID)
	target := filepath.Join(dir, codeDir)

	if _, err := os.Stat(filepath.Join(target, ".git")); err == nil {
		env.Logger.Debugf("clone_skip repo=%s reason=already_cloned", item.ID)
		return codeDir, nil
	}

	src, ok := env.repoSource(item.ID)
	if !ok {
		return "", model.Errorf(model.KindNotFound, "repository %s not declared in sources", item.ID)
	}

	timeout := time.Duration(env.Config.Git.CloneTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 300 * time.Second
	}

	if _, err := gitx.Clone(ctx, src.URL, target, timeout); err != nil {
		// A clone that timed out or hit the network is worth retrying;
		// a bad URL is not distinguishable here, so keep it transient.
		return "", model.NewError(model.KindTransientCollaborator, err)
	}

	env.Logger.Infof("clone_done repo=%s url=%s", item.ID, src.URL)
	return codeDir, nil
}
