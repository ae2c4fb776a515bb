package stage

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/yamlio"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func gitRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// newSourceRepo builds a small Godot-ish history: a docs-only commit that
// commit analysis must drop, then two engine-relevant commits.
func newSourceRepo(t *testing.T) (dir, base, head string) {
	t.Helper()
	requireGit(t)
	dir = t.TempDir()

	gitRun(t, dir, "init", "--quiet", "-b", "main")
	gitRun(t, dir, "config", "user.email", "test@example.com")
	gitRun(t, dir, "config", "user.name", "test")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("docs"), 0644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "--quiet", "-m", "docs only")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "player.gd"), []byte("extends Node\n"), 0644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "--quiet", "-m", "add player")
	base = gitRun(t, dir, "rev-parse", "HEAD")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "player.gd"), []byte("extends Node\nvar jump = true\n"), 0644))
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "--quiet", "-m", "add jump")
	head = gitRun(t, dir, "rev-parse", "HEAD")
	return dir, base, head
}

func TestCloneAndAnalyzeCommits(t *testing.T) {
	srcDir, _, _ := newSourceRepo(t)

	env := newTestEnv(t, model.Sources{
		Repos: []model.RepoSource{{Name: "game", URL: srcDir}},
	})
	item := itemFor(t, env, model.VariantRepository, "game")

	artifact, err := env.runClone(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, codeDir, artifact)

	repoDir := env.Store.ItemDir(model.VariantRepository, "game")
	_, err = os.Stat(filepath.Join(repoDir, codeDir, ".git"))
	require.NoError(t, err)

	// Re-running the clone is a no-op.
	_, err = env.runClone(context.Background(), item)
	require.NoError(t, err)

	_, err = env.runAnalyzeCommits(context.Background(), item)
	require.NoError(t, err)

	var log model.CommitLog
	require.NoError(t, yamlio.Read(filepath.Join(repoDir, commitsFile), &log))
	assert.Equal(t, "game", log.Repo)
	require.Len(t, log.Commits, 2, "docs-only commit must be filtered out")
	for _, c := range log.Commits {
		for _, fc := range c.FilesChanged {
			assert.True(t, strings.HasSuffix(fc.Path, ".gd"))
		}
	}
}

func TestCloneUnknownRepo(t *testing.T) {
	env := newTestEnv(t, model.Sources{})
	item := itemFor(t, env, model.VariantRepository, "nope")

	_, err := env.runClone(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestExtractionProducesSnapshots(t *testing.T) {
	srcDir, base, head := newSourceRepo(t)

	env := newTestEnv(t, model.Sources{
		Repos: []model.RepoSource{{Name: "game", URL: srcDir}},
	})
	repoItem := itemFor(t, env, model.VariantRepository, "game")
	_, err := env.runClone(context.Background(), repoItem)
	require.NoError(t, err)

	taskID := model.TaskID("game", head)
	taskItem := itemFor(t, env, model.VariantTask, taskID)
	taskDir := env.Store.ItemDir(model.VariantTask, taskID)
	spec := model.TaskSpec{
		SchemaVersion: model.ItemSchemaVersion,
		TaskID:        taskID,
		RepoName:      "game",
		BaseRef:       base,
		HeadRef:       head,
	}
	require.NoError(t, yamlio.AtomicWrite(filepath.Join(taskDir, taskSpecFile), spec))

	_, err = env.runExtraction(context.Background(), taskItem)
	require.NoError(t, err)

	gt, err := os.ReadFile(filepath.Join(taskDir, "ground_truth", "player.gd"))
	require.NoError(t, err)
	assert.Contains(t, string(gt), "jump")

	sp, err := os.ReadFile(filepath.Join(taskDir, "starting_point", "player.gd"))
	require.NoError(t, err)
	assert.NotContains(t, string(sp), "jump")

	// File counts recorded back into the task spec.
	var updated model.TaskSpec
	require.NoError(t, yamlio.Read(filepath.Join(taskDir, taskSpecFile), &updated))
	assert.Equal(t, 1, updated.GroundTruthFiles)
	assert.Equal(t, 1, updated.StartingPointFiles)
}

func TestExtractionMissingSpec(t *testing.T) {
	env := newTestEnv(t, model.Sources{})
	item := itemFor(t, env, model.VariantTask, model.TaskID("game", plainHash))

	_, err := env.runExtraction(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}
