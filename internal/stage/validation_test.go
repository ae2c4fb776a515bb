package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/taskforge/internal/collab"
	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/yamlio"
)

// seedTask lays out a task directory with both snapshots and a generated
// test script in the ground truth.
func seedTask(t *testing.T, env *Env, taskID string) (gtDir, spDir string) {
	t.Helper()
	taskDir := env.Store.ItemDir(model.VariantTask, taskID)
	gtDir = filepath.Join(taskDir, "ground_truth")
	spDir = filepath.Join(taskDir, "starting_point")

	require.NoError(t, os.MkdirAll(filepath.Join(gtDir, "scripts"), 0755))
	require.NoError(t, os.MkdirAll(spDir, 0755))
	script := "extends SceneTree\nfunc _init():\n\tprint(\"VALIDATION_PASSED\")\n\tquit()\n"
	require.NoError(t, os.WriteFile(filepath.Join(gtDir, "scripts", "test.gd"), []byte(script), 0644))

	spec := model.TaskSpec{SchemaVersion: model.ItemSchemaVersion, TaskID: taskID, Name: "Add jump"}
	require.NoError(t, yamlio.AtomicWrite(filepath.Join(taskDir, taskSpecFile), spec))
	return gtDir, spDir
}

func TestValidationValidTask(t *testing.T) {
	env := newTestEnv(t, model.Sources{})
	taskID := model.TaskID("game", plainHash)
	item := itemFor(t, env, model.VariantTask, taskID)
	gtDir, spDir := seedTask(t, env, taskID)

	env.Runner = &fakeRunner{results: map[string]collab.TestResult{
		gtDir: {Passed: true, Output: "VALIDATION_PASSED"},
		spDir: {Passed: false, Output: "missing jump"},
	}}

	artifact, err := env.runValidation(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, validationFile, artifact)

	var result model.ValidationResult
	taskDir := env.Store.ItemDir(model.VariantTask, taskID)
	require.NoError(t, yamlio.Read(filepath.Join(taskDir, validationFile), &result))
	assert.True(t, result.Valid)
	assert.True(t, result.GroundTruthPassed)
	assert.False(t, result.StartingPointPassed)
	assert.Empty(t, result.Warning)

	// The test script must have been copied into the starting point.
	_, err = os.Stat(filepath.Join(spDir, "scripts", "test.gd"))
	assert.NoError(t, err)
}

func TestValidationQualityWarningIsNotAFailure(t *testing.T) {
	env := newTestEnv(t, model.Sources{})
	taskID := model.TaskID("game", plainHash)
	item := itemFor(t, env, model.VariantTask, taskID)
	gtDir, spDir := seedTask(t, env, taskID)

	// Starting point already passes: the task verifies nothing.
	env.Runner = &fakeRunner{results: map[string]collab.TestResult{
		gtDir: {Passed: true},
		spDir: {Passed: true},
	}}

	_, err := env.runValidation(context.Background(), item)
	require.NoError(t, err, "a quality mismatch is recorded, not failed")

	var result model.ValidationResult
	taskDir := env.Store.ItemDir(model.VariantTask, taskID)
	require.NoError(t, yamlio.Read(filepath.Join(taskDir, validationFile), &result))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Warning, "already passes")
}

func TestValidationWarningOnGroundTruthFailure(t *testing.T) {
	env := newTestEnv(t, model.Sources{})
	taskID := model.TaskID("game", plainHash)
	item := itemFor(t, env, model.VariantTask, taskID)
	_, _ = seedTask(t, env, taskID)

	env.Runner = &fakeRunner{} // everything fails

	_, err := env.runValidation(context.Background(), item)
	require.NoError(t, err)

	var result model.ValidationResult
	taskDir := env.Store.ItemDir(model.VariantTask, taskID)
	require.NoError(t, yamlio.Read(filepath.Join(taskDir, validationFile), &result))
	assert.False(t, result.Valid)
	assert.Contains(t, result.Warning, "ground truth")
}

func TestValidationBrokenRunnerFailsStage(t *testing.T) {
	env := newTestEnv(t, model.Sources{})
	taskID := model.TaskID("game", plainHash)
	item := itemFor(t, env, model.VariantTask, taskID)
	seedTask(t, env, taskID)

	env.Runner = &fakeRunner{err: model.Errorf(model.KindCollaboratorFailure, "godot not installed")}

	_, err := env.runValidation(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, model.KindCollaboratorFailure, model.KindOf(err))
}

func TestValidationMissingScript(t *testing.T) {
	env := newTestEnv(t, model.Sources{})
	taskID := model.TaskID("game", plainHash)
	item := itemFor(t, env, model.VariantTask, taskID)

	_, err := env.runValidation(context.Background(), item)
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestTruncateLongOutput(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'y'
	}
	out := truncate(string(long), 2000)
	assert.Less(t, len(out), 2100)
	assert.Contains(t, out, "truncated")
	assert.Equal(t, "short", truncate("short", 2000))
}
