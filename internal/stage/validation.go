package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/yamlio"
)

const validationFile = "validation.yaml"

// runValidation runs the generated test against both snapshots. A valid
// task passes on ground truth and fails on the starting point. Any other
// combination is recorded as a quality warning — never silently dropped,
// never a stage failure. Only a broken runner fails the stage.
func (env *Env) runValidation(ctx context.Context, item *model.WorkItem) (string, error) {
	taskDir := env.Store.ItemDir(model.VariantTask, item.ID)
	gtDir := filepath.Join(taskDir, "ground_truth")
	spDir := filepath.Join(taskDir, "starting_point")
	scriptRel := env.testScriptRel()

	if _, err := os.Stat(filepath.Join(gtDir, scriptRel)); err != nil {
		return "", model.Errorf(model.KindNotFound, "task %s has no test script: %w", item.ID, err)
	}

	gtResult, err := env.Runner.RunTest(ctx, gtDir, scriptRel)
	if err != nil {
		return "", err
	}

	// The starting point gets a copy of the same test. Copying is additive;
	// extractor-produced files stay untouched.
	spScript := filepath.Join(spDir, scriptRel)
	if err := os.MkdirAll(filepath.Dir(spScript), 0755); err != nil {
		return "", model.Errorf(model.KindStore, "copy test script: %w", err)
	}
	script, err := os.ReadFile(filepath.Join(gtDir, scriptRel))
	if err != nil {
		return "", model.Errorf(model.KindStore, "read test script: %w", err)
	}
	if err := os.WriteFile(spScript, script, 0644); err != nil {
		return "", model.Errorf(model.KindStore, "copy test script: %w", err)
	}

	spResult, err := env.Runner.RunTest(ctx, spDir, scriptRel)
	if err != nil {
		return "", err
	}

	result := model.ValidationResult{
		SchemaVersion:       model.ItemSchemaVersion,
		TaskID:              item.ID,
		GroundTruthPassed:   gtResult.Passed,
		StartingPointPassed: spResult.Passed,
		Valid:               gtResult.Passed && !spResult.Passed,
		GroundTruthOutput:   truncate(gtResult.Output, 2000),
		StartingPointOutput: truncate(spResult.Output, 2000),
		ValidatedAt:         time.Now().UTC().Format(time.RFC3339),
	}
	if !result.Valid {
		result.Warning = qualityWarning(gtResult.Passed, spResult.Passed)
		env.Logger.Warnf("validation_warning task=%s gt_passed=%v sp_passed=%v",
			item.ID, gtResult.Passed, spResult.Passed)
	}

	if err := yamlio.AtomicWrite(filepath.Join(taskDir, validationFile), result); err != nil {
		return "", model.NewError(model.KindStore, err)
	}

	env.Logger.Infof("validation_done task=%s valid=%v", item.ID, result.Valid)
	return validationFile, nil
}

func qualityWarning(gtPassed, spPassed bool) string {
	switch {
	case !gtPassed && spPassed:
		return "test passes on starting point but fails on ground truth (inverted)"
	case !gtPassed:
		return "ground truth test failed"
	default:
		return "starting point already passes the test"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s… (%d bytes truncated)", s[:n], len(s)-n)
}
