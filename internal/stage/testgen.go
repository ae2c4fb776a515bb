package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/yamlio"
	"github.com/msageha/taskforge/templates"
)

// runTestGeneration asks the LLM for a validation script derived from the
// ground-truth structure and writes it into the snapshot. It only ever
// adds files; extractor-produced files are never touched.
func (env *Env) runTestGeneration(ctx context.Context, item *model.WorkItem) (string, error) {
	taskDir := env.Store.ItemDir(model.VariantTask, item.ID)

	var spec model.TaskSpec
	if err := yamlio.Read(filepath.Join(taskDir, taskSpecFile), &spec); err != nil {
		return "", model.Errorf(model.KindNotFound, "task %s: %w", item.ID, err)
	}

	gtDir := filepath.Join(taskDir, "ground_truth")
	if _, err := os.Stat(gtDir); err != nil {
		return "", model.Errorf(model.KindNotFound, "task %s has no ground truth: %w", item.ID, err)
	}

	structure, err := analyzeStructure(gtDir)
	if err != nil {
		return "", model.NewError(model.KindInternal, err)
	}

	prompt, err := renderTestgenPrompt(spec, structure)
	if err != nil {
		return "", model.NewError(model.KindInternal, err)
	}

	response, err := env.LLM.Complete(ctx, "", prompt)
	if err != nil {
		return "", err
	}

	script := StripCodeFences(response)
	if !strings.Contains(script, "VALIDATION_PASSED") {
		return "", model.Errorf(model.KindCollaboratorFailure,
			"generated test for %s never prints the pass marker", item.ID)
	}

	scriptRel := env.testScriptRel()
	scriptPath := filepath.Join(gtDir, scriptRel)
	if err := os.MkdirAll(filepath.Dir(scriptPath), 0755); err != nil {
		return "", model.Errorf(model.KindStore, "create test dir: %w", err)
	}
	if err := os.WriteFile(scriptPath, []byte(script), 0644); err != nil {
		return "", model.Errorf(model.KindStore, "write test script: %w", err)
	}

	env.Logger.Infof("testgen_done task=%s script=%s bytes=%d", item.ID, scriptRel, len(script))
	return scriptRel, nil
}

func (env *Env) testScriptRel() string {
	if env.Config.Validator.TestScript != "" {
		return env.Config.Validator.TestScript
	}
	return filepath.Join("scripts", "test.gd")
}

type testgenPromptData struct {
	Name        string
	Instruction string
	MainScene   string
	Scenes      string
	Scripts     string
	Resources   string
	Difficulty  string
	Tags        string
}

func renderTestgenPrompt(spec model.TaskSpec, s ProjectStructure) (string, error) {
	mainScene := s.MainScene
	if mainScene == "" {
		mainScene = "main.tscn"
	}

	tmpl, err := template.ParseFS(templates.FS, "prompts/testgen.md")
	if err != nil {
		return "", fmt.Errorf("parse testgen template: %w", err)
	}
	var sb strings.Builder
	err = tmpl.Execute(&sb, testgenPromptData{
		Name:        spec.Name,
		Instruction: spec.Instruction,
		MainScene:   mainScene,
		Scenes:      strings.Join(head(s.Scenes, 5), ", "),
		Scripts:     strings.Join(head(s.Scripts, 5), ", "),
		Resources:   strings.Join(head(s.Resources, 3), ", "),
		Difficulty:  spec.Difficulty,
		Tags:        strings.Join(spec.Tags, ", "),
	})
	if err != nil {
		return "", fmt.Errorf("render testgen prompt: %w", err)
	}
	return sb.String(), nil
}
