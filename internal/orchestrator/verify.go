package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/stage"
)

// Problem is one structural defect found by Verify.
type Problem struct {
	Variant model.Variant
	ID      string
	Detail  string
}

func (p Problem) String() string {
	return fmt.Sprintf("%s/%s: %s", p.Variant, p.ID, p.Detail)
}

// Verify checks the data directory structure against what completed stages
// promise: a task past extraction has both snapshots and a task spec, a
// repository past clone has a git checkout, a video past download has a
// transcript. It never mutates anything.
func (o *Orchestrator) Verify() ([]Problem, error) {
	var problems []Problem

	videos, err := o.store.List(model.VariantVideo, nil)
	if err != nil {
		return nil, err
	}
	for _, item := range videos {
		dir := o.store.ItemDir(model.VariantVideo, item.ID)
		if item.StageStatusOf(stage.StageDownload) == model.StatusCompleted {
			problems = append(problems, requireFile(model.VariantVideo, item.ID, filepath.Join(dir, "transcript.txt"), "transcript.txt missing")...)
		}
	}

	repos, err := o.store.List(model.VariantRepository, nil)
	if err != nil {
		return nil, err
	}
	for _, item := range repos {
		dir := o.store.ItemDir(model.VariantRepository, item.ID)
		if item.StageStatusOf(stage.StageClone) == model.StatusCompleted {
			problems = append(problems, requireDir(model.VariantRepository, item.ID, filepath.Join(dir, "code", ".git"), "code/.git missing")...)
		}
		if item.StageStatusOf(stage.StageAnalyzeCommits) == model.StatusCompleted {
			problems = append(problems, requireFile(model.VariantRepository, item.ID, filepath.Join(dir, "commits.yaml"), "commits.yaml missing")...)
		}
	}

	tasks, err := o.store.List(model.VariantTask, nil)
	if err != nil {
		return nil, err
	}
	for _, item := range tasks {
		dir := o.store.ItemDir(model.VariantTask, item.ID)
		if !model.ValidTaskID(item.ID) {
			problems = append(problems, Problem{model.VariantTask, item.ID, "malformed task id"})
		}
		problems = append(problems, requireFile(model.VariantTask, item.ID, filepath.Join(dir, "task_spec.yaml"), "task_spec.yaml missing")...)
		if item.StageStatusOf(stage.StageExtraction) == model.StatusCompleted {
			problems = append(problems, requireDir(model.VariantTask, item.ID, filepath.Join(dir, "ground_truth"), "ground_truth/ missing")...)
			problems = append(problems, requireDir(model.VariantTask, item.ID, filepath.Join(dir, "starting_point"), "starting_point/ missing")...)
		}
		if item.StageStatusOf(stage.StageValidation) == model.StatusCompleted {
			problems = append(problems, requireFile(model.VariantTask, item.ID, filepath.Join(dir, "validation.yaml"), "validation.yaml missing")...)
		}
	}

	return problems, nil
}

func requireFile(variant model.Variant, id, path, detail string) []Problem {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return []Problem{{variant, id, detail}}
	}
	return nil
}

func requireDir(variant model.Variant, id, path, detail string) []Problem {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return []Problem{{variant, id, detail}}
	}
	return nil
}
