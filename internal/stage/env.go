package stage

import (
	"github.com/msageha/taskforge/internal/collab"
	"github.com/msageha/taskforge/internal/gitx"
	"github.com/msageha/taskforge/internal/logx"
	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/store"
)

// Stage names, in pipeline order.
const (
	StageDownload       = "download"
	StageClone          = "clone"
	StageAnalyzeCommits = "analyze_commits"
	StageDiscovery      = "discovery"
	StageExtraction     = "extraction"
	StageTestGeneration = "test_generation"
	StageValidation     = "validation"
)

// Env carries the shared dependencies the executors need. Collaborators
// are interfaces so tests inject fakes.
type Env struct {
	Config      model.Config
	Sources     *model.SourceView
	Store       *store.Store
	LLM         collab.LLMClient
	Transcripts collab.TranscriptFetcher
	Runner      collab.TestRunner
	Extractor   *gitx.Extractor
	Logger      *logx.Logger
}

// DefaultRegistry wires the seven pipeline stages. Prerequisites are
// declared per variant; cross-variant readiness (discovery needs the
// paired repository analyzed) is checked inside the executor and surfaces
// as a retryable failure, matching the file-driven data flow.
func DefaultRegistry(env *Env) (*Registry, error) {
	return NewRegistry(
		Definition{
			Name:     StageDownload,
			Variant:  model.VariantVideo,
			Executor: ExecutorFunc(env.runDownload),
		},
		Definition{
			Name:     StageClone,
			Variant:  model.VariantRepository,
			Executor: ExecutorFunc(env.runClone),
		},
		Definition{
			Name:     StageAnalyzeCommits,
			Variant:  model.VariantRepository,
			Prereqs:  []string{StageClone},
			Executor: ExecutorFunc(env.runAnalyzeCommits),
		},
		Definition{
			Name:     StageDiscovery,
			Variant:  model.VariantVideo,
			Prereqs:  []string{StageDownload},
			Executor: ExecutorFunc(env.runDiscovery),
		},
		Definition{
			Name:     StageExtraction,
			Variant:  model.VariantTask,
			Executor: ExecutorFunc(env.runExtraction),
		},
		Definition{
			Name:     StageTestGeneration,
			Variant:  model.VariantTask,
			Prereqs:  []string{StageExtraction},
			Executor: ExecutorFunc(env.runTestGeneration),
		},
		Definition{
			Name:     StageValidation,
			Variant:  model.VariantTask,
			Prereqs:  []string{StageTestGeneration},
			Executor: ExecutorFunc(env.runValidation),
		},
	)
}

// StageList returns the declared names of every stage.
func StageList() []string {
	return []string{
		StageDownload, StageClone, StageAnalyzeCommits, StageDiscovery,
		StageExtraction, StageTestGeneration, StageValidation,
	}
}
