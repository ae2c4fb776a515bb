package stage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/msageha/taskforge/internal/collab"
	"github.com/msageha/taskforge/internal/gitx"
	"github.com/msageha/taskforge/internal/logx"
	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/store"
)

// fakeLLM returns a canned response.
type fakeLLM struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeLLM) Complete(ctx context.Context, system, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

// fakeFetcher returns a canned transcript.
type fakeFetcher struct {
	text string
	err  error
}

func (f *fakeFetcher) Fetch(ctx context.Context, videoID, url string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

// fakeRunner decides pass/fail per project directory.
type fakeRunner struct {
	results map[string]collab.TestResult
	err     error
}

func (f *fakeRunner) RunTest(ctx context.Context, projectDir, testScript string) (collab.TestResult, error) {
	if f.err != nil {
		return collab.TestResult{}, f.err
	}
	if r, ok := f.results[projectDir]; ok {
		return r, nil
	}
	return collab.TestResult{Passed: false, Output: "no result configured"}, nil
}

// newTestEnv wires an Env over a temp data dir with fake collaborators.
func newTestEnv(t *testing.T, sources model.Sources) *Env {
	t.Helper()
	logger := logx.New(io.Discard, logx.LevelError, "test")
	env := &Env{
		Config:      model.Config{},
		Sources:     model.NewSourceView(sources),
		LLM:         &fakeLLM{},
		Transcripts: &fakeFetcher{text: "transcript"},
		Runner:      &fakeRunner{},
		Extractor:   gitx.NewExtractor(model.DefaultFilePatterns, logger),
		Logger:      logger,
	}
	reg, err := DefaultRegistry(env)
	require.NoError(t, err)
	env.Store = store.New(t.TempDir(), reg.StagesByVariant())
	return env
}

func itemFor(t *testing.T, env *Env, variant model.Variant, id string) *model.WorkItem {
	t.Helper()
	item, err := env.Store.Register(variant, id)
	require.NoError(t, err)
	return item
}
