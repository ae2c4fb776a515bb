package stage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/taskforge/internal/model"
)

func TestDownloadWritesTranscriptFromDeclaredSource(t *testing.T) {
	env := newTestEnv(t, model.Sources{
		Videos: []model.VideoSource{{ID: "vid_a", TranscriptURL: "http://example/vid_a"}},
	})
	item := itemFor(t, env, model.VariantVideo, "vid_a")

	artifact, err := env.runDownload(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, transcriptFile, artifact)

	path := filepath.Join(env.Store.ItemDir(model.VariantVideo, "vid_a"), transcriptFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "transcript", string(data))
}

func TestDownloadUndeclaredVideoIsNotFound(t *testing.T) {
	env := newTestEnv(t, model.Sources{})
	item := itemFor(t, env, model.VariantVideo, "vid_x")

	_, err := env.runDownload(context.Background(), item)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestSourceReloadIsVisibleToLookups(t *testing.T) {
	env := newTestEnv(t, model.Sources{})

	_, ok := env.videoSource("vid_new")
	require.False(t, ok)

	// A swap on the shared view, as the watch loop performs between
	// passes, must be visible without rebuilding the Env.
	env.Sources.Set(model.Sources{
		Videos: []model.VideoSource{{ID: "vid_new", TranscriptURL: "http://example/vid_new"}},
		Repos:  []model.RepoSource{{Name: "repo_new", URL: "http://example/repo_new.git"}},
	})

	src, ok := env.videoSource("vid_new")
	require.True(t, ok)
	assert.Equal(t, "http://example/vid_new", src.TranscriptURL)

	repo, ok := env.repoSource("repo_new")
	require.True(t, ok)
	assert.Equal(t, "http://example/repo_new.git", repo.URL)
}
