package stage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/msageha/taskforge/internal/model"
)

const transcriptFile = "transcript.txt"

// runDownload fetches the transcript for a video item. An existing
// transcript is kept as-is so resumed runs skip the network entirely.
func (env *Env) runDownload(ctx context.Context, item *model.WorkItem) (string, error) {
	dir := env.Store.ItemDir(model.VariantVideo, item.ID)
	path := filepath.Join(dir, transcriptFile)

	if _, err := os.Stat(path); err == nil {
		env.Logger.Debugf("download_skip video=%s reason=transcript_exists", item.ID)
		return transcriptFile, nil
	}

	src, ok := env.videoSource(item.ID)
	if !ok {
		return "", model.Errorf(model.KindNotFound, "video %s not declared in sources", item.ID)
	}

	text, err := env.Transcripts.Fetch(ctx, item.ID, src.TranscriptURL)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", model.Errorf(model.KindStore, "create video dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		return "", model.Errorf(model.KindStore, "write transcript: %w", err)
	}

	env.Logger.Infof("download_done video=%s bytes=%d", item.ID, len(text))
	return transcriptFile, nil
}

func (env *Env) videoSource(id string) (model.VideoSource, bool) {
	for _, v := range env.Sources.Get().Videos {
		if v.ID == id {
			return v, true
		}
	}
	return model.VideoSource{}, false
}

func (env *Env) repoSource(name string) (model.RepoSource, bool) {
	for _, r := range env.Sources.Get().Repos {
		if r.Name == name {
			return r, true
		}
	}
	return model.RepoSource{}, false
}
