package collab

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/msageha/taskforge/internal/model"
)

// TranscriptFetcher retrieves the transcript text for a video.
type TranscriptFetcher interface {
	Fetch(ctx context.Context, videoID, url string) (string, error)
}

// HTTPTranscriptFetcher fetches transcripts over plain HTTP.
type HTTPTranscriptFetcher struct {
	client *http.Client
}

func NewHTTPTranscriptFetcher(timeout time.Duration) *HTTPTranscriptFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPTranscriptFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPTranscriptFetcher) Fetch(ctx context.Context, videoID, url string) (string, error) {
	if url == "" {
		return "", model.Errorf(model.KindNotFound, "video %s has no transcript URL", videoID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", model.Errorf(model.KindCollaboratorFailure, "build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", model.Errorf(model.KindTransientCollaborator, "fetch transcript %s: %w", videoID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return "", model.Errorf(model.KindNotFound, "transcript %s: %s", videoID, resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", model.Errorf(model.KindTransientCollaborator, "transcript %s: %s", videoID, resp.Status)
	default:
		return "", model.Errorf(model.KindCollaboratorFailure, "transcript %s: %s", videoID, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", model.Errorf(model.KindTransientCollaborator, "read transcript %s: %w", videoID, err)
	}
	if len(body) == 0 {
		return "", model.Errorf(model.KindCollaboratorFailure, "transcript %s: empty body", videoID)
	}
	return string(body), nil
}

var _ TranscriptFetcher = (*HTTPTranscriptFetcher)(nil)
