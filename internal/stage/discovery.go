package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/msageha/taskforge/internal/model"
	"github.com/msageha/taskforge/internal/yamlio"
	"github.com/msageha/taskforge/templates"
)

const (
	candidatesFile = "candidates.yaml"
	taskSpecFile   = "task_spec.yaml"

	// transcriptPromptLimit caps how much transcript goes into the prompt.
	transcriptPromptLimit = 15000
	maxPromptCommits      = 50
)

// runDiscovery matches a video transcript against its paired repository's
// analyzed commits and registers one Task work item per accepted
// candidate. The repository must already be analyzed; if not, the stage
// fails retryably and succeeds on a later pass.
func (env *Env) runDiscovery(ctx context.Context, item *model.WorkItem) (string, error) {
	videoDir := env.Store.ItemDir(model.VariantVideo, item.ID)

	src, ok := env.videoSource(item.ID)
	if !ok {
		return "", model.Errorf(model.KindNotFound, "video %s not declared in sources", item.ID)
	}
	if src.Repo == "" {
		return "", model.Errorf(model.KindNotFound, "video %s has no paired repository", item.ID)
	}

	transcript, err := os.ReadFile(filepath.Join(videoDir, transcriptFile))
	if err != nil {
		return "", model.Errorf(model.KindNotFound, "transcript for video %s: %w", item.ID, err)
	}

	repoDir := env.Store.ItemDir(model.VariantRepository, src.Repo)
	var commitLog model.CommitLog
	if err := yamlio.Read(filepath.Join(repoDir, commitsFile), &commitLog); err != nil {
		return "", model.Errorf(model.KindNotFound,
			"repository %s not analyzed yet for video %s: %w", src.Repo, item.ID, err)
	}
	if len(commitLog.Commits) == 0 {
		return "", model.Errorf(model.KindCollaboratorFailure,
			"repository %s has no relevant commits", src.Repo)
	}

	prompt, err := renderDiscoveryPrompt(string(transcript), commitLog.Commits)
	if err != nil {
		return "", model.NewError(model.KindInternal, err)
	}

	response, err := env.LLM.Complete(ctx, "", prompt)
	if err != nil {
		return "", err
	}

	var raw []model.Candidate
	if err := json.Unmarshal([]byte(StripCodeFences(response)), &raw); err != nil {
		return "", model.Errorf(model.KindCollaboratorFailure, "parse discovery response: %w", err)
	}

	accepted := env.acceptCandidates(item.ID, src.Repo, raw, commitLog.Commits)
	if err := yamlio.AtomicWrite(filepath.Join(videoDir, candidatesFile), accepted); err != nil {
		return "", model.NewError(model.KindStore, err)
	}

	// Register a Task work item plus task_spec.yaml per accepted candidate.
	// Registration is idempotent: the task id is derived from (repo, head),
	// so a resumed discovery never duplicates tasks.
	for _, cand := range accepted {
		if err := env.registerTask(item.ID, src.Repo, cand); err != nil {
			return "", err
		}
	}

	env.Logger.Infof("discovery_done video=%s raw=%d accepted=%d", item.ID, len(raw), len(accepted))
	return candidatesFile, nil
}

// acceptCandidates validates LLM output against the commit log: the hash
// must identify a known commit with exactly one parent. Merge commits make
// the starting point ambiguous and are rejected rather than guessed at.
func (env *Env) acceptCandidates(videoID, repoName string, raw []model.Candidate, commits []model.Commit) []model.Candidate {
	byPrefix := func(prefix string) *model.Commit {
		for i := range commits {
			if strings.HasPrefix(commits[i].Hash, prefix) {
				return &commits[i]
			}
		}
		return nil
	}

	var accepted []model.Candidate
	for _, cand := range raw {
		if cand.Name == "" || cand.Instruction == "" || cand.CommitHash == "" {
			env.Logger.Warnf("candidate_rejected video=%s reason=incomplete name=%q", videoID, cand.Name)
			continue
		}
		commit := byPrefix(cand.CommitHash)
		if commit == nil {
			env.Logger.Warnf("candidate_rejected video=%s reason=unknown_commit hash=%s", videoID, cand.CommitHash)
			continue
		}
		if len(commit.Parents) != 1 {
			env.Logger.Warnf("candidate_rejected video=%s reason=ambiguous_history hash=%s parents=%d",
				videoID, commit.Hash, len(commit.Parents))
			continue
		}
		cand.CommitHash = commit.Hash
		if cand.CommitMessage == "" {
			cand.CommitMessage = commit.Message
		}
		if cand.Difficulty == "" {
			cand.Difficulty = "intermediate"
		}
		if cand.EstimatedTimeMinutes <= 0 {
			cand.EstimatedTimeMinutes = 30
		}
		accepted = append(accepted, cand)
	}
	return accepted
}

func (env *Env) registerTask(videoID, repoName string, cand model.Candidate) error {
	taskID := model.TaskID(repoName, cand.CommitHash)
	if _, err := env.Store.Register(model.VariantTask, taskID); err != nil {
		return err
	}

	spec := model.TaskSpec{
		SchemaVersion:        model.ItemSchemaVersion,
		TaskID:               taskID,
		Name:                 cand.Name,
		Instruction:          cand.Instruction,
		Difficulty:           cand.Difficulty,
		EstimatedTimeMinutes: cand.EstimatedTimeMinutes,
		Tags:                 cand.Tags,
		VideoID:              videoID,
		RepoName:             repoName,
		BaseRef:              cand.CommitHash + "^",
		HeadRef:              cand.CommitHash,
		CommitMessage:        cand.CommitMessage,
		TranscriptSegment:    cand.TranscriptSegment,
	}
	taskDir := env.Store.ItemDir(model.VariantTask, taskID)
	if err := yamlio.AtomicWrite(filepath.Join(taskDir, taskSpecFile), spec); err != nil {
		return model.NewError(model.KindStore, err)
	}
	env.Logger.Infof("task_registered task=%s repo=%s head=%s", taskID, repoName, cand.CommitHash[:8])
	return nil
}

type discoveryPromptData struct {
	Transcript      string
	CommitSummaries string
}

func renderDiscoveryPrompt(transcript string, commits []model.Commit) (string, error) {
	if len(transcript) > transcriptPromptLimit {
		transcript = transcript[:transcriptPromptLimit]
	}

	var summaries []string
	for i, c := range commits {
		if i >= maxPromptCommits {
			break
		}
		files := make([]string, 0, 5)
		for j, fc := range c.FilesChanged {
			if j >= 5 {
				files = append(files, fmt.Sprintf("(+ %d more)", len(c.FilesChanged)-5))
				break
			}
			files = append(files, fc.Path)
		}
		summaries = append(summaries, fmt.Sprintf("• %s: %s\n  Files: %s",
			shortHash(c.Hash), c.Message, strings.Join(files, ", ")))
	}

	tmpl, err := template.ParseFS(templates.FS, "prompts/discovery.md")
	if err != nil {
		return "", fmt.Errorf("parse discovery template: %w", err)
	}
	var sb strings.Builder
	err = tmpl.Execute(&sb, discoveryPromptData{
		Transcript:      transcript,
		CommitSummaries: strings.Join(summaries, "\n"),
	})
	if err != nil {
		return "", fmt.Errorf("render discovery prompt: %w", err)
	}
	return sb.String(), nil
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}

// StripCodeFences removes a wrapping markdown code fence from an LLM
// response, tolerating a language tag on the opening fence.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
