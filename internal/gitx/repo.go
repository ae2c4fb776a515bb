// Package gitx wraps the git binary behind an explicit repository handle
// and implements the before/after snapshot extractor.
package gitx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/msageha/taskforge/internal/model"
)

// Repo is a handle to one working tree. All operations take the handle;
// nothing depends on the process working directory.
type Repo struct {
	path    string
	resolve singleflight.Group
}

// Open returns a handle for an existing clone.
func Open(path string) (*Repo, error) {
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		return nil, model.Errorf(model.KindNotFound, "not a git repository: %s", path)
	}
	return &Repo{path: path}, nil
}

// Clone clones url into path and returns a handle.
func Clone(ctx context.Context, url, path string, timeout time.Duration) (*Repo, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if _, err := runGit(ctx, filepath.Dir(path), "clone", url, path); err != nil {
		return nil, fmt.Errorf("clone %s: %w", url, err)
	}
	return &Repo{path: path}, nil
}

func (r *Repo) Path() string {
	return r.path
}

// Resolve maps a ref to a full commit id. Concurrent identical lookups are
// collapsed; refs are immutable for the lifetime of a run.
func (r *Repo) Resolve(ctx context.Context, ref string) (string, error) {
	v, err, _ := r.resolve.Do(ref, func() (any, error) {
		out, err := runGit(ctx, r.path, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
		if err != nil {
			return "", model.Errorf(model.KindRefNotFound, "resolve %q: %w", ref, err)
		}
		return strings.TrimSpace(out), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// CurrentRef returns the checked-out branch name, or the commit id when
// HEAD is detached.
func (r *Repo) CurrentRef(ctx context.Context) (string, error) {
	out, err := runGit(ctx, r.path, "symbolic-ref", "--short", "--quiet", "HEAD")
	if err == nil {
		return strings.TrimSpace(out), nil
	}
	out, err = runGit(ctx, r.path, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("current ref: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (r *Repo) Checkout(ctx context.Context, ref string) error {
	if _, err := runGit(ctx, r.path, "checkout", "--quiet", ref); err != nil {
		return model.Errorf(model.KindRefNotFound, "checkout %q: %w", ref, err)
	}
	return nil
}

// IsDirty reports uncommitted changes, untracked files included.
func (r *Repo) IsDirty(ctx context.Context) (bool, error) {
	out, err := runGit(ctx, r.path, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// ListFiles returns every path tracked at commit.
func (r *Repo) ListFiles(ctx context.Context, commit string) ([]string, error) {
	out, err := runGit(ctx, r.path, "ls-tree", "-r", "--name-only", commit)
	if err != nil {
		return nil, model.Errorf(model.KindRefNotFound, "ls-tree %q: %w", commit, err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// ParentCount returns the number of parents of commit. A count above one
// means a merge commit, which makes "the state before" ambiguous.
func (r *Repo) ParentCount(ctx context.Context, commit string) (int, error) {
	out, err := runGit(ctx, r.path, "rev-list", "--parents", "-n", "1", commit)
	if err != nil {
		return 0, model.Errorf(model.KindRefNotFound, "rev-list %q: %w", commit, err)
	}
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("rev-list %q: empty output", commit)
	}
	return len(fields) - 1, nil
}

// IsAncestor reports whether anc is an ancestor of desc.
func (r *Repo) IsAncestor(ctx context.Context, anc, desc string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "merge-base", "--is-ancestor", anc, desc)
	cmd.Dir = r.path
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("merge-base --is-ancestor: %w", err)
}

// Log returns up to maxCommits commits across all branches, most recent
// first, with per-commit file changes resolved via diff-tree.
func (r *Repo) Log(ctx context.Context, maxCommits int) ([]model.Commit, error) {
	if maxCommits <= 0 {
		maxCommits = 100
	}
	out, err := runGit(ctx, r.path, "log", "-"+strconv.Itoa(maxCommits), "--all",
		"--pretty=format:%H|%s|%an|%aI|%P")
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}

	var commits []model.Commit
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 5)
		if len(parts) < 4 {
			continue
		}
		c := model.Commit{
			Hash:    parts[0],
			Message: parts[1],
			Author:  parts[2],
			Date:    parts[3],
		}
		if len(parts) == 5 && parts[4] != "" {
			c.Parents = strings.Fields(parts[4])
		}
		changes, err := r.DiffFiles(ctx, c.Hash)
		if err != nil {
			return nil, err
		}
		c.FilesChanged = changes
		commits = append(commits, c)
	}
	return commits, nil
}

// DiffFiles lists the files changed by commit relative to its first parent.
func (r *Repo) DiffFiles(ctx context.Context, commit string) ([]model.FileChange, error) {
	out, err := runGit(ctx, r.path, "diff-tree", "--no-commit-id", "--name-status", "-r", commit)
	if err != nil {
		return nil, model.Errorf(model.KindRefNotFound, "diff-tree %q: %w", commit, err)
	}
	var changes []model.FileChange
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		changes = append(changes, model.FileChange{Status: parts[0], Path: parts[1]})
	}
	return changes, nil
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err,
			strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
