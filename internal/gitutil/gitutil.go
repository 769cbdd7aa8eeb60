// Package gitutil shells out to git for the diff plumbing the review
// executor depends on.
package gitutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GitError wraps a failed git invocation, carrying stderr for the task
// record.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *GitError) Unwrap() error { return e.Err }

func run(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", &GitError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return string(out), nil
}

// TopLevel resolves the repository root for a path, or an error if the path
// is not inside a git work tree.
func TopLevel(ctx context.Context, path string) (string, error) {
	out, err := run(ctx, path, "rev-parse", "--show-toplevel")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ListBranches returns all local and remote branch names.
func ListBranches(ctx context.Context, repoPath string) ([]string, error) {
	out, err := run(ctx, repoPath, "branch", "--all", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if b := strings.TrimSpace(line); b != "" {
			branches = append(branches, b)
		}
	}
	return branches, nil
}

// ListChangedFiles returns the paths changed between base and head, capped
// at maxFiles. The cap is applied before any patch is fetched.
func ListChangedFiles(ctx context.Context, repoPath, base, head string, maxFiles int) ([]string, error) {
	out, err := run(ctx, repoPath, "diff", "--name-only", base+".."+head)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if f := strings.TrimSpace(line); f != "" {
			files = append(files, f)
		}
	}
	if maxFiles > 0 && len(files) > maxFiles {
		files = files[:maxFiles]
	}
	return files, nil
}

// FilePatch returns the unified diff for a single file between base and head.
func FilePatch(ctx context.Context, repoPath, base, head, file string) (string, error) {
	return run(ctx, repoPath, "diff", base+".."+head, "--", file)
}

// DiffStat returns the aggregate --stat summary between base and head.
func DiffStat(ctx context.Context, repoPath, base, head string) (string, error) {
	return run(ctx, repoPath, "diff", "--stat", base+".."+head)
}
