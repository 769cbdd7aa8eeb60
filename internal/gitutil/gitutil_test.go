package gitutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo builds a repo with two commits: base adds a.go, head changes
// a.go and adds b.go. Returns the repo path.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	git := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		)
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	write := func(name, content string) {
		t.Helper()
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	git("init", "-b", "main")
	write("a.go", "package a\n")
	git("add", ".")
	git("commit", "-m", "base")
	git("tag", "base")

	write("a.go", "package a\n\nvar X = 1\n")
	write("b.go", "package a\n")
	git("add", ".")
	git("commit", "-m", "head")

	return dir
}

func TestListChangedFiles(t *testing.T) {
	repo := initRepo(t)

	files, err := ListChangedFiles(context.Background(), repo, "base", "HEAD", 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b.go"}, files)
}

func TestListChangedFilesAppliesCap(t *testing.T) {
	repo := initRepo(t)

	files, err := ListChangedFiles(context.Background(), repo, "base", "HEAD", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.go"}, files)
}

func TestFilePatchIsScopedToOneFile(t *testing.T) {
	repo := initRepo(t)

	patch, err := FilePatch(context.Background(), repo, "base", "HEAD", "a.go")
	require.NoError(t, err)
	assert.Contains(t, patch, "+var X = 1")
	assert.NotContains(t, patch, "b.go")
}

func TestDiffStat(t *testing.T) {
	repo := initRepo(t)

	stat, err := DiffStat(context.Background(), repo, "base", "HEAD")
	require.NoError(t, err)
	assert.Contains(t, stat, "2 files changed")
}

func TestTopLevel(t *testing.T) {
	repo := initRepo(t)
	sub := filepath.Join(repo, "nested")
	require.NoError(t, os.MkdirAll(sub, 0755))

	top, err := TopLevel(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, repo, top)
}

func TestListBranches(t *testing.T) {
	repo := initRepo(t)

	branches, err := ListBranches(context.Background(), repo)
	require.NoError(t, err)
	assert.Contains(t, branches, "main")
}

func TestBadRevisionSurfacesStderr(t *testing.T) {
	repo := initRepo(t)

	_, err := ListChangedFiles(context.Background(), repo, "nope", "HEAD", 50)
	require.Error(t, err)

	var gitErr *GitError
	require.ErrorAs(t, err, &gitErr)
	assert.Contains(t, gitErr.Error(), "git diff")
}
