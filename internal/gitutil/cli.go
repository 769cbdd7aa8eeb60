package gitutil

import "context"

// CLI satisfies the review engine's Git collaborator by shelling out to the
// git binary.
type CLI struct{}

func (CLI) ListChangedFiles(ctx context.Context, repoPath, base, head string, maxFiles int) ([]string, error) {
	return ListChangedFiles(ctx, repoPath, base, head, maxFiles)
}

func (CLI) FilePatch(ctx context.Context, repoPath, base, head, file string) (string, error) {
	return FilePatch(ctx, repoPath, base, head, file)
}

func (CLI) DiffStat(ctx context.Context, repoPath, base, head string) (string, error) {
	return DiffStat(ctx, repoPath, base, head)
}
