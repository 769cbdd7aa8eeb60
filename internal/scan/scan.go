// Package scan discovers git repositories one level under a configured scan
// root and caches branch listings per repository.
package scan

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/kylemclaren/reviewd/internal/db"
	"github.com/kylemclaren/reviewd/internal/gitutil"
)

var excluded = map[string]bool{
	"node_modules": true,
	".cache":       true,
	"dist":         true,
}

// RepoID derives a stable id from a repository path.
func RepoID(path string) string {
	sum := sha1.Sum([]byte(path))
	return hex.EncodeToString(sum[:])
}

// AutoRepo is a discovered, unregistered repository.
type AutoRepo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Scanner finds candidate repositories under the scan root. Discovered
// repos are held in memory until refreshed; a suppressed id stays hidden
// until the next refresh.
type Scanner struct {
	db   *db.DB
	root string

	mu         sync.Mutex
	cache      []AutoRepo
	scanned    bool
	suppressed map[string]bool
}

// New creates a scanner rooted at root; empty means the user home
// directory.
func New(database *db.DB, root string) *Scanner {
	if root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			root = home
		}
	}
	return &Scanner{db: database, root: root, suppressed: make(map[string]bool)}
}

// Cached returns the discovered repos, scanning on first use.
func (s *Scanner) Cached() ([]AutoRepo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.scanned {
		if err := s.scanLocked(); err != nil {
			return nil, err
		}
	}
	out := make([]AutoRepo, 0, len(s.cache))
	for _, r := range s.cache {
		if !s.suppressed[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

// Refresh rescans the root and clears suppressions.
func (s *Scanner) Refresh() ([]AutoRepo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.scanLocked(); err != nil {
		return nil, err
	}
	s.suppressed = make(map[string]bool)
	return append([]AutoRepo(nil), s.cache...), nil
}

// Suppress hides a discovered repo until the next refresh.
func (s *Scanner) Suppress(id string) {
	s.mu.Lock()
	s.suppressed[id] = true
	s.mu.Unlock()
}

func (s *Scanner) scanLocked() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("reading scan root %s: %w", s.root, err)
	}

	var repos []AutoRepo
	if isGitRepo(s.root) {
		repos = append(repos, AutoRepo{ID: RepoID(s.root), Name: filepath.Base(s.root), Path: s.root})
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || excluded[name] || name[0] == '.' {
			continue
		}
		full := filepath.Join(s.root, name)
		if isGitRepo(full) {
			repos = append(repos, AutoRepo{ID: RepoID(full), Name: name, Path: full})
		}
	}

	s.cache = repos
	s.scanned = true
	return nil
}

func isGitRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// Materialize registers a discovered repo in the database on first use,
// letting reviews reference auto-discovered ids directly.
func (s *Scanner) Materialize(ctx context.Context, repoID string) (*db.Repo, error) {
	repos, err := s.Cached()
	if err != nil {
		return nil, err
	}
	for _, r := range repos {
		if r.ID == repoID {
			return s.db.CreateRepo(&db.Repo{ID: r.ID, Name: r.Name, Path: r.Path})
		}
	}
	return nil, db.ErrNotFound
}

// BranchStatus is one cached branch listing.
type BranchStatus struct {
	Status    string    `json:"status"` // ok or error
	Branches  []string  `json:"branches"`
	Error     string    `json:"error,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// BranchCache caches branch listings per repo path. Entries are refreshed
// explicitly; a failed listing is cached too so a broken repo does not get
// re-probed on every request.
type BranchCache struct {
	mu    sync.Mutex
	cache map[string]BranchStatus
}

// NewBranchCache creates an empty cache.
func NewBranchCache() *BranchCache {
	return &BranchCache{cache: make(map[string]BranchStatus)}
}

// Get returns the cached status for a path, if any.
func (c *BranchCache) Get(repoPath string) (BranchStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.cache[repoPath]
	return st, ok
}

// Refresh lists branches and caches the outcome, error included.
func (c *BranchCache) Refresh(ctx context.Context, repoPath string) BranchStatus {
	branches, err := gitutil.ListBranches(ctx, repoPath)
	st := BranchStatus{Status: "ok", Branches: branches, FetchedAt: time.Now()}
	if err != nil {
		st = BranchStatus{Status: "error", Branches: []string{}, Error: err.Error(), FetchedAt: time.Now()}
	}
	c.mu.Lock()
	c.cache[repoPath] = st
	c.mu.Unlock()
	return st
}
