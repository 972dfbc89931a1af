package vcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	lru "github.com/hashicorp/golang-lru/v2"

	"miner-go/internal/miner"
)

// DefaultCommitCacheSize is used when no cache size is configured.
const DefaultCommitCacheSize = 1024

// openRepos bounds the number of repositories kept open at once.
const openRepos = 64

type commitKey struct {
	repo string
	hash plumbing.Hash
}

// GoGit implements miner.VCS in pure Go. Opened repositories and resolved commits
// are cached; both caches are dropped for a path when it is cloned again.
type GoGit struct {
	repos   *lru.Cache[string, *git.Repository]
	commits *lru.Cache[commitKey, *object.Commit]
}

// NewGoGit creates a GoGit caching up to commitCacheSize commit objects.
func NewGoGit(commitCacheSize int) (*GoGit, error) {
	if commitCacheSize <= 0 {
		commitCacheSize = DefaultCommitCacheSize
	}
	repos, err := lru.New[string, *git.Repository](openRepos)
	if err != nil {
		return nil, fmt.Errorf("creating repository cache: %w", err)
	}
	commits, err := lru.New[commitKey, *object.Commit](commitCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating commit cache: %w", err)
	}
	return &GoGit{repos: repos, commits: commits}, nil
}

func (g *GoGit) Clone(ctx context.Context, url, dest string) error {
	g.forget(dest)
	r, err := git.PlainCloneContext(ctx, dest, false, &git.CloneOptions{
		URL:  url,
		Tags: git.NoTags,
	})
	if err != nil {
		return fmt.Errorf("cloning %s: %w", url, err)
	}
	g.repos.Add(dest, r)
	return nil
}

// forget drops every cached object belonging to path.
func (g *GoGit) forget(path string) {
	g.repos.Remove(path)
	for _, k := range g.commits.Keys() {
		if k.repo == path {
			g.commits.Remove(k)
		}
	}
}

func (g *GoGit) open(path string) (*git.Repository, error) {
	if r, ok := g.repos.Get(path); ok {
		return r, nil
	}
	r, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	g.repos.Add(path, r)
	return r, nil
}

func (g *GoGit) Branches(ctx context.Context, repo string) ([]string, error) {
	r, err := g.open(repo)
	if err != nil {
		return nil, err
	}
	refs, err := r.References()
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	defer refs.Close()

	seen := make(map[string]bool)
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		switch {
		case strings.HasPrefix(name, remotePrefix):
			name = strings.TrimPrefix(name, remotePrefix)
		case ref.Name().IsBranch():
			name = ref.Name().Short()
		default:
			return nil
		}
		if name != "HEAD" {
			seen[name] = true
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (g *GoGit) CurrentBranch(ctx context.Context, repo string) (string, error) {
	r, err := g.open(repo)
	if err != nil {
		return "", err
	}
	head, err := r.Head()
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", fmt.Errorf("%s: HEAD is detached", repo)
	}
	return head.Name().Short(), nil
}

func (g *GoGit) Checkout(ctx context.Context, repo, branch string) error {
	r, err := g.open(repo)
	if err != nil {
		return err
	}
	wt, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("opening worktree: %w", err)
	}

	local := plumbing.NewBranchReferenceName(branch)
	if _, err := r.Reference(local, true); err == nil {
		return wt.Checkout(&git.CheckoutOptions{Branch: local})
	}

	remote, err := r.Reference(plumbing.NewRemoteReferenceName("origin", branch), true)
	if err != nil {
		return fmt.Errorf("branch %s not found: %w", branch, err)
	}
	return wt.Checkout(&git.CheckoutOptions{
		Hash:   remote.Hash(),
		Branch: local,
		Create: true,
	})
}

func (g *GoGit) headCommit(repo string) (*git.Repository, *object.Commit, error) {
	r, err := g.open(repo)
	if err != nil {
		return nil, nil, err
	}
	head, err := r.Head()
	if err != nil {
		return nil, nil, fmt.Errorf("reading HEAD: %w", err)
	}
	c, err := g.commit(repo, r, head.Hash())
	if err != nil {
		return nil, nil, err
	}
	return r, c, nil
}

func (g *GoGit) commit(repo string, r *git.Repository, hash plumbing.Hash) (*object.Commit, error) {
	key := commitKey{repo: repo, hash: hash}
	if c, ok := g.commits.Get(key); ok {
		return c, nil
	}
	c, err := r.CommitObject(hash)
	if err != nil {
		return nil, err
	}
	g.commits.Add(key, c)
	return c, nil
}

func (g *GoGit) ListFiles(ctx context.Context, repo string) ([]miner.FileInfo, error) {
	_, head, err := g.headCommit(repo)
	if err != nil {
		return nil, err
	}
	files, err := head.Files()
	if err != nil {
		return nil, fmt.Errorf("reading tree: %w", err)
	}
	defer files.Close()

	var result []miner.FileInfo
	err = files.ForEach(func(f *object.File) error {
		result = append(result, miner.FileInfo{Filename: f.Name})
		return ctx.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("reading tree: %w", err)
	}
	return result, nil
}

func (g *GoGit) FileHistory(ctx context.Context, repo string, file miner.FileInfo) ([]miner.HistoryEntry, error) {
	r, head, err := g.headCommit(repo)
	if err != nil {
		return nil, err
	}
	name := file.Filename
	iter, err := r.Log(&git.LogOptions{From: head.Hash, FileName: &name})
	if err != nil {
		return nil, fmt.Errorf("reading log of %s: %w", name, err)
	}
	defer iter.Close()

	var history []miner.HistoryEntry
	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		g.commits.Add(commitKey{repo: repo, hash: c.Hash}, c)
		history = append(history, miner.HistoryEntry{
			Commit:   c.Hash.String(),
			Filename: name,
			Date:     c.Author.When.Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading log of %s: %w", name, err)
	}
	return history, nil
}

func (g *GoGit) FileContent(ctx context.Context, repo string, entry miner.HistoryEntry) ([]byte, error) {
	r, err := g.open(repo)
	if err != nil {
		return nil, err
	}
	c, err := g.commit(repo, r, plumbing.NewHash(entry.Commit))
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("%s: %w", entry.Commit, miner.ErrRevisionNotFound)
		}
		return nil, err
	}
	f, err := c.File(entry.Filename)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, fmt.Errorf("%s:%s: %w", entry.Commit, entry.Filename, miner.ErrRevisionNotFound)
		}
		return nil, err
	}
	rd, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("reading %s:%s: %w", entry.Commit, entry.Filename, err)
	}
	defer rd.Close()
	return io.ReadAll(rd)
}

var _ miner.VCS = (*GoGit)(nil)
