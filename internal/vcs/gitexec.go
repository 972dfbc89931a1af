// Package vcs provides the version control backends used to mine repositories.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"miner-go/internal/miner"
)

const remotePrefix = "refs/remotes/origin/"

// GitExec implements miner.VCS by running the git binary.
type GitExec struct {
	binary string
}

// NewGitExec creates a GitExec running binary, or "git" from PATH when empty.
func NewGitExec(binary string) *GitExec {
	if binary == "" {
		binary = "git"
	}
	return &GitExec{binary: binary}
}

// run executes git in dir and returns its stdout. stderr is folded into the error.
func (g *GitExec) run(ctx context.Context, dir string, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, g.binary, args...)
	c.Dir = dir
	c.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("git %s: %w", args[0], ctx.Err())
		}
		return nil, fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (g *GitExec) Clone(ctx context.Context, url, dest string) error {
	_, err := g.run(ctx, "", "clone", "--quiet", "--no-tags", "--", url, dest)
	return err
}

func (g *GitExec) Branches(ctx context.Context, repo string) ([]string, error) {
	out, err := g.run(ctx, repo, "for-each-ref", "--format=%(refname)", "refs/remotes/origin", "refs/heads")
	if err != nil {
		return nil, err
	}
	return parseBranches(out), nil
}

func (g *GitExec) CurrentBranch(ctx context.Context, repo string) (string, error) {
	out, err := g.run(ctx, repo, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(out))
	if name == "" || name == "HEAD" {
		return "", fmt.Errorf("%s: HEAD is detached", repo)
	}
	return name, nil
}

func (g *GitExec) Checkout(ctx context.Context, repo, branch string) error {
	_, err := g.run(ctx, repo, "checkout", "--quiet", branch)
	return err
}

func (g *GitExec) ListFiles(ctx context.Context, repo string) ([]miner.FileInfo, error) {
	out, err := g.run(ctx, repo, "ls-files", "-z")
	if err != nil {
		return nil, err
	}
	return parseFileList(out), nil
}

func (g *GitExec) FileHistory(ctx context.Context, repo string, file miner.FileInfo) ([]miner.HistoryEntry, error) {
	out, err := g.run(ctx, repo, "log", "--format=%at %H", "--", file.Filename)
	if err != nil {
		return nil, err
	}
	return parseHistory(out, file.Filename)
}

func (g *GitExec) FileContent(ctx context.Context, repo string, entry miner.HistoryEntry) ([]byte, error) {
	out, err := g.run(ctx, repo, "cat-file", "blob", entry.Commit+":"+entry.Filename)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s:%s: %w: %w", entry.Commit, entry.Filename, miner.ErrRevisionNotFound, err)
		}
		return nil, err
	}
	return out, nil
}

// parseBranches turns for-each-ref output into branch names. Remote branches of
// origin and local branches are merged; the symbolic origin/HEAD is skipped.
func parseBranches(out []byte) []string {
	seen := make(map[string]bool)
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		var name string
		switch {
		case strings.HasPrefix(line, remotePrefix):
			name = strings.TrimPrefix(line, remotePrefix)
		case strings.HasPrefix(line, "refs/heads/"):
			name = strings.TrimPrefix(line, "refs/heads/")
		default:
			continue
		}
		if name == "" || name == "HEAD" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// parseFileList splits NUL separated ls-files output.
func parseFileList(out []byte) []miner.FileInfo {
	var files []miner.FileInfo
	for _, name := range strings.Split(string(out), "\x00") {
		if name == "" {
			continue
		}
		files = append(files, miner.FileInfo{Filename: name})
	}
	return files
}

// parseHistory reads "<unix time> <hash>" lines, newest first as git log prints them.
func parseHistory(out []byte, filename string) ([]miner.HistoryEntry, error) {
	var history []miner.HistoryEntry
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		date, hash, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("malformed log line %q", line)
		}
		ts, err := strconv.ParseInt(date, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed log date %q: %w", date, err)
		}
		history = append(history, miner.HistoryEntry{Commit: hash, Filename: filename, Date: ts})
	}
	return history, nil
}

var _ miner.VCS = (*GitExec)(nil)
