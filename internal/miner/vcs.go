package miner

import "context"

// FileInfo describes a file present in the checked out working tree.
type FileInfo struct {
	Filename string
}

// HistoryEntry is one revision of a file as reported by the version control system.
// The filename may differ between entries of the same history when the file was renamed.
type HistoryEntry struct {
	Commit   string
	Filename string
	Date     int64 // unix seconds
}

// VCS provides access to version-controlled repositories on local disk.
// All operations may block on external processes or the filesystem; implementations
// must honour ctx cancellation where the underlying call allows it.
type VCS interface {
	// Clone clones url into dest. dest must not exist.
	Clone(ctx context.Context, url, dest string) error

	// Branches returns the names of all branches known to the repository.
	Branches(ctx context.Context, repo string) ([]string, error)

	// CurrentBranch returns the name of the checked out branch.
	CurrentBranch(ctx context.Context, repo string) (string, error)

	// Checkout switches the working tree to branch.
	Checkout(ctx context.Context, repo, branch string) error

	// ListFiles returns the files of the current working tree.
	ListFiles(ctx context.Context, repo string) ([]FileInfo, error)

	// FileHistory returns the revisions of file reachable from the current branch,
	// newest first.
	FileHistory(ctx context.Context, repo string, file FileInfo) ([]HistoryEntry, error)

	// FileContent returns the content of the file at the given revision.
	// Returns ErrRevisionNotFound if the path does not exist at that revision.
	FileContent(ctx context.Context, repo string, entry HistoryEntry) ([]byte, error)
}
