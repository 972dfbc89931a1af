package vault

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"miner-go/internal/miner"
)

// FileSystemVault is a filesystem-based implementation of the Vault interface.
// It stores content, project records and metadata as files in a directory structure:
//
//	<root>/
//	  data/<shard>/<id>.raw
//	  projects/<shard>/<id>.toml
//	  metadata/<name>.db
//	  metadata/<name>.version
type FileSystemVault struct {
	name   string
	root   string
	layout layout
}

// NewFileSystemVault creates a new filesystem vault rooted at the given path.
func NewFileSystemVault(name, root string, sharder miner.Sharder) (*FileSystemVault, error) {
	for _, dir := range []string{contentDir, projectDir, metadataDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", dir, err)
		}
	}

	return &FileSystemVault{
		name:   name,
		root:   root,
		layout: layout{sharder: sharder},
	}, nil
}

// PutContent stores the body of content id, replacing any body left at that id by an
// earlier run that never recorded it.
func (v *FileSystemVault) PutContent(id int64, r io.Reader, size int64) error {
	return v.writeFile(v.path(v.layout.contentKey(id)), r, size)
}

// GetContent retrieves the body of content id and writes it to w.
func (v *FileSystemVault) GetContent(id int64, w io.Writer) error {
	return v.readFile(v.path(v.layout.contentKey(id)), w, fmt.Sprintf("content %d", id))
}

// PutProject stores the record of project id, replacing any previous record.
func (v *FileSystemVault) PutProject(id int64, r io.Reader, size int64) error {
	return v.writeFile(v.path(v.layout.projectKey(id)), r, size)
}

// GetProject retrieves the record of project id and writes it to w.
func (v *FileSystemVault) GetProject(id int64, w io.Writer) error {
	return v.readFile(v.path(v.layout.projectKey(id)), w, fmt.Sprintf("project %d", id))
}

// PutMetadata stores a named metadata item along with a version marker.
func (v *FileSystemVault) PutMetadata(name string, r io.Reader, size int64, version int64) error {
	if err := v.writeFile(v.path(v.layout.metadataKey(name)), r, size); err != nil {
		return err
	}

	versionData := strconv.FormatInt(version, 10)
	return os.WriteFile(v.path(v.layout.versionKey(name)), []byte(versionData), 0644)
}

// GetMetadataVersion returns the version of a metadata item.
// Returns 0 if no version file exists.
func (v *FileSystemVault) GetMetadataVersion(name string) (int64, error) {
	data, err := os.ReadFile(v.path(v.layout.versionKey(name)))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	return parseVersion(string(data))
}

// GetMetadata retrieves a named metadata item and writes it to w.
func (v *FileSystemVault) GetMetadata(name string, w io.Writer) error {
	return v.readFile(v.path(v.layout.metadataKey(name)), w, fmt.Sprintf("metadata %q", name))
}

// ValidateSetup verifies that the vault directories are accessible.
func (v *FileSystemVault) ValidateSetup() error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("vault root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault root is not a directory: %s", v.root)
	}

	for _, dir := range []string{contentDir, projectDir, metadataDir} {
		p := filepath.Join(v.root, dir)
		info, err := os.Stat(p)
		if err != nil {
			return fmt.Errorf("vault directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("vault path is not a directory: %s", p)
		}
	}

	return nil
}

func (v *FileSystemVault) path(key string) string {
	return filepath.Join(v.root, filepath.FromSlash(key))
}

// writeFile writes data from r to the specified path using atomic write (temp file + rename).
func (v *FileSystemVault) writeFile(destPath string, r io.Reader, expectedSize int64) error {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	// Create temp file in the same directory to ensure atomic rename works
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// readFile reads from the specified path and writes to w.
func (v *FileSystemVault) readFile(srcPath string, w io.Writer, what string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	return nil
}

// Compile-time check that FileSystemVault implements miner.Vault interface
var _ miner.Vault = (*FileSystemVault)(nil)
