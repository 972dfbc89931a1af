package miner

import "io"

// Vault provides an interface for the corpus storage backends.
// All operations use io.Reader/io.Writer for streaming.
type Vault interface {
	// PutContent stores the body of content id.
	// The operation is idempotent: storing the same id multiple times is safe.
	// size is the number of bytes that will be read from r.
	PutContent(id int64, r io.Reader, size int64) error

	// GetContent retrieves the body of content id and writes it to w.
	GetContent(id int64, w io.Writer) error

	// PutProject stores the record of project id, replacing any previous record.
	PutProject(id int64, r io.Reader, size int64) error

	// GetProject retrieves the record of project id and writes it to w.
	GetProject(id int64, w io.Writer) error

	// PutMetadata stores a named metadata item with a version marker.
	// Known names: "ledger" (sqlite snapshot of the ledger database).
	PutMetadata(name string, r io.Reader, size int64, version int64) error

	// GetMetadata retrieves a named metadata item and writes it to w.
	GetMetadata(name string, w io.Writer) error

	// GetMetadataVersion returns the version stored alongside a metadata item.
	// Returns 0 if nothing has been stored under name.
	GetMetadataVersion(name string) (int64, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
