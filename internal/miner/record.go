package miner

import (
	"fmt"
	"io"
	"time"

	"github.com/BurntSushi/toml"
)

// ProjectRecord is the document written to the vault for every mined project.
type ProjectRecord struct {
	ID             int64            `toml:"id"`
	URL            string           `toml:"url"`
	HasDeniedFiles bool             `toml:"has_denied_files"`
	ScannedAt      time.Time        `toml:"scanned_at"`
	Branches       []BranchRecord   `toml:"branches"`
	Snapshots      []SnapshotRecord `toml:"snapshots"`
}

// BranchRecord lists the snapshots visible at the head of one branch.
type BranchRecord struct {
	Name      string  `toml:"name"`
	Snapshots []int64 `toml:"snapshots"`
}

// SnapshotRecord is the stored form of a FileSnapshot.
type SnapshotRecord struct {
	ID      int64  `toml:"id"`
	Commit  string `toml:"commit"`
	Path    string `toml:"path"`
	Content int64  `toml:"content"`
	Time    int64  `toml:"time"`
}

// NewProjectRecord assembles the record of p from its walk results.
func NewProjectRecord(p *Project, index *SnapshotIndex, branches []BranchSnapshot, scannedAt time.Time) *ProjectRecord {
	r := &ProjectRecord{
		ID:             p.ID,
		URL:            p.URL,
		HasDeniedFiles: p.HasDeniedFiles,
		ScannedAt:      scannedAt.UTC(),
	}
	for _, b := range branches {
		r.Branches = append(r.Branches, BranchRecord{
			Name:      b.Branch,
			Snapshots: append([]int64{}, b.SnapshotIDs...),
		})
	}
	for _, s := range index.Snapshots() {
		r.Snapshots = append(r.Snapshots, SnapshotRecord{
			ID:      s.ID,
			Commit:  s.Commit,
			Path:    s.Path,
			Content: s.ContentID,
			Time:    s.Time,
		})
	}
	return r
}

// Encode writes the record as TOML.
func (r *ProjectRecord) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(r); err != nil {
		return fmt.Errorf("encoding project record %d: %w", r.ID, err)
	}
	return nil
}

// DecodeProjectRecord reads a record written by Encode.
func DecodeProjectRecord(rd io.Reader) (*ProjectRecord, error) {
	var r ProjectRecord
	if _, err := toml.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("decoding project record: %w", err)
	}
	return &r, nil
}
