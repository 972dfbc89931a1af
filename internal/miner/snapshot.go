package miner

// SnapshotKey is the identity of a file snapshot.
type SnapshotKey struct {
	Commit string
	Path   string
}

// FileSnapshot is one observed version of one file.
type FileSnapshot struct {
	ID        int64
	Commit    string
	Path      string
	ContentID int64 // -1 until resolved
	Time      int64 // commit time, unix seconds
}

// NewFileSnapshot creates an unresolved snapshot from a history entry.
func NewFileSnapshot(h HistoryEntry) FileSnapshot {
	return FileSnapshot{
		ID:        -1,
		Commit:    h.Commit,
		Path:      h.Filename,
		ContentID: -1,
		Time:      h.Date,
	}
}

// Key returns the identity of the snapshot.
func (f FileSnapshot) Key() SnapshotKey {
	return SnapshotKey{Commit: f.Commit, Path: f.Path}
}

// BranchSnapshot lists the snapshots visible at the head of a branch when it was scanned.
type BranchSnapshot struct {
	Branch      string
	SnapshotIDs []int64
}

// SnapshotIndex holds the file snapshots of a single project.
// It is owned by one worker and is not safe for concurrent use.
type SnapshotIndex struct {
	byKey     map[SnapshotKey]int64
	snapshots []FileSnapshot
}

// NewSnapshotIndex creates an empty index.
func NewSnapshotIndex() *SnapshotIndex {
	return &SnapshotIndex{byKey: make(map[SnapshotKey]int64)}
}

// Contains reports whether a snapshot with key exists.
func (x *SnapshotIndex) Contains(key SnapshotKey) bool {
	_, ok := x.byKey[key]
	return ok
}

// Get returns the snapshot with key.
func (x *SnapshotIndex) Get(key SnapshotKey) (FileSnapshot, bool) {
	id, ok := x.byKey[key]
	if !ok {
		return FileSnapshot{}, false
	}
	return x.snapshots[id], true
}

// Insert assigns the next sequential id to s and adds it. If a snapshot with the same
// key already exists the index is unchanged and the existing snapshot is returned with
// inserted=false.
func (x *SnapshotIndex) Insert(s FileSnapshot) (FileSnapshot, bool) {
	if id, ok := x.byKey[s.Key()]; ok {
		return x.snapshots[id], false
	}
	s.ID = int64(len(x.snapshots))
	x.byKey[s.Key()] = s.ID
	x.snapshots = append(x.snapshots, s)
	return s, true
}

// Len returns the number of snapshots, which is also the next id to be assigned.
func (x *SnapshotIndex) Len() int {
	return len(x.snapshots)
}

// Snapshots returns all snapshots in id order.
func (x *SnapshotIndex) Snapshots() []FileSnapshot {
	return append([]FileSnapshot(nil), x.snapshots...)
}
