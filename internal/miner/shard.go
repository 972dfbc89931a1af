package miner

import (
	"fmt"
	"path"
)

// DefaultShardSize is the number of ids grouped into one leaf directory.
const DefaultShardSize = 1000

// Sharder maps sequential ids onto a two level directory hierarchy so that no directory
// holds more than Size entries: id 1234567 with Size 1000 lands in "1/234".
type Sharder struct {
	Size int64
}

// NewSharder returns a Sharder for the given size, falling back to DefaultShardSize.
func NewSharder(size int64) Sharder {
	if size <= 1 {
		size = DefaultShardSize
	}
	return Sharder{Size: size}
}

// Dir returns the slash separated shard directory of id.
func (s Sharder) Dir(id int64) string {
	size := s.size()
	return path.Join(fmt.Sprint(id/(size*size)), fmt.Sprint((id/size)%size))
}

// Path returns the slash separated location of id within its shard, with the given extension.
func (s Sharder) Path(id int64, ext string) string {
	return path.Join(s.Dir(id), fmt.Sprintf("%d%s", id, ext))
}

// Closes reports whether id is the last id of its shard directory.
func (s Sharder) Closes(id int64) bool {
	return (id+1)%s.size() == 0
}

func (s Sharder) size() int64 {
	if s.Size <= 1 {
		return DefaultShardSize
	}
	return s.Size
}
