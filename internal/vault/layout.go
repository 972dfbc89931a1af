package vault

import (
	"errors"
	"path"

	"miner-go/internal/miner"
)

// ErrNotFound is returned when a requested object does not exist in the vault.
var ErrNotFound = errors.New("not found")

// Every vault shares the same object layout below its root or prefix:
//
//	data/<shard>/<id>.raw         content bodies
//	projects/<shard>/<id>.toml    project records
//	metadata/<name>.db            metadata items (ledger snapshots)
//	metadata/<name>.version       version marker of a metadata item
const (
	contentDir  = "data"
	projectDir  = "projects"
	metadataDir = "metadata"
)

// layout maps ids and names onto slash separated object keys.
type layout struct {
	sharder miner.Sharder
}

func (l layout) contentKey(id int64) string {
	return path.Join(contentDir, l.sharder.Path(id, ".raw"))
}

func (l layout) projectKey(id int64) string {
	return path.Join(projectDir, l.sharder.Path(id, ".toml"))
}

func (l layout) metadataKey(name string) string {
	return path.Join(metadataDir, name+".db")
}

func (l layout) versionKey(name string) string {
	return path.Join(metadataDir, name+".version")
}
