package miner

import (
	"fmt"
	"sync/atomic"
)

// Project identifies one repository to mine.
type Project struct {
	ID  int64
	URL string

	// LocalPath is the clone location, assigned when the task clones the project.
	LocalPath string

	// HasDeniedFiles is set when any working tree file matched an explicit deny pattern.
	HasDeniedFiles bool
}

func (p *Project) String() string {
	return fmt.Sprintf("%s [%d]", p.URL, p.ID)
}

// ProjectIDs hands out project ids. It is shared by every producer of projects in a run
// and is safe for concurrent use.
type ProjectIDs struct {
	next atomic.Int64
}

// NewProjectIDs creates a generator whose first automatic id is first.
func NewProjectIDs(first int64) *ProjectIDs {
	g := &ProjectIDs{}
	g.next.Store(first)
	return g
}

// Next returns a fresh id.
func (g *ProjectIDs) Next() int64 {
	return g.next.Add(1) - 1
}

// Observe advances the generator past an explicitly supplied id so that later automatic
// ids never collide with it.
func (g *ProjectIDs) Observe(id int64) {
	for {
		cur := g.next.Load()
		if cur > id {
			return
		}
		if g.next.CompareAndSwap(cur, id+1) {
			return
		}
	}
}

// Peek returns the id the next call to Next would return.
func (g *ProjectIDs) Peek() int64 {
	return g.next.Load()
}

// NewProject creates a project with an automatically assigned id.
func (g *ProjectIDs) NewProject(url string) *Project {
	return &Project{ID: g.Next(), URL: url}
}

// NewProjectWithID creates a project with the given id and advances the generator past it.
func (g *ProjectIDs) NewProjectWithID(url string, id int64) *Project {
	g.Observe(id)
	return &Project{ID: id, URL: url}
}
