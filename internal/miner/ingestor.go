package miner

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"miner-go/internal/pool"
)

// Dependencies are the collaborators of an Ingestor.
type Dependencies struct {
	VCS       VCS
	Filter    Filter
	Vault     Vault
	Database  Database
	Encryptor Encryptor // nil stores plaintext
	Logger    Logger
	Metrics   Metrics
	Clock     Clock
}

// Options tune an Ingestor.
type Options struct {
	Workers    int
	TempDir    string
	Timeout    time.Duration // per VCS call; zero disables
	CloneRate  float64       // clones per second; zero disables
	CloneBurst int
	ShardSize  int64
	RunID      int64
}

// Summary describes a finished run.
type Summary struct {
	RunID     int64
	Scheduled int
	Completed int64
	Failures  []*Failure
	Invalid   int
	Dropped   int
	Contents  int
	Elapsed   time.Duration
}

// Ingestor mines a stream of projects on a worker pool, sharing one content store
// across all of them.
type Ingestor struct {
	deps     Dependencies
	opts     Options
	pool     *pool.Pool
	ids      *ProjectIDs
	store    *ContentStore
	pipeline *Pipeline

	started   time.Time
	scheduled atomic.Int64
	invalid   atomic.Int64
}

// NewIngestor creates an Ingestor. Initialize must be called before scheduling projects.
func NewIngestor(deps Dependencies, opts Options) *Ingestor {
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	store := NewContentStore(deps.Vault, deps.Database, deps.Encryptor, NewSharder(opts.ShardSize), deps.Logger, deps.Metrics)
	walker := NewBranchWalker(deps.VCS, deps.Filter, store, deps.Logger, deps.Metrics, opts.Timeout)

	var limiter *rate.Limiter
	if opts.CloneRate > 0 {
		burst := opts.CloneBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.CloneRate), burst)
	}

	return &Ingestor{
		deps:  deps,
		opts:  opts,
		pool:  pool.New(deps.Logger),
		store: store,
		pipeline: &Pipeline{
			vcs:      deps.VCS,
			walker:   walker,
			vault:    deps.Vault,
			database: deps.Database,
			logger:   deps.Logger,
			metrics:  deps.Metrics,
			clock:    deps.Clock,
			tempDir:  opts.TempDir,
			timeout:  opts.Timeout,
			limiter:  limiter,
			runID:    opts.RunID,
		},
	}
}

// Initialize prepares the temp directory and re-seeds the content index and the project
// id generator from the ledger.
func (in *Ingestor) Initialize() error {
	if err := os.MkdirAll(in.opts.TempDir, 0o700); err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}
	if err := in.store.Preload(); err != nil {
		return err
	}
	maxID, err := in.deps.Database.MaxProjectID()
	if err != nil {
		return fmt.Errorf("reading project ids: %w", err)
	}
	in.ids = NewProjectIDs(maxID + 1)
	return nil
}

// Start spawns the workers and begins dispatching. Projects may be scheduled before or
// after Start.
func (in *Ingestor) Start(ctx context.Context) {
	in.started = in.deps.Clock.Now()
	in.pool.Spawn(in.opts.Workers)
	in.pool.Run(ctx)
	in.deps.Logger.Info("ingestor started", "workers", in.opts.Workers, "run", in.opts.RunID)
}

// Schedule queues p for mining. It is safe to call from several producers.
func (in *Ingestor) Schedule(p *Project) {
	in.scheduled.Add(1)
	in.pool.Schedule(NewProjectTask(p, in.pipeline))
}

// Add creates a project for url and schedules it.
func (in *Ingestor) Add(url string) *Project {
	p := in.ids.NewProject(url)
	in.Schedule(p)
	return p
}

// AddWithID schedules a project with an explicit id.
func (in *Ingestor) AddWithID(url string, id int64) *Project {
	p := in.ids.NewProjectWithID(url, id)
	in.Schedule(p)
	return p
}

// Feed schedules every valid record of a CSV feed. Malformed records are logged and
// counted. It returns the number of projects scheduled.
func (in *Ingestor) Feed(r io.Reader, source string) (int, error) {
	n := 0
	err := ParseFeed(r, source, func(rec FeedRecord) error {
		if rec.HasID {
			in.AddWithID(rec.URL, rec.ID)
		} else {
			in.Add(rec.URL)
		}
		n++
		return nil
	}, func(fe *FeedError) {
		in.invalid.Add(1)
		in.deps.Logger.Error("invalid feed record, skipping", "source", fe.Source, "line", fe.Line, "reason", fe.Reason)
	})
	return n, err
}

// Wait blocks until every scheduled project has been processed, stops the workers and
// returns the run summary.
func (in *Ingestor) Wait() *Summary {
	in.pool.Wait()
	in.pool.Close()
	in.store.Wait()

	s := &Summary{
		RunID:     in.opts.RunID,
		Scheduled: int(in.scheduled.Load()),
		Completed: in.pipeline.Completed(),
		Failures:  in.pipeline.Failures(),
		Invalid:   int(in.invalid.Load()),
		Dropped:   in.pool.Dropped(),
		Contents:  in.store.Len(),
		Elapsed:   in.deps.Clock.Now().Sub(in.started),
	}
	in.deps.Logger.Info("ingestor finished", "run", s.RunID, "scheduled", s.Scheduled,
		"completed", s.Completed, "failed", len(s.Failures), "dropped", s.Dropped, "contents", s.Contents)
	return s
}

// ContentStore returns the content store shared by the run.
func (in *Ingestor) ContentStore() *ContentStore {
	return in.store
}
