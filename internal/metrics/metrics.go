// Package metrics collects run counters in a prometheus registry and writes them
// to a node-exporter textfile at the end of a run.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"miner-go/internal/miner"
)

// Registry implements miner.Metrics. Each run gets its own registry so runs in
// the same process never collide on registration.
//
// Metrics:
//   - miner_projects_total{status} - projects finished, by outcome
//   - miner_branches_visited_total - branches scanned
//   - miner_branches_skipped_total - branches whose checkout failed
//   - miner_snapshots_total - file snapshots recorded
//   - miner_contents_stored_total - distinct bodies written
//   - miner_content_bytes_total - plaintext bytes of stored bodies
//   - miner_contents_deduplicated_total - bodies resolved to an existing id
//   - miner_clone_bytes - histogram of clone sizes on disk
//   - miner_shards_sealed_total - content shard directories filled
type Registry struct {
	reg *prometheus.Registry

	projects     *prometheus.CounterVec
	visited      prometheus.Counter
	skipped      prometheus.Counter
	snapshots    prometheus.Counter
	stored       prometheus.Counter
	storedBytes  prometheus.Counter
	deduplicated prometheus.Counter
	cloneBytes   prometheus.Histogram
	sealed       prometheus.Counter
}

// New creates a Registry whose series carry the run id as a constant label.
func New(runID int64) *Registry {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"run": fmt.Sprint(runID)}
	f := promauto.With(reg)

	return &Registry{
		reg: reg,
		projects: f.NewCounterVec(prometheus.CounterOpts{
			Name:        "miner_projects_total",
			Help:        "Projects finished, by outcome",
			ConstLabels: labels,
		}, []string{"status"}),
		visited: f.NewCounter(prometheus.CounterOpts{
			Name:        "miner_branches_visited_total",
			Help:        "Branches scanned",
			ConstLabels: labels,
		}),
		skipped: f.NewCounter(prometheus.CounterOpts{
			Name:        "miner_branches_skipped_total",
			Help:        "Branches skipped because checkout failed",
			ConstLabels: labels,
		}),
		snapshots: f.NewCounter(prometheus.CounterOpts{
			Name:        "miner_snapshots_total",
			Help:        "File snapshots recorded",
			ConstLabels: labels,
		}),
		stored: f.NewCounter(prometheus.CounterOpts{
			Name:        "miner_contents_stored_total",
			Help:        "Distinct content bodies written to the vault",
			ConstLabels: labels,
		}),
		storedBytes: f.NewCounter(prometheus.CounterOpts{
			Name:        "miner_content_bytes_total",
			Help:        "Plaintext bytes of stored content bodies",
			ConstLabels: labels,
		}),
		deduplicated: f.NewCounter(prometheus.CounterOpts{
			Name:        "miner_contents_deduplicated_total",
			Help:        "Content lookups resolved to an existing id",
			ConstLabels: labels,
		}),
		cloneBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:        "miner_clone_bytes",
			Help:        "Size of project clones on disk",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1<<16, 4, 10), // 64KiB to 16GiB
		}),
		sealed: f.NewCounter(prometheus.CounterOpts{
			Name:        "miner_shards_sealed_total",
			Help:        "Content shard directories filled",
			ConstLabels: labels,
		}),
	}
}

func (r *Registry) ProjectFinished(status string) { r.projects.WithLabelValues(status).Inc() }
func (r *Registry) BranchVisited()                { r.visited.Inc() }
func (r *Registry) BranchSkipped()                { r.skipped.Inc() }
func (r *Registry) SnapshotRecorded()             { r.snapshots.Inc() }
func (r *Registry) ContentDeduplicated()          { r.deduplicated.Inc() }
func (r *Registry) CloneMeasured(size int64)      { r.cloneBytes.Observe(float64(size)) }
func (r *Registry) ShardSealed()                  { r.sealed.Inc() }

func (r *Registry) ContentStored(size int64) {
	r.stored.Inc()
	r.storedBytes.Add(float64(size))
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// WriteTextfile writes every series to path in the text exposition format.
// The file is replaced atomically.
func (r *Registry) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating stats directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}

var _ miner.Metrics = (*Registry)(nil)
