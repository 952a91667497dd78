// Package index orchestrates full-index runs: it stages artifact files
// under a run directory, imports them into the store, and maintains the
// artifacts tree (markers, latest symlink, pruning). A filesystem lock
// keeps runs exclusive per machine.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"graphrag/metrics"
	"graphrag/store"
)

// Run status values.
const (
	StatusUnknown      = "UNKNOWN"
	StatusDryRun       = "DRY_RUN"
	StatusNoop         = "NOOP"
	StatusGenerated    = "GENERATED"
	StatusSuccess      = "SUCCESS"
	StatusPartial      = "PARTIAL"
	StatusFailed       = "FAILED"
	StatusImportFailed = "IMPORT_FAILED"
	StatusLocked       = "LOCKED"
)

const (
	lockFileName = ".graphrag_index.lock"
	latestLink   = "latest"

	// DefaultKeep is how many run directories survive pruning.
	DefaultKeep = 5
)

// Marker file names written into a run directory.
const (
	markerRunning = "_RUNNING"
	markerSuccess = "_SUCCESS"
	markerPartial = "_PARTIAL"
	markerFailed  = "_FAILED"
)

// Required and optional artifact files.
var (
	requiredArtifacts = []string{"entities.csv", "relationships.csv"}
	optionalArtifacts = []string{"communities.csv", "community_reports.csv"}
)

// Options configures one orchestrator run.
type Options struct {
	Namespace string
	Force     bool
	DryRun    bool
	Keep      int
}

// Report is the outcome of one orchestrator run.
type Report struct {
	Status     string  `json:"status"`
	DurationS  float64 `json:"duration_s"`
	StagingDir string  `json:"staging_dir,omitempty"`
	Namespace  string  `json:"namespace"`
	DryRun     bool    `json:"dry_run"`
	StaleDocs  int     `json:"stale_docs"`
	TotalDocs  int     `json:"total_docs"`
	Error      string  `json:"error,omitempty"`
}

// Orchestrator runs index builds. The primary pipeline (an external
// indexer) is optional; the fallback pipeline extracts locally.
type Orchestrator struct {
	store    store.Backend
	root     string
	primary  Pipeline
	fallback Pipeline
	metrics  *metrics.Registry

	mu   sync.Mutex
	last *Report
}

// New creates an orchestrator writing under root (the artifacts
// directory). primary may be nil; reg may be nil.
func New(b store.Backend, root string, primary, fallback Pipeline, reg *metrics.Registry) *Orchestrator {
	return &Orchestrator{store: b, root: root, primary: primary, fallback: fallback, metrics: reg}
}

// LatestDir returns the path of the artifacts/latest symlink.
func (o *Orchestrator) LatestDir() string { return filepath.Join(o.root, latestLink) }

// Status returns the most recent run report, or a zero UNKNOWN report.
func (o *Orchestrator) Status() Report {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last != nil {
		return *o.last
	}
	return Report{Status: StatusUnknown}
}

// Log returns up to n trailing lines of the latest run's log.
func (o *Orchestrator) Log(n int) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(o.LatestDir(), "run.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Orchestrate runs the full index build state machine and always
// returns a report, never an error: failures are encoded in Status.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts Options) *Report {
	start := time.Now()
	if opts.Keep <= 0 {
		opts.Keep = DefaultKeep
	}

	report := &Report{Status: StatusUnknown, Namespace: opts.Namespace, DryRun: opts.DryRun}
	defer func() {
		report.DurationS = time.Since(start).Seconds()
		o.mu.Lock()
		o.last = report
		o.mu.Unlock()
		o.recordMetrics(report)
	}()

	entries, err := o.store.ListIngestLog(ctx, opts.Namespace)
	if err != nil {
		report.Status = StatusFailed
		report.Error = fmt.Sprintf("reading ingest log: %v", err)
		return report
	}
	var staleIDs []string
	for _, e := range entries {
		if e.Status != store.StatusIndexed {
			staleIDs = append(staleIDs, e.DocID)
		}
	}
	report.TotalDocs = len(entries)
	report.StaleDocs = len(staleIDs)

	if err := os.MkdirAll(o.root, 0o755); err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
		return report
	}

	lock := flock.New(filepath.Join(o.root, lockFileName))
	if opts.Force {
		if err := lock.Lock(); err != nil {
			report.Status = StatusFailed
			report.Error = fmt.Sprintf("acquiring lock: %v", err)
			return report
		}
	} else {
		locked, err := lock.TryLock()
		if err != nil {
			report.Status = StatusFailed
			report.Error = fmt.Sprintf("acquiring lock: %v", err)
			return report
		}
		if !locked {
			report.Status = StatusLocked
			return report
		}
	}
	defer lock.Unlock()

	if report.StaleDocs == 0 && !opts.Force {
		report.Status = StatusNoop
		return report
	}
	if opts.DryRun {
		report.Status = StatusDryRun
		return report
	}

	runDir := filepath.Join(o.root, "run-"+time.Now().UTC().Format("20060102-150405"))
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
		return report
	}
	report.StagingDir = runDir
	writeMarker(runDir, markerRunning, "")

	logf := newRunLog(runDir)
	defer logf.Close()
	logf.printf("run started namespace=%s stale=%d total=%d", opts.Namespace, report.StaleDocs, report.TotalDocs)

	if err := o.generate(ctx, runDir, opts.Namespace, staleIDs, logf); err != nil {
		report.Status = StatusFailed
		report.Error = err.Error()
		writeMarker(runDir, markerFailed, err.Error())
		return report
	}
	report.Status = StatusGenerated

	missing := missingArtifacts(runDir)
	for _, f := range missing {
		for _, req := range requiredArtifacts {
			if f == req {
				err := fmt.Errorf("pipeline produced no %s", req)
				report.Status = StatusFailed
				report.Error = err.Error()
				writeMarker(runDir, markerFailed, err.Error())
				return report
			}
		}
	}

	stats, err := Import(ctx, o.store, runDir, opts.Namespace)
	if err != nil {
		report.Status = StatusImportFailed
		report.Error = err.Error()
		writeMarker(runDir, markerFailed, "import: "+err.Error())
		return report
	}
	logf.printf("import done nodes_new=%d nodes_merged=%d edges_new=%d edges_merged=%d",
		stats.NodesNew, stats.NodesMerged, stats.EdgesNew, stats.EdgesMerged)

	now := time.Now().UTC()
	if err := o.store.Update(ctx, func(tx store.Tx) error {
		for _, docID := range staleIDs {
			if err := tx.MarkIndexed(docID, opts.Namespace, now); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		report.Status = StatusImportFailed
		report.Error = fmt.Sprintf("marking docs indexed: %v", err)
		writeMarker(runDir, markerFailed, report.Error)
		return report
	}

	if len(missing) > 0 {
		report.Status = StatusPartial
		writeMarker(runDir, markerPartial, strings.Join(missing, "\n"))
	} else {
		report.Status = StatusSuccess
		writeMarker(runDir, markerSuccess, "")
	}

	if err := o.repointLatest(runDir); err != nil {
		slog.Warn("index: repointing latest failed", "error", err)
	}
	o.prune(opts.Keep)
	o.recordImportMetrics(stats)

	logf.printf("run finished status=%s", report.Status)
	slog.Info("index run finished", "status", report.Status,
		"namespace", opts.Namespace, "staging", runDir, "stale_docs", report.StaleDocs)
	return report
}

// generate tries the primary pipeline, then the fallback.
func (o *Orchestrator) generate(ctx context.Context, runDir, namespace string, staleIDs []string, logf *runLog) error {
	if o.primary != nil {
		if err := o.primary.Generate(ctx, runDir, namespace, staleIDs); err == nil {
			logf.printf("primary pipeline succeeded")
			return nil
		} else {
			logf.printf("primary pipeline failed: %v", err)
			slog.Warn("index: primary pipeline failed, falling back", "error", err)
		}
	}
	if o.fallback == nil {
		return fmt.Errorf("no pipeline available")
	}
	if err := o.fallback.Generate(ctx, runDir, namespace, staleIDs); err != nil {
		return fmt.Errorf("fallback pipeline: %w", err)
	}
	logf.printf("fallback pipeline succeeded")
	return nil
}

// repointLatest atomically swings the latest symlink to dir.
func (o *Orchestrator) repointLatest(dir string) error {
	rel, err := filepath.Rel(o.root, dir)
	if err != nil {
		return err
	}
	tmp := filepath.Join(o.root, ".latest.tmp")
	os.Remove(tmp)
	if err := os.Symlink(rel, tmp); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(o.root, latestLink))
}

// prune removes run directories beyond the keep most recent.
func (o *Orchestrator) prune(keep int) {
	entries, err := os.ReadDir(o.root)
	if err != nil {
		return
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "run-") {
			runs = append(runs, e.Name())
		}
	}
	// Run names sort chronologically.
	sort.Sort(sort.Reverse(sort.StringSlice(runs)))
	for _, name := range runs[min(keep, len(runs)):] {
		if err := os.RemoveAll(filepath.Join(o.root, name)); err != nil {
			slog.Warn("index: pruning run failed", "run", name, "error", err)
		}
	}
}

func (o *Orchestrator) recordMetrics(r *Report) {
	if o.metrics == nil {
		return
	}
	o.metrics.Inc(metrics.IndexRuns, 1)
	switch r.Status {
	case StatusNoop, StatusDryRun:
		o.metrics.Inc(metrics.IndexRunsNoop, 1)
	case StatusLocked:
		o.metrics.Inc(metrics.IndexRunsLocked, 1)
	case StatusFailed, StatusImportFailed:
		o.metrics.Inc(metrics.IndexRunsFailed, 1)
	}
	o.metrics.Set(metrics.LastIndexDurationSec, r.DurationS)
}

func (o *Orchestrator) recordImportMetrics(s *ImportStats) {
	if o.metrics == nil {
		return
	}
	o.metrics.Set(metrics.LastIndexDeltaNodes, float64(s.NodesNew))
	o.metrics.Set(metrics.LastIndexDeltaEdges, float64(s.EdgesNew))
	o.metrics.Set(metrics.PercentReusedNodes, reuseRatio(s.NodesNew, s.NodesMerged))
	o.metrics.Set(metrics.PercentReusedEdges, reuseRatio(s.EdgesNew, s.EdgesMerged))
}

func reuseRatio(newCount, merged int) float64 {
	if newCount+merged == 0 {
		return 0
	}
	return float64(merged) / float64(newCount+merged)
}

func missingArtifacts(runDir string) []string {
	var missing []string
	for _, f := range append(append([]string{}, requiredArtifacts...), optionalArtifacts...) {
		if _, err := os.Stat(filepath.Join(runDir, f)); err != nil {
			missing = append(missing, f)
		}
	}
	return missing
}

func writeMarker(dir, name, body string) {
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		slog.Warn("index: writing marker failed", "marker", name, "error", err)
	}
}

// runLog appends timestamped lines to <run>/run.log.
type runLog struct {
	f *os.File
}

func newRunLog(dir string) *runLog {
	f, err := os.OpenFile(filepath.Join(dir, "run.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("index: opening run log failed", "error", err)
	}
	return &runLog{f: f}
}

func (l *runLog) printf(format string, args ...any) {
	if l.f == nil {
		return
	}
	fmt.Fprintf(l.f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...))
}

func (l *runLog) Close() {
	if l.f != nil {
		l.f.Close()
	}
}
