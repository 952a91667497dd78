package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"graphrag/store"
)

const testNS = "test"

func seedDocument(t *testing.T, b store.Backend, docID, text string) {
	t.Helper()
	if err := b.Update(context.Background(), func(tx store.Tx) error {
		if err := tx.UpsertNodes([]store.Node{{
			ID:         store.ChunkNodeID(docID, 0),
			Label:      store.LabelChunk,
			Name:       docID + " chunk 0",
			Properties: map[string]any{"text": text},
			Namespace:  testNS,
		}}); err != nil {
			return err
		}
		return tx.PutIngestLog(store.IngestLogEntry{
			DocID:       docID,
			Namespace:   testNS,
			ContentHash: "hash-" + docID,
			Status:      store.StatusIngested,
		})
	}); err != nil {
		t.Fatal(err)
	}
}

func newOrchestrator(t *testing.T, b store.Backend) *Orchestrator {
	t.Helper()
	return New(b, filepath.Join(t.TempDir(), "artifacts"), nil, &FallbackPipeline{Store: b}, nil)
}

func TestOrchestrateSuccess(t *testing.T) {
	b := store.NewMemory()
	seedDocument(t, b, "doc1", "Alice joined Initech and deployed Docker for the platform team.")

	o := newOrchestrator(t, b)
	report := o.Orchestrate(context.Background(), Options{Namespace: testNS})

	if report.Status != StatusSuccess {
		t.Fatalf("report = %+v", report)
	}
	if report.StaleDocs != 1 || report.TotalDocs != 1 {
		t.Fatalf("docs = %d/%d", report.StaleDocs, report.TotalDocs)
	}

	for _, f := range []string{"entities.csv", "relationships.csv", "communities.csv", "community_reports.csv", markerSuccess} {
		if _, err := os.Stat(filepath.Join(report.StagingDir, f)); err != nil {
			t.Fatalf("missing %s: %v", f, err)
		}
	}

	// latest points at the run.
	target, err := os.Readlink(o.LatestDir())
	if err != nil {
		t.Fatal(err)
	}
	if target != filepath.Base(report.StagingDir) {
		t.Fatalf("latest -> %s, want %s", target, filepath.Base(report.StagingDir))
	}

	// Entities landed in the store.
	nodes, err := b.ScanNodes(context.Background(), store.NodeFilter{
		Namespace: testNS, Labels: []string{store.LabelEntity, store.LabelTechnology, store.LabelOrganization},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 3 {
		t.Fatalf("imported nodes = %+v", nodes)
	}

	// Document flipped to indexed.
	entry, err := b.IngestLogEntry(context.Background(), "doc1", testNS)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != store.StatusIndexed || entry.LastIndexedAt == nil {
		t.Fatalf("entry = %+v", entry)
	}

	if o.Status().Status != StatusSuccess {
		t.Fatalf("status = %+v", o.Status())
	}
	lines, err := o.Log(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) == 0 || !strings.Contains(lines[len(lines)-1], StatusSuccess) {
		t.Fatalf("log = %v", lines)
	}
}

func TestOrchestrateNoopWhenNothingStale(t *testing.T) {
	b := store.NewMemory()
	seedDocument(t, b, "doc1", "Alice met Bob at Initech.")

	o := newOrchestrator(t, b)
	first := o.Orchestrate(context.Background(), Options{Namespace: testNS})
	if first.Status != StatusSuccess {
		t.Fatalf("first = %+v", first)
	}

	second := o.Orchestrate(context.Background(), Options{Namespace: testNS})
	if second.Status != StatusNoop {
		t.Fatalf("second = %+v", second)
	}
	if second.StagingDir != "" {
		t.Fatalf("noop created staging %s", second.StagingDir)
	}
}

func TestOrchestrateForceReimportsIdempotently(t *testing.T) {
	b := store.NewMemory()
	seedDocument(t, b, "doc1", "Alice joined Initech and deployed Docker.")

	o := newOrchestrator(t, b)
	if r := o.Orchestrate(context.Background(), Options{Namespace: testNS}); r.Status != StatusSuccess {
		t.Fatalf("first = %+v", r)
	}
	before, err := b.CountNodes(context.Background(), testNS)
	if err != nil {
		t.Fatal(err)
	}

	if r := o.Orchestrate(context.Background(), Options{Namespace: testNS, Force: true}); r.Status != StatusSuccess {
		t.Fatalf("forced = %+v", r)
	}
	after, err := b.CountNodes(context.Background(), testNS)
	if err != nil {
		t.Fatal(err)
	}
	if before != after {
		t.Fatalf("node count changed %d -> %d on reimport", before, after)
	}
}

func TestOrchestrateDryRun(t *testing.T) {
	b := store.NewMemory()
	seedDocument(t, b, "doc1", "Alice works at Initech.")

	o := newOrchestrator(t, b)
	report := o.Orchestrate(context.Background(), Options{Namespace: testNS, DryRun: true})
	if report.Status != StatusDryRun || report.StagingDir != "" {
		t.Fatalf("report = %+v", report)
	}
	if report.StaleDocs != 1 {
		t.Fatalf("stale = %d", report.StaleDocs)
	}

	entry, err := b.IngestLogEntry(context.Background(), "doc1", testNS)
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != store.StatusIngested {
		t.Fatalf("dry run mutated ingest log: %+v", entry)
	}
}

func TestOrchestrateLocked(t *testing.T) {
	b := store.NewMemory()
	seedDocument(t, b, "doc1", "Alice works at Initech.")

	o := newOrchestrator(t, b)
	if err := os.MkdirAll(o.root, 0o755); err != nil {
		t.Fatal(err)
	}
	held := flock.New(filepath.Join(o.root, lockFileName))
	locked, err := held.TryLock()
	if err != nil || !locked {
		t.Fatalf("holding lock: %v", err)
	}
	defer held.Unlock()

	report := o.Orchestrate(context.Background(), Options{Namespace: testNS})
	if report.Status != StatusLocked {
		t.Fatalf("report = %+v", report)
	}
}

func TestOrchestratePrunesOldRuns(t *testing.T) {
	b := store.NewMemory()
	seedDocument(t, b, "doc1", "Alice works at Initech.")

	o := newOrchestrator(t, b)
	if err := os.MkdirAll(o.root, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"run-20200101-000001", "run-20200101-000002", "run-20200101-000003",
		"run-20200101-000004", "run-20200101-000005", "run-20200101-000006",
	} {
		if err := os.MkdirAll(filepath.Join(o.root, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	report := o.Orchestrate(context.Background(), Options{Namespace: testNS, Keep: 3})
	if report.Status != StatusSuccess {
		t.Fatalf("report = %+v", report)
	}

	entries, err := os.ReadDir(o.root)
	if err != nil {
		t.Fatal(err)
	}
	var runs []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "run-") {
			runs = append(runs, e.Name())
		}
	}
	if len(runs) != 3 {
		t.Fatalf("runs after prune = %v", runs)
	}
	if _, err := os.Stat(filepath.Join(o.root, "run-20200101-000001")); !os.IsNotExist(err) {
		t.Fatal("oldest run survived pruning")
	}
}

func TestOrchestrateNoPipeline(t *testing.T) {
	b := store.NewMemory()
	seedDocument(t, b, "doc1", "Alice works at Initech.")

	o := New(b, filepath.Join(t.TempDir(), "artifacts"), nil, nil, nil)
	report := o.Orchestrate(context.Background(), Options{Namespace: testNS})
	if report.Status != StatusFailed || report.Error == "" {
		t.Fatalf("report = %+v", report)
	}
	if _, err := os.Stat(filepath.Join(report.StagingDir, markerFailed)); err != nil {
		t.Fatalf("missing failure marker: %v", err)
	}
}

func TestImportMergesAndUpgradesConfidence(t *testing.T) {
	b := store.NewMemory()
	dir := t.TempDir()

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("entities.csv", "name,label,description\nAlice,Entity,\nInitech,Organization,\n")
	write("relationships.csv", "source,target,relation,confidence\nAlice,Initech,ROLE_AT,0.65\n")

	ctx := context.Background()
	first, err := Import(ctx, b, dir, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if first.NodesNew != 2 || first.NodesMerged != 0 || first.EdgesNew != 1 {
		t.Fatalf("first = %+v", first)
	}

	// Re-import with a lower confidence: the stored edge keeps 0.65.
	write("relationships.csv", "source,target,relation,confidence\nAlice,Initech,ROLE_AT,0.30\n")
	second, err := Import(ctx, b, dir, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if second.NodesMerged != 2 || second.NodesNew != 0 || second.EdgesMerged != 1 {
		t.Fatalf("second = %+v", second)
	}

	edges, err := b.ScanEdges(ctx, store.EdgeFilter{Namespace: testNS})
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 || edges[0].Confidence != 0.65 {
		t.Fatalf("edges = %+v", edges)
	}
}

func TestImportReportsRefreshOnlyEmptySummaries(t *testing.T) {
	b := store.NewMemory()
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "entities.csv"),
		[]byte("name,label,description\nAlice,Entity,\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "relationships.csv"),
		[]byte("source,target,relation,confidence\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "community_reports.csv"),
		[]byte("cluster_id,label,summary\ng1,People,first import\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := Import(ctx, b, dir, testNS); err != nil {
		t.Fatal(err)
	}

	// Second import must not clobber the existing summary.
	if err := os.WriteFile(filepath.Join(dir, "community_reports.csv"),
		[]byte("cluster_id,label,summary\ng1,People,second import\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	stats, err := Import(ctx, b, dir, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Reports != 0 {
		t.Fatalf("stats = %+v", stats)
	}
	got, err := b.GetClusterSummary(ctx, testNS, "g1", importAlgorithm, "")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Summary != "first import" {
		t.Fatalf("summary = %+v", got)
	}
}

func TestConnectedComponents(t *testing.T) {
	entities := map[string]aggEntity{
		"alice":   {name: "Alice"},
		"initech": {name: "Initech"},
		"docker":  {name: "Docker"},
		"stray":   {name: "Stray"},
	}
	relations := map[relKey]float64{
		{src: "Alice", tgt: "Initech", rel: "RELATED_TO"}:  0.35,
		{src: "Initech", tgt: "Docker", rel: "RELATED_TO"}: 0.35,
	}

	clusters := connectedComponents(entities, relations)
	if len(clusters) != 2 {
		t.Fatalf("clusters = %+v", clusters)
	}
	if len(clusters["g1"]) != 3 || len(clusters["g2"]) != 1 {
		t.Fatalf("sizes = %+v", clusters)
	}
	if clusters["g2"][0] != "Stray" {
		t.Fatalf("g2 = %v", clusters["g2"])
	}
}

func TestRunLogTail(t *testing.T) {
	b := store.NewMemory()
	o := newOrchestrator(t, b)
	if lines, err := o.Log(5); err != nil || lines != nil {
		t.Fatalf("empty log: %v %v", lines, err)
	}
}
