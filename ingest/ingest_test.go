package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"graphrag/chunker"
	"graphrag/events"
	"graphrag/extract"
	"graphrag/llm"
	"graphrag/metrics"
	"graphrag/store"
	"graphrag/vector"
)

const testNS = "test"

const fixtureText = "Alice works as an Engineer at Initech Corp. Alice ships with Docker."

// stubEmbedder is a deterministic llm.Provider for embedding tests.
type stubEmbedder struct {
	calls int
	fail  bool
}

func (s *stubEmbedder) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{Content: "ok"}, nil
}

func (s *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.fail {
		return nil, fmt.Errorf("embedding service down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1, 0}
	}
	return out, nil
}

func newIngestor(b store.Backend, opts ...func(*Ingestor)) *Ingestor {
	in := New(b, chunker.New(0), nil, nil, nil, nil, nil, "memory")
	for _, o := range opts {
		o(in)
	}
	return in
}

func mustIngest(t *testing.T, in *Ingestor, text string, opts Options) *Result {
	t.Helper()
	res, err := in.Ingest(context.Background(), text, opts)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	return res
}

func entityByName(t *testing.T, b store.Backend, name string) *store.Node {
	t.Helper()
	var found *store.Node
	if err := b.Update(context.Background(), func(tx store.Tx) error {
		n, err := tx.FindEntity(name, testNS)
		found = n
		return err
	}); err != nil {
		t.Fatal(err)
	}
	if found == nil {
		t.Fatalf("entity %q not found", name)
	}
	return found
}

func hasEdge(t *testing.T, b store.Backend, srcID, tgtID, relation string) bool {
	t.Helper()
	edges, err := b.ScanEdges(context.Background(), store.EdgeFilter{
		Namespace: testNS, Relations: []string{relation},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range edges {
		if e.SourceID == srcID && e.TargetID == tgtID {
			return true
		}
		// Unordered-pair relations may be stored either direction.
		if (relation == store.RelCoOccurs) && e.SourceID == tgtID && e.TargetID == srcID {
			return true
		}
	}
	return false
}

func TestIngestRejectsEmptyText(t *testing.T) {
	in := newIngestor(store.NewMemory())
	_, err := in.Ingest(context.Background(), "   \n", Options{DocID: "doc1", Namespace: testNS})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	_, err = in.Ingest(context.Background(), "some text", Options{Namespace: testNS})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("missing doc id: err = %v", err)
	}
}

func TestIngestBuildsGraph(t *testing.T) {
	b := store.NewMemory()
	in := newIngestor(b)
	res := mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS})

	if res.Stats.Store != "memory" || res.Stats.Nodes == 0 || res.Stats.Edges == 0 {
		t.Fatalf("stats = %+v", res.Stats)
	}
	if res.ExtractionReasoning == "" {
		t.Fatal("missing extraction reasoning")
	}

	chunkID := store.ChunkNodeID("doc1", 0)
	chunk, err := b.GetNode(context.Background(), chunkID)
	if err != nil {
		t.Fatal(err)
	}
	if chunk == nil || chunk.Properties["text"] != fixtureText {
		t.Fatalf("chunk = %+v", chunk)
	}
	if chunk.Properties["chunk_index"] != 0 {
		t.Fatalf("chunk_index = %v, want 0", chunk.Properties["chunk_index"])
	}

	// Classifier labels flow into the stored entities.
	engineer := entityByName(t, b, "Engineer")
	corp := entityByName(t, b, "Corp")
	docker := entityByName(t, b, "Docker")
	if engineer.Label != store.LabelRole || corp.Label != store.LabelOrganization || docker.Label != store.LabelTechnology {
		t.Fatalf("labels = %s %s %s", engineer.Label, corp.Label, docker.Label)
	}

	sectionID := store.SectionNodeID("doc1", "root")
	if !hasEdge(t, b, sectionID, chunkID, store.RelContains) {
		t.Fatal("missing CONTAINS edge")
	}
	if !hasEdge(t, b, docker.ID, chunkID, store.RelMentionedIn) {
		t.Fatal("missing MENTIONED_IN edge")
	}
	alice := entityByName(t, b, "Alice")
	if !hasEdge(t, b, alice.ID, docker.ID, store.RelCoOccurs) {
		t.Fatal("missing CO_OCCURS edge")
	}
	if !hasEdge(t, b, sectionID, docker.ID, store.RelHasEntity) {
		t.Fatal("missing HAS_ENTITY edge")
	}
	if !hasEdge(t, b, engineer.ID, corp.ID, store.RelRoleAt) {
		t.Fatal("missing ROLE_AT edge")
	}
	if !hasEdge(t, b, engineer.ID, docker.ID, store.RelUsesTech) || !hasEdge(t, b, corp.ID, docker.ID, store.RelUsesTech) {
		t.Fatal("missing USES_TECH edges")
	}
}

func TestIngestReplacesDocumentScope(t *testing.T) {
	b := store.NewMemory()
	in := New(b, chunker.New(20), nil, nil, nil, nil, nil, "memory")

	long := "Alice builds with Docker every day.\n\nInitech runs Kubernetes in production.\n\nCorp hired Alice as an Engineer last year."
	mustIngest(t, in, long, Options{DocID: "doc1", Namespace: testNS})

	chunksBefore, err := b.ScanNodes(context.Background(), store.NodeFilter{
		Namespace: testNS, Labels: []string{store.LabelChunk},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunksBefore) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunksBefore))
	}

	mustIngest(t, in, "Alice uses Docker.", Options{DocID: "doc1", Namespace: testNS})
	chunksAfter, err := b.ScanNodes(context.Background(), store.NodeFilter{
		Namespace: testNS, Labels: []string{store.LabelChunk},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunksAfter) != 1 {
		t.Fatalf("chunks after re-ingest = %d", len(chunksAfter))
	}

	// Entities survive the purge; only doc-scoped nodes are replaced.
	entityByName(t, b, "Alice")
}

func TestIngestLogTracksContentHash(t *testing.T) {
	b := store.NewMemory()
	in := newIngestor(b)
	ctx := context.Background()

	mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS})
	first, err := b.IngestLogEntry(ctx, "doc1", testNS)
	if err != nil {
		t.Fatal(err)
	}
	if first.Status != store.StatusIngested || first.ContentHash == "" {
		t.Fatalf("entry = %+v", first)
	}

	// Same content: status and hash unchanged.
	mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS})
	same, err := b.IngestLogEntry(ctx, "doc1", testNS)
	if err != nil {
		t.Fatal(err)
	}
	if same.Status != store.StatusIngested || same.ContentHash != first.ContentHash {
		t.Fatalf("entry = %+v", same)
	}

	// Changed content: stale, previous hash recorded.
	mustIngest(t, in, fixtureText+" Updated.", Options{DocID: "doc1", Namespace: testNS})
	changed, err := b.IngestLogEntry(ctx, "doc1", testNS)
	if err != nil {
		t.Fatal(err)
	}
	if changed.Status != store.StatusStale {
		t.Fatalf("entry = %+v", changed)
	}
	if changed.Meta["prev_hash"] != first.ContentHash {
		t.Fatalf("meta = %+v", changed.Meta)
	}
}

func TestIngestEvents(t *testing.T) {
	b := store.NewMemory()
	bus := events.NewBus()
	in := New(b, chunker.New(0), nil, nil, nil, bus, nil, "memory")

	ch, cancel := bus.Subscribe()
	defer cancel()

	mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS})

	var nodeAdded int
	var edgesAdded *events.Event
	for {
		select {
		case ev := <-ch:
			switch ev.Name {
			case "node_added":
				nodeAdded++
			case "edges_added":
				e := ev
				edgesAdded = &e
			}
			continue
		default:
		}
		break
	}
	if nodeAdded != 1 {
		t.Fatalf("node_added = %d", nodeAdded)
	}
	if edgesAdded == nil || edgesAdded.Data["doc_id"] != "doc1" {
		t.Fatalf("edges_added = %+v", edgesAdded)
	}
	if count, ok := edgesAdded.Data["count"].(int); !ok || count == 0 {
		t.Fatalf("edges_added count = %+v", edgesAdded.Data["count"])
	}
}

func TestIngestMetrics(t *testing.T) {
	b := store.NewMemory()
	reg := metrics.New()
	in := New(b, chunker.New(0), nil, nil, nil, nil, reg, "memory")

	mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS})

	snap := reg.Snapshot()
	if snap[metrics.IngestTotal] != 1 {
		t.Fatalf("ingest_total = %v", snap[metrics.IngestTotal])
	}
	if snap[metrics.IngestSeconds] <= 0 {
		t.Fatalf("ingest_seconds_sum = %v", snap[metrics.IngestSeconds])
	}
}

func TestIngestComputeLayout(t *testing.T) {
	b := store.NewMemory()
	in := newIngestor(b)
	mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS, ComputeLayout: true})

	alice := entityByName(t, b, "Alice")
	if _, ok := alice.Properties["x"].(float64); !ok {
		t.Fatalf("properties = %+v", alice.Properties)
	}
	if _, ok := alice.Properties["degree_norm"].(float64); !ok {
		t.Fatalf("properties = %+v", alice.Properties)
	}
}

type failingExtractor struct{ calls int }

func (f *failingExtractor) Extract(ctx context.Context, text string) (*extract.Result, error) {
	f.calls++
	return nil, fmt.Errorf("upstream 429")
}

func TestIngestFallsBackToHeuristic(t *testing.T) {
	b := store.NewMemory()
	fx := &failingExtractor{}
	in := New(b, chunker.New(0), fx, nil, nil, nil, nil, "memory")

	res := mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS})
	if fx.calls != 1 {
		t.Fatalf("extractor calls = %d", fx.calls)
	}
	if !strings.Contains(res.ExtractionReasoning, "heuristic") {
		t.Fatalf("reasoning = %q", res.ExtractionReasoning)
	}
}

func TestIngestForceHeuristicSkipsExtractor(t *testing.T) {
	b := store.NewMemory()
	fx := &failingExtractor{}
	in := New(b, chunker.New(0), fx, nil, nil, nil, nil, "memory")

	mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS, ForceHeuristic: true})
	if fx.calls != 0 {
		t.Fatalf("extractor calls = %d", fx.calls)
	}
}

type memoryIndex struct {
	upserts int
	points  []vector.Point
}

func (m *memoryIndex) Ensure(ctx context.Context, dim int) error { return nil }
func (m *memoryIndex) Upsert(ctx context.Context, namespace string, points []vector.Point) error {
	m.upserts++
	m.points = append(m.points, points...)
	return nil
}
func (m *memoryIndex) Search(ctx context.Context, namespace string, vec []float32, limit int) ([]vector.Hit, error) {
	return nil, nil
}

func TestIngestEmbeddingCacheAndVectorMirror(t *testing.T) {
	b := store.NewMemory()
	emb := &stubEmbedder{}
	idx := &memoryIndex{}
	in := New(b, chunker.New(0), nil, emb, idx, nil, nil, "memory")

	mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS})
	if emb.calls != 1 {
		t.Fatalf("embed calls = %d", emb.calls)
	}
	if idx.upserts != 1 || len(idx.points) != 1 {
		t.Fatalf("index upserts = %d points = %d", idx.upserts, len(idx.points))
	}
	if idx.points[0].NodeID != store.ChunkNodeID("doc1", 0) || idx.points[0].DocID != "doc1" {
		t.Fatalf("point = %+v", idx.points[0])
	}

	chunk, err := b.GetNode(context.Background(), store.ChunkNodeID("doc1", 0))
	if err != nil {
		t.Fatal(err)
	}
	if len(chunk.Embedding) == 0 {
		t.Fatal("chunk embedding not stored")
	}

	// Same text again: served from the process cache.
	mustIngest(t, in, fixtureText, Options{DocID: "doc2", Namespace: testNS})
	if emb.calls != 1 {
		t.Fatalf("embed calls after cached ingest = %d", emb.calls)
	}
}

func TestIngestEmbeddingFailureCachesEmpty(t *testing.T) {
	b := store.NewMemory()
	emb := &stubEmbedder{fail: true}
	idx := &memoryIndex{}
	in := New(b, chunker.New(0), nil, emb, idx, nil, nil, "memory")

	mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS})
	if emb.calls != 1 {
		t.Fatalf("embed calls = %d", emb.calls)
	}
	if idx.upserts != 0 {
		t.Fatalf("index upserts = %d", idx.upserts)
	}

	// Failures are cached: the same text is not re-embedded.
	mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS})
	if emb.calls != 1 {
		t.Fatalf("embed calls after retry = %d", emb.calls)
	}
}

func TestIngestDisableEmbeddings(t *testing.T) {
	b := store.NewMemory()
	emb := &stubEmbedder{}
	in := New(b, chunker.New(0), nil, emb, nil, nil, nil, "memory")

	mustIngest(t, in, fixtureText, Options{DocID: "doc1", Namespace: testNS, DisableEmbeddings: true})
	if emb.calls != 0 {
		t.Fatalf("embed calls = %d", emb.calls)
	}
}
