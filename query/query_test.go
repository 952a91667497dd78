package query

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"graphrag/llm"
	"graphrag/metrics"
	"graphrag/retrieval"
	"graphrag/store"
)

const testNS = "test"

type fakeChat struct {
	reply string
	err   error
	last  llm.ChatRequest
}

func (f *fakeChat) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.reply}, nil
}

func (f *fakeChat) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("no embeddings")
}

func seedQueryGraph(t *testing.T) store.Backend {
	t.Helper()
	b := store.NewMemory()
	err := b.Update(context.Background(), func(tx store.Tx) error {
		nodes := []store.Node{
			{
				ID: "e1", Label: store.LabelTechnology, Name: "Kubernetes",
				Properties: map[string]any{"degree_norm": 1.0}, Namespace: testNS,
			},
			{
				ID: "e2", Label: store.LabelEntity, Name: "Kubernetes Migration Project",
				Properties: map[string]any{"degree_norm": 0.2}, Namespace: testNS,
			},
			{
				ID: "doc::chunk::0", Label: store.LabelChunk, Name: "doc::chunk::0",
				Properties: map[string]any{"text": "the kubernetes cluster runs batch workloads"},
				Namespace:  testNS,
			},
		}
		if err := tx.UpsertNodes(nodes); err != nil {
			return err
		}
		return tx.UpsertEdges([]store.Edge{
			{ID: "r1", SourceID: "e1", TargetID: "e2", Relation: store.RelUsesTech, Confidence: 0.55, Namespace: testNS},
			{ID: "r2", SourceID: "e1", TargetID: "doc::chunk::0", Relation: store.RelMentionedIn, Confidence: 0.6, Namespace: testNS},
		})
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestResolveMode(t *testing.T) {
	cases := []struct {
		mode, query, want string
	}{
		{ModeAuto, "kubernetes networking", ModeGlobal},
		{"", "what is it", ModeGlobal},
		{ModeAuto, "how does the ingest pipeline resolve duplicate entities", ModeLocal},
		{ModeGlobal, "anything at all whatsoever ok", ModeGlobal},
		{ModeDrift, "x", ModeDrift},
	}
	for _, c := range cases {
		got, err := ResolveMode(c.mode, c.query)
		if err != nil {
			t.Fatalf("ResolveMode(%q, %q): %v", c.mode, c.query, err)
		}
		if got != c.want {
			t.Errorf("ResolveMode(%q, %q) = %q, want %q", c.mode, c.query, got, c.want)
		}
	}

	if _, err := ResolveMode("galactic", "q"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func TestQueryRescoresByMode(t *testing.T) {
	b := seedQueryGraph(t)
	a := NewAdapter(b, retrieval.New(b, nil, nil), nil, nil)

	resp, err := a.Query(context.Background(), "kubernetes", ModeGlobal, 5, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ModeUsed != ModeGlobal {
		t.Fatalf("mode = %q", resp.ModeUsed)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("results = %+v", resp.Results)
	}
	// e1 has maximal degree_norm and full token overlap.
	if resp.Results[0].ID != "e1" {
		t.Fatalf("top = %+v", resp.Results[0])
	}
	top := resp.Results[0]
	if top.DegNorm != 1.0 || top.Overlap != 1.0 || top.Rel <= 0 {
		t.Fatalf("breakdown = %+v", top)
	}
	if resp.TotalConsidered != 2 {
		t.Fatalf("total_considered = %d", resp.TotalConsidered)
	}
	if len(resp.ReasoningChain) == 0 || !strings.Contains(resp.ReasoningChain[0], ModeGlobal) {
		t.Fatalf("reasoning = %v", resp.ReasoningChain)
	}
	if resp.DurationS < 0 {
		t.Fatalf("duration = %v", resp.DurationS)
	}
}

func TestQueryLongNamePenalty(t *testing.T) {
	b := store.NewMemory()
	long := strings.Repeat("verylongname ", 8) // > 80 chars
	err := b.Update(context.Background(), func(tx store.Tx) error {
		return tx.UpsertNodes([]store.Node{
			{ID: "e1", Label: store.LabelEntity, Name: long, Namespace: testNS},
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	a := NewAdapter(b, retrieval.New(b, nil, nil), nil, nil)
	resp, err := a.Query(context.Background(), "verylongname", ModeDrift, 5, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("results = %+v", resp.Results)
	}
	got := resp.Results[0]
	want := 0.5*got.Overlap + 0.25*got.DegNorm + 0.25*got.Rel - longNamePenalty
	if diff := got.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("score = %v, want %v", got.Score, want)
	}
}

func TestQueryEmpty(t *testing.T) {
	b := store.NewMemory()
	a := NewAdapter(b, retrieval.New(b, nil, nil), nil, nil)
	if _, err := a.Query(context.Background(), "  ", ModeAuto, 5, testNS); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
}

func writeArtifacts(t *testing.T, dir string) {
	t.Helper()
	ent := "name,label,description\nKubernetes,Technology,container orchestrator\nPostgres,Technology,database\n"
	rel := "source,target,relation,confidence\nKubernetes,Postgres,USES_TECH,0.8\nKubernetes,Helm,RELATED_TO,0.6\n"
	if err := os.WriteFile(filepath.Join(dir, "entities.csv"), []byte(ent), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "relationships.csv"), []byte(rel), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestArtifactCacheSearch(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir)

	c := NewArtifactCache(dir)
	hits, err := c.Search(context.Background(), nil, "kubernetes setup", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 || hits[0].Name != "Kubernetes" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score <= 0 {
		t.Fatalf("score = %v", hits[0].Score)
	}
}

func TestArtifactCacheReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir)

	c := NewArtifactCache(dir)
	if _, err := c.Search(context.Background(), nil, "postgres", 10); err != nil {
		t.Fatal(err)
	}

	// Rewrite with a different entity set and a newer mtime.
	ent := "name,label,description\nRedis,Technology,cache\n"
	path := filepath.Join(dir, "entities.csv")
	if err := os.WriteFile(path, []byte(ent), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	hits, err := c.Search(context.Background(), nil, "redis", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Name != "Redis" {
		t.Fatalf("hits after reload = %+v", hits)
	}
}

func TestArtifactCacheCountsHitsAndMisses(t *testing.T) {
	dir := t.TempDir()
	writeArtifacts(t, dir)

	c := NewArtifactCache(dir)
	c.Metrics = metrics.New()

	for i := 0; i < 3; i++ {
		if _, err := c.Search(context.Background(), nil, "kubernetes", 10); err != nil {
			t.Fatal(err)
		}
	}

	snap := c.Metrics.Snapshot()
	if snap[metrics.ArtifactCacheMiss] != 1 {
		t.Fatalf("misses = %v, want 1 (initial load)", snap[metrics.ArtifactCacheMiss])
	}
	if snap[metrics.ArtifactCacheHit] != 2 {
		t.Fatalf("hits = %v, want 2", snap[metrics.ArtifactCacheHit])
	}
}

func TestArtifactCacheMissingFiles(t *testing.T) {
	c := NewArtifactCache(t.TempDir())
	hits, err := c.Search(context.Background(), nil, "anything", 10)
	if err != nil {
		t.Fatal(err)
	}
	if hits != nil {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestQueryPrefersArtifacts(t *testing.T) {
	b := seedQueryGraph(t)
	dir := t.TempDir()
	writeArtifacts(t, dir)

	a := NewAdapter(b, retrieval.New(b, nil, nil), nil, NewArtifactCache(dir))
	resp, err := a.Query(context.Background(), "kubernetes", ModeGlobal, 5, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Results) == 0 || resp.Results[0].Source != "artifacts" {
		t.Fatalf("results = %+v", resp.Results)
	}
	// The artifact hit resolves to the stored node.
	if resp.Results[0].ID != "e1" {
		t.Fatalf("top = %+v", resp.Results[0])
	}
}

func TestAnswerSynthesizesFromChunks(t *testing.T) {
	b := seedQueryGraph(t)
	chat := &fakeChat{reply: "The cluster runs batch workloads."}
	a := NewAnswerer(retrieval.New(b, nil, nil), chat)

	// No entity name matches, so retrieval lands on BM25 chunks.
	res, err := a.Answer(context.Background(), "what workloads run on the cluster", 5, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "The cluster runs batch workloads." {
		t.Fatalf("answer = %q", res.Answer)
	}
	if len(res.ContributingIDs) != 1 || res.ContributingIDs[0] != "doc::chunk::0" {
		t.Fatalf("contributing = %v", res.ContributingIDs)
	}
	if !strings.Contains(chat.last.Messages[0].Content, "batch workloads") {
		t.Fatalf("prompt missing context: %q", chat.last.Messages[0].Content)
	}
	if res.RetrievalMeta == nil || res.RetrievalMeta.Strategy != retrieval.StrategyBM25 {
		t.Fatalf("meta = %+v", res.RetrievalMeta)
	}
}

func TestAnswerWithoutChatModel(t *testing.T) {
	b := seedQueryGraph(t)
	a := NewAnswerer(retrieval.New(b, nil, nil), nil)

	res, err := a.Answer(context.Background(), "what workloads run on the cluster", 5, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "" {
		t.Fatalf("answer = %q", res.Answer)
	}
	if len(res.ContextNodes) == 0 {
		t.Fatal("expected retrieval context")
	}
}

func TestAnswerNoContext(t *testing.T) {
	b := store.NewMemory()
	chat := &fakeChat{reply: "should not be called"}
	a := NewAnswerer(retrieval.New(b, nil, nil), chat)

	res, err := a.Answer(context.Background(), "anything", 5, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if res.Answer != "" {
		t.Fatalf("answer = %q", res.Answer)
	}
	if chat.last.Messages != nil {
		t.Fatal("chat called without context")
	}
}
