package layout

import (
	"context"
	"math"
	"reflect"
	"testing"

	"graphrag/store"
)

const testNS = "test"

func node(id, label string) store.Node {
	return store.Node{ID: id, Label: label, Name: id, Namespace: testNS}
}

func edge(src, tgt string) store.Edge {
	return store.Edge{
		ID: src + "->" + tgt, SourceID: src, TargetID: tgt,
		Relation: store.RelRelatedTo, Confidence: 0.8, Namespace: testNS,
	}
}

func TestHybridPinsSectionsOnRing(t *testing.T) {
	nodes := []store.Node{
		node("doc::section::a", store.LabelSection),
		node("doc::section::b", store.LabelSection),
		node("doc::section::c", store.LabelSection),
		node("e1", store.LabelEntity),
	}
	edges := []store.Edge{edge("e1", "doc::section::a")}

	pos := Hybrid(nodes, edges)
	if len(pos) != 4 {
		t.Fatalf("positions = %d", len(pos))
	}

	radius := 1 + 0.2*math.Log(4)
	for _, id := range []string{"doc::section::a", "doc::section::b", "doc::section::c"} {
		p := pos[id]
		if r := math.Hypot(p.X, p.Y); math.Abs(r-radius) > 1e-9 {
			t.Fatalf("section %s at radius %v, want %v", id, r, radius)
		}
	}
}

func TestHybridDeterministic(t *testing.T) {
	nodes := []store.Node{
		node("doc::section::a", store.LabelSection),
		node("e1", store.LabelEntity),
		node("e2", store.LabelEntity),
	}
	edges := []store.Edge{edge("e1", "e2"), edge("e1", "doc::section::a")}

	p1 := Hybrid(nodes, edges)
	p2 := Hybrid(nodes, edges)
	if !reflect.DeepEqual(p1, p2) {
		t.Fatalf("layout not deterministic: %v vs %v", p1, p2)
	}
}

func TestHybridEmpty(t *testing.T) {
	if got := Hybrid(nil, nil); len(got) != 0 {
		t.Fatalf("got %v", got)
	}
}

func TestClusteredSeparatesClusters(t *testing.T) {
	nodes := []store.Node{
		node("a1", store.LabelEntity), node("a2", store.LabelEntity),
		node("b1", store.LabelEntity), node("b2", store.LabelEntity),
	}
	edges := []store.Edge{edge("a1", "a2"), edge("b1", "b2")}
	ms := []store.Membership{
		{NodeID: "a1", ClusterID: "c1", Namespace: testNS, Algorithm: "louvain"},
		{NodeID: "a2", ClusterID: "c1", Namespace: testNS, Algorithm: "louvain"},
		{NodeID: "b1", ClusterID: "c2", Namespace: testNS, Algorithm: "louvain"},
		{NodeID: "b2", ClusterID: "c2", Namespace: testNS, Algorithm: "louvain"},
	}

	pos := Clustered(nodes, edges, ms)
	if len(pos) != 4 {
		t.Fatalf("positions = %d", len(pos))
	}

	// Members of the same cluster sit closer together than members of
	// different clusters.
	intra := dist(pos["a1"], pos["a2"])
	inter := dist(pos["a1"], pos["b1"])
	if intra >= inter {
		t.Fatalf("intra %v >= inter %v", intra, inter)
	}
}

func TestClusteredFallsBackToHybrid(t *testing.T) {
	nodes := []store.Node{node("doc::section::a", store.LabelSection), node("e1", store.LabelEntity)}
	edges := []store.Edge{edge("e1", "doc::section::a")}

	got := Clustered(nodes, edges, nil)
	want := Hybrid(nodes, edges)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fallback mismatch: %v vs %v", got, want)
	}
}

func TestClusteredLoosePlacedNearOrigin(t *testing.T) {
	nodes := []store.Node{node("a1", store.LabelEntity), node("stray", store.LabelEntity)}
	ms := []store.Membership{{NodeID: "a1", ClusterID: "c1", Namespace: testNS, Algorithm: "louvain"}}

	pos := Clustered(nodes, nil, ms)
	if p := pos["stray"]; math.Hypot(p.X, p.Y) > 1 {
		t.Fatalf("stray node at %v, want near origin", p)
	}
}

func TestJitterStableAndBounded(t *testing.T) {
	x1, y1 := jitter("some-node")
	x2, y2 := jitter("some-node")
	if x1 != x2 || y1 != y2 {
		t.Fatal("jitter not stable")
	}
	if x1 < -0.5 || x1 >= 0.5 || y1 < -0.5 || y1 >= 0.5 {
		t.Fatalf("jitter out of range: %v %v", x1, y1)
	}
}

func TestApplyWritesProperties(t *testing.T) {
	b := store.NewMemory()
	ctx := context.Background()
	err := b.Update(ctx, func(tx store.Tx) error {
		if err := tx.UpsertNodes([]store.Node{
			node("doc::section::a", store.LabelSection),
			node("e1", store.LabelEntity),
			node("e2", store.LabelEntity),
		}); err != nil {
			return err
		}
		return tx.UpsertEdges([]store.Edge{edge("e1", "doc::section::a"), edge("e1", "e2")})
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := Apply(ctx, b, testNS, SchemeHybrid)
	if err != nil {
		t.Fatal(err)
	}
	if updated != 3 {
		t.Fatalf("updated = %d", updated)
	}

	n, err := b.GetNode(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"x", "y", "layout", "degree", "degree_norm"} {
		if _, ok := n.Properties[key]; !ok {
			t.Fatalf("property %q missing: %v", key, n.Properties)
		}
	}
	if n.Properties["degree_norm"] != 1.0 {
		t.Fatalf("degree_norm = %v, want 1 for the highest-degree node", n.Properties["degree_norm"])
	}
	nested, ok := n.Properties["layout"].(map[string]any)
	if !ok {
		t.Fatalf("layout property = %T", n.Properties["layout"])
	}
	if nested["x"] != n.Properties["x"] || nested["y"] != n.Properties["y"] {
		t.Fatalf("layout %v disagrees with x/y %v/%v", nested, n.Properties["x"], n.Properties["y"])
	}
}

func TestApplyUnknownScheme(t *testing.T) {
	b := store.NewMemory()
	ctx := context.Background()
	err := b.Update(ctx, func(tx store.Tx) error {
		return tx.UpsertNodes([]store.Node{node("e1", store.LabelEntity)})
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Apply(ctx, b, testNS, "orbital"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}

func TestApplyCentralityWritesProperties(t *testing.T) {
	b := store.NewMemory()
	ctx := context.Background()
	err := b.Update(ctx, func(tx store.Tx) error {
		if err := tx.UpsertNodes([]store.Node{
			node("hub", store.LabelEntity),
			node("l1", store.LabelEntity),
			node("l2", store.LabelEntity),
			node("l3", store.LabelEntity),
		}); err != nil {
			return err
		}
		return tx.UpsertEdges([]store.Edge{edge("hub", "l1"), edge("hub", "l2"), edge("hub", "l3")})
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := ApplyCentrality(ctx, b, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if updated != 4 {
		t.Fatalf("updated = %d", updated)
	}

	hub, err := b.GetNode(ctx, "hub")
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"pagerank", "pagerank_norm", "betweenness", "betweenness_norm", "importance"} {
		if _, ok := hub.Properties[key]; !ok {
			t.Fatalf("property %q missing: %v", key, hub.Properties)
		}
	}
	if hub.Properties["pagerank_norm"] != 1.0 || hub.Properties["importance"] != 1.0 {
		t.Fatalf("hub centrality = %v", hub.Properties)
	}
	leaf, err := b.GetNode(ctx, "l1")
	if err != nil {
		t.Fatal(err)
	}
	if leaf.Properties["betweenness"] != 0.0 || leaf.Properties["betweenness_norm"] != 0.0 {
		t.Fatalf("leaf betweenness = %v / %v", leaf.Properties["betweenness"], leaf.Properties["betweenness_norm"])
	}
	if leaf.Properties["pagerank"].(float64) >= hub.Properties["pagerank"].(float64) {
		t.Fatalf("leaf raw pagerank %v not below hub %v", leaf.Properties["pagerank"], hub.Properties["pagerank"])
	}
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
