package graph

import (
	"context"
	"fmt"
	"reflect"
	"testing"

	"graphrag/store"
)

const testNS = "test"

func seedGraph(t *testing.T, nodes []string, edges [][2]string) store.Backend {
	t.Helper()
	b := store.NewMemory()
	err := b.Update(context.Background(), func(tx store.Tx) error {
		ns := make([]store.Node, 0, len(nodes))
		for _, id := range nodes {
			ns = append(ns, store.Node{ID: id, Label: store.LabelEntity, Name: id, Namespace: testNS})
		}
		if err := tx.UpsertNodes(ns); err != nil {
			return err
		}
		es := make([]store.Edge, 0, len(edges))
		for _, e := range edges {
			es = append(es, store.Edge{
				ID:         fmt.Sprintf("%s->%s", e[0], e[1]),
				SourceID:   e[0],
				TargetID:   e[1],
				Relation:   store.RelRelatedTo,
				Confidence: 1.0,
				Namespace:  testNS,
			})
		}
		return tx.UpsertEdges(es)
	})
	if err != nil {
		t.Fatalf("seeding graph: %v", err)
	}
	return b
}

// scanOnly hides optional capabilities so ShortestPath exercises the
// BFS fallback.
type scanOnly struct{ store.Backend }

func TestLoadBuildsSortedAdjacency(t *testing.T) {
	b := seedGraph(t, []string{"c", "a", "b"}, [][2]string{{"c", "a"}, {"a", "b"}})
	g, err := Load(context.Background(), b, testNS, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(g.IDs, []string{"a", "b", "c"}) {
		t.Fatalf("ids = %v", g.IDs)
	}
	if g.Order() != 3 || g.Degree(g.Index["a"]) != 2 {
		t.Fatalf("order=%d degree(a)=%d", g.Order(), g.Degree(g.Index["a"]))
	}
	if g.TotalWeight != 2.0 {
		t.Fatalf("total weight = %v", g.TotalWeight)
	}
}

func TestLoadLabelFilterDropsDanglingEdges(t *testing.T) {
	b := store.NewMemory()
	err := b.Update(context.Background(), func(tx store.Tx) error {
		if err := tx.UpsertNodes([]store.Node{
			{ID: "e1", Label: store.LabelEntity, Name: "e1", Namespace: testNS},
			{ID: "doc::chunk::0", Label: store.LabelChunk, Name: "chunk", Namespace: testNS},
		}); err != nil {
			return err
		}
		return tx.UpsertEdges([]store.Edge{{
			ID: "m", SourceID: "e1", TargetID: "doc::chunk::0",
			Relation: store.RelMentionedIn, Confidence: 0.6, Namespace: testNS,
		}})
	})
	if err != nil {
		t.Fatal(err)
	}
	g, err := Load(context.Background(), b, testNS, []string{store.LabelEntity}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if g.Order() != 1 || g.TotalWeight != 0 {
		t.Fatalf("order=%d weight=%v, want isolated entity", g.Order(), g.TotalWeight)
	}
}

func TestShortestPathChain(t *testing.T) {
	b := seedGraph(t, []string{"A", "B", "C", "D"},
		[][2]string{{"A", "B"}, {"B", "C"}, {"C", "D"}})

	for name, backend := range map[string]store.Backend{
		"native":   b,
		"fallback": scanOnly{b},
	} {
		t.Run(name, func(t *testing.T) {
			path, err := ShortestPath(context.Background(), backend, "A", "D", 4, testNS)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(path, []string{"A", "B", "C", "D"}) {
				t.Fatalf("path = %v", path)
			}

			// Depth bound cuts the path off.
			path, err = ShortestPath(context.Background(), backend, "A", "D", 2, testNS)
			if err != nil {
				t.Fatal(err)
			}
			if path != nil {
				t.Fatalf("expected no path at depth 2, got %v", path)
			}
		})
	}
}

func TestShortestPathSelf(t *testing.T) {
	b := seedGraph(t, []string{"A"}, nil)
	path, err := ShortestPath(context.Background(), scanOnly{b}, "A", "A", 4, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(path, []string{"A"}) {
		t.Fatalf("path = %v", path)
	}
}

func TestShortestPathDefaultDepth(t *testing.T) {
	// Five hops exceed the default depth of four.
	b := seedGraph(t, []string{"n0", "n1", "n2", "n3", "n4", "n5"},
		[][2]string{{"n0", "n1"}, {"n1", "n2"}, {"n2", "n3"}, {"n3", "n4"}, {"n4", "n5"}})
	path, err := ShortestPath(context.Background(), scanOnly{b}, "n0", "n5", 0, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if path != nil {
		t.Fatalf("expected nil path, got %v", path)
	}
	path, err = ShortestPath(context.Background(), scanOnly{b}, "n0", "n4", 0, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if len(path) != 5 {
		t.Fatalf("path = %v", path)
	}
}

func TestShortestPathMissingEndpoints(t *testing.T) {
	b := seedGraph(t, []string{"A"}, nil)
	if _, err := ShortestPath(context.Background(), b, "", "A", 4, testNS); err == nil {
		t.Fatal("expected error for empty source")
	}
	path, err := ShortestPath(context.Background(), scanOnly{b}, "A", "ghost", 4, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if path != nil {
		t.Fatalf("expected nil path to unknown node, got %v", path)
	}
}

// twoCliques builds two 5-cliques joined by a single bridge edge.
func twoCliques(t *testing.T) *Graph {
	t.Helper()
	var nodes []string
	var edges [][2]string
	for c := 0; c < 2; c++ {
		var members []string
		for i := 0; i < 5; i++ {
			members = append(members, fmt.Sprintf("c%d-n%d", c, i))
		}
		nodes = append(nodes, members...)
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				edges = append(edges, [2]string{members[i], members[j]})
			}
		}
	}
	edges = append(edges, [2]string{"c0-n0", "c1-n0"})

	b := seedGraph(t, nodes, edges)
	g, err := Load(context.Background(), b, testNS, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestLouvainTwoCliques(t *testing.T) {
	g := twoCliques(t)
	labels, q := Louvain(g)

	if got := communityCount(labels); got != 2 {
		t.Fatalf("communities = %d, want 2", got)
	}
	if q <= 0.2 {
		t.Fatalf("modularity = %v, want > 0.2", q)
	}

	// All members of one clique share a label.
	for c := 0; c < 2; c++ {
		want := labels[g.Index[fmt.Sprintf("c%d-n0", c)]]
		for i := 1; i < 5; i++ {
			if got := labels[g.Index[fmt.Sprintf("c%d-n%d", c, i)]]; got != want {
				t.Fatalf("clique %d split: node %d has label %d, want %d", c, i, got, want)
			}
		}
	}
}

func TestLouvainDeterministic(t *testing.T) {
	g := twoCliques(t)
	l1, q1 := Louvain(g)
	l2, q2 := Louvain(g)
	if !reflect.DeepEqual(l1, l2) || q1 != q2 {
		t.Fatalf("non-deterministic: %v/%v vs %v/%v", l1, q1, l2, q2)
	}
}

func TestLouvainEmptyAndEdgeless(t *testing.T) {
	labels, q := Louvain(&Graph{})
	if labels != nil || q != 0 {
		t.Fatalf("empty graph: %v %v", labels, q)
	}

	b := seedGraph(t, []string{"x", "y"}, nil)
	g, err := Load(context.Background(), b, testNS, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	labels, q = Louvain(g)
	if communityCount(labels) != 2 || q != 0 {
		t.Fatalf("edgeless graph: labels=%v q=%v", labels, q)
	}
}

func TestModularityPartitioned(t *testing.T) {
	g := twoCliques(t)
	good := make([]int, g.Order())
	for i, id := range g.IDs {
		if id[1] == '1' {
			good[i] = 1
		}
	}
	flat := make([]int, g.Order())

	if q := Modularity(g, good); q <= 0.2 {
		t.Fatalf("clique partition modularity = %v", q)
	}
	if q := Modularity(g, flat); q >= 0.01 {
		t.Fatalf("single-community modularity = %v, want ~0", q)
	}
}

func TestCentralityStar(t *testing.T) {
	nodes := []string{"hub"}
	var edges [][2]string
	for i := 0; i < 6; i++ {
		leaf := fmt.Sprintf("leaf%d", i)
		nodes = append(nodes, leaf)
		edges = append(edges, [2]string{"hub", leaf})
	}
	b := seedGraph(t, nodes, edges)
	g, err := Load(context.Background(), b, testNS, nil, 0)
	if err != nil {
		t.Fatal(err)
	}

	c := ComputeCentrality(g)
	if c.PageRankNorm["hub"] != 1.0 {
		t.Fatalf("hub pagerank norm = %v, want 1 after normalisation", c.PageRankNorm["hub"])
	}
	if c.BetweennessNorm["hub"] != 1.0 {
		t.Fatalf("hub betweenness norm = %v", c.BetweennessNorm["hub"])
	}
	if c.Importance["hub"] != 1.0 {
		t.Fatalf("hub importance = %v", c.Importance["hub"])
	}
	// Raw scores: the hub sits on every leaf pair's shortest path.
	if want := 15.0; c.Betweenness["hub"] != want {
		t.Fatalf("hub raw betweenness = %v, want %v", c.Betweenness["hub"], want)
	}
	for i := 0; i < 6; i++ {
		leaf := fmt.Sprintf("leaf%d", i)
		if c.Importance[leaf] >= c.Importance["hub"] {
			t.Fatalf("leaf %s importance %v not below hub", leaf, c.Importance[leaf])
		}
		if c.Betweenness[leaf] != 0 || c.BetweennessNorm[leaf] != 0 {
			t.Fatalf("leaf betweenness = %v / %v", c.Betweenness[leaf], c.BetweennessNorm[leaf])
		}
		if c.PageRank[leaf] >= c.PageRank["hub"] {
			t.Fatalf("leaf raw pagerank %v not below hub %v", c.PageRank[leaf], c.PageRank["hub"])
		}
	}
}

func TestCentralityPathMiddle(t *testing.T) {
	b := seedGraph(t, []string{"p1", "p2", "p3"}, [][2]string{{"p1", "p2"}, {"p2", "p3"}})
	g, err := Load(context.Background(), b, testNS, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	c := ComputeCentrality(g)
	if c.Betweenness["p2"] != 1.0 || c.BetweennessNorm["p2"] != 1.0 {
		t.Fatalf("middle betweenness = %v / %v", c.Betweenness["p2"], c.BetweennessNorm["p2"])
	}
	if c.Betweenness["p1"] != 0 || c.Betweenness["p3"] != 0 {
		t.Fatalf("endpoint betweenness = %v / %v", c.Betweenness["p1"], c.Betweenness["p3"])
	}
}
