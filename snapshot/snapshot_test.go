package snapshot

import (
	"context"
	"errors"
	"testing"

	"graphrag/store"
)

const testNS = "test"

func addNode(t *testing.T, b store.Backend, id string) {
	t.Helper()
	if err := b.Update(context.Background(), func(tx store.Tx) error {
		return tx.UpsertNodes([]store.Node{{
			ID: id, Label: store.LabelEntity, Name: id, Namespace: testNS,
		}})
	}); err != nil {
		t.Fatal(err)
	}
}

func setMemberships(t *testing.T, b store.Backend, sizes map[string]int) {
	t.Helper()
	var ms []store.Membership
	for cid, size := range sizes {
		for i := 0; i < size; i++ {
			ms = append(ms, store.Membership{
				NodeID:    cid + "-member-" + string(rune('a'+i)),
				ClusterID: cid, Namespace: testNS, Algorithm: "louvain",
			})
		}
	}
	if err := b.Update(context.Background(), func(tx store.Tx) error {
		return tx.ReplaceMemberships(testNS, "louvain", ms)
	}); err != nil {
		t.Fatal(err)
	}
}

func TestCreateAndList(t *testing.T) {
	b := store.NewMemory()
	addNode(t, b, "e1")
	addNode(t, b, "e2")
	setMemberships(t, b, map[string]int{"c1": 2})

	mod := 0.42
	s := NewService(b, func(string) *float64 { return &mod })
	ctx := context.Background()

	snap, err := s.Create(ctx, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if snap.NodeCount != 2 || snap.EdgeCount != 0 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Modularity == nil || *snap.Modularity != 0.42 {
		t.Fatalf("modularity = %v", snap.Modularity)
	}
	if got := clusterSizes(snap); got["c1"] != 2 {
		t.Fatalf("histogram = %v", got)
	}

	list, err := s.List(ctx, testNS, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != snap.ID {
		t.Fatalf("list = %+v", list)
	}
}

func TestDiffSnapshots(t *testing.T) {
	b := store.NewMemory()
	s := NewService(b, nil)
	ctx := context.Background()

	addNode(t, b, "e1")
	setMemberships(t, b, map[string]int{"c1": 1, "c2": 1})
	first, err := s.Create(ctx, testNS)
	if err != nil {
		t.Fatal(err)
	}

	addNode(t, b, "e2")
	setMemberships(t, b, map[string]int{"c1": 2, "c3": 1})
	second, err := s.Create(ctx, testNS)
	if err != nil {
		t.Fatal(err)
	}

	d, err := s.DiffSnapshots(ctx, first.ID, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.DeltaNodes != 1 || d.DeltaEdges != 0 {
		t.Fatalf("diff = %+v", d)
	}
	if d.Clusters.Added["c3"] != 1 {
		t.Fatalf("added = %v", d.Clusters.Added)
	}
	if d.Clusters.Removed["c2"] != 1 {
		t.Fatalf("removed = %v", d.Clusters.Removed)
	}
	if d.Clusters.SizeDelta["c1"] != 1 {
		t.Fatalf("size delta = %v", d.Clusters.SizeDelta)
	}
	if d.DeltaModularity != nil {
		t.Fatalf("modularity delta = %v", d.DeltaModularity)
	}
}

func TestDiffMissingSnapshot(t *testing.T) {
	b := store.NewMemory()
	s := NewService(b, nil)
	ctx := context.Background()

	snap, err := s.Create(ctx, testNS)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.DiffSnapshots(ctx, snap.ID, "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.DiffSnapshots(ctx, "ghost", snap.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestListMostRecentFirst(t *testing.T) {
	b := store.NewMemory()
	s := NewService(b, nil)
	ctx := context.Background()

	first, err := s.Create(ctx, testNS)
	if err != nil {
		t.Fatal(err)
	}
	addNode(t, b, "e1")
	second, err := s.Create(ctx, testNS)
	if err != nil {
		t.Fatal(err)
	}

	list, err := s.List(ctx, testNS, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("order = %s, %s", list[0].ID, list[1].ID)
	}
}
