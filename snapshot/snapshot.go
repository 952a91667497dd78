// Package snapshot records point-in-time graph statistics per namespace
// and computes diffs between any two records.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"graphrag/store"
)

// DefaultListLimit bounds list operations without an explicit limit.
const DefaultListLimit = 50

// Service creates, lists, and diffs snapshots.
type Service struct {
	store store.Backend

	// modularity returns the last known modularity for a namespace,
	// nil when unknown. Wired to the cluster service.
	modularity func(namespace string) *float64
}

// NewService creates a snapshot service. modularity may be nil.
func NewService(b store.Backend, modularity func(namespace string) *float64) *Service {
	return &Service{store: b, modularity: modularity}
}

// Create persists a snapshot of the namespace's current node and edge
// counts, last known modularity, and cluster size histogram.
func (s *Service) Create(ctx context.Context, namespace string) (*store.Snapshot, error) {
	nodes, err := s.store.CountNodes(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("snapshot: counting nodes: %w", err)
	}
	edges, err := s.store.CountEdges(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("snapshot: counting edges: %w", err)
	}

	ms, err := s.store.ListMemberships(ctx, namespace, "louvain")
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading memberships: %w", err)
	}
	histogram := make(map[string]any, len(ms))
	sizes := make(map[string]int)
	for _, m := range ms {
		sizes[m.ClusterID]++
	}
	for cid, size := range sizes {
		histogram[cid] = size
	}

	snap := store.Snapshot{
		ID:        uuid.NewString(),
		Namespace: namespace,
		NodeCount: nodes,
		EdgeCount: edges,
		Metadata:  map[string]any{"clusters": histogram},
		CreatedAt: time.Now().UTC(),
	}
	if s.modularity != nil {
		snap.Modularity = s.modularity(namespace)
	}

	if err := s.store.Update(ctx, func(tx store.Tx) error {
		return tx.AddSnapshot(snap)
	}); err != nil {
		return nil, fmt.Errorf("snapshot: persisting: %w", err)
	}
	return &snap, nil
}

// List returns the namespace's snapshots, most recent first.
func (s *Service) List(ctx context.Context, namespace string, limit int) ([]store.Snapshot, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.store.ListSnapshots(ctx, namespace, limit)
}

// Diff describes how the graph changed between two snapshots.
type Diff struct {
	DeltaNodes      int          `json:"delta_nodes"`
	DeltaEdges      int          `json:"delta_edges"`
	DeltaModularity *float64     `json:"delta_modularity,omitempty"`
	Clusters        ClusterDiff  `json:"clusters"`
}

// ClusterDiff tracks cluster membership changes between snapshots.
type ClusterDiff struct {
	Added     map[string]int `json:"added"`
	Removed   map[string]int `json:"removed"`
	SizeDelta map[string]int `json:"size_delta"`
}

// DiffSnapshots compares snapshot a (earlier) to b (later). Missing ids
// surface as store.ErrNotFound.
func (s *Service) DiffSnapshots(ctx context.Context, aID, bID string) (*Diff, error) {
	a, err := s.get(ctx, aID)
	if err != nil {
		return nil, err
	}
	b, err := s.get(ctx, bID)
	if err != nil {
		return nil, err
	}

	d := &Diff{
		DeltaNodes: b.NodeCount - a.NodeCount,
		DeltaEdges: b.EdgeCount - a.EdgeCount,
		Clusters: ClusterDiff{
			Added:     map[string]int{},
			Removed:   map[string]int{},
			SizeDelta: map[string]int{},
		},
	}
	if a.Modularity != nil && b.Modularity != nil {
		delta := *b.Modularity - *a.Modularity
		d.DeltaModularity = &delta
	}

	before := clusterSizes(a)
	after := clusterSizes(b)
	for cid, size := range after {
		prev, ok := before[cid]
		if !ok {
			d.Clusters.Added[cid] = size
		} else if size != prev {
			d.Clusters.SizeDelta[cid] = size - prev
		}
	}
	for cid, size := range before {
		if _, ok := after[cid]; !ok {
			d.Clusters.Removed[cid] = size
		}
	}
	return d, nil
}

func (s *Service) get(ctx context.Context, id string) (*store.Snapshot, error) {
	snap, err := s.store.GetSnapshot(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("snapshot: loading %s: %w", id, err)
	}
	if snap == nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, store.ErrNotFound)
	}
	return snap, nil
}

// clusterSizes extracts the cluster histogram stored in snapshot
// metadata, tolerating JSON round-trips that widen ints to float64.
func clusterSizes(snap *store.Snapshot) map[string]int {
	out := make(map[string]int)
	clusters, ok := snap.Metadata["clusters"].(map[string]any)
	if !ok {
		return out
	}
	for cid, v := range clusters {
		switch n := v.(type) {
		case int:
			out[cid] = n
		case float64:
			out[cid] = int(n)
		}
	}
	return out
}
