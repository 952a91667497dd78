// Package cluster maintains community structure over the graph: a
// TTL-cached Louvain clustering per namespace, growth-triggered
// background recomputes, and rate-limited LLM cluster summaries.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"graphrag/graph"
	"graphrag/store"
)

// Algorithm is the membership algorithm tag written by this service.
const Algorithm = "louvain"

const (
	// cacheTTL is how long a computed clustering stays fresh.
	cacheTTL = 10 * time.Minute

	// Growth thresholds for background recompute.
	minGrowthAbsolute = 50
	minGrowthRatio    = 0.10

	// maxSampleNodes is how many member names a cluster carries, drawn
	// from its first sampleWindow members.
	maxSampleNodes = 8
	sampleWindow   = 12
)

// Info describes one cluster.
type Info struct {
	ID          string       `json:"id"`
	Size        int          `json:"size"`
	NodeIDs     []string     `json:"node_ids"`
	SampleNodes []string     `json:"sample_nodes"`
	Centroid    layoutCenter `json:"centroid"`
}

type layoutCenter struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Result is a clustering of one namespace.
type Result struct {
	Clusters   []Info   `json:"clusters"`
	Nodes      int      `json:"nodes"`
	Modularity *float64 `json:"modularity,omitempty"`
	ComputedAt time.Time `json:"computed_at"`
}

type cacheEntry struct {
	result    *Result
	nodeCount int
}

// Service computes and caches clusterings.
type Service struct {
	store store.Backend

	mu       sync.Mutex
	cache    map[string]cacheEntry
	inflight map[string]bool
}

// NewService creates a cluster service over the backend.
func NewService(b store.Backend) *Service {
	return &Service{
		store:    b,
		cache:    make(map[string]cacheEntry),
		inflight: make(map[string]bool),
	}
}

// GetClusters returns the namespace clustering, recomputing when the
// cache is stale or force is set. Memberships for (namespace, louvain)
// are rewritten on every recompute.
func (s *Service) GetClusters(ctx context.Context, namespace string, force bool) (*Result, error) {
	s.mu.Lock()
	entry, ok := s.cache[namespace]
	s.mu.Unlock()
	if ok && !force && time.Since(entry.result.ComputedAt) < cacheTTL {
		return entry.result, nil
	}
	return s.recompute(ctx, namespace)
}

// LastModularity returns the most recently computed modularity for a
// namespace, or nil when none is cached.
func (s *Service) LastModularity(namespace string) *float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.cache[namespace]; ok {
		return entry.result.Modularity
	}
	return nil
}

// TriggerBackgroundRecompute recomputes asynchronously when the graph
// has grown enough since the cached run. At most one recompute per
// namespace is in flight.
func (s *Service) TriggerBackgroundRecompute(ctx context.Context, namespace string) {
	count, err := s.store.CountNodes(ctx, namespace)
	if err != nil {
		slog.Warn("cluster: node count failed", "namespace", namespace, "error", err)
		return
	}

	s.mu.Lock()
	entry, ok := s.cache[namespace]
	grown := !ok ||
		count-entry.nodeCount >= minGrowthAbsolute ||
		(entry.nodeCount > 0 && float64(count-entry.nodeCount)/float64(entry.nodeCount) >= minGrowthRatio)
	if !grown || s.inflight[namespace] {
		s.mu.Unlock()
		return
	}
	s.inflight[namespace] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.inflight[namespace] = false
			s.mu.Unlock()
		}()
		if _, err := s.recompute(context.Background(), namespace); err != nil {
			slog.Warn("cluster: background recompute failed", "namespace", namespace, "error", err)
		}
	}()
}

// recompute runs Louvain, persists memberships, and refreshes the cache.
func (s *Service) recompute(ctx context.Context, namespace string) (*Result, error) {
	g, err := graph.Load(ctx, s.store, namespace, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("cluster: loading graph: %w", err)
	}

	labels, modularity := graph.Louvain(g)

	members := make(map[int][]string)
	for i, c := range labels {
		members[c] = append(members[c], g.IDs[i])
	}

	// Labels from Louvain are already ordered by size descending.
	order := make([]int, 0, len(members))
	for c := range members {
		order = append(order, c)
	}
	sort.Ints(order)

	var ms []store.Membership
	infos := make([]Info, 0, len(order))
	for _, c := range order {
		cid := fmt.Sprintf("c%d", c+1)
		ids := members[c]
		info := Info{ID: cid, Size: len(ids), NodeIDs: ids}

		window := ids
		if len(window) > sampleWindow {
			window = window[:sampleWindow]
		}
		var cx, cy float64
		counted := 0
		for _, id := range ids {
			n, err := s.store.GetNode(ctx, id)
			if err != nil || n == nil {
				continue
			}
			if x, ok := n.Properties["x"].(float64); ok {
				if y, ok := n.Properties["y"].(float64); ok {
					cx += x
					cy += y
					counted++
				}
			}
		}
		for _, id := range window {
			if len(info.SampleNodes) == maxSampleNodes {
				break
			}
			n, err := s.store.GetNode(ctx, id)
			if err != nil || n == nil {
				continue
			}
			info.SampleNodes = append(info.SampleNodes, n.Name)
		}
		if counted > 0 {
			info.Centroid = layoutCenter{X: cx / float64(counted), Y: cy / float64(counted)}
		}
		infos = append(infos, info)

		for _, id := range ids {
			ms = append(ms, store.Membership{
				NodeID: id, ClusterID: cid, Namespace: namespace, Algorithm: Algorithm,
			})
		}
	}

	if err := s.store.Update(ctx, func(tx store.Tx) error {
		return tx.ReplaceMemberships(namespace, Algorithm, ms)
	}); err != nil {
		return nil, fmt.Errorf("cluster: persisting memberships: %w", err)
	}

	result := &Result{Clusters: infos, Nodes: g.Order(), ComputedAt: time.Now()}
	if g.Order() > 0 {
		result.Modularity = &modularity
	}

	s.mu.Lock()
	s.cache[namespace] = cacheEntry{result: result, nodeCount: g.Order()}
	s.mu.Unlock()

	slog.Info("cluster: recomputed", "namespace", namespace,
		"nodes", g.Order(), "clusters", len(infos), "modularity", modularity)
	return result, nil
}
