package store

import (
	"context"
	"maps"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is the graph-native backend: an in-process property graph with
// adjacency kept in memory. It implements the optional PathFinder and
// VectorSearcher capabilities natively. Used for the graph-native store
// mode and as a test fixture.
type Memory struct {
	mu          sync.RWMutex
	nodes       map[string]Node
	edges       map[string]Edge
	memberships []Membership
	summaries   map[string]ClusterSummary // cluster_id|namespace|algorithm
	snapshots   []Snapshot
	ingestLog   map[string]IngestLogEntry // doc_id
}

var (
	_ Backend        = (*Memory)(nil)
	_ PathFinder     = (*Memory)(nil)
	_ VectorSearcher = (*Memory)(nil)
)

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{
		nodes:     map[string]Node{},
		edges:     map[string]Edge{},
		summaries: map[string]ClusterSummary{},
		ingestLog: map[string]IngestLogEntry{},
	}
}

// Update runs fn against a cloned state and swaps it in on success, so a
// failed transaction leaves the store untouched.
func (m *Memory) Update(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{
		nodes:       maps.Clone(m.nodes),
		edges:       maps.Clone(m.edges),
		memberships: append([]Membership(nil), m.memberships...),
		summaries:   maps.Clone(m.summaries),
		snapshots:   append([]Snapshot(nil), m.snapshots...),
		ingestLog:   maps.Clone(m.ingestLog),
	}
	if err := fn(tx); err != nil {
		return err
	}
	m.nodes = tx.nodes
	m.edges = tx.edges
	m.memberships = tx.memberships
	m.summaries = tx.summaries
	m.snapshots = tx.snapshots
	m.ingestLog = tx.ingestLog
	return nil
}

// GetNode retrieves a node by id, or nil when absent.
func (m *Memory) GetNode(ctx context.Context, id string) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n, ok := m.nodes[id]; ok {
		c := cloneNode(n)
		return &c, nil
	}
	return nil, nil
}

// ScanNodes returns nodes matching the filter, ordered by id.
func (m *Memory) ScanNodes(ctx context.Context, f NodeFilter) ([]Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idSet := map[string]bool{}
	for _, id := range f.IDs {
		idSet[id] = true
	}
	labelSet := map[string]bool{}
	for _, l := range f.Labels {
		labelSet[l] = true
	}
	needle := strings.ToLower(f.NameContains)

	ids := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Node
	skipped := 0
	for _, id := range ids {
		n := m.nodes[id]
		if f.Namespace != "" && n.Namespace != f.Namespace {
			continue
		}
		if len(labelSet) > 0 && !labelSet[n.Label] {
			continue
		}
		if len(idSet) > 0 && !idSet[n.ID] {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(n.Name), needle) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, cloneNode(n))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// ScanEdges returns edges matching the filter, ordered by id.
func (m *Memory) ScanEdges(ctx context.Context, f EdgeFilter) ([]Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	relSet := map[string]bool{}
	for _, r := range f.Relations {
		relSet[r] = true
	}
	touchSet := map[string]bool{}
	for _, id := range f.TouchingIDs {
		touchSet[id] = true
	}

	ids := make([]string, 0, len(m.edges))
	for id := range m.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Edge
	skipped := 0
	for _, id := range ids {
		e := m.edges[id]
		if f.Namespace != "" && e.Namespace != f.Namespace {
			continue
		}
		if len(relSet) > 0 && !relSet[e.Relation] {
			continue
		}
		if len(touchSet) > 0 && !touchSet[e.SourceID] && !touchSet[e.TargetID] {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, cloneEdge(e))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// CountNodes returns the node count for a namespace.
func (m *Memory) CountNodes(ctx context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, node := range m.nodes {
		if node.Namespace == namespace {
			n++
		}
	}
	return n, nil
}

// CountEdges returns the edge count for a namespace.
func (m *Memory) CountEdges(ctx context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.edges {
		if e.Namespace == namespace {
			n++
		}
	}
	return n, nil
}

// BulkReset wipes all graph state.
func (m *Memory) BulkReset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = map[string]Node{}
	m.edges = map[string]Edge{}
	m.memberships = nil
	m.summaries = map[string]ClusterSummary{}
	m.snapshots = nil
	m.ingestLog = map[string]IngestLogEntry{}
	return nil
}

// IngestLogEntry returns the ingest log row for a document, or nil.
func (m *Memory) IngestLogEntry(ctx context.Context, docID, namespace string) (*IngestLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.ingestLog[docID]; ok && e.Namespace == namespace {
		c := e
		return &c, nil
	}
	return nil, nil
}

// ListIngestLog returns all ingest log rows for a namespace.
func (m *Memory) ListIngestLog(ctx context.Context, namespace string) ([]IngestLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []IngestLogEntry
	for _, e := range m.ingestLog {
		if e.Namespace == namespace {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

// ListMemberships returns cluster memberships for (namespace, algorithm).
func (m *Memory) ListMemberships(ctx context.Context, namespace, algorithm string) ([]Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Membership
	for _, ms := range m.memberships {
		if ms.Namespace == namespace && ms.Algorithm == algorithm {
			out = append(out, ms)
		}
	}
	return out, nil
}

// GetClusterSummary looks up a cached summary. An empty topTermsHash
// matches any stored hash.
func (m *Memory) GetClusterSummary(ctx context.Context, namespace, clusterID, algorithm, topTermsHash string) (*ClusterSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.summaries[summaryKey(clusterID, namespace, algorithm)]
	if !ok {
		return nil, nil
	}
	if topTermsHash != "" && s.TopTermsHash != topTermsHash {
		return nil, nil
	}
	c := s
	return &c, nil
}

// GetSnapshot retrieves a snapshot by id, or nil when absent.
func (m *Memory) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.snapshots {
		if s.ID == id {
			c := s
			return &c, nil
		}
	}
	return nil, nil
}

// ListSnapshots returns snapshots for a namespace, most recent first.
func (m *Memory) ListSnapshots(ctx context.Context, namespace string, limit int) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	var out []Snapshot
	for _, s := range m.snapshots {
		if s.Namespace == namespace {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (m *Memory) Close() error { return nil }

// NativeShortestPath runs a bounded BFS over the in-memory adjacency.
// Edges are treated as undirected; only same-namespace edges are walked.
func (m *Memory) NativeShortestPath(ctx context.Context, sourceID, targetID string, maxDepth int, namespace string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if sourceID == targetID {
		if _, ok := m.nodes[sourceID]; ok {
			return []string{sourceID}, nil
		}
		return nil, nil
	}

	adj := map[string][]string{}
	for _, e := range m.edges {
		if e.Namespace != namespace {
			continue
		}
		adj[e.SourceID] = append(adj[e.SourceID], e.TargetID)
		adj[e.TargetID] = append(adj[e.TargetID], e.SourceID)
	}

	prev := map[string]string{sourceID: ""}
	frontier := []string{sourceID}
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			neighbors := adj[id]
			sort.Strings(neighbors)
			for _, nb := range neighbors {
				if _, seen := prev[nb]; seen {
					continue
				}
				prev[nb] = id
				if nb == targetID {
					return reconstructPath(prev, sourceID, targetID), nil
				}
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return nil, nil
}

// SearchEmbedding ranks namespace nodes by cosine similarity.
func (m *Memory) SearchEmbedding(ctx context.Context, namespace string, vec []float32, limit int) ([]ScoredID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(vec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	var out []ScoredID
	for id, n := range m.nodes {
		if n.Namespace != namespace || len(n.Embedding) != len(vec) {
			continue
		}
		out = append(out, ScoredID{ID: id, Score: cosine(vec, n.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- write transaction ---

type memTx struct {
	nodes       map[string]Node
	edges       map[string]Edge
	memberships []Membership
	summaries   map[string]ClusterSummary
	snapshots   []Snapshot
	ingestLog   map[string]IngestLogEntry
}

func (t *memTx) UpsertNodes(nodes []Node) error {
	now := time.Now()
	for _, n := range nodes {
		n = cloneNode(n)
		if n.Properties == nil {
			n.Properties = map[string]any{}
		}
		n.Properties["namespace"] = n.Namespace
		if old, ok := t.nodes[n.ID]; ok {
			merged := cloneNode(old)
			for k, v := range n.Properties {
				merged.Properties[k] = v
			}
			merged.SourceIDs = unionStrings(old.SourceIDs, n.SourceIDs)
			if len(merged.Embedding) == 0 && len(n.Embedding) > 0 {
				merged.Embedding = n.Embedding
			}
			merged.Label = n.Label
			merged.Name = n.Name
			merged.Namespace = n.Namespace
			merged.UpdatedAt = now
			t.nodes[n.ID] = merged
		} else {
			n.CreatedAt = now
			n.UpdatedAt = now
			t.nodes[n.ID] = n
		}
	}
	return nil
}

func (t *memTx) UpsertEdges(edges []Edge) error {
	for _, e := range edges {
		e = cloneEdge(e)
		if e.Properties == nil {
			e.Properties = map[string]any{}
		}
		e.Properties["namespace"] = e.Namespace
		t.edges[e.ID] = e
	}
	return nil
}

func (t *memTx) DeleteDocScoped(docID string) error {
	chunkPrefix := docID + "::chunk::"
	sectionPrefix := docID + "::section::"
	doomed := map[string]bool{}
	for id := range t.nodes {
		if strings.HasPrefix(id, chunkPrefix) || strings.HasPrefix(id, sectionPrefix) {
			doomed[id] = true
		}
	}
	for id := range doomed {
		delete(t.nodes, id)
	}
	for id, e := range t.edges {
		if doomed[e.SourceID] || doomed[e.TargetID] {
			delete(t.edges, id)
		}
	}
	return nil
}

func (t *memTx) FindEntity(name, namespace string) (*Node, error) {
	lower := strings.ToLower(name)
	var bestID string
	for id, n := range t.nodes {
		if n.Namespace != namespace || n.Label == LabelChunk || n.Label == LabelSection {
			continue
		}
		if strings.ToLower(n.Name) == lower && (bestID == "" || id < bestID) {
			bestID = id
		}
	}
	if bestID == "" {
		return nil, nil
	}
	c := cloneNode(t.nodes[bestID])
	return &c, nil
}

func (t *memTx) PutIngestLog(e IngestLogEntry) error {
	t.ingestLog[e.DocID] = e
	return nil
}

func (t *memTx) MarkIndexed(docID, namespace string, at time.Time) error {
	e, ok := t.ingestLog[docID]
	if !ok || e.Namespace != namespace {
		return nil
	}
	e.Status = StatusIndexed
	e.LastIndexedAt = &at
	t.ingestLog[docID] = e
	return nil
}

func (t *memTx) ReplaceMemberships(namespace, algorithm string, ms []Membership) error {
	var kept []Membership
	for _, m := range t.memberships {
		if m.Namespace != namespace || m.Algorithm != algorithm {
			kept = append(kept, m)
		}
	}
	t.memberships = kept
	return t.AddMemberships(ms)
}

func (t *memTx) AddMemberships(ms []Membership) error {
	seen := map[string]bool{}
	for _, m := range t.memberships {
		seen[m.NodeID+"|"+m.ClusterID+"|"+m.Namespace+"|"+m.Algorithm] = true
	}
	for _, m := range ms {
		key := m.NodeID + "|" + m.ClusterID + "|" + m.Namespace + "|" + m.Algorithm
		if seen[key] {
			continue
		}
		seen[key] = true
		t.memberships = append(t.memberships, m)
	}
	return nil
}

func (t *memTx) PutClusterSummary(s ClusterSummary) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	t.summaries[summaryKey(s.ClusterID, s.Namespace, s.Algorithm)] = s
	return nil
}

func (t *memTx) AddSnapshot(s Snapshot) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	t.snapshots = append(t.snapshots, s)
	return nil
}

// --- helpers ---

func summaryKey(clusterID, namespace, algorithm string) string {
	return clusterID + "|" + namespace + "|" + algorithm
}

func cloneNode(n Node) Node {
	c := n
	c.Properties = maps.Clone(n.Properties)
	if c.Properties == nil {
		c.Properties = map[string]any{}
	}
	c.SourceIDs = append([]string(nil), n.SourceIDs...)
	c.Embedding = append([]float32(nil), n.Embedding...)
	return c
}

func cloneEdge(e Edge) Edge {
	c := e
	c.Properties = maps.Clone(e.Properties)
	return c
}

func reconstructPath(prev map[string]string, source, target string) []string {
	var path []string
	for at := target; at != ""; at = prev[at] {
		path = append(path, at)
		if at == source {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
