// Package store provides durable persistence for the knowledge graph:
// nodes, edges, cluster memberships, cluster summaries, snapshots, and
// the per-document ingest log. Two backends implement the same contract:
// SQLite (relational, single-writer) and an in-memory graph-native store
// used for tests and embedded deployments.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Canonical node labels. The label column is an open enum; classifiers
// may refine Entity into one of the more specific labels.
const (
	LabelEntity       = "Entity"
	LabelChunk        = "Chunk"
	LabelSection      = "Section"
	LabelTechnology   = "Technology"
	LabelOrganization = "Organization"
	LabelRole         = "Role"
	LabelAchievement  = "Achievement"
)

// Canonical edge relations.
const (
	RelRelatedTo   = "RELATED_TO"
	RelMentionedIn = "MENTIONED_IN"
	RelContains    = "CONTAINS"
	RelHasEntity   = "HAS_ENTITY"
	RelCoOccurs    = "CO_OCCURS"
	RelRoleAt      = "ROLE_AT"
	RelUsesTech    = "USES_TECH"
	RelLinks       = "LINKS"
)

// Ingest log statuses. Rows move ingested -> stale -> indexed per content
// hash; a new hash returns the row to stale.
const (
	StatusIngested = "ingested"
	StatusStale    = "stale"
	StatusIndexed  = "indexed"
)

// Node is a graph node. Properties always carries "namespace" matching
// the denormalized Namespace field.
type Node struct {
	ID         string         `json:"id"`
	Label      string         `json:"label"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties"`
	SourceIDs  []string       `json:"source_ids"`
	Embedding  []float32      `json:"embedding,omitempty"`
	Namespace  string         `json:"namespace"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at,omitempty"`
}

// Edge is a directed graph edge. Both endpoints must exist in the same
// namespace as the edge.
type Edge struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Relation   string         `json:"relation"`
	Confidence float64        `json:"confidence"`
	Properties map[string]any `json:"properties,omitempty"`
	Namespace  string         `json:"namespace"`
}

// Membership assigns a node to a cluster for a given algorithm.
type Membership struct {
	NodeID    string   `json:"node_id"`
	ClusterID string   `json:"cluster_id"`
	Namespace string   `json:"namespace"`
	Algorithm string   `json:"algorithm"`
	Score     *float64 `json:"score,omitempty"`
}

// ClusterSummary is a generated (or imported) label+summary for a cluster,
// cached by the hash of its top terms.
type ClusterSummary struct {
	ClusterID    string    `json:"cluster_id"`
	Namespace    string    `json:"namespace"`
	Algorithm    string    `json:"algorithm"`
	TopTermsHash string    `json:"top_terms_hash"`
	Label        string    `json:"label"`
	Summary      string    `json:"summary"`
	TokenCount   int       `json:"token_count"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Snapshot is an append-only record of graph state for a namespace.
type Snapshot struct {
	ID         string         `json:"id"`
	Namespace  string         `json:"namespace"`
	NodeCount  int            `json:"node_count"`
	EdgeCount  int            `json:"edge_count"`
	Modularity *float64       `json:"modularity,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// IngestLogEntry tracks a document's content hash and indexing status.
type IngestLogEntry struct {
	DocID         string         `json:"doc_id"`
	Namespace     string         `json:"namespace"`
	ContentHash   string         `json:"content_hash"`
	Status        string         `json:"status"`
	FirstSeenAt   time.Time      `json:"first_seen_at"`
	LastIngestAt  time.Time      `json:"last_ingest_at"`
	LastIndexedAt *time.Time     `json:"last_indexed_at,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
}

// NodeFilter selects nodes for a scan. Zero fields are not applied.
type NodeFilter struct {
	Namespace    string
	Labels       []string
	IDs          []string
	NameContains string // case-insensitive substring on name
	Limit        int
	Offset       int
}

// EdgeFilter selects edges for a scan. TouchingIDs matches edges whose
// source or target is in the set.
type EdgeFilter struct {
	Namespace   string
	Relations   []string
	TouchingIDs []string
	Limit       int
	Offset      int
}

// ScoredID is an id with a similarity score, returned by vector search.
type ScoredID struct {
	ID    string
	Score float64
}

// Tx is the write surface of a backend. All methods run inside a single
// transaction; on error the whole transaction rolls back.
type Tx interface {
	// UpsertNodes inserts or merges nodes by primary id. A merge unions
	// source_ids, shallow-merges properties, and fills embedding only if
	// previously empty.
	UpsertNodes(nodes []Node) error

	// UpsertEdges inserts or replaces edges by primary id.
	UpsertEdges(edges []Edge) error

	// DeleteDocScoped removes all chunk and section nodes belonging to
	// docID and every edge touching them.
	DeleteDocScoped(docID string) error

	// FindEntity resolves a non-chunk, non-section node by lowercased
	// name within a namespace. Returns nil when absent.
	FindEntity(name, namespace string) (*Node, error)

	// PutIngestLog inserts or replaces an ingest log row.
	PutIngestLog(e IngestLogEntry) error

	// MarkIndexed flips a document's ingest log row to indexed.
	MarkIndexed(docID, namespace string, at time.Time) error

	// ReplaceMemberships wipes and rewrites all memberships for
	// (namespace, algorithm).
	ReplaceMemberships(namespace, algorithm string, ms []Membership) error

	// AddMemberships inserts memberships, skipping duplicates on
	// (node_id, cluster_id, namespace, algorithm).
	AddMemberships(ms []Membership) error

	// PutClusterSummary upserts a summary keyed by
	// (cluster_id, namespace, algorithm).
	PutClusterSummary(s ClusterSummary) error

	// AddSnapshot appends a snapshot record.
	AddSnapshot(s Snapshot) error
}

// Backend is the common store contract. Reads may run concurrently with
// writes and tolerate eventual visibility of in-progress ingests.
type Backend interface {
	// Update runs fn inside a transaction. Any error rolls the whole
	// transaction back; no partial state leaks.
	Update(ctx context.Context, fn func(tx Tx) error) error

	GetNode(ctx context.Context, id string) (*Node, error)
	ScanNodes(ctx context.Context, f NodeFilter) ([]Node, error)
	ScanEdges(ctx context.Context, f EdgeFilter) ([]Edge, error)
	CountNodes(ctx context.Context, namespace string) (int, error)
	CountEdges(ctx context.Context, namespace string) (int, error)

	// BulkReset wipes all graph tables. Explicit reset path only.
	BulkReset(ctx context.Context) error

	IngestLogEntry(ctx context.Context, docID, namespace string) (*IngestLogEntry, error)
	ListIngestLog(ctx context.Context, namespace string) ([]IngestLogEntry, error)

	ListMemberships(ctx context.Context, namespace, algorithm string) ([]Membership, error)
	GetClusterSummary(ctx context.Context, namespace, clusterID, algorithm, topTermsHash string) (*ClusterSummary, error)

	GetSnapshot(ctx context.Context, id string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, namespace string, limit int) ([]Snapshot, error)

	Close() error
}

// PathFinder is an optional backend capability: a native shortest-path
// primitive. The pathfinder probes for it and falls back to BFS over
// scans when absent.
type PathFinder interface {
	NativeShortestPath(ctx context.Context, sourceID, targetID string, maxDepth int, namespace string) ([]string, error)
}

// VectorSearcher is an optional backend capability: approximate
// nearest-neighbour search over stored node embeddings.
type VectorSearcher interface {
	SearchEmbedding(ctx context.Context, namespace string, vec []float32, limit int) ([]ScoredID, error)
}

// ChunkNodeID returns the stable id for chunk index idx of a document.
func ChunkNodeID(docID string, idx int) string {
	return fmt.Sprintf("%s::chunk::%d", docID, idx)
}

// SectionNodeID returns the stable id for a section slug of a document.
func SectionNodeID(docID, slug string) string {
	return fmt.Sprintf("%s::section::%s", docID, slug)
}

// EntityNodeID returns the stable id for a named entity in a namespace.
// Lookups still go through lowercased-name search; the id only has to
// be deterministic so repeated imports stay idempotent.
func EntityNodeID(namespace, name string) string {
	slug := strings.ToLower(strings.Join(strings.Fields(name), "-"))
	return fmt.Sprintf("ent::%s::%s", namespace, slug)
}
