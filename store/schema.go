package store

import "fmt"

// schemaSQL returns the DDL for all graph tables. embeddingDim controls
// the vec0 virtual table dimension; a dim of 0 skips vector tables.
func schemaSQL(embeddingDim int) string {
	ddl := `
-- Graph nodes with JSON property bag and denormalized namespace
CREATE TABLE IF NOT EXISTS graphrag_nodes (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL DEFAULT 'Entity',
    name TEXT NOT NULL,
    properties JSON NOT NULL DEFAULT '{}',
    source_ids JSON NOT NULL DEFAULT '[]',
    embedding JSON NOT NULL DEFAULT '[]',
    namespace TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Graph edges; namespace duplicated out of properties for scan filters
CREATE TABLE IF NOT EXISTS graphrag_edges (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL REFERENCES graphrag_nodes(id),
    target_id TEXT NOT NULL REFERENCES graphrag_nodes(id),
    relation TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0.5,
    properties JSON NOT NULL DEFAULT '{}',
    namespace TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Community detection results
CREATE TABLE IF NOT EXISTS graphrag_cluster_memberships (
    id INTEGER PRIMARY KEY,
    node_id TEXT NOT NULL,
    cluster_id TEXT NOT NULL,
    namespace TEXT NOT NULL,
    algorithm TEXT NOT NULL,
    score REAL,
    UNIQUE(node_id, cluster_id, namespace, algorithm)
);

-- Cluster labels and summaries, cached by top-terms hash
CREATE TABLE IF NOT EXISTS graphrag_cluster_summaries (
    id INTEGER PRIMARY KEY,
    cluster_id TEXT NOT NULL,
    namespace TEXT NOT NULL,
    algorithm TEXT NOT NULL,
    top_terms_hash TEXT NOT NULL DEFAULT '',
    label TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    token_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(cluster_id, namespace, algorithm)
);

-- Append-only graph state snapshots
CREATE TABLE IF NOT EXISTS graphrag_snapshots (
    id TEXT PRIMARY KEY,
    namespace TEXT NOT NULL,
    node_count INTEGER NOT NULL,
    edge_count INTEGER NOT NULL,
    modularity REAL,
    metadata JSON NOT NULL DEFAULT '{}',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Per-document ingest log with hash-based change detection
CREATE TABLE IF NOT EXISTS graphrag_ingest_log (
    id TEXT PRIMARY KEY,
    namespace TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'ingested',
    first_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_ingest_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    last_indexed_at DATETIME,
    meta JSON NOT NULL DEFAULT '{}'
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_nodes_namespace ON graphrag_nodes(namespace);
CREATE INDEX IF NOT EXISTS idx_nodes_label ON graphrag_nodes(namespace, label);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON graphrag_nodes(namespace, name);
CREATE INDEX IF NOT EXISTS idx_edges_namespace ON graphrag_edges(namespace);
CREATE INDEX IF NOT EXISTS idx_edges_source ON graphrag_edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON graphrag_edges(target_id);
CREATE INDEX IF NOT EXISTS idx_edges_relation ON graphrag_edges(namespace, relation);
CREATE INDEX IF NOT EXISTS idx_memberships_ns ON graphrag_cluster_memberships(namespace, algorithm);
CREATE INDEX IF NOT EXISTS idx_snapshots_ns ON graphrag_snapshots(namespace, created_at);
CREATE INDEX IF NOT EXISTS idx_ingest_log_ns ON graphrag_ingest_log(namespace, status);
`

	if embeddingDim > 0 {
		ddl += fmt.Sprintf(`
-- Node embeddings via sqlite-vec. vec0 needs an integer key, so vec_map
-- holds the node-id mapping alongside.
CREATE VIRTUAL TABLE IF NOT EXISTS vec_nodes USING vec0(
    vid INTEGER PRIMARY KEY,
    embedding float[%d]
);
CREATE TABLE IF NOT EXISTS vec_map (
    vid INTEGER PRIMARY KEY,
    node_id TEXT NOT NULL UNIQUE
);
`, embeddingDim)
	}

	return ddl
}
