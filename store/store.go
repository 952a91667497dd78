package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// SQLite is the relational backend: single-writer SQLite with JSON
// columns and an optional sqlite-vec table for node embeddings.
type SQLite struct {
	db           *sql.DB
	embeddingDim int
}

var _ Backend = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database at dbPath and initialises
// the schema. embeddingDim of 0 disables the vector tables.
func OpenSQLite(dbPath string, embeddingDim int) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLite{db: db, embeddingDim: embeddingDim}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *SQLite) EmbeddingDim() int {
	return s.embeddingDim
}

// Update runs fn inside a single transaction.
func (s *SQLite) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	st := &sqliteTx{ctx: ctx, tx: tx, embeddingDim: s.embeddingDim}
	if err := fn(st); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetNode retrieves a node by id, or nil when absent.
func (s *SQLite) GetNode(ctx context.Context, id string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, label, name, properties, source_ids, embedding, namespace, created_at, updated_at
		FROM graphrag_nodes WHERE id = ?
	`, id)
	n, err := scanNodeRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// ScanNodes returns nodes matching the filter, ordered by id for stable
// cursor pagination.
func (s *SQLite) ScanNodes(ctx context.Context, f NodeFilter) ([]Node, error) {
	var conds []string
	var args []interface{}
	if f.Namespace != "" {
		conds = append(conds, "namespace = ?")
		args = append(args, f.Namespace)
	}
	if len(f.Labels) > 0 {
		conds = append(conds, "label IN (?"+repeatPlaceholders(len(f.Labels)-1)+")")
		for _, l := range f.Labels {
			args = append(args, l)
		}
	}
	if len(f.IDs) > 0 {
		conds = append(conds, "id IN (?"+repeatPlaceholders(len(f.IDs)-1)+")")
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if f.NameContains != "" {
		conds = append(conds, "LOWER(name) LIKE '%' || LOWER(?) || '%'")
		args = append(args, f.NameContains)
	}

	query := "SELECT id, label, name, properties, source_ids, embedding, namespace, created_at, updated_at FROM graphrag_nodes"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		n, err := scanNodeRow(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// ScanEdges returns edges matching the filter, ordered by id.
func (s *SQLite) ScanEdges(ctx context.Context, f EdgeFilter) ([]Edge, error) {
	var conds []string
	var args []interface{}
	if f.Namespace != "" {
		conds = append(conds, "namespace = ?")
		args = append(args, f.Namespace)
	}
	if len(f.Relations) > 0 {
		conds = append(conds, "relation IN (?"+repeatPlaceholders(len(f.Relations)-1)+")")
		for _, r := range f.Relations {
			args = append(args, r)
		}
	}
	if len(f.TouchingIDs) > 0 {
		ph := "?" + repeatPlaceholders(len(f.TouchingIDs)-1)
		conds = append(conds, "(source_id IN ("+ph+") OR target_id IN ("+ph+"))")
		for _, id := range f.TouchingIDs {
			args = append(args, id)
		}
		for _, id := range f.TouchingIDs {
			args = append(args, id)
		}
	}

	query := "SELECT id, source_id, target_id, relation, confidence, properties, namespace FROM graphrag_edges"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var props string
		if err := rows.Scan(&e.ID, &e.SourceID, &e.TargetID, &e.Relation,
			&e.Confidence, &props, &e.Namespace); err != nil {
			return nil, err
		}
		e.Properties = decodeJSONMap(props)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// CountNodes returns the node count for a namespace.
func (s *SQLite) CountNodes(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM graphrag_nodes WHERE namespace = ?", namespace).Scan(&n)
	return n, err
}

// CountEdges returns the edge count for a namespace.
func (s *SQLite) CountEdges(ctx context.Context, namespace string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM graphrag_edges WHERE namespace = ?", namespace).Scan(&n)
	return n, err
}

// BulkReset wipes all graph tables.
func (s *SQLite) BulkReset(ctx context.Context) error {
	stmts := []string{
		"DELETE FROM graphrag_edges",
		"DELETE FROM graphrag_nodes",
		"DELETE FROM graphrag_cluster_memberships",
		"DELETE FROM graphrag_cluster_summaries",
		"DELETE FROM graphrag_snapshots",
		"DELETE FROM graphrag_ingest_log",
	}
	if s.embeddingDim > 0 {
		stmts = append(stmts, "DELETE FROM vec_nodes", "DELETE FROM vec_map")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// IngestLogEntry returns the ingest log row for a document, or nil.
func (s *SQLite) IngestLogEntry(ctx context.Context, docID, namespace string) (*IngestLogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, content_hash, status, first_seen_at, last_ingest_at, last_indexed_at, meta
		FROM graphrag_ingest_log WHERE id = ? AND namespace = ?
	`, docID, namespace)
	e, err := scanIngestRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListIngestLog returns all ingest log rows for a namespace.
func (s *SQLite) ListIngestLog(ctx context.Context, namespace string) ([]IngestLogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, content_hash, status, first_seen_at, last_ingest_at, last_indexed_at, meta
		FROM graphrag_ingest_log WHERE namespace = ? ORDER BY id
	`, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []IngestLogEntry
	for rows.Next() {
		e, err := scanIngestRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ListMemberships returns cluster memberships for (namespace, algorithm).
func (s *SQLite) ListMemberships(ctx context.Context, namespace, algorithm string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_id, cluster_id, namespace, algorithm, score
		FROM graphrag_cluster_memberships WHERE namespace = ? AND algorithm = ?
	`, namespace, algorithm)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ms []Membership
	for rows.Next() {
		var m Membership
		var score sql.NullFloat64
		if err := rows.Scan(&m.NodeID, &m.ClusterID, &m.Namespace, &m.Algorithm, &score); err != nil {
			return nil, err
		}
		if score.Valid {
			v := score.Float64
			m.Score = &v
		}
		ms = append(ms, m)
	}
	return ms, rows.Err()
}

// GetClusterSummary looks up a cached summary. An empty topTermsHash
// matches any stored hash.
func (s *SQLite) GetClusterSummary(ctx context.Context, namespace, clusterID, algorithm, topTermsHash string) (*ClusterSummary, error) {
	query := `
		SELECT cluster_id, namespace, algorithm, top_terms_hash, label, summary, token_count, created_at
		FROM graphrag_cluster_summaries
		WHERE namespace = ? AND cluster_id = ? AND algorithm = ?`
	args := []interface{}{namespace, clusterID, algorithm}
	if topTermsHash != "" {
		query += " AND top_terms_hash = ?"
		args = append(args, topTermsHash)
	}

	var cs ClusterSummary
	var created sql.NullTime
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&cs.ClusterID, &cs.Namespace, &cs.Algorithm, &cs.TopTermsHash,
		&cs.Label, &cs.Summary, &cs.TokenCount, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cs.CreatedAt = created.Time
	return &cs, nil
}

// GetSnapshot retrieves a snapshot by id, or nil when absent.
func (s *SQLite) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, namespace, node_count, edge_count, modularity, metadata, created_at
		FROM graphrag_snapshots WHERE id = ?
	`, id)
	sn, err := scanSnapshotRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sn, nil
}

// ListSnapshots returns snapshots for a namespace, most recent first.
func (s *SQLite) ListSnapshots(ctx context.Context, namespace string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, namespace, node_count, edge_count, modularity, metadata, created_at
		FROM graphrag_snapshots WHERE namespace = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, namespace, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []Snapshot
	for rows.Next() {
		sn, err := scanSnapshotRow(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *sn)
	}
	return snaps, rows.Err()
}

// SearchEmbedding performs a KNN search over vec_nodes, filtered to the
// namespace after the join. Over-fetches to compensate for the filter.
func (s *SQLite) SearchEmbedding(ctx context.Context, namespace string, vec []float32, limit int) ([]ScoredID, error) {
	if s.embeddingDim == 0 || len(vec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.node_id, v.distance, n.namespace
		FROM vec_nodes v
		JOIN vec_map m ON m.vid = v.vid
		JOIN graphrag_nodes n ON n.id = m.node_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(vec), limit*4)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScoredID
	for rows.Next() {
		var id, ns string
		var distance float64
		if err := rows.Scan(&id, &distance, &ns); err != nil {
			return nil, err
		}
		if ns != namespace {
			continue
		}
		out = append(out, ScoredID{ID: id, Score: 1.0 - distance})
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// --- write transaction ---

type sqliteTx struct {
	ctx          context.Context
	tx           *sql.Tx
	embeddingDim int
}

func (t *sqliteTx) UpsertNodes(nodes []Node) error {
	for i := range nodes {
		if err := t.upsertNode(&nodes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) upsertNode(n *Node) error {
	if n.Properties == nil {
		n.Properties = map[string]any{}
	}
	n.Properties["namespace"] = n.Namespace

	row := t.tx.QueryRowContext(t.ctx, `
		SELECT properties, source_ids, embedding FROM graphrag_nodes WHERE id = ?
	`, n.ID)
	var propsJSON, srcJSON, embJSON string
	err := row.Scan(&propsJSON, &srcJSON, &embJSON)
	switch {
	case err == sql.ErrNoRows:
		_, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO graphrag_nodes (id, label, name, properties, source_ids, embedding, namespace)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, n.ID, n.Label, n.Name, encodeJSON(n.Properties), encodeJSON(n.SourceIDs),
			encodeJSON(n.Embedding), n.Namespace)
		if err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		// Merge: shallow property merge, source_ids union, embedding
		// filled only when previously empty.
		props := decodeJSONMap(propsJSON)
		for k, v := range n.Properties {
			props[k] = v
		}
		srcs := unionStrings(decodeJSONStrings(srcJSON), n.SourceIDs)
		emb := decodeJSONFloats(embJSON)
		if len(emb) == 0 && len(n.Embedding) > 0 {
			emb = n.Embedding
		}
		_, err := t.tx.ExecContext(t.ctx, `
			UPDATE graphrag_nodes
			SET label = ?, name = ?, properties = ?, source_ids = ?, embedding = ?,
				namespace = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, n.Label, n.Name, encodeJSON(props), encodeJSON(srcs), encodeJSON(emb),
			n.Namespace, n.ID)
		if err != nil {
			return err
		}
		n.Embedding = emb
	}

	if t.embeddingDim > 0 && len(n.Embedding) == t.embeddingDim {
		vid := vecID(n.ID)
		if _, err := t.tx.ExecContext(t.ctx,
			"INSERT OR IGNORE INTO vec_map (vid, node_id) VALUES (?, ?)", vid, n.ID); err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(t.ctx,
			"INSERT OR REPLACE INTO vec_nodes (vid, embedding) VALUES (?, ?)",
			vid, serializeFloat32(n.Embedding)); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) UpsertEdges(edges []Edge) error {
	for _, e := range edges {
		if e.Properties == nil {
			e.Properties = map[string]any{}
		}
		e.Properties["namespace"] = e.Namespace
		_, err := t.tx.ExecContext(t.ctx, `
			INSERT INTO graphrag_edges (id, source_id, target_id, relation, confidence, properties, namespace)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				relation = excluded.relation,
				confidence = excluded.confidence,
				properties = excluded.properties,
				namespace = excluded.namespace
		`, e.ID, e.SourceID, e.TargetID, e.Relation, e.Confidence,
			encodeJSON(e.Properties), e.Namespace)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) DeleteDocScoped(docID string) error {
	chunkPat := docID + "::chunk::%"
	sectionPat := docID + "::section::%"

	if _, err := t.tx.ExecContext(t.ctx, `
		DELETE FROM graphrag_edges
		WHERE source_id IN (SELECT id FROM graphrag_nodes WHERE id LIKE ? OR id LIKE ?)
		   OR target_id IN (SELECT id FROM graphrag_nodes WHERE id LIKE ? OR id LIKE ?)
	`, chunkPat, sectionPat, chunkPat, sectionPat); err != nil {
		return err
	}

	if t.embeddingDim > 0 {
		if _, err := t.tx.ExecContext(t.ctx, `
			DELETE FROM vec_nodes WHERE vid IN (
				SELECT vid FROM vec_map WHERE node_id LIKE ? OR node_id LIKE ?
			)`, chunkPat, sectionPat); err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(t.ctx,
			"DELETE FROM vec_map WHERE node_id LIKE ? OR node_id LIKE ?",
			chunkPat, sectionPat); err != nil {
			return err
		}
	}

	_, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM graphrag_nodes WHERE id LIKE ? OR id LIKE ?", chunkPat, sectionPat)
	return err
}

func (t *sqliteTx) FindEntity(name, namespace string) (*Node, error) {
	row := t.tx.QueryRowContext(t.ctx, `
		SELECT id, label, name, properties, source_ids, embedding, namespace, created_at, updated_at
		FROM graphrag_nodes
		WHERE namespace = ? AND LOWER(name) = LOWER(?) AND label NOT IN (?, ?)
		LIMIT 1
	`, namespace, name, LabelChunk, LabelSection)
	n, err := scanNodeRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

func (t *sqliteTx) PutIngestLog(e IngestLogEntry) error {
	var indexed interface{}
	if e.LastIndexedAt != nil {
		indexed = e.LastIndexedAt.UTC()
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO graphrag_ingest_log (id, namespace, content_hash, status, first_seen_at, last_ingest_at, last_indexed_at, meta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			namespace = excluded.namespace,
			content_hash = excluded.content_hash,
			status = excluded.status,
			last_ingest_at = excluded.last_ingest_at,
			last_indexed_at = excluded.last_indexed_at,
			meta = excluded.meta
	`, e.DocID, e.Namespace, e.ContentHash, e.Status,
		e.FirstSeenAt.UTC(), e.LastIngestAt.UTC(), indexed, encodeJSON(e.Meta))
	return err
}

func (t *sqliteTx) MarkIndexed(docID, namespace string, at time.Time) error {
	_, err := t.tx.ExecContext(t.ctx, `
		UPDATE graphrag_ingest_log SET status = ?, last_indexed_at = ?
		WHERE id = ? AND namespace = ?
	`, StatusIndexed, at.UTC(), docID, namespace)
	return err
}

func (t *sqliteTx) ReplaceMemberships(namespace, algorithm string, ms []Membership) error {
	if _, err := t.tx.ExecContext(t.ctx,
		"DELETE FROM graphrag_cluster_memberships WHERE namespace = ? AND algorithm = ?",
		namespace, algorithm); err != nil {
		return err
	}
	return t.AddMemberships(ms)
}

func (t *sqliteTx) AddMemberships(ms []Membership) error {
	for _, m := range ms {
		var score interface{}
		if m.Score != nil {
			score = *m.Score
		}
		if _, err := t.tx.ExecContext(t.ctx, `
			INSERT OR IGNORE INTO graphrag_cluster_memberships (node_id, cluster_id, namespace, algorithm, score)
			VALUES (?, ?, ?, ?, ?)
		`, m.NodeID, m.ClusterID, m.Namespace, m.Algorithm, score); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTx) PutClusterSummary(s ClusterSummary) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO graphrag_cluster_summaries (cluster_id, namespace, algorithm, top_terms_hash, label, summary, token_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cluster_id, namespace, algorithm) DO UPDATE SET
			top_terms_hash = excluded.top_terms_hash,
			label = excluded.label,
			summary = excluded.summary,
			token_count = excluded.token_count,
			updated_at = CURRENT_TIMESTAMP
	`, s.ClusterID, s.Namespace, s.Algorithm, s.TopTermsHash, s.Label, s.Summary, s.TokenCount)
	return err
}

func (t *sqliteTx) AddSnapshot(s Snapshot) error {
	var mod interface{}
	if s.Modularity != nil {
		mod = *s.Modularity
	}
	created := s.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO graphrag_snapshots (id, namespace, node_count, edge_count, modularity, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Namespace, s.NodeCount, s.EdgeCount, mod, encodeJSON(s.Metadata), created.UTC())
	return err
}

// --- row scanning and JSON helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNodeRow(row rowScanner) (*Node, error) {
	var n Node
	var props, srcs, emb string
	var created, updated sql.NullTime
	if err := row.Scan(&n.ID, &n.Label, &n.Name, &props, &srcs, &emb,
		&n.Namespace, &created, &updated); err != nil {
		return nil, err
	}
	n.Properties = decodeJSONMap(props)
	n.SourceIDs = decodeJSONStrings(srcs)
	n.Embedding = decodeJSONFloats(emb)
	n.CreatedAt = created.Time
	n.UpdatedAt = updated.Time
	return &n, nil
}

func scanIngestRow(row rowScanner) (*IngestLogEntry, error) {
	var e IngestLogEntry
	var indexed sql.NullTime
	var meta string
	if err := row.Scan(&e.DocID, &e.Namespace, &e.ContentHash, &e.Status,
		&e.FirstSeenAt, &e.LastIngestAt, &indexed, &meta); err != nil {
		return nil, err
	}
	if indexed.Valid {
		t := indexed.Time
		e.LastIndexedAt = &t
	}
	e.Meta = decodeJSONMap(meta)
	return &e, nil
}

func scanSnapshotRow(row rowScanner) (*Snapshot, error) {
	var sn Snapshot
	var mod sql.NullFloat64
	var meta string
	if err := row.Scan(&sn.ID, &sn.Namespace, &sn.NodeCount, &sn.EdgeCount,
		&mod, &meta, &sn.CreatedAt); err != nil {
		return nil, err
	}
	if mod.Valid {
		v := mod.Float64
		sn.Modularity = &v
	}
	sn.Metadata = decodeJSONMap(meta)
	return &sn, nil
}

func encodeJSON(v interface{}) string {
	if v == nil {
		return "{}"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func decodeJSONMap(s string) map[string]any {
	m := map[string]any{}
	if s != "" {
		json.Unmarshal([]byte(s), &m)
	}
	return m
}

func decodeJSONStrings(s string) []string {
	var out []string
	if s != "" {
		json.Unmarshal([]byte(s), &out)
	}
	return out
}

func decodeJSONFloats(s string) []float32 {
	var out []float32
	if s != "" {
		json.Unmarshal([]byte(s), &out)
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

// vecID derives a stable positive int64 key for the vec0 table from a
// node id.
func vecID(id string) int64 {
	h := sha256.Sum256([]byte(id))
	v := int64(binary.BigEndian.Uint64(h[:8]) & math.MaxInt64)
	if v == 0 {
		v = 1
	}
	return v
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
