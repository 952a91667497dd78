package query

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"graphrag/llm"
	"graphrag/metrics"
)

// Artifact row caps keep a pathological index run from pinning memory.
const (
	maxArtifactEntities      = 5000
	maxArtifactRelationships = 15000
	maxDegreeRows            = 30000
)

// ArtifactHit is one entity from the artifact set with its structured
// score components already folded in.
type ArtifactHit struct {
	Name  string
	Label string
	Score float64
}

type artifactEntity struct {
	name  string
	label string
}

// ArtifactCache serves structured search over the entities and
// relationships CSVs of the latest index run. Files are reloaded only
// when their mtimes change; entity-name embeddings are cached for the
// process lifetime.
type ArtifactCache struct {
	dir string

	// Metrics, when set, counts cache hits and reloads.
	Metrics *metrics.Registry

	mu       sync.Mutex
	key      string
	entities []artifactEntity
	degree   map[string]int
	embCache map[string][]float32
}

// NewArtifactCache creates a cache over dir, typically
// artifacts/latest.
func NewArtifactCache(dir string) *ArtifactCache {
	return &ArtifactCache{dir: dir, embCache: make(map[string][]float32)}
}

// Search returns up to topK artifact entities scored by term overlap,
// graph degree, and (when an embedder is available) name similarity.
func (c *ArtifactCache) Search(ctx context.Context, embedder llm.Provider, query string, topK int) ([]ArtifactHit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadLocked(); err != nil {
		return nil, err
	}
	if len(c.entities) == 0 {
		return nil, nil
	}

	queryTokens := tokenSet(query)

	var queryVec []float32
	if embedder != nil {
		vecs, err := embedder.Embed(ctx, []string{query})
		if err != nil {
			slog.Warn("artifacts: query embedding failed", "error", err)
		} else if len(vecs) > 0 {
			queryVec = vecs[0]
		}
	}

	var hits []ArtifactHit
	for _, e := range c.entities {
		ov := overlap(queryTokens, tokenSet(e.name))
		deg := math.Log1p(float64(c.degree[strings.ToLower(e.name)])) / 4

		score := 0.5*ov + 0.3*deg
		if queryVec != nil {
			score += 0.2 * c.nameSimilarityLocked(ctx, embedder, e.name, queryVec)
		}
		if score > 0 {
			hits = append(hits, ArtifactHit{Name: e.name, Label: e.label, Score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// loadLocked refreshes the cache when the artifact files changed.
func (c *ArtifactCache) loadLocked() error {
	entPath := filepath.Join(c.dir, "entities.csv")
	relPath := filepath.Join(c.dir, "relationships.csv")

	key := fileKey(entPath) + "|" + fileKey(relPath)
	if key == c.key {
		c.count(metrics.ArtifactCacheHit)
		return nil
	}
	c.count(metrics.ArtifactCacheMiss)

	entities, err := readEntityRows(entPath)
	if err != nil {
		return err
	}
	degree, err := readDegreeMap(relPath)
	if err != nil {
		return err
	}

	c.key = key
	c.entities = entities
	c.degree = degree
	slog.Info("artifacts: cache reloaded", "dir", c.dir, "entities", len(entities), "degree_rows", len(degree))
	return nil
}

func (c *ArtifactCache) count(name string) {
	if c.Metrics != nil {
		c.Metrics.Inc(name, 1)
	}
}

// nameSimilarityLocked returns cosine similarity between the query
// vector and the entity-name embedding, caching embeddings per name.
func (c *ArtifactCache) nameSimilarityLocked(ctx context.Context, embedder llm.Provider, name string, queryVec []float32) float64 {
	vec, ok := c.embCache[name]
	if !ok {
		vecs, err := embedder.Embed(ctx, []string{name})
		if err != nil || len(vecs) == 0 {
			// Cache the failure as an empty vector.
			c.embCache[name] = nil
			return 0
		}
		vec = vecs[0]
		c.embCache[name] = vec
	}
	return cosine32(queryVec, vec)
}

// readEntityRows parses entities.csv (header name,label,description).
func readEntityRows(path string) ([]artifactEntity, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("artifacts: opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var out []artifactEntity
	first := true
	for len(out) < maxArtifactEntities {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("artifacts: reading %s: %w", path, err)
		}
		if first {
			first = false
			if len(rec) > 0 && strings.EqualFold(rec[0], "name") {
				continue
			}
		}
		if len(rec) == 0 || strings.TrimSpace(rec[0]) == "" {
			continue
		}
		e := artifactEntity{name: strings.TrimSpace(rec[0])}
		if len(rec) > 1 {
			e.label = strings.TrimSpace(rec[1])
		}
		out = append(out, e)
	}
	return out, nil
}

// readDegreeMap builds a per-entity degree count from relationships.csv
// (header source,target,relation,confidence), keyed by lowercased name.
func readDegreeMap(path string) (map[string]int, error) {
	degree := make(map[string]int)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return degree, nil
		}
		return nil, fmt.Errorf("artifacts: opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	rows := 0
	first := true
	for rows < maxArtifactRelationships && len(degree) < maxDegreeRows {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("artifacts: reading %s: %w", path, err)
		}
		if first {
			first = false
			if len(rec) > 0 && strings.EqualFold(rec[0], "source") {
				continue
			}
		}
		if len(rec) < 2 {
			continue
		}
		rows++
		degree[strings.ToLower(strings.TrimSpace(rec[0]))]++
		degree[strings.ToLower(strings.TrimSpace(rec[1]))]++
	}
	return degree, nil
}

func fileKey(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "absent"
	}
	return fmt.Sprintf("%d:%d", info.ModTime().UnixNano(), info.Size())
}

func cosine32(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
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
