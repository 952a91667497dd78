package index

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"graphrag/extract"
	"graphrag/store"
)

// Pipeline produces the artifact CSVs for one run directory. docIDs
// lists the stale documents; an empty list means all documents.
type Pipeline interface {
	Generate(ctx context.Context, runDir, namespace string, docIDs []string) error
}

// CLIPipeline shells out to an external indexer binary. It is only
// eligible when both the binary and an API key are configured.
type CLIPipeline struct {
	Bin    string
	APIKey string
}

// Generate runs `<bin> index --output <runDir> --namespace <ns>`.
func (p *CLIPipeline) Generate(ctx context.Context, runDir, namespace string, docIDs []string) error {
	if p.Bin == "" || p.APIKey == "" {
		return fmt.Errorf("cli pipeline not configured")
	}
	cmd := exec.CommandContext(ctx, p.Bin, "index", "--output", runDir, "--namespace", namespace)
	cmd.Env = append(os.Environ(), "GRAPHRAG_API_KEY="+p.APIKey)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("cli pipeline: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// relKey identifies a relation by its endpoints and type. Endpoint
// names are kept as extracted; the importer canonicalises them.
type relKey struct {
	src, tgt, rel string
}

type aggEntity struct {
	name  string
	label string
}

// FallbackPipeline re-extracts entities and relationships from stored
// chunk text with the heuristic extractor and aggregates them into the
// four artifact files.
type FallbackPipeline struct {
	Store store.Backend
}

// Generate writes entities.csv, relationships.csv, communities.csv, and
// community_reports.csv into runDir.
func (p *FallbackPipeline) Generate(ctx context.Context, runDir, namespace string, docIDs []string) error {
	if len(docIDs) == 0 {
		entries, err := p.Store.ListIngestLog(ctx, namespace)
		if err != nil {
			return fmt.Errorf("fallback: listing documents: %w", err)
		}
		for _, e := range entries {
			docIDs = append(docIDs, e.DocID)
		}
	}

	chunks, err := p.Store.ScanNodes(ctx, store.NodeFilter{
		Namespace: namespace,
		Labels:    []string{store.LabelChunk},
	})
	if err != nil {
		return fmt.Errorf("fallback: scanning chunks: %w", err)
	}

	textByDoc := make(map[string][]string)
	for _, c := range chunks {
		for _, docID := range docIDs {
			if strings.HasPrefix(c.ID, docID+"::chunk::") {
				if text, ok := c.Properties["text"].(string); ok {
					textByDoc[docID] = append(textByDoc[docID], text)
				}
				break
			}
		}
	}

	extractor := extract.Heuristic{}
	entities := make(map[string]aggEntity) // keyed by lower(name)
	relations := make(map[relKey]float64)

	docs := make([]string, 0, len(textByDoc))
	for docID := range textByDoc {
		docs = append(docs, docID)
	}
	sort.Strings(docs)

	for _, docID := range docs {
		res, err := extractor.Extract(ctx, strings.Join(textByDoc[docID], "\n\n"))
		if err != nil {
			continue
		}
		for _, e := range res.Entities {
			key := strings.ToLower(e.Name)
			if _, ok := entities[key]; !ok {
				entities[key] = aggEntity{name: e.Name, label: extract.Classify(e.Name, e.Label)}
			}
		}
		for _, r := range res.Relations {
			k := relKey{src: r.Source, tgt: r.Target, rel: r.Relation}
			if r.Confidence > relations[k] {
				relations[k] = r.Confidence
			}
		}
	}

	if err := writeEntitiesCSV(runDir, entities); err != nil {
		return err
	}
	if err := writeRelationshipsCSV(runDir, relations); err != nil {
		return err
	}

	clusters := connectedComponents(entities, relations)
	if err := writeCommunitiesCSV(runDir, clusters); err != nil {
		return err
	}
	return writeReportsCSV(runDir, clusters)
}

// connectedComponents groups entity names into clusters over the
// relation set. Cluster ids are g1, g2, … in descending size order.
func connectedComponents(entities map[string]aggEntity, relations map[relKey]float64) map[string][]string {
	parent := make(map[string]string, len(entities))
	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	for key := range entities {
		parent[key] = key
	}
	for k := range relations {
		a, b := strings.ToLower(k.src), strings.ToLower(k.tgt)
		if _, ok := parent[a]; !ok {
			continue
		}
		if _, ok := parent[b]; !ok {
			continue
		}
		parent[find(a)] = find(b)
	}

	groups := make(map[string][]string)
	for key := range entities {
		root := find(key)
		groups[root] = append(groups[root], entities[key].name)
	}

	roots := make([]string, 0, len(groups))
	for root := range groups {
		sort.Strings(groups[root])
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool {
		if len(groups[roots[i]]) != len(groups[roots[j]]) {
			return len(groups[roots[i]]) > len(groups[roots[j]])
		}
		return roots[i] < roots[j]
	})

	out := make(map[string][]string, len(roots))
	for i, root := range roots {
		out[fmt.Sprintf("g%d", i+1)] = groups[root]
	}
	return out
}
