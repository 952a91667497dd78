package index

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"graphrag/store"
)

// ImportStats counts how the import changed the graph. Merged rows hit
// existing records; new rows created them.
type ImportStats struct {
	NodesNew    int `json:"nodes_new"`
	NodesMerged int `json:"nodes_merged"`
	EdgesNew    int `json:"edges_new"`
	EdgesMerged int `json:"edges_merged"`
	Memberships int `json:"memberships"`
	Reports     int `json:"reports"`
}

// importAlgorithm tags memberships and reports created by the importer.
const importAlgorithm = "graphrag"

// Import loads the artifact CSVs from runDir into the store. The import
// is idempotent: entities merge on lowercased name, relationships keep
// the maximum confidence seen, memberships dedupe, and reports only
// refresh previously empty summaries.
func Import(ctx context.Context, b store.Backend, runDir, namespace string) (*ImportStats, error) {
	entityRows, err := readCSV(filepath.Join(runDir, "entities.csv"), "name")
	if err != nil {
		return nil, err
	}
	relationRows, err := readCSV(filepath.Join(runDir, "relationships.csv"), "source")
	if err != nil {
		return nil, err
	}
	communityRows, err := readCSV(filepath.Join(runDir, "communities.csv"), "node_name")
	if err != nil {
		return nil, err
	}
	reportRows, err := readCSV(filepath.Join(runDir, "community_reports.csv"), "cluster_id")
	if err != nil {
		return nil, err
	}

	// Existing edge confidences, for max-merge.
	existingEdges, err := b.ScanEdges(ctx, store.EdgeFilter{Namespace: namespace})
	if err != nil {
		return nil, fmt.Errorf("import: scanning edges: %w", err)
	}
	edgeConfidence := make(map[string]float64, len(existingEdges))
	for _, e := range existingEdges {
		edgeConfidence[e.ID] = e.Confidence
	}

	// Reports are pre-read so the transaction only writes.
	type reportPlan struct {
		cid, label, summary string
	}
	var reports []reportPlan
	for _, row := range reportRows {
		if len(row) < 2 {
			continue
		}
		cid, label := strings.TrimSpace(row[0]), strings.TrimSpace(row[1])
		summary := ""
		if len(row) > 2 {
			summary = strings.TrimSpace(row[2])
		}
		existing, err := b.GetClusterSummary(ctx, namespace, cid, importAlgorithm, "")
		if err != nil {
			return nil, fmt.Errorf("import: reading summary %s: %w", cid, err)
		}
		if existing != nil && existing.Summary != "" {
			continue
		}
		if existing != nil && existing.Label != "" && label == "" {
			label = existing.Label
		}
		reports = append(reports, reportPlan{cid: cid, label: label, summary: summary})
	}

	stats := &ImportStats{}
	err = b.Update(ctx, func(tx store.Tx) error {
		for _, row := range entityRows {
			if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
				continue
			}
			name := strings.TrimSpace(row[0])
			label := store.LabelEntity
			if len(row) > 1 && strings.TrimSpace(row[1]) != "" {
				label = strings.TrimSpace(row[1])
			}

			existing, err := tx.FindEntity(name, namespace)
			if err != nil {
				return err
			}
			node := store.Node{
				ID:        store.EntityNodeID(namespace, name),
				Label:     label,
				Name:      name,
				Namespace: namespace,
			}
			if existing != nil {
				node.ID = existing.ID
				node.Name = existing.Name
				stats.NodesMerged++
			} else {
				stats.NodesNew++
			}
			if err := tx.UpsertNodes([]store.Node{node}); err != nil {
				return err
			}
		}

		for _, row := range relationRows {
			if len(row) < 3 {
				continue
			}
			src, err := tx.FindEntity(strings.TrimSpace(row[0]), namespace)
			if err != nil {
				return err
			}
			tgt, err := tx.FindEntity(strings.TrimSpace(row[1]), namespace)
			if err != nil {
				return err
			}
			if src == nil || tgt == nil {
				continue
			}
			relation := strings.TrimSpace(row[2])
			confidence := 0.5
			if len(row) > 3 {
				if v, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64); err == nil {
					confidence = v
				}
			}

			id := fmt.Sprintf("rel::%s::%s::%s", src.ID, tgt.ID, relation)
			if prev, ok := edgeConfidence[id]; ok {
				stats.EdgesMerged++
				if prev > confidence {
					confidence = prev
				}
			} else {
				stats.EdgesNew++
			}
			if err := tx.UpsertEdges([]store.Edge{{
				ID:         id,
				SourceID:   src.ID,
				TargetID:   tgt.ID,
				Relation:   relation,
				Confidence: confidence,
				Namespace:  namespace,
			}}); err != nil {
				return err
			}
		}

		var ms []store.Membership
		for _, row := range communityRows {
			if len(row) < 2 {
				continue
			}
			node, err := tx.FindEntity(strings.TrimSpace(row[0]), namespace)
			if err != nil {
				return err
			}
			if node == nil {
				continue
			}
			ms = append(ms, store.Membership{
				NodeID:    node.ID,
				ClusterID: strings.TrimSpace(row[1]),
				Namespace: namespace,
				Algorithm: importAlgorithm,
			})
		}
		if len(ms) > 0 {
			if err := tx.AddMemberships(ms); err != nil {
				return err
			}
			stats.Memberships = len(ms)
		}

		for _, r := range reports {
			if err := tx.PutClusterSummary(store.ClusterSummary{
				ClusterID: r.cid,
				Namespace: namespace,
				Algorithm: importAlgorithm,
				Label:     r.label,
				Summary:   r.summary,
			}); err != nil {
				return err
			}
			stats.Reports++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import: %w", err)
	}
	return stats, nil
}
