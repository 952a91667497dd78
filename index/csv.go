package index

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Artifact CSV writers. Headers match what the importer and the query
// artifact cache expect.

func writeEntitiesCSV(runDir string, entities map[string]aggEntity) error {
	keys := make([]string, 0, len(entities))
	for k := range entities {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := [][]string{{"name", "label", "description"}}
	for _, k := range keys {
		e := entities[k]
		rows = append(rows, []string{e.name, e.label, ""})
	}
	return writeCSV(filepath.Join(runDir, "entities.csv"), rows)
}

func writeRelationshipsCSV(runDir string, relations map[relKey]float64) error {
	keys := make([]relKey, 0, len(relations))
	for k := range relations {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.src != b.src {
			return a.src < b.src
		}
		if a.tgt != b.tgt {
			return a.tgt < b.tgt
		}
		return a.rel < b.rel
	})

	rows := [][]string{{"source", "target", "relation", "confidence"}}
	for _, k := range keys {
		rows = append(rows, []string{
			k.src, k.tgt, k.rel, strconv.FormatFloat(relations[k], 'f', 2, 64),
		})
	}
	return writeCSV(filepath.Join(runDir, "relationships.csv"), rows)
}

func writeCommunitiesCSV(runDir string, clusters map[string][]string) error {
	rows := [][]string{{"node_name", "cluster_id"}}
	for _, cid := range sortedClusterIDs(clusters) {
		for _, name := range clusters[cid] {
			rows = append(rows, []string{name, cid})
		}
	}
	return writeCSV(filepath.Join(runDir, "communities.csv"), rows)
}

func writeReportsCSV(runDir string, clusters map[string][]string) error {
	rows := [][]string{{"cluster_id", "label", "summary"}}
	for _, cid := range sortedClusterIDs(clusters) {
		members := clusters[cid]
		n := len(members)
		if n > 3 {
			n = 3
		}
		rows = append(rows, []string{cid, strings.Join(members[:n], " / "), ""})
	}
	return writeCSV(filepath.Join(runDir, "community_reports.csv"), rows)
}

func sortedClusterIDs(clusters map[string][]string) []string {
	ids := make([]string, 0, len(clusters))
	for cid := range clusters {
		ids = append(ids, cid)
	}
	// g2 sorts before g10 numerically.
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(strings.TrimPrefix(ids[i], "g"))
		b, _ := strconv.Atoi(strings.TrimPrefix(ids[j], "g"))
		return a < b
	})
	return ids
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// readCSV loads all rows of path, skipping an expected header row.
// A missing file returns nil rows.
func readCSV(path string, headerField string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	all, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(all) > 0 && len(all[0]) > 0 && strings.EqualFold(all[0][0], headerField) {
		all = all[1:]
	}
	return all, nil
}
