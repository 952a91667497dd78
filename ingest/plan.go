package ingest

import (
	"fmt"
	"strings"

	"graphrag/chunker"
	"graphrag/extract"
	"graphrag/store"
	"graphrag/vector"
)

// writePlan is the precomputed transactional payload for one document.
// Chunk and section nodes plus mention sets are resolved up front;
// entity ids are resolved inside the transaction so concurrent ingests
// merge instead of duplicating.
type writePlan struct {
	opts       Options
	chunks     []store.Node
	sections   []store.Node
	extraction *extract.Result

	// mentions[ci] lists entity indexes found in chunk ci's text.
	mentions [][]int
	// sectionChunks groups chunk indexes per section node index.
	sectionChunks map[int][]int

	points   []vector.Point
	edges    []store.Edge
	entities int
}

// plan precomputes everything that does not need store state.
func (in *Ingestor) plan(opts Options, chunks []chunker.Chunk, embeddings [][]float32, extraction *extract.Result) *writePlan {
	p := &writePlan{
		opts:          opts,
		extraction:    extraction,
		sectionChunks: make(map[int][]int),
	}

	for i, c := range chunks {
		node := store.Node{
			ID:    store.ChunkNodeID(opts.DocID, c.GlobalIndex),
			Label: store.LabelChunk,
			Name:  fmt.Sprintf("%s chunk %d", opts.DocID, c.GlobalIndex),
			Properties: map[string]any{
				"text":          c.Text,
				"doc_id":        opts.DocID,
				"section_id":    c.SectionID,
				"section_title": c.SectionTitle,
				"chunk_index":   c.GlobalIndex,
				"local_index":   c.LocalIndex,
				"namespace":     opts.Namespace,
			},
			SourceIDs: []string{opts.DocID},
			Namespace: opts.Namespace,
		}
		for k, v := range opts.Metadata {
			node.Properties[k] = v
		}
		if i < len(embeddings) && len(embeddings[i]) > 0 {
			node.Embedding = embeddings[i]
			p.points = append(p.points, vector.Point{
				NodeID: node.ID,
				Label:  store.LabelChunk,
				DocID:  opts.DocID,
				Vector: embeddings[i],
			})
		}
		p.chunks = append(p.chunks, node)
	}

	// One section node per distinct slug, in first-seen order.
	sectionAt := make(map[string]int)
	for ci, c := range chunks {
		if c.SectionID == "" {
			continue
		}
		si, ok := sectionAt[c.SectionID]
		if !ok {
			si = len(p.sections)
			sectionAt[c.SectionID] = si
			p.sections = append(p.sections, store.Node{
				ID:    store.SectionNodeID(opts.DocID, c.SectionID),
				Label: store.LabelSection,
				Name:  c.SectionTitle,
				Properties: map[string]any{
					"doc_id":     opts.DocID,
					"section_id": c.SectionID,
					"namespace":  opts.Namespace,
				},
				SourceIDs: []string{opts.DocID},
				Namespace: opts.Namespace,
			})
		}
		p.sectionChunks[si] = append(p.sectionChunks[si], ci)
	}

	// Case-insensitive mention scan, entity list capped.
	entities := extraction.Entities
	if len(entities) > mentionEntityCap {
		entities = entities[:mentionEntityCap]
	}
	lowered := make([]string, len(entities))
	for i, e := range entities {
		lowered[i] = strings.ToLower(e.Name)
	}
	p.mentions = make([][]int, len(chunks))
	for ci, c := range chunks {
		text := strings.ToLower(c.Text)
		for ei, name := range lowered {
			if name != "" && strings.Contains(text, name) {
				p.mentions[ci] = append(p.mentions[ci], ei)
			}
		}
	}
	return p
}

func (p *writePlan) nodeCount() int {
	return len(p.chunks) + len(p.sections) + p.entities
}

// apply writes the plan inside one transaction: chunk and section
// nodes, merged entities, and every edge family.
func (p *writePlan) apply(tx store.Tx) error {
	if len(p.chunks) > 0 {
		if err := tx.UpsertNodes(p.chunks); err != nil {
			return err
		}
	}
	if len(p.sections) > 0 {
		if err := tx.UpsertNodes(p.sections); err != nil {
			return err
		}
	}

	entityID, err := p.mergeEntities(tx)
	if err != nil {
		return err
	}

	p.edges = p.edges[:0]
	p.extractionEdges(entityID)
	p.containsEdges()
	p.mentionEdges(entityID)
	p.coOccursEdges(entityID)
	p.hasEntityEdges(entityID)
	p.derivedEdges(entityID)

	if len(p.edges) > 0 {
		return tx.UpsertEdges(p.edges)
	}
	return nil
}

// mergeEntities resolves each extracted entity to a canonical node id,
// merging on lowercased name within the namespace.
func (p *writePlan) mergeEntities(tx store.Tx) (map[int]string, error) {
	ids := make(map[int]string, len(p.extraction.Entities))
	for i, e := range p.extraction.Entities {
		if strings.TrimSpace(e.Name) == "" {
			continue
		}
		existing, err := tx.FindEntity(e.Name, p.opts.Namespace)
		if err != nil {
			return nil, err
		}
		node := store.Node{
			ID:    store.EntityNodeID(p.opts.Namespace, e.Name),
			Label: e.Label,
			Name:  e.Name,
			Properties: map[string]any{
				"confidence": e.Confidence,
				"namespace":  p.opts.Namespace,
			},
			SourceIDs: []string{p.opts.DocID},
			Namespace: p.opts.Namespace,
		}
		if existing != nil {
			node.ID = existing.ID
			node.Name = existing.Name
		}
		if err := tx.UpsertNodes([]store.Node{node}); err != nil {
			return nil, err
		}
		ids[i] = node.ID
		p.entities++
	}
	return ids, nil
}

func (p *writePlan) addEdge(srcID, tgtID, relation string, confidence float64) {
	p.edges = append(p.edges, store.Edge{
		ID:         edgeID(srcID, tgtID, relation),
		SourceID:   srcID,
		TargetID:   tgtID,
		Relation:   relation,
		Confidence: confidence,
		Properties: map[string]any{"doc_id": p.opts.DocID},
		Namespace:  p.opts.Namespace,
	})
}

// extractionEdges writes the extractor's relations, resolving endpoint
// names to canonical entity ids. Unresolved endpoints are skipped.
func (p *writePlan) extractionEdges(entityID map[int]string) {
	byName := make(map[string]string)
	for i, e := range p.extraction.Entities {
		if id, ok := entityID[i]; ok {
			byName[strings.ToLower(e.Name)] = id
		}
	}
	for _, r := range p.extraction.Relations {
		src, okS := byName[strings.ToLower(r.Source)]
		tgt, okT := byName[strings.ToLower(r.Target)]
		if !okS || !okT || src == tgt {
			continue
		}
		p.addEdge(src, tgt, r.Relation, r.Confidence)
	}
}

func (p *writePlan) containsEdges() {
	for si, chunkIdxs := range p.sectionChunks {
		for _, ci := range chunkIdxs {
			p.addEdge(p.sections[si].ID, p.chunks[ci].ID, store.RelContains, confContains)
		}
	}
}

// mentionEdges emits entity -> chunk MENTIONED_IN edges, capped per
// entity.
func (p *writePlan) mentionEdges(entityID map[int]string) {
	perEntity := make(map[int]int)
	for ci := range p.chunks {
		for _, ei := range p.mentions[ci] {
			id, ok := entityID[ei]
			if !ok || perEntity[ei] >= mentionChunkCap {
				continue
			}
			perEntity[ei]++
			p.addEdge(id, p.chunks[ci].ID, store.RelMentionedIn, confMention)
		}
	}
}

// coOccursEdges emits one CO_OCCURS edge per unordered entity pair
// sharing at least one chunk.
func (p *writePlan) coOccursEdges(entityID map[int]string) {
	seen := make(map[string]bool)
	for ci := range p.chunks {
		ms := p.mentions[ci]
		for i := 0; i < len(ms); i++ {
			for j := i + 1; j < len(ms); j++ {
				a, okA := entityID[ms[i]]
				b, okB := entityID[ms[j]]
				if !okA || !okB || a == b {
					continue
				}
				src, tgt := orderedPair(a, b)
				key := src + "\x00" + tgt
				if seen[key] {
					continue
				}
				seen[key] = true
				p.addEdge(src, tgt, store.RelCoOccurs, confCoOccurs)
			}
		}
	}
}

// hasEntityEdges links each section to the entities its chunks mention.
func (p *writePlan) hasEntityEdges(entityID map[int]string) {
	for si, chunkIdxs := range p.sectionChunks {
		seen := make(map[string]bool)
		for _, ci := range chunkIdxs {
			for _, ei := range p.mentions[ci] {
				id, ok := entityID[ei]
				if !ok || seen[id] {
					continue
				}
				seen[id] = true
				p.addEdge(p.sections[si].ID, id, store.RelHasEntity, confHasEntity)
			}
		}
	}
}

// derivedEdges emits domain edges per chunk: Role x Organization ->
// ROLE_AT and (Role u Organization) x Technology -> USES_TECH, each
// unordered pair at most once.
func (p *writePlan) derivedEdges(entityID map[int]string) {
	seen := make(map[string]bool)
	emit := func(a, b, relation string, confidence float64) {
		src, tgt := orderedPair(a, b)
		key := src + "\x00" + tgt + "\x00" + relation
		if src == tgt || seen[key] {
			return
		}
		seen[key] = true
		p.addEdge(a, b, relation, confidence)
	}

	for ci := range p.chunks {
		var roles, orgs, techs []string
		for _, ei := range p.mentions[ci] {
			id, ok := entityID[ei]
			if !ok {
				continue
			}
			switch p.extraction.Entities[ei].Label {
			case store.LabelRole:
				roles = append(roles, id)
			case store.LabelOrganization:
				orgs = append(orgs, id)
			case store.LabelTechnology:
				techs = append(techs, id)
			}
		}
		for _, r := range roles {
			for _, o := range orgs {
				emit(r, o, store.RelRoleAt, confRoleAt)
			}
		}
		for _, x := range append(append([]string{}, roles...), orgs...) {
			for _, t := range techs {
				emit(x, t, store.RelUsesTech, confUsesTech)
			}
		}
	}
}
