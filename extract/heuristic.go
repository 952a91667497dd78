package extract

import (
	"context"
	"regexp"
	"strings"

	"graphrag/store"
)

// domainKeywords are always picked up regardless of casing.
var domainKeywords = []string{
	"python", "golang", "kubernetes", "docker", "terraform",
	"postgres", "sqlite", "redis", "kafka", "aws", "gcp", "azure",
	"pytorch", "tensorflow", "react", "graphql",
}

var (
	capitalToken = regexp.MustCompile(`^[A-Z][a-zA-Z0-9\-]{2,}$`)
	acronymToken = regexp.MustCompile(`^[A-Z]{2,6}$`)
	wordSplit    = regexp.MustCompile(`[^\w\-]+`)
	properPhrase = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`)
)

// Heuristic is the no-model extractor: capital-initial tokens, acronyms,
// and a small domain keyword list, connected in encounter order.
type Heuristic struct{}

// NewHeuristic returns the lexical fallback extractor.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) Extract(ctx context.Context, text string) (*Result, error) {
	var names []string
	seen := map[string]bool{}
	add := func(name string) {
		key := strings.ToLower(name)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		names = append(names, name)
	}

	for _, tok := range wordSplit.Split(text, -1) {
		if len(names) >= maxHeuristicEntities {
			break
		}
		switch {
		case acronymToken.MatchString(tok):
			add(tok)
		case capitalToken.MatchString(tok):
			add(tok)
		}
	}
	lower := strings.ToLower(text)
	for _, kw := range domainKeywords {
		if len(names) >= maxHeuristicEntities {
			break
		}
		if strings.Contains(lower, kw) {
			add(kw)
		}
	}

	// Nothing found at token level: mine multi-word proper-noun phrases
	// so the document still contributes some graph structure.
	if len(names) == 0 {
		for _, phrase := range properPhrase.FindAllString(text, maxPhraseEntities) {
			add(phrase)
		}
	}

	res := &Result{Reasoning: "heuristic extraction (capitalized tokens, acronyms, domain keywords)"}
	for _, n := range names {
		res.Entities = append(res.Entities, Entity{
			Name:       n,
			Label:      store.LabelEntity,
			Confidence: chainConfidence,
		})
	}
	// Chain consecutive entities so the graph is connected even without
	// model-provided relations.
	for i := 1; i < len(names); i++ {
		res.Relations = append(res.Relations, Relation{
			Source:     names[i-1],
			Target:     names[i],
			Relation:   store.RelRelatedTo,
			Confidence: chainConfidence,
		})
	}
	return res, nil
}
