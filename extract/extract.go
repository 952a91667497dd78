// Package extract turns document text into candidate entities and
// relations. Two extractors implement the same contract: an LLM-backed
// one and a lexical heuristic used as fallback when no model is
// configured or the model call fails.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"graphrag/llm"
	"graphrag/store"
)

// Caps keep a single pathological document from flooding the graph.
const (
	maxLLMEntities       = 200
	maxLLMRelations      = 400
	maxHeuristicEntities = 80
	maxPhraseEntities    = 50
	defaultConfidence    = 0.7
	chainConfidence      = 0.35
)

// Entity is an extracted named thing with a refined label.
type Entity struct {
	Name       string  `json:"name"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Relation connects two extracted entities by name.
type Relation struct {
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Relation   string  `json:"relation"`
	Confidence float64 `json:"confidence"`
}

// Result is the output of one extraction pass.
type Result struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
	Reasoning string     `json:"reasoning"`
}

// Extractor maps text to entities and relations.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Result, error)
}

// --- LLM extractor ---

// LLM extracts entities and relations with a chat model in JSON mode.
type LLM struct {
	Provider llm.Provider
	Model    string
}

// NewLLM returns an extractor backed by the given provider.
func NewLLM(p llm.Provider, model string) *LLM {
	return &LLM{Provider: p, Model: model}
}

const extractionPrompt = `Extract the entities and relationships from the text below.
Respond with JSON only, in this shape:
{"entities":[{"name":"...","type":"Entity|Technology|Organization|Role|Achievement","confidence":0.0}],
 "relations":[{"source":"...","target":"...","relation":"RELATED_TO|ROLE_AT|USES_TECH","confidence":0.0}]}
Keep entity names short (under 10 words). Only include relations between extracted entities.

TEXT:
`

func (e *LLM) Extract(ctx context.Context, text string) (*Result, error) {
	resp, err := e.Provider.Chat(ctx, llm.ChatRequest{
		Model: e.Model,
		Messages: []llm.Message{
			{Role: "system", Content: "You extract knowledge graphs from documents."},
			{Role: "user", Content: extractionPrompt + text},
		},
		Temperature:    0.1,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("extraction chat: %w", err)
	}

	var raw struct {
		Entities []struct {
			Name       string  `json:"name"`
			Type       string  `json:"type"`
			Confidence float64 `json:"confidence"`
		} `json:"entities"`
		Relations []struct {
			Source     string  `json:"source"`
			Target     string  `json:"target"`
			Relation   string  `json:"relation"`
			Confidence float64 `json:"confidence"`
		} `json:"relations"`
	}
	if err := json.Unmarshal([]byte(stripFences(resp.Content)), &raw); err != nil {
		return nil, fmt.Errorf("parsing extraction response: %w", err)
	}

	res := &Result{Reasoning: "llm extraction"}
	seen := map[string]bool{}
	for _, en := range raw.Entities {
		name := strings.TrimSpace(en.Name)
		if name == "" || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		label := en.Type
		if label == "" {
			label = store.LabelEntity
		}
		conf := en.Confidence
		if conf <= 0 || conf > 1 {
			conf = defaultConfidence
		}
		res.Entities = append(res.Entities, Entity{Name: name, Label: label, Confidence: conf})
		if len(res.Entities) >= maxLLMEntities {
			break
		}
	}
	for _, r := range raw.Relations {
		if r.Source == "" || r.Target == "" {
			continue
		}
		rel := r.Relation
		if rel == "" {
			rel = store.RelRelatedTo
		}
		conf := r.Confidence
		if conf <= 0 || conf > 1 {
			conf = defaultConfidence
		}
		res.Relations = append(res.Relations, Relation{
			Source: r.Source, Target: r.Target, Relation: rel, Confidence: conf,
		})
		if len(res.Relations) >= maxLLMRelations {
			break
		}
	}
	return res, nil
}

// stripFences removes a surrounding markdown code fence, which some
// models emit even in JSON mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
