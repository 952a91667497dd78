package query

import (
	"context"
	"fmt"
	"strings"

	"graphrag/llm"
	"graphrag/retrieval"
	"graphrag/store"
)

// maxContextChunks bounds the chunk texts assembled into the prompt.
const maxContextChunks = 5

// AnswerResult is the answer operation output. Answer is empty when no
// context was found or no chat model is configured.
type AnswerResult struct {
	Answer          string             `json:"answer"`
	ContextNodes    []retrieval.Result `json:"context_nodes"`
	ContextEdges    []store.Edge       `json:"context_edges"`
	RetrievalMeta   *retrieval.Meta    `json:"retrieval_meta"`
	ContributingIDs []string           `json:"contributing_ids"`
}

// Answerer retrieves context for a question and synthesises a grounded
// answer with the chat model.
type Answerer struct {
	retriever *retrieval.Engine
	chat      llm.Provider
}

// NewAnswerer creates an answerer. A nil chat provider degrades to
// retrieval-only responses.
func NewAnswerer(r *retrieval.Engine, chat llm.Provider) *Answerer {
	return &Answerer{retriever: r, chat: chat}
}

// Answer runs retrieval and, when chunk context exists, asks the chat
// model for a grounded answer.
func (a *Answerer) Answer(ctx context.Context, question string, topK int, namespace string) (*AnswerResult, error) {
	results, edges, meta, err := a.retriever.Retrieve(ctx, question, retrieval.Options{
		Namespace:    namespace,
		TopK:         topK,
		IncludeEdges: true,
	})
	if err != nil {
		return nil, err
	}

	res := &AnswerResult{
		ContextNodes:  results,
		ContextEdges:  edges,
		RetrievalMeta: meta,
	}

	var texts []string
	for _, r := range results {
		if r.Node.Label != store.LabelChunk {
			continue
		}
		text, _ := r.Node.Properties["text"].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		texts = append(texts, text)
		res.ContributingIDs = append(res.ContributingIDs, r.Node.ID)
		if len(texts) == maxContextChunks {
			break
		}
	}

	if len(texts) == 0 || a.chat == nil {
		return res, nil
	}

	prompt := fmt.Sprintf(
		"Answer the question using only the context below. If the context is insufficient, say so.\n\nContext:\n%s\n\nQuestion: %s",
		strings.Join(texts, "\n---\n"), question)

	resp, err := a.chat.Chat(ctx, llm.ChatRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("query: answer synthesis: %w", err)
	}
	res.Answer = strings.TrimSpace(resp.Content)
	return res, nil
}
