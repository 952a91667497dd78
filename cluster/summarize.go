package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"graphrag/llm"
	"graphrag/store"
)

const (
	// Sliding-window rate limit per namespace.
	summaryRateLimit  = 15
	summaryRateWindow = time.Minute

	// dailyTokenBudget bounds summary generation per UTC day.
	dailyTokenBudget = 20000

	// perSummaryTokenCap bounds a single summary request.
	perSummaryTokenCap = 400

	maxLabelLen   = 120
	maxSummaryLen = 800

	// Top-term extraction bounds.
	maxTopTerms = 8
	minTermLen  = 2
	maxTermLen  = 30

	// maxPromptEntities is how many sample names the prompt carries.
	maxPromptEntities = 6
)

// Summary is the result for one cluster.
type Summary struct {
	ClusterID string `json:"cluster_id"`
	Label     string `json:"label"`
	Summary   string `json:"summary"`
	Cached    bool   `json:"cached"`
}

// Summarizer generates cluster labels and summaries with the chat
// model, cached by top-terms hash and bounded by a rate limit and a
// daily token budget.
type Summarizer struct {
	store store.Backend
	chat  llm.Provider

	// Zero values fall back to the package defaults above.
	RateLimitPerMin  int
	DailyTokenBudget int
	PerSummaryCap    int

	mu         sync.Mutex
	calls      map[string][]time.Time // namespace -> recent call times
	tokensUsed int
	budgetDay  string
}

// NewSummarizer creates a summarizer. A nil chat provider always takes
// the heuristic path.
func NewSummarizer(b store.Backend, chat llm.Provider) *Summarizer {
	return &Summarizer{store: b, chat: chat, calls: make(map[string][]time.Time)}
}

func (s *Summarizer) rateLimit() int {
	if s.RateLimitPerMin > 0 {
		return s.RateLimitPerMin
	}
	return summaryRateLimit
}

func (s *Summarizer) dailyBudget() int {
	if s.DailyTokenBudget > 0 {
		return s.DailyTokenBudget
	}
	return dailyTokenBudget
}

func (s *Summarizer) perSummaryCap() int {
	if s.PerSummaryCap > 0 {
		return s.PerSummaryCap
	}
	return perSummaryTokenCap
}

// Summarize produces one Summary per requested cluster id.
func (s *Summarizer) Summarize(ctx context.Context, namespace string, clusters []Info, maxTokens int) ([]Summary, error) {
	if cap := s.perSummaryCap(); maxTokens <= 0 || maxTokens > cap {
		maxTokens = cap
	}

	out := make([]Summary, 0, len(clusters))
	for _, c := range clusters {
		out = append(out, s.summarizeOne(ctx, namespace, c, maxTokens))
	}
	return out, nil
}

func (s *Summarizer) summarizeOne(ctx context.Context, namespace string, c Info, maxTokens int) Summary {
	if !s.allow(namespace) {
		return Summary{ClusterID: c.ID, Label: c.ID, Summary: "Rate limit exceeded; try again later."}
	}

	terms := topTerms(c.SampleNodes, c.NodeIDs)
	hash := strings.Join(terms, "|")

	if cached, err := s.store.GetClusterSummary(ctx, namespace, c.ID, Algorithm, hash); err == nil && cached != nil {
		return Summary{ClusterID: c.ID, Label: cached.Label, Summary: cached.Summary, Cached: true}
	}

	if !s.spendBudget(maxTokens) {
		return Summary{ClusterID: c.ID, Label: c.ID, Summary: "Daily summary budget exhausted."}
	}

	label, summary := s.generate(ctx, c, terms, maxTokens)
	label = truncate(label, maxLabelLen)
	summary = truncate(summary, maxSummaryLen)

	if err := s.store.Update(ctx, func(tx store.Tx) error {
		return tx.PutClusterSummary(store.ClusterSummary{
			ClusterID:    c.ID,
			Namespace:    namespace,
			Algorithm:    Algorithm,
			TopTermsHash: hash,
			Label:        label,
			Summary:      summary,
			TokenCount:   maxTokens,
		})
	}); err != nil {
		slog.Warn("cluster: persisting summary failed", "cluster", c.ID, "error", err)
	}

	return Summary{ClusterID: c.ID, Label: label, Summary: summary}
}

// generate asks the chat model for a label and summary, falling back to
// a heuristic label built from the top terms.
func (s *Summarizer) generate(ctx context.Context, c Info, terms []string, maxTokens int) (string, string) {
	heuristicLabel := c.ID
	if len(terms) > 0 {
		n := len(terms)
		if n > 3 {
			n = 3
		}
		heuristicLabel = strings.Join(terms[:n], " / ")
	}

	if s.chat == nil {
		return heuristicLabel, fmt.Sprintf("Cluster of %d nodes around: %s.", c.Size, strings.Join(terms, ", "))
	}

	samples := c.SampleNodes
	if len(samples) > maxPromptEntities {
		samples = samples[:maxPromptEntities]
	}

	prompt := fmt.Sprintf(
		"You label clusters in a knowledge graph.\n"+
			"TOP_TERMS: %s\nSAMPLE_ENTITIES: %s\nCLUSTER_SIZE: %d\n\n"+
			`Reply with JSON only: {"label": "...", "summary": "..."}`,
		strings.Join(terms, ", "), strings.Join(samples, ", "), c.Size)

	resp, err := s.chat.Chat(ctx, llm.ChatRequest{
		Messages:       []llm.Message{{Role: "user", Content: prompt}},
		Temperature:    0.3,
		MaxTokens:      maxTokens,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("cluster: summary generation failed", "cluster", c.ID, "error", err)
		return heuristicLabel, fmt.Sprintf("Cluster of %d nodes around: %s.", c.Size, strings.Join(terms, ", "))
	}

	var parsed struct {
		Label   string `json:"label"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Content)), &parsed); err != nil || parsed.Label == "" {
		return heuristicLabel, strings.TrimSpace(resp.Content)
	}
	return parsed.Label, parsed.Summary
}

// allow applies the per-namespace sliding-window rate limit.
func (s *Summarizer) allow(namespace string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-summaryRateWindow)
	recent := s.calls[namespace][:0]
	for _, t := range s.calls[namespace] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= s.rateLimit() {
		s.calls[namespace] = recent
		return false
	}
	s.calls[namespace] = append(recent, now)
	return true
}

// spendBudget reserves tokens against the daily budget, resetting at
// UTC midnight.
func (s *Summarizer) spendBudget(tokens int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := time.Now().UTC().Format("2006-01-02")
	if day != s.budgetDay {
		s.budgetDay = day
		s.tokensUsed = 0
	}
	if s.tokensUsed+tokens > s.dailyBudget() {
		return false
	}
	s.tokensUsed += tokens
	return true
}

// topTerms extracts the most frequent alphanumeric terms from member
// names, preferring sample names and falling back to node ids.
func topTerms(sampleNames, nodeIDs []string) []string {
	source := sampleNames
	if len(source) == 0 {
		source = nodeIDs
	}

	freq := make(map[string]int)
	for _, name := range source {
		for _, tok := range strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
		}) {
			if len(tok) < minTermLen || len(tok) > maxTermLen {
				continue
			}
			freq[tok]++
		}
	}

	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > maxTopTerms {
		terms = terms[:maxTopTerms]
	}
	return terms
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
