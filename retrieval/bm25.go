package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"graphrag/store"
)

// Okapi BM25 parameters.
const (
	bm25K1 = 1.5
	bm25B  = 0.75
)

var wordRe = regexp.MustCompile(`\w+`)

// tokenize lowercases and splits on word boundaries.
func tokenize(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// bm25Index is a small in-memory lexical index over chunk text. The
// corpus is rebuilt per query; at the chunk-scan cap this is cheap
// enough not to warrant a persistent index.
type bm25Index struct {
	termFreqs []map[string]int
	docLens   []int
	avgLen    float64
	docFreq   map[string]int
}

type scoredDoc struct {
	doc   int
	score float64
}

// newBM25 indexes the text property of the given chunk nodes.
func newBM25(chunks []store.Node) *bm25Index {
	idx := &bm25Index{
		termFreqs: make([]map[string]int, len(chunks)),
		docLens:   make([]int, len(chunks)),
		docFreq:   make(map[string]int),
	}

	totalLen := 0
	for i, c := range chunks {
		text, _ := c.Properties["text"].(string)
		terms := tokenize(text)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		idx.termFreqs[i] = tf
		idx.docLens[i] = len(terms)
		totalLen += len(terms)
		for t := range tf {
			idx.docFreq[t]++
		}
	}
	if len(chunks) > 0 {
		idx.avgLen = float64(totalLen) / float64(len(chunks))
	}
	return idx
}

// search scores all documents against the query and returns the topK
// with positive scores, ordered by score descending then doc index.
func (idx *bm25Index) search(query string, topK int) []scoredDoc {
	terms := tokenize(query)
	if len(terms) == 0 || len(idx.termFreqs) == 0 {
		return nil
	}
	n := float64(len(idx.termFreqs))

	var out []scoredDoc
	for d, tf := range idx.termFreqs {
		var score float64
		for _, t := range terms {
			f := float64(tf[t])
			if f == 0 {
				continue
			}
			df := float64(idx.docFreq[t])
			idf := math.Log1p((n - df + 0.5) / (df + 0.5))
			norm := 1 - bm25B + bm25B*float64(idx.docLens[d])/idx.avgLen
			score += idf * f * (bm25K1 + 1) / (f + bm25K1*norm)
		}
		if score > 0 {
			out = append(out, scoredDoc{doc: d, score: score})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].doc < out[j].doc
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}
