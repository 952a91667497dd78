// Package chunker segments raw document text into section-aware chunks
// with deterministic section ids. Chunking is purely lexical: no model
// calls, same input always yields the same chunks.
package chunker

import (
	"strings"
)

// DefaultMaxTokens bounds the estimated token count per chunk.
const DefaultMaxTokens = 450

// Chunk is one bounded window of document text plus its section context.
type Chunk struct {
	Text         string `json:"text"`
	SectionID    string `json:"section_id"`
	SectionTitle string `json:"section_title"`
	LocalIndex   int    `json:"local_index"`
	GlobalIndex  int    `json:"global_index"`
}

// Chunker packs section paragraphs into chunks of bounded estimated size.
type Chunker struct {
	MaxTokens int
}

// New returns a chunker with the given token budget per chunk; values
// <= 0 use DefaultMaxTokens.
func New(maxTokens int) *Chunker {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Chunker{MaxTokens: maxTokens}
}

// Chunk splits text into section-scoped chunks. Lines recognized as
// section headers open a new section; everything before the first header
// belongs to the implicit "Root" section. Within a section, blank-line
// delimited paragraphs are packed greedily up to MaxTokens estimated
// tokens per chunk.
func (c *Chunker) Chunk(text string) []Chunk {
	sections := splitSections(text)

	var chunks []Chunk
	global := 0
	for _, sec := range sections {
		paragraphs := splitParagraphs(sec.body)
		if len(paragraphs) == 0 {
			continue
		}

		local := 0
		var cur []string
		curTokens := 0
		flush := func() {
			if len(cur) == 0 {
				return
			}
			chunks = append(chunks, Chunk{
				Text:         strings.Join(cur, "\n\n"),
				SectionID:    Slug(sec.title),
				SectionTitle: sec.title,
				LocalIndex:   local,
				GlobalIndex:  global,
			})
			local++
			global++
			cur = nil
			curTokens = 0
		}

		for _, p := range paragraphs {
			t := estimateTokens(p)
			if len(cur) > 0 && curTokens+t > c.MaxTokens {
				flush()
			}
			cur = append(cur, p)
			curTokens += t
		}
		flush()
	}

	// Degenerate input (e.g. only headers): fall back to one chunk of
	// the whole body so the document is still represented.
	if len(chunks) == 0 {
		body := strings.TrimSpace(text)
		if body != "" {
			chunks = append(chunks, Chunk{
				Text:         body,
				SectionID:    Slug("Root"),
				SectionTitle: "Root",
			})
		}
	}
	return chunks
}

// Slug converts a section title into a stable id fragment: lowercase,
// runs of non-alphanumerics collapsed to single dashes.
func Slug(title string) string {
	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// estimateTokens approximates the token count of a paragraph as one
// token per four characters, minimum one.
func estimateTokens(p string) int {
	return len(p)/4 + 1
}

func splitParagraphs(body string) []string {
	var out []string
	for _, p := range strings.Split(body, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
