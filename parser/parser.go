// Package parser converts uploaded document files into plain text for
// ingestion. Each format parser yields ordered sections; the registry
// picks the parser by file extension and caps total output size.
package parser

import (
	"context"
	"strings"
)

// MaxDocumentChars caps the text handed to the ingest pipeline. Larger
// documents are truncated, not rejected.
const MaxDocumentChars = 120_000

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section
	Method   string // "native"
	Metadata map[string]string
}

// Section is one logical unit of a parsed document.
type Section struct {
	Heading    string
	Content    string
	Level      int // heading level, 1 = top
	PageNumber int
	Type       string // "section", "table", "paragraph"
	Metadata   map[string]string
}

// Text flattens the sections into a single markdown-ish document:
// headings become #-prefixed lines so the chunker can pick section
// boundaries back up.
func (r *ParseResult) Text() string {
	var b strings.Builder
	for _, s := range r.Sections {
		if s.Heading != "" {
			level := s.Level
			if level < 1 {
				level = 1
			}
			if level > 6 {
				level = 6
			}
			b.WriteString(strings.Repeat("#", level))
			b.WriteString(" ")
			b.WriteString(s.Heading)
			b.WriteString("\n\n")
		}
		content := strings.TrimSpace(s.Content)
		if content != "" {
			b.WriteString(content)
			b.WriteString("\n\n")
		}
	}
	text := strings.TrimSpace(b.String())
	if len(text) > MaxDocumentChars {
		text = text[:MaxDocumentChars]
	}
	return text
}

// Parser can parse one or more document formats.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}
