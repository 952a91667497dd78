package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// TextParser handles plain text and markdown files. Markdown heading
// lines split the document into sections; plain text stays one section.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md", "markdown"} }

func (p *TextParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading text file: %w", err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return &ParseResult{Method: "native"}, nil
	}

	sections := splitMarkdown(content)
	if len(sections) == 0 {
		sections = []Section{{
			Heading: filepath.Base(path),
			Content: content,
			Level:   1,
			Type:    "paragraph",
		}}
	}
	return &ParseResult{Sections: sections, Method: "native"}, nil
}

// splitMarkdown breaks content on #-style heading lines. Content before
// the first heading becomes an untitled leading section.
func splitMarkdown(content string) []Section {
	lines := strings.Split(content, "\n")
	var sections []Section
	cur := Section{Level: 1, Type: "paragraph"} // leading prose before any heading
	var body strings.Builder
	sawHeading := false

	flush := func() {
		text := strings.TrimSpace(body.String())
		body.Reset()
		if cur.Heading == "" && text == "" {
			return
		}
		cur.Content = text
		sections = append(sections, cur)
	}

	for _, line := range lines {
		if level, heading, ok := markdownHeading(line); ok {
			flush()
			sawHeading = true
			cur = Section{Heading: heading, Level: level, Type: "section"}
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}

	if !sawHeading {
		// No headings at all; caller falls back to a single section.
		return nil
	}
	flush()
	return sections
}

// markdownHeading reports whether line is an ATX heading and returns
// its level and title.
func markdownHeading(line string) (int, string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "#") {
		return 0, "", false
	}
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level > 6 {
		return 0, "", false
	}
	rest := strings.TrimSpace(trimmed[level:])
	if rest == "" {
		return 0, "", false
	}
	return level, rest, true
}
