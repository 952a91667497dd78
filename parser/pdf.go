package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts plain text per page. Heading detection is a light
// heuristic (short all-caps or numbered lines); everything else folds
// into the running section body.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	var sections []Section
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Pages that fail extraction are skipped, not fatal.
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sections = append(sections, splitPage(text, i)...)
	}

	if len(sections) == 0 {
		return nil, fmt.Errorf("pdf: no extractable text in %s", path)
	}
	return &ParseResult{Sections: sections, Method: "native"}, nil
}

// splitPage breaks one page's text on heading-looking lines.
func splitPage(text string, pageNum int) []Section {
	var sections []Section
	cur := Section{PageNumber: pageNum, Level: 1, Type: "paragraph"}
	var body strings.Builder

	flush := func() {
		content := strings.TrimSpace(body.String())
		body.Reset()
		if cur.Heading == "" && content == "" {
			return
		}
		cur.Content = content
		sections = append(sections, cur)
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			body.WriteString("\n")
			continue
		}
		if pdfHeading(trimmed) {
			flush()
			cur = Section{
				Heading:    trimmed,
				Level:      pdfHeadingLevel(trimmed),
				PageNumber: pageNum,
				Type:       "section",
			}
			continue
		}
		body.WriteString(trimmed)
		body.WriteString("\n")
	}
	flush()

	if len(sections) == 0 {
		sections = append(sections, Section{
			Content:    text,
			PageNumber: pageNum,
			Level:      1,
			Type:       "paragraph",
		})
	}
	return sections
}

// pdfHeading matches short all-caps lines and numbered headings like
// "2.1 Architecture".
func pdfHeading(line string) bool {
	if len(line) > 120 {
		return false
	}
	if len(line) > 2 && len(line) < 80 && line == strings.ToUpper(line) && strings.ContainsFunc(line, func(r rune) bool {
		return r >= 'A' && r <= 'Z'
	}) {
		return true
	}
	if line[0] >= '0' && line[0] <= '9' {
		head := line
		if len(head) > 10 {
			head = head[:10]
		}
		if strings.Contains(head, ".") || strings.Contains(head, " ") {
			return true
		}
	}
	return false
}

func pdfHeadingLevel(heading string) int {
	first := strings.SplitN(heading, " ", 2)[0]
	if dots := strings.Count(first, "."); dots > 0 {
		return dots
	}
	return 1
}
