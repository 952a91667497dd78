package chunker

import (
	"regexp"
	"strings"
	"unicode"
)

// ---------------------------------------------------------------------------
// Section header detection
// ---------------------------------------------------------------------------

// allCapsHeader matches uppercase headers like "EXPERIENCE" or
// "SKILLS & TOOLS".
var allCapsHeader = regexp.MustCompile(`^[A-Z][A-Z \-/&+]{2,}$`)

// maxHeaderTokens is the longest a line may be and still count as a
// section header.
const maxHeaderTokens = 8

// IsSectionHeader reports whether a line of text opens a new section:
// a short line that is either fully uppercase or consistently TitleCase.
func IsSectionHeader(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	tokens := strings.Fields(line)
	if len(tokens) == 0 || len(tokens) > maxHeaderTokens {
		return false
	}
	if allCapsHeader.MatchString(line) {
		return true
	}
	// TitleCase: every token starts with an uppercase letter.
	upper := 0
	for _, tok := range tokens {
		r := []rune(tok)[0]
		if !unicode.IsUpper(r) {
			return false
		}
		upper++
	}
	return upper >= 1
}

// section is a header-delimited region of the document.
type section struct {
	title string
	body  string
}

// splitSections walks the text line by line, opening a new section at
// each header. Content before the first header lands in "Root".
func splitSections(text string) []section {
	var sections []section
	cur := section{title: "Root"}
	var body []string

	flush := func() {
		cur.body = strings.Join(body, "\n")
		sections = append(sections, cur)
		body = nil
	}

	for _, line := range strings.Split(text, "\n") {
		if IsSectionHeader(line) {
			flush()
			cur = section{title: strings.TrimSpace(line)}
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}
