package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTextParserPlain(t *testing.T) {
	path := writeFile(t, "notes.txt", "Alice works at Initech.\nShe deploys with Docker.")

	res, err := (&TextParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 1 {
		t.Fatalf("sections = %+v", res.Sections)
	}
	if res.Sections[0].Heading != "notes.txt" || !strings.Contains(res.Sections[0].Content, "Docker") {
		t.Fatalf("section = %+v", res.Sections[0])
	}
}

func TestTextParserMarkdownSections(t *testing.T) {
	md := `Intro paragraph before any heading.

# Architecture

The service runs on Kubernetes.

## Storage

SQLite with a vector extension.
`
	path := writeFile(t, "doc.md", md)

	res, err := (&TextParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 3 {
		t.Fatalf("sections = %+v", res.Sections)
	}
	if res.Sections[0].Heading != "" || !strings.Contains(res.Sections[0].Content, "Intro paragraph") {
		t.Fatalf("leading section = %+v", res.Sections[0])
	}
	if res.Sections[1].Heading != "Architecture" || res.Sections[1].Level != 1 {
		t.Fatalf("section 1 = %+v", res.Sections[1])
	}
	if res.Sections[2].Heading != "Storage" || res.Sections[2].Level != 2 {
		t.Fatalf("section 2 = %+v", res.Sections[2])
	}
	if !strings.Contains(res.Sections[2].Content, "SQLite") {
		t.Fatalf("section 2 content = %q", res.Sections[2].Content)
	}
}

func TestTextParserEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.txt", "   \n")
	res, err := (&TextParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 0 {
		t.Fatalf("sections = %+v", res.Sections)
	}
}

func TestMarkdownHeading(t *testing.T) {
	cases := []struct {
		line    string
		level   int
		heading string
		ok      bool
	}{
		{"# Title", 1, "Title", true},
		{"  ### Deep One", 3, "Deep One", true},
		{"####### Too deep", 0, "", false},
		{"#", 0, "", false},
		{"no heading", 0, "", false},
	}
	for _, c := range cases {
		level, heading, ok := markdownHeading(c.line)
		if level != c.level || heading != c.heading || ok != c.ok {
			t.Errorf("markdownHeading(%q) = %d %q %v", c.line, level, heading, ok)
		}
	}
}

func TestParseResultTextFlattens(t *testing.T) {
	res := &ParseResult{Sections: []Section{
		{Heading: "Architecture", Level: 1, Content: "The service."},
		{Heading: "Storage", Level: 2, Content: "SQLite."},
		{Content: "Trailing note."},
	}}

	text := res.Text()
	want := "# Architecture\n\nThe service.\n\n## Storage\n\nSQLite.\n\nTrailing note."
	if text != want {
		t.Fatalf("text = %q", text)
	}
}

func TestParseResultTextCapped(t *testing.T) {
	res := &ParseResult{Sections: []Section{
		{Content: strings.Repeat("x", MaxDocumentChars+5000)},
	}}
	if got := len(res.Text()); got != MaxDocumentChars {
		t.Fatalf("len = %d", got)
	}
}

func TestXLSXParser(t *testing.T) {
	f := excelize.NewFile()
	f.SetCellValue("Sheet1", "A1", "name")
	f.SetCellValue("Sheet1", "B1", "role")
	f.SetCellValue("Sheet1", "A2", "Alice")
	f.SetCellValue("Sheet1", "B2", "Engineer")
	path := filepath.Join(t.TempDir(), "team.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatal(err)
	}
	f.Close()

	res, err := (&XLSXParser{}).Parse(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Sections) != 1 || res.Sections[0].Type != "table" {
		t.Fatalf("sections = %+v", res.Sections)
	}
	if !strings.Contains(res.Sections[0].Content, "| Alice | Engineer |") {
		t.Fatalf("content = %q", res.Sections[0].Content)
	}
	if res.Sections[0].Metadata["row_count"] != "2" {
		t.Fatalf("metadata = %+v", res.Sections[0].Metadata)
	}
}

func TestPDFHeadingHeuristics(t *testing.T) {
	headings := []string{"OVERVIEW", "2.1 Architecture", "3 Introduction"}
	for _, h := range headings {
		if !pdfHeading(h) {
			t.Errorf("pdfHeading(%q) = false", h)
		}
	}
	body := []string{"a normal sentence about things.", strings.Repeat("X", 130), ""}
	for _, b := range body {
		if b != "" && pdfHeading(b) {
			t.Errorf("pdfHeading(%q) = true", b)
		}
	}
	if pdfHeadingLevel("2.1.3 Detail") != 2 {
		t.Fatalf("level = %d", pdfHeadingLevel("2.1.3 Detail"))
	}
}

func TestRegistryParseFile(t *testing.T) {
	r := NewRegistry()

	path := writeFile(t, "doc.md", "# Title\n\nBody text.")
	text, err := r.ParseFile(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if text != "# Title\n\nBody text." {
		t.Fatalf("text = %q", text)
	}

	if _, err := r.ParseFile(context.Background(), "slides.pptx"); err == nil {
		t.Fatal("expected error for unregistered format")
	}
}
