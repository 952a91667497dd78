package chunker

import (
	"reflect"
	"strings"
	"testing"
)

func TestIsSectionHeader(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"EXPERIENCE", true},
		{"SKILLS & TOOLS", true},
		{"Professional Experience", true},
		{"Side Projects", true},
		{"", false},
		{"   ", false},
		{"this is a normal sentence in a paragraph", false},
		{"The quick brown fox jumps over the lazy dog today again", false}, // too many tokens
		{"lowercase start", false},
		{"Mixed case But lower", false},
	}
	for _, tt := range tests {
		if got := IsSectionHeader(tt.line); got != tt.want {
			t.Errorf("IsSectionHeader(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Root", "root"},
		{"Professional Experience", "professional-experience"},
		{"SKILLS & TOOLS", "skills-tools"},
		{"  Odd -- Spacing  ", "odd-spacing"},
		{"2024 Highlights", "2024-highlights"},
	}
	for _, tt := range tests {
		if got := Slug(tt.in); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChunkSections(t *testing.T) {
	text := "intro paragraph before any header\n\n" +
		"EXPERIENCE\n" +
		"worked on distributed systems\n\n" +
		"shipped a search service\n\n" +
		"Side Projects\n" +
		"built a game engine\n"

	chunks := New(0).Chunk(text)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3: %+v", len(chunks), chunks)
	}

	if chunks[0].SectionID != "root" || chunks[0].SectionTitle != "Root" {
		t.Errorf("chunk 0 section = %q/%q", chunks[0].SectionID, chunks[0].SectionTitle)
	}
	if chunks[1].SectionID != "experience" {
		t.Errorf("chunk 1 section = %q", chunks[1].SectionID)
	}
	if chunks[2].SectionID != "side-projects" {
		t.Errorf("chunk 2 section = %q", chunks[2].SectionID)
	}
	for i, c := range chunks {
		if c.GlobalIndex != i {
			t.Errorf("chunk %d global index = %d", i, c.GlobalIndex)
		}
	}
	if chunks[1].LocalIndex != 0 {
		t.Errorf("first chunk of section local index = %d", chunks[1].LocalIndex)
	}
}

func TestChunkPackingRespectsBudget(t *testing.T) {
	// Each paragraph estimates to ~26 tokens; budget 30 forces one
	// paragraph per chunk.
	para := strings.Repeat("x", 100)
	text := para + "\n\n" + para + "\n\n" + para
	chunks := New(30).Chunk(text)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Text != para {
			t.Errorf("chunk %d text mangled", i)
		}
		if c.LocalIndex != i {
			t.Errorf("chunk %d local index = %d", i, c.LocalIndex)
		}
	}

	// A generous budget packs them all together.
	chunks = New(1000).Chunk(text)
	if len(chunks) != 1 {
		t.Fatalf("packed chunks = %d, want 1", len(chunks))
	}
}

func TestChunkFallbackSingleChunk(t *testing.T) {
	// A document that is nothing but headers still yields one chunk.
	chunks := New(0).Chunk("TITLE ONE\nTITLE TWO\n")
	if len(chunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(chunks))
	}
	if chunks[0].SectionTitle != "Root" {
		t.Errorf("fallback section = %q", chunks[0].SectionTitle)
	}

	if got := New(0).Chunk("   \n  \n"); len(got) != 0 {
		t.Errorf("blank input produced chunks: %v", got)
	}
}

func TestChunkDeterministic(t *testing.T) {
	text := "INTRO\nfirst paragraph\n\nsecond paragraph\n\nDETAILS\nmore text here\n"
	a := New(0).Chunk(text)
	b := New(0).Chunk(text)
	if !reflect.DeepEqual(a, b) {
		t.Error("chunking is not deterministic")
	}
}
