package vectorindex

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func sentences(n int) string {
	var b strings.Builder
	for i := range n {
		fmt.Fprintf(&b, "Sentence number %d talks about housing supply and mortgage demand. ", i)
	}
	return b.String()
}

func TestChunker_Validate(t *testing.T) {
	tests := []struct {
		name    string
		chunker Chunker
		wantErr bool
	}{
		{"valid", Chunker{Size: 500, Overlap: 100}, false},
		{"zero overlap", Chunker{Size: 10, Overlap: 0}, false},
		{"overlap equals size", Chunker{Size: 100, Overlap: 100}, true},
		{"overlap exceeds size", Chunker{Size: 100, Overlap: 200}, true},
		{"negative overlap", Chunker{Size: 100, Overlap: -1}, true},
		{"zero size", Chunker{Size: 0, Overlap: 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.chunker.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidChunking) {
				t.Errorf("error %v should wrap ErrInvalidChunking", err)
			}
			if _, splitErr := tt.chunker.Split("some text"); (splitErr != nil) != tt.wantErr {
				t.Errorf("Split() error = %v, wantErr %v", splitErr, tt.wantErr)
			}
		})
	}
}

func TestChunker_ShortText(t *testing.T) {
	c := Chunker{Size: 500, Overlap: 100, MinLength: 50}

	chunks, _ := c.Split("Too short to index.")
	if len(chunks) != 0 {
		t.Errorf("got %d chunks, want 0", len(chunks))
	}

	chunks, _ = c.Split(strings.Repeat("x", 51))
	if len(chunks) != 1 {
		t.Errorf("51-char text: got %d chunks, want 1", len(chunks))
	}

	chunks, _ = c.Split(strings.Repeat("x", 50))
	if len(chunks) != 0 {
		t.Errorf("50-char text: got %d chunks, want 0", len(chunks))
	}
}

func TestChunker_SingleWindow(t *testing.T) {
	c := Chunker{Size: 500, Overlap: 100, MinLength: 50}
	text := sentences(3) // under 500 chars
	chunks, _ := c.Split(text)
	if len(chunks) != 1 || chunks[0] != strings.TrimSpace(text) {
		t.Errorf("Split() = %q", chunks)
	}
}

func TestChunker_CutsAtSentenceBoundary(t *testing.T) {
	c := Chunker{Size: 200, Overlap: 20, MinLength: 50}
	chunks, err := c.Split(sentences(20))
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want several", len(chunks))
	}
	for i, chunk := range chunks[:len(chunks)-1] {
		if !strings.HasSuffix(chunk, ".") {
			t.Errorf("chunk %d should end at a sentence boundary: %q", i, chunk)
		}
	}
}

func TestChunker_IgnoresBoundaryBeforeMidpoint(t *testing.T) {
	c := Chunker{Size: 100, Overlap: 0, MinLength: 10}
	// the only ". " sits at offset 20, before the midpoint of 50
	text := strings.Repeat("a", 20) + ". " + strings.Repeat("b", 200)
	chunks, _ := c.Split(text)
	if utf8.RuneCountInString(chunks[0]) != 100 {
		t.Errorf("first chunk length = %d, want a raw cut at 100", utf8.RuneCountInString(chunks[0]))
	}
}

func TestChunker_SeparatorPreference(t *testing.T) {
	c := Chunker{Size: 100, Overlap: 0, MinLength: 10}
	// "? " is later in the window but ". " comes first in preference order
	text := strings.Repeat("a", 60) + ". " + strings.Repeat("b", 20) + "? " + strings.Repeat("c", 100)
	chunks, _ := c.Split(text)
	want := strings.Repeat("a", 60) + "."
	if chunks[0] != want {
		t.Errorf("first chunk = %q, want cut after the period", chunks[0])
	}
}

func TestChunker_Overlap(t *testing.T) {
	c := Chunker{Size: 100, Overlap: 30, MinLength: 10}
	text := strings.Repeat("abcdefghij", 25) // 250 chars, no separators
	chunks, _ := c.Split(text)

	// windows: [0,100) [70,170) [140,240) [210,250)
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	if chunks[1] != text[70:170] || chunks[3] != text[210:] {
		t.Errorf("unexpected windows: %q", chunks)
	}
}

func TestChunker_Properties(t *testing.T) {
	texts := map[string]string{
		"sentences":  sentences(60),
		"no breaks":  strings.Repeat("z", 3000),
		"paragraphs": strings.Repeat("Line one of a paragraph about rents\n\n", 80),
		"multibyte":  strings.Repeat("Prix immobiliers à Montréal augmentent. Äußerst ", 60),
	}
	configs := []Chunker{
		{Size: 500, Overlap: 100, MinLength: 50},
		{Size: 100, Overlap: 99, MinLength: 50},
		{Size: 120, Overlap: 0, MinLength: 50},
		{Size: 1000, Overlap: 999, MinLength: 50},
	}

	for name, text := range texts {
		for _, c := range configs {
			t.Run(fmt.Sprintf("%s/%d-%d", name, c.Size, c.Overlap), func(t *testing.T) {
				chunks, err := c.Split(text)
				if err != nil {
					t.Fatalf("Split() error = %v", err)
				}
				if len(chunks) == 0 {
					t.Fatal("expected chunks")
				}
				for i, chunk := range chunks {
					n := utf8.RuneCountInString(chunk)
					if n <= c.MinLength || n > c.Size {
						t.Errorf("chunk %d length %d outside (%d, %d]", i, n, c.MinLength, c.Size)
					}
					if !strings.Contains(text, chunk) {
						t.Errorf("chunk %d is not a substring of the input", i)
					}
				}
				if !strings.HasPrefix(text, chunks[0]) {
					t.Errorf("first chunk should start at the beginning of the text")
				}
			})
		}
	}
}

func TestLastIndex(t *testing.T) {
	tests := []struct {
		s, sep string
		want   int
	}{
		{"a. b. c", ". ", 4},
		{"no sep", ". ", -1},
		{"é. x", ". ", 1},
		{"", ". ", -1},
	}
	for _, tt := range tests {
		if got := lastIndex([]rune(tt.s), []rune(tt.sep)); got != tt.want {
			t.Errorf("lastIndex(%q, %q) = %d, want %d", tt.s, tt.sep, got, tt.want)
		}
	}
}
