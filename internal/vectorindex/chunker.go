package vectorindex

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidChunking is returned when overlap is not smaller than size.
var ErrInvalidChunking = errors.New("invalid chunking configuration")

// separators are tried in order; the first one found past the window
// midpoint decides the cut.
var separators = [][]rune{
	[]rune(". "),
	[]rune(".\n"),
	[]rune("! "),
	[]rune("? "),
	[]rune("\n\n"),
}

// Chunker splits text into overlapping, sentence-aligned windows. Lengths
// are counted in characters (runes).
type Chunker struct {
	Size      int
	Overlap   int
	MinLength int // chunks must be longer than this to be kept
}

// Validate reports ErrInvalidChunking for configurations that cannot make
// progress.
func (c Chunker) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidChunking, c.Size)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidChunking, c.Overlap)
	}
	if c.Overlap >= c.Size {
		return fmt.Errorf("%w: chunk overlap (%d) must be less than chunk size (%d)", ErrInvalidChunking, c.Overlap, c.Size)
	}
	return nil
}

// Split returns the chunks of text. Each window is at most Size characters;
// a window that does not reach the end of text is cut after the preferred
// separator when that separator lies past the window midpoint. The next
// window starts Overlap characters before the previous cut, and always at
// least one character later than the previous start. Splitting stops once a
// window reaches the end of text.
func (c Chunker) Split(text string) ([]string, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+c.Size, len(runes))
		if end < len(runes) {
			window := runes[start:end]
			for _, sep := range separators {
				if i := lastIndex(window, sep); i > c.Size/2 {
					end = start + i + len(sep)
					break
				}
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if utf8.RuneCountInString(chunk) > c.MinLength {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}
		start = max(end-c.Overlap, start+1)
	}
	return chunks, nil
}

// lastIndex returns the rune offset of the last occurrence of sep in s, or -1.
func lastIndex(s, sep []rune) int {
	for i := len(s) - len(sep); i >= 0; i-- {
		match := true
		for j, r := range sep {
			if s[i+j] != r {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
