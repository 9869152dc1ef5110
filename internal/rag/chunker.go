package rag

import (
	"fmt"
	"regexp"
	"strings"
)

// breakpoint markers in the order they are tried; the rightmost match
// wins regardless of which marker produced it.
var chunkMarkers = []string{"\n\n", "\n", ". ", "? ", "! ", "; ", ", ", " "}

var (
	spaceRunRe   = regexp.MustCompile(`[ \t]+`)
	newlineRunRe = regexp.MustCompile(`\n{3,}`)
)

// Chunker splits extracted document text into overlapping passages of at
// most Size runes, preferring paragraph and sentence boundaries over hard
// cuts. The same input always yields the same chunk sequence, so
// re-ingesting a document is idempotent.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, size %d)", ErrConfig, overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Chunk returns the ordered chunk texts for the input. Empty or
// whitespace-only input yields zero chunks and no error.
func (c *Chunker) Chunk(text string) []string {
	normalized := normalizeText(text)
	if normalized == "" {
		return nil
	}

	runes := []rune(normalized)
	total := len(runes)

	var chunks []string
	start := 0
	for start < total {
		end := start + c.size
		if end > total {
			end = total
		} else {
			end = selectBreakpoint(runes, start, end)
			if end <= start {
				end = start + c.size
				if end > total {
					end = total
				}
			}
		}

		piece := string(runes[start:end])
		if strings.TrimSpace(piece) != "" {
			chunks = append(chunks, piece)
		}
		if end >= total {
			break
		}
		// Overlap must never push the window backwards; an early
		// breakpoint combined with a large overlap could otherwise stall.
		next := end - c.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

func normalizeText(text string) string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = spaceRunRe.ReplaceAllString(normalized, " ")
	normalized = newlineRunRe.ReplaceAllString(normalized, "\n\n")
	return strings.TrimSpace(normalized)
}

// selectBreakpoint picks a cut position in (start, targetEnd]. Only the
// last 40% of the window is considered so chunks stay near their target
// size; with no marker there, the hard cut at targetEnd stands.
func selectBreakpoint(runes []rune, start, targetEnd int) int {
	floor := start + (targetEnd-start)*6/10

	best := -1
	bestAdjustment := 0
	for _, marker := range chunkMarkers {
		markerRunes := []rune(marker)
		idx := lastIndexRunes(runes, markerRunes, floor, targetEnd)
		if idx > best {
			best = idx
			bestAdjustment = len([]rune(strings.TrimRight(marker, " ")))
		}
	}
	if best == -1 {
		return targetEnd
	}
	return best + bestAdjustment
}

// lastIndexRunes finds the rightmost occurrence of marker fully inside
// runes[lo:hi], returning the start index or -1.
func lastIndexRunes(runes, marker []rune, lo, hi int) int {
	if lo < 0 {
		lo = 0
	}
	for i := hi - len(marker); i >= lo; i-- {
		match := true
		for j := range marker {
			if runes[i+j] != marker[j] {
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
