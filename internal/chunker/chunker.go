package chunker

import (
	"fmt"
	"strconv"
	"strings"

	"docqa/internal/domain"
)

const (
	DefaultSize    = 1000
	DefaultOverlap = 200
)

// Chunker splits text into overlapping windows that prefer sentence boundaries.
type Chunker struct {
	size    int
	overlap int
}

// New validates the window configuration.
func New(size, overlap int) (*Chunker, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text with the configured size and overlap.
func (c *Chunker) Chunk(text string) ([]string, error) {
	return Split(text, c.size, c.overlap)
}

// ChunkDocument splits text and tags every piece with the owning document.
func (c *Chunker) ChunkDocument(documentID, source, text string) ([]domain.Chunk, error) {
	pieces, err := c.Chunk(text)
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = domain.Chunk{
			DocumentID: documentID,
			ChunkID:    documentID + ":" + strconv.Itoa(i),
			Index:      i,
			Text:       p,
			Source:     source,
		}
	}
	return chunks, nil
}

func validate(size, overlap int) error {
	if size <= 0 || overlap < 0 || overlap >= size {
		return fmt.Errorf("%w: size=%d overlap=%d", domain.ErrInvalidChunkConfig, size, overlap)
	}
	return nil
}

// Split cuts text into windows of at most size runes. A window that does not
// reach the end of the text is shortened to the last '.', '!', '?' or newline
// when that boundary lies past the window midpoint. Consecutive windows share
// overlap runes. Chunks are trimmed and blank chunks dropped.
func Split(text string, size, overlap int) ([]string, error) {
	if err := validate(size, overlap); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	runes := []rune(text)
	if len(runes) <= size {
		if strings.TrimSpace(text) == "" {
			return nil, domain.ErrEmptyResult
		}
		return []string{text}, nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else if cut := lastBreak(runes[start:end]); cut > size/2 {
			end = start + cut + 1
		}
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			chunks = append(chunks, piece)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	if len(chunks) == 0 {
		return nil, domain.ErrEmptyResult
	}
	return chunks, nil
}

func lastBreak(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		switch window[i] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return -1
}
