// Package chunker splits document text into token-bounded segments and
// computes the content digests used as dedup keys.
package chunker

import (
	"fmt"
	"unicode"
)

// Chunk is one token-bounded segment of a document. Index is a dense 0-based
// sequence per document; chunks are recomputed from scratch every run.
type Chunk struct {
	Text       string
	Index      int
	TokenCount int
}

// Split divides text into chunks of at most maxTokens tokens each, with an
// optional token overlap between consecutive chunks. A token is a
// whitespace-delimited word; chunk text is always an exact substring of the
// input, so hashing a chunk's text is stable across runs.
//
// Text that fits within maxTokens yields exactly one chunk, including the
// empty string (one chunk with TokenCount 0). overlapTokens is capped to
// maxTokens/2.
func Split(text string, maxTokens, overlapTokens int) ([]Chunk, error) {
	if maxTokens <= 0 {
		return nil, fmt.Errorf("chunker: maxTokens must be positive, got %d", maxTokens)
	}
	if overlapTokens < 0 {
		return nil, fmt.Errorf("chunker: overlapTokens must be non-negative, got %d", overlapTokens)
	}
	if cap := maxTokens / 2; overlapTokens > cap {
		overlapTokens = cap
	}

	starts := tokenStarts(text)
	total := len(starts)

	if total <= maxTokens {
		return []Chunk{{Text: text, Index: 0, TokenCount: total}}, nil
	}

	// offset(i) is the byte position where token i begins; offset(total) is
	// the end of the text, so a chunk spanning tokens [a,b) carries the
	// whitespace up to the next token (or end of input) with it.
	offset := func(i int) int {
		if i >= total {
			return len(text)
		}
		return starts[i]
	}

	step := maxTokens - overlapTokens
	var chunks []Chunk
	for start := 0; start < total; start += step {
		end := start + maxTokens
		if end > total {
			end = total
		}
		chunks = append(chunks, Chunk{
			Text:       text[offset(start):offset(end)],
			Index:      len(chunks),
			TokenCount: end - start,
		})
		if end == total {
			break
		}
	}

	return chunks, nil
}

// CountTokens returns the number of whitespace-delimited tokens in text.
func CountTokens(text string) int {
	return len(tokenStarts(text))
}

// tokenStarts returns the byte offset of each token's first rune. The first
// entry is forced to 0 so leading whitespace stays attached to the first
// chunk and no input bytes are dropped.
func tokenStarts(text string) []int {
	var starts []int
	inToken := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inToken = false
			continue
		}
		if !inToken {
			starts = append(starts, i)
			inToken = true
		}
	}
	if len(starts) > 0 {
		starts[0] = 0
	}
	return starts
}
