// Package indexer splits documents into chunks and coordinates their ingestion into collections.
package indexer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/kbsearch/internal/docid"
	"github.com/hyperjump/kbsearch/internal/models"
)

// Chunker splits text into overlapping word windows that prefer to end on sentence
// or paragraph boundaries. Sizes are in tokens, estimated as whitespace-separated words.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// NewChunker creates a chunker with the given size and overlap (in tokens).
func NewChunker(chunkSize, chunkOverlap int) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}
}

// word is one whitespace-delimited token with its byte span in the source text.
type word struct {
	start, end  int
	sentenceEnd bool
}

// Chunk splits preprocessed text into TextChunks. Empty text yields nil.
// Chunk boundaries depend only on the input, so ids are reproducible.
func (c *Chunker) Chunk(docID, text string) []*models.TextChunk {
	words := scanWords(text)
	if len(words) == 0 {
		return nil
	}
	var chunks []*models.TextChunk
	start := 0
	for {
		end := start + c.chunkSize
		if end >= len(words) {
			end = len(words)
		} else {
			end = c.backOffToSentence(words, start, end)
		}
		span := models.CharSpan{Start: words[start].start, End: words[end-1].end}
		chunkText := text[span.Start:span.End]
		seq := len(chunks)
		chunks = append(chunks, &models.TextChunk{
			ID:            docid.ChunkID(docID, seq, chunkText),
			DocumentID:    docID,
			SequenceIndex: seq,
			Text:          chunkText,
			Span:          span,
			TokenEstimate: end - start,
		})
		if end == len(words) {
			break
		}
		start = end - c.chunkOverlap
	}
	return chunks
}

// backOffToSentence moves end back to the last sentence boundary in the window as long
// as the shortened window still advances past the overlap.
func (c *Chunker) backOffToSentence(words []word, start, end int) int {
	for e := end; e-start > c.chunkOverlap; e-- {
		if words[e-1].sentenceEnd {
			return e
		}
	}
	return end
}

func scanWords(text string) []word {
	var words []word
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			if r == '\n' && len(words) > 0 {
				words[len(words)-1].sentenceEnd = true
			}
			i += size
			continue
		}
		start := i
		for i < len(text) {
			r, size = utf8.DecodeRuneInString(text[i:])
			if unicode.IsSpace(r) {
				break
			}
			i += size
		}
		words = append(words, word{start: start, end: i, sentenceEnd: endsSentence(text[start:i])})
	}
	if len(words) > 0 {
		words[len(words)-1].sentenceEnd = true
	}
	return words
}

func endsSentence(w string) bool {
	w = strings.TrimRight(w, `"')]»”’`)
	if w == "" {
		return false
	}
	switch w[len(w)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}
