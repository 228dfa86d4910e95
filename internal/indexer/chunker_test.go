package indexer

import (
	"strings"
	"testing"
)

func TestChunker_Chunk(t *testing.T) {
	c := NewChunker(3, 1)
	chunks := c.Chunk("doc1", "one two three four five six seven")
	if len(chunks) < 2 {
		t.Errorf("expected at least 2 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.DocumentID != "doc1" {
			t.Errorf("chunk %d DocumentID=%s", i, ch.DocumentID)
		}
		if ch.SequenceIndex != i {
			t.Errorf("chunk %d SequenceIndex=%d", i, ch.SequenceIndex)
		}
		if ch.ID == "" {
			t.Error("chunk ID should be set")
		}
		if ch.TokenEstimate > 3 {
			t.Errorf("chunk %d has %d tokens, want <= 3", i, ch.TokenEstimate)
		}
	}
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(last.Text, "seven") {
		t.Errorf("last chunk should end the text, got %q", last.Text)
	}
}

func TestChunker_SentenceBoundaries(t *testing.T) {
	c := NewChunker(6, 2)
	text := "The quick brown fox. The fox jumps."
	chunks := c.Chunk("doc1", text)
	if len(chunks) < 2 {
		t.Fatalf("expected >= 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Text != "The quick brown fox." {
		t.Errorf("first chunk should end at the sentence, got %q", chunks[0].Text)
	}
	for i, ch := range chunks {
		if !strings.Contains(ch.Text, "fox") {
			t.Errorf("chunk %d %q should contain fox", i, ch.Text)
		}
		if text[ch.Span.Start:ch.Span.End] != ch.Text {
			t.Errorf("chunk %d span does not match text", i)
		}
	}
}

func TestChunker_Overlap(t *testing.T) {
	c := NewChunker(4, 2)
	chunks := c.Chunk("d", "a1 a2 a3 a4 a5 a6 a7 a8")
	if len(chunks) < 3 {
		t.Fatalf("expected >= 3 chunks, got %d", len(chunks))
	}
	first := strings.Fields(chunks[0].Text)
	second := strings.Fields(chunks[1].Text)
	if first[len(first)-2] != second[0] || first[len(first)-1] != second[1] {
		t.Errorf("expected 2-word overlap between %q and %q", chunks[0].Text, chunks[1].Text)
	}
}

func TestChunker_Deterministic(t *testing.T) {
	c := NewChunker(5, 1)
	text := "Alpha beta gamma. Delta epsilon zeta eta theta! Iota kappa?\nLambda mu."
	a := c.Chunk("doc", text)
	b := c.Chunk("doc", text)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].ID != b[i].ID || a[i].Span != b[i].Span {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}

func TestChunker_NeverSplitsWords(t *testing.T) {
	c := NewChunker(2, 0)
	text := "supercalifragilistic expialidocious antidisestablishmentarianism"
	for _, ch := range c.Chunk("d", text) {
		for _, w := range strings.Fields(ch.Text) {
			if !strings.Contains(text, w) || (w != "supercalifragilistic" && w != "expialidocious" && w != "antidisestablishmentarianism") {
				t.Errorf("word was split: %q", w)
			}
		}
	}
}

func TestChunker_ChunkEmpty(t *testing.T) {
	c := NewChunker(5, 1)
	chunks := c.Chunk("d", "   \n\t  ")
	if chunks != nil {
		t.Errorf("empty text should return nil, got %v", chunks)
	}
}

func TestChunker_SingleWord(t *testing.T) {
	chunks := NewChunker(5, 1).Chunk("d", "hello")
	if len(chunks) != 1 || chunks[0].Text != "hello" {
		t.Errorf("got %+v", chunks)
	}
}

func TestPreprocess(t *testing.T) {
	if Preprocess("  a  b  ") != "a b" {
		t.Error("expected trimmed and collapsed spaces")
	}
	if got := Preprocess("para one\n\n\n  para\ttwo \x00\n"); got != "para one\npara two" {
		t.Errorf("got %q", got)
	}
}
