package chunking

import (
	"strings"
	"testing"
)

func TestSplitCoversAllTextWithOverlap(t *testing.T) {
	words := make([]string, 200)
	for i := range words {
		words[i] = "word"
	}
	text := strings.Join(words, " ")

	splitter := NewSplitter(100, 20)
	chunks := splitter.Split(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Every chunk ends on a whole word.
	for i, chunk := range chunks {
		if strings.HasSuffix(chunk, "wor") || strings.HasPrefix(chunk, "ord") {
			t.Fatalf("chunk %d cut a word: %q", i, chunk)
		}
	}

	// The last chunk reaches the end of the input.
	last := chunks[len(chunks)-1]
	if !strings.HasSuffix(text, last) {
		t.Fatalf("last chunk must close the text: %q", last)
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	splitter := NewSplitter(900, 150)
	chunks := splitter.Split("a short lesson")
	if len(chunks) != 1 || chunks[0] != "a short lesson" {
		t.Fatalf("unexpected chunks: %v", chunks)
	}
}

func TestSplitEmptyText(t *testing.T) {
	splitter := NewSplitter(900, 150)
	if chunks := splitter.Split("   "); len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %v", chunks)
	}
}

func TestSplitUnbrokenTokenStillTerminates(t *testing.T) {
	splitter := NewSplitter(10, 2)
	chunks := splitter.Split(strings.Repeat("x", 35))
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total < 35 {
		t.Fatalf("chunks must cover the whole token, covered %d", total)
	}
}

func TestNewSplitterClampsOverlap(t *testing.T) {
	s := NewSplitter(100, 500)
	if s.Overlap >= s.ChunkSize {
		t.Fatalf("overlap must be clamped below chunk size: %+v", s)
	}
}
