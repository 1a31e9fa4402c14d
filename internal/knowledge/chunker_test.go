package knowledge

import (
	"strings"
	"testing"
)

func TestSplitChunks_Empty(t *testing.T) {
	if got := SplitChunks("", 100); len(got) != 0 {
		t.Errorf("expected no chunks for empty input, got %d", len(got))
	}
	if got := SplitChunks("\n\n\n", 100); len(got) != 0 {
		t.Errorf("expected no chunks for whitespace input, got %d", len(got))
	}
}

func TestSplitChunks_SingleSmallDocument(t *testing.T) {
	text := "Школа работает с 9 до 18.\nЗапись через сайт."
	got := SplitChunks(text, 1000)
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	if got[0] != text {
		t.Errorf("chunk = %q, want full document", got[0])
	}
}

func TestSplitChunks_AccumulatesWholeLines(t *testing.T) {
	line := strings.Repeat("a", 40)
	text := strings.Join([]string{line, line, line, line}, "\n")

	got := SplitChunks(text, 100)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(got), got)
	}
	for i, chunk := range got {
		if strings.Contains(chunk, "a\n"+line[:1]) == false && !strings.Contains(chunk, line) {
			t.Errorf("chunk %d should contain whole lines, got %q", i, chunk)
		}
		if len(chunk) > 100 {
			t.Errorf("chunk %d exceeds size without an oversized line: %d", i, len(chunk))
		}
	}
}

func TestSplitChunks_CountsCharactersNotBytes(t *testing.T) {
	// 40 Cyrillic characters are 80 bytes in UTF-8. Two such lines fit a
	// 100-character chunk; counting bytes would flush after every line.
	line := strings.Repeat("ш", 40)
	text := strings.Join([]string{line, line, line, line}, "\n")

	got := SplitChunks(text, 100)
	if len(got) != 2 {
		t.Fatalf("expected 2 chunks of 2 lines each, got %d: %q", len(got), got)
	}
	for i, chunk := range got {
		if want := line + "\n" + line; chunk != want {
			t.Errorf("chunk %d = %q, want two full lines", i, chunk)
		}
	}
}

func TestSplitChunks_OversizedLineKeptWhole(t *testing.T) {
	long := strings.Repeat("б", 300)
	text := "short line\n" + long + "\nanother short line"

	got := SplitChunks(text, 100)
	found := false
	for _, chunk := range got {
		if strings.Contains(chunk, long) {
			found = true
		}
	}
	if !found {
		t.Error("a line longer than the chunk size must be kept whole, never truncated")
	}
}

func TestSplitChunks_ChunksAreVerbatimSubstrings(t *testing.T) {
	var lines []string
	for i := 0; i < 30; i++ {
		lines = append(lines, strings.Repeat("строка ", i%5+1))
	}
	text := strings.Join(lines, "\n")

	for i, chunk := range SplitChunks(text, 120) {
		if !strings.Contains(text, chunk) {
			t.Errorf("chunk %d is not a verbatim substring of the source: %q", i, chunk)
		}
	}
}
