package knowledge

import (
	"strings"
	"unicode/utf8"
)

// SplitChunks splits source text into retrieval chunks by accumulating whole
// lines until the running length in characters would reach chunkSize, then
// flushing. Length is counted in runes, not bytes, so Cyrillic text fills
// chunks the same as ASCII. A single line longer than chunkSize is still
// emitted whole; lines are never cut mid-way. The overlap setting from
// configuration is intentionally not applied here — chunks are disjoint until
// a real overlap strategy lands.
func SplitChunks(text string, chunkSize int) []string {
	var chunks []string
	var current strings.Builder
	runeCount := 0

	for _, line := range strings.Split(text, "\n") {
		if runeCount+utf8.RuneCountInString(line) >= chunkSize && runeCount > 0 {
			if flushed := strings.TrimSpace(current.String()); flushed != "" {
				chunks = append(chunks, flushed)
			}
			current.Reset()
			runeCount = 0
		}
		current.WriteString(line)
		current.WriteString("\n")
		runeCount += utf8.RuneCountInString(line) + 1
	}

	if flushed := strings.TrimSpace(current.String()); flushed != "" {
		chunks = append(chunks, flushed)
	}

	return chunks
}
