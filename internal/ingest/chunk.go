package ingest

import "strings"

// SplitText cuts text into windows of at most size runes. Consecutive
// windows share overlap runes so a question cut at a boundary appears whole
// in one of them. Window ends are moved back to a line break when one is
// close enough.
func SplitText(text string, size, overlap int) []string {
	runes := []rune(text)
	if size <= 0 || len(runes) <= size {
		return []string{text}
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		// Prefer a newline in the last fifth of the window.
		for i := end; i > end-size/5 && i > start+overlap; i-- {
			if runes[i-1] == '\n' {
				end = i
				break
			}
		}
		chunks = append(chunks, string(runes[start:end]))
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	for i, c := range chunks {
		chunks[i] = strings.TrimSpace(c)
	}
	return chunks
}
