package documents

import (
	"regexp"
	"strings"
)

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Split breaks text into passages of about size words. Paragraphs are kept
// whole when they fit; longer ones are cut at word boundaries.
func Split(text string, size int) []string {
	if size <= 0 {
		size = 200
	}

	var (
		chunks  []string
		current []string
		count   int
	)
	flush := func() {
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, "\n"))
			current, count = nil, 0
		}
	}

	for _, para := range paragraphBreak.Split(text, -1) {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		if count > 0 && count+len(words) > size {
			flush()
		}
		for len(words) > size {
			flush()
			chunks = append(chunks, strings.Join(words[:size], " "))
			words = words[size:]
		}
		current = append(current, strings.Join(words, " "))
		count += len(words)
	}
	flush()
	return chunks
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
