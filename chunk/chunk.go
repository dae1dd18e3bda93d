// Package chunk plans how extracted text is cut into size-bounded,
// paragraph-aligned chunks.
//
// A chunk never splits a paragraph. Paragraphs are packed greedily until
// the next one would push the chunk past the budget; a paragraph larger
// than the budget on its own becomes a single oversized chunk.
package chunk

import (
	"regexp"
	"strings"
)

// Chunk is one planned segment of text.
type Chunk struct {
	// Index is the 1-based position in the plan.
	Index int `json:"index"`
	// Text is the chunk content, trimmed.
	Text string `json:"text"`
	// Last is set on the final chunk of the plan.
	Last bool `json:"last"`
}

// Len returns the chunk size in bytes.
func (c Chunk) Len() int { return len(c.Text) }

// paragraphBreak matches blank-line paragraph boundaries, including
// whitespace-only lines between them.
var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Separator joins paragraphs inside a chunk.
const Separator = "\n\n"

// Paragraphs returns the trimmed, non-empty paragraphs of text.
func Paragraphs(text string) []string {
	var out []string
	for _, p := range paragraphBreak.Split(strings.TrimSpace(text), -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Plan cuts text into chunks of at most budget bytes. A chunk is a run of
// whole paragraphs joined by Separator, so a paragraph costs its length
// plus one separator. Empty or blank text yields no chunks. A non-positive
// budget puts every paragraph in its own chunk.
func Plan(text string, budget int) []Chunk {
	paras := Paragraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var chunks []Chunk
	var buf strings.Builder
	flush := func() {
		if buf.Len() > 0 {
			chunks = append(chunks, Chunk{Index: len(chunks) + 1, Text: buf.String()})
			buf.Reset()
		}
	}

	for _, p := range paras {
		if buf.Len() > 0 && buf.Len()+len(Separator)+len(p) > budget {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString(Separator)
		}
		buf.WriteString(p)
	}
	flush()

	chunks[len(chunks)-1].Last = true
	return chunks
}

// Join rebuilds text from chunks, separating them with a blank line. For
// any plan it equals the paragraphs of the planned text joined by
// Separator.
func Join(chunks []Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}
	return strings.Join(parts, Separator)
}
