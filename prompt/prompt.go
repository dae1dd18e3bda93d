// Package prompt composes the text submitted for each chunk: a
// position-dependent instruction prefix followed by the file name, the
// part counter and the quoted chunk.
package prompt

import (
	"fmt"
	"strings"

	"github.com/hazyhaar/docfeed/chunk"
)

// Templates are the four user-editable instruction texts.
type Templates struct {
	Base   string `json:"base" yaml:"base"`
	Single string `json:"single" yaml:"single"`
	Multi  string `json:"multi" yaml:"multi"`
	Last   string `json:"last" yaml:"last"`
}

// Default templates.
const (
	DefaultBase = `Act as a document loader. I will send you the content of a file, possibly in several parts.
Do not summarise or answer anything about the content until I say all parts are sent.`

	DefaultSingle = `Here is the full content of a file. Read it and remember it.
Reply only with "Loaded" and wait for my questions about it.`

	DefaultMulti = `The file is split into several parts. After each part reply only with "Part received" and wait for the next one.`

	DefaultLast = `This is the last part of the file. All parts are now sent.
Reply with "All parts loaded" and wait for my questions about the whole file.`
)

// DefaultTemplates returns the built-in templates.
func DefaultTemplates() Templates {
	return Templates{
		Base:   DefaultBase,
		Single: DefaultSingle,
		Multi:  DefaultMulti,
		Last:   DefaultLast,
	}
}

// UnknownName replaces an empty file name.
const UnknownName = "Unknown"

// Prefix returns the instruction block for the chunk at 1-based position
// out of total:
//
//	total == 1     single
//	last chunk     last
//	position == 1  base, then multi
//	otherwise      multi, then base
func Prefix(position, total int, last bool, t Templates) string {
	switch {
	case total == 1:
		return strings.TrimSpace(t.Single)
	case last:
		return strings.TrimSpace(t.Last)
	case position == 1:
		return joinNonEmpty(t.Base, t.Multi)
	default:
		return joinNonEmpty(t.Multi, t.Base)
	}
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}

// Normalize trims text and each of its paragraphs, rejoining them with a
// single blank line. Paragraph boundaries are those of chunk.Paragraphs.
func Normalize(text string) string {
	return strings.Join(chunk.Paragraphs(text), chunk.Separator)
}

// Compose returns the full text to submit for c.
func Compose(c chunk.Chunk, position, total int, fileName string, t Templates) string {
	if fileName == "" {
		fileName = UnknownName
	}
	var sb strings.Builder
	if prefix := Prefix(position, total, c.Last, t); prefix != "" {
		sb.WriteString(prefix)
		sb.WriteString("\n\n")
	}
	fmt.Fprintf(&sb, "Filename: %s\n\n", fileName)
	fmt.Fprintf(&sb, "Part %d of %d:\n\n", position, total)
	sb.WriteByte('"')
	sb.WriteString(Normalize(c.Text))
	sb.WriteByte('"')
	return sb.String()
}
