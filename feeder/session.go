package feeder

import (
	"time"

	"github.com/google/uuid"

	"github.com/hazyhaar/docfeed/chunk"
	"github.com/hazyhaar/docfeed/docpipe"
	"github.com/hazyhaar/docfeed/prompt"
)

// RemainingPrefix is prepended to the name of a recovery document.
const RemainingPrefix = "remaining_"

// Session is the live state of one document moving through the pipeline.
// Only the Controller mutates it.
type Session struct {
	ID         string
	Document   string
	Format     docpipe.Format
	StartedAt  time.Time
	Generation int // 0 for a user document, n for the n-th recovery

	Text      string
	Chunks    []chunk.Chunk
	Templates prompt.Templates

	// Cursor is the 0-based index of the next chunk to confirm.
	Cursor int
}

// Total is the number of planned chunks. It never changes once planned.
func (s *Session) Total() int { return len(s.Chunks) }

// NewSessionID returns a time-ordered UUIDv7.
func NewSessionID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// RemainderDocument packages chunks[from:] as a text document named after
// the interrupted document with the "remaining_" prefix.
func RemainderDocument(name string, chunks []chunk.Chunk, from int) docpipe.Document {
	if name == "" {
		name = prompt.UnknownName
	}
	from = max(0, min(from, len(chunks)))
	return docpipe.Document{
		Name:   RemainingPrefix + name,
		Data:   []byte(chunk.Join(chunks[from:])),
		Format: docpipe.FormatText,
		MIME:   "text/plain",
	}
}
