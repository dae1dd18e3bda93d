package docpipe

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// Format identifies a document variant.
type Format string

const (
	FormatText    Format = "text"
	FormatPDF     Format = "pdf"
	FormatDocx    Format = "docx"
	FormatXlsx    Format = "xlsx"
	FormatArchive Format = "zip"
	FormatImage   Format = "image"
	FormatHTML    Format = "html"
	FormatODT     Format = "odt"
)

// Document is one input: a name, its raw bytes and the declared format.
// A Document is never modified once built.
type Document struct {
	Name   string `json:"name"`
	Data   []byte `json:"-"`
	Format Format `json:"format"`
	// MIME is the declared media type when the source knows it.
	MIME string `json:"mime,omitempty"`
}

// ArchiveFilter lists the archive members that must never be extracted.
type ArchiveFilter struct {
	// Blacklist holds full member names, compared exactly.
	Blacklist []string `json:"blacklist"`
	// IgnoreExtensions holds extensions such as ".png", compared lowercase.
	IgnoreExtensions []string `json:"ignore_extensions"`
}

// macMetadataPrefix is the resource-fork directory macOS adds to archives.
const macMetadataPrefix = "__MACOSX/"

// Excludes reports whether the archive member called name is filtered out.
func (f ArchiveFilter) Excludes(name string) bool {
	if name == "" || strings.HasSuffix(name, "/") {
		return true
	}
	if strings.HasPrefix(name, macMetadataPrefix) {
		return true
	}
	for _, b := range f.Blacklist {
		if name == b {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return false
	}
	for _, e := range f.IgnoreExtensions {
		if normalizeExt(e) == ext {
			return true
		}
	}
	return false
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}

// Causes carried by ExtractionError.
var (
	ErrMalformed   = errors.New("malformed container")
	ErrMissingPart = errors.New("missing expected part")
	ErrDecode      = errors.New("decode failure")
	ErrTooLarge    = errors.New("document too large")
)

// ExtractionError reports a document that could not be turned into text.
type ExtractionError struct {
	Name   string
	Format Format
	Cause  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s (%s): %v", e.Name, e.Format, e.Cause)
}

func (e *ExtractionError) Unwrap() error { return e.Cause }
