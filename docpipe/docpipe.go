// Package docpipe turns a document of any supported format into plain text.
//
// Supported formats:
//   - text   decoded verbatim (UTF-8, UTF-16 with BOM)
//   - pdf    one "Page N:" block per readable page
//   - docx   word/document.xml text runs
//   - xlsx   one "Sheet: <name>" block per sheet, string cells only
//   - zip    members extracted concurrently, one "File: <name>/" block each
//   - image  OCR through a Recognizer
//   - html   sanitised and converted to markdown
//   - odt    content.xml paragraphs
//
// Anything else is read as text.
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{})
//	text, err := pipe.Extract(ctx, doc, docpipe.ArchiveFilter{})
package docpipe

import (
	"context"
	"fmt"
	"log/slog"
)

// Pipeline is the document extraction engine.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Extract returns the plain text of doc. Failures are *ExtractionError.
// The filter only applies to archives.
func (p *Pipeline) Extract(ctx context.Context, doc Document, filter ArchiveFilter) (string, error) {
	format := doc.Format
	if format == "" {
		format = FormatText
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if int64(len(doc.Data)) > p.cfg.MaxFileSize {
		return "", &ExtractionError{
			Name:   doc.Name,
			Format: format,
			Cause:  fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(doc.Data), p.cfg.MaxFileSize),
		}
	}

	p.logger.Debug("extracting document", "name", doc.Name, "format", format, "bytes", len(doc.Data))

	text, err := p.extract(ctx, doc, format, filter)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &ExtractionError{Name: doc.Name, Format: format, Cause: err}
	}
	return text, nil
}

func (p *Pipeline) extract(ctx context.Context, doc Document, format Format, filter ArchiveFilter) (string, error) {
	switch format {
	case FormatPDF:
		return p.extractPDF(ctx, doc.Data)
	case FormatDocx:
		return extractDocx(doc.Data)
	case FormatXlsx:
		return extractXlsx(doc.Data)
	case FormatArchive:
		return p.extractArchive(ctx, doc.Data, filter)
	case FormatImage:
		return p.extractImage(ctx, doc)
	case FormatHTML:
		return extractHTML(doc.Data)
	case FormatODT:
		return extractODT(doc.Data)
	default:
		return decodeText(doc.Data), nil
	}
}
