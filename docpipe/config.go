package docpipe

import "log/slog"

// PDF engines.
const (
	PDFEngineLedongthuc = "ledongthuc"
	PDFEnginePdfcpu     = "pdfcpu"
)

// Config holds Pipeline configuration.
type Config struct {
	// MaxFileSize rejects documents (and archive members) above this size.
	// Default: 100MB.
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// PDFEngine selects the PDF reader: "ledongthuc" (default) or "pdfcpu".
	PDFEngine string `json:"pdf_engine" yaml:"pdf_engine"`

	// ArchiveWorkers bounds concurrent archive member extractions. Default: 4.
	ArchiveWorkers int `json:"archive_workers" yaml:"archive_workers"`

	// OCR recognises text in images. Default: docconv.
	OCR Recognizer `json:"-" yaml:"-"`

	// Logger for extraction events. Default: slog.Default().
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = 100 * 1024 * 1024
	}
	if c.PDFEngine == "" {
		c.PDFEngine = PDFEngineLedongthuc
	}
	if c.ArchiveWorkers <= 0 {
		c.ArchiveWorkers = 4
	}
	if c.OCR == nil {
		c.OCR = DocconvOCR{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
