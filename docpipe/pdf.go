package docpipe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// pagedDocument is an opened PDF, whatever the engine.
type pagedDocument interface {
	NumPages() int
	// PageItems returns the text items of page n (1-based).
	PageItems(n int) ([]string, error)
}

func (p *Pipeline) extractPDF(ctx context.Context, data []byte) (string, error) {
	var doc pagedDocument
	var err error
	switch p.cfg.PDFEngine {
	case PDFEnginePdfcpu:
		doc, err = openPdfcpu(data)
	default:
		doc, err = openLedongthuc(data)
	}
	if err != nil {
		return "", err
	}
	return renderPages(ctx, doc, p.logger)
}

// renderPages writes "Page N:" followed by the page's items joined by
// spaces. Pages that fail are logged and skipped.
func renderPages(ctx context.Context, doc pagedDocument, logger *slog.Logger) (string, error) {
	var sb strings.Builder
	total := doc.NumPages()
	for n := 1; n <= total; n++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		items, err := doc.PageItems(n)
		if err != nil {
			logger.Warn("pdf page skipped", "page", n, "pages", total, "error", err)
			continue
		}
		fmt.Fprintf(&sb, "Page %d:\n%s\n\n", n, strings.Join(items, " "))
	}
	return sb.String(), nil
}

// --- ledongthuc/pdf ---

type ledongthucDoc struct {
	r *pdf.Reader
}

func openLedongthuc(data []byte) (doc *ledongthucDoc, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%w: pdf: %v", ErrMalformed, r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: pdf: %w", ErrMalformed, err)
	}
	return &ledongthucDoc{r: r}, nil
}

func (d *ledongthucDoc) NumPages() (n int) {
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	return d.r.NumPage()
}

// PageItems returns one item per text row. The reader panics on some
// malformed content streams; that only loses the page.
func (d *ledongthucDoc) PageItems(n int) (items []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			items, err = nil, fmt.Errorf("%w: page %d: %v", ErrDecode, n, r)
		}
	}()
	page := d.r.Page(n)
	if page.V.IsNull() {
		return nil, fmt.Errorf("%w: page %d", ErrMissingPart, n)
	}
	rows, err := page.GetTextByRow()
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %w", ErrDecode, n, err)
	}
	for _, row := range rows {
		var sb strings.Builder
		for _, t := range row.Content {
			sb.WriteString(t.S)
		}
		if s := strings.TrimSpace(sb.String()); s != "" {
			items = append(items, s)
		}
	}
	return items, nil
}

// --- pdfcpu ---

type pdfcpuDoc struct {
	ctx *model.Context
}

func openPdfcpu(data []byte) (*pdfcpuDoc, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), model.NewDefaultConfiguration())
	if err != nil {
		return nil, fmt.Errorf("%w: pdfcpu read: %w", ErrMalformed, err)
	}
	return &pdfcpuDoc{ctx: ctx}, nil
}

func (d *pdfcpuDoc) NumPages() int { return d.ctx.PageCount }

func (d *pdfcpuDoc) PageItems(n int) ([]string, error) {
	r, err := pdfcpu.ExtractPageContent(d.ctx, n)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %w", ErrDecode, n, err)
	}
	if r == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %w", ErrDecode, n, err)
	}
	return streamTextItems(data), nil
}

// streamTextItems collects the operands of the text-showing operators
// (Tj, TJ, ' and ") of a decoded content stream, one item per operator.
func streamTextItems(stream []byte) []string {
	var items []string
	var pending []string
	s := stream
	for len(s) > 0 {
		switch c := s[0]; {
		case c == '(':
			str, rest := readLiteralString(s)
			pending = append(pending, str)
			s = rest
		case c == '%':
			if i := bytes.IndexByte(s, '\n'); i >= 0 {
				s = s[i+1:]
			} else {
				s = nil
			}
		case isPDFDelimiter(c):
			s = s[1:]
		default:
			end := 1
			for end < len(s) && !isPDFDelimiter(s[end]) && s[end] != '(' {
				end++
			}
			switch string(s[:end]) {
			case "Tj", "TJ", "'", "\"":
				if text := strings.Join(pending, ""); strings.TrimSpace(text) != "" {
					items = append(items, strings.TrimSpace(text))
				}
				pending = pending[:0]
			case "BT", "ET":
				pending = pending[:0]
			}
			s = s[end:]
		}
	}
	return items
}

func isPDFDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '\f', 0, '[', ']', '<', '>', '{', '}', '/':
		return true
	}
	return false
}

// readLiteralString decodes the literal string at the start of s, which
// begins with '('. Balanced parentheses nest; escapes follow the PDF rules.
func readLiteralString(s []byte) (string, []byte) {
	var sb strings.Builder
	depth := 0
	i := 0
	for ; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '(':
			depth++
			if depth == 1 {
				continue
			}
		case c == ')':
			depth--
			if depth == 0 {
				return sb.String(), s[i+1:]
			}
		case c == '\\' && i+1 < len(s):
			i++
			switch e := s[i]; e {
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'b':
				sb.WriteByte('\b')
			case 'f':
				sb.WriteByte('\f')
			case '\r', '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && i+1 < len(s) && s[i+1] >= '0' && s[i+1] <= '7'; k++ {
						i++
						val = val*8 + int(s[i]-'0')
					}
					sb.WriteByte(byte(val))
				} else {
					sb.WriteByte(e)
				}
			}
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}
