package docpipe

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"code.sajari.com/docconv"
	"github.com/gabriel-vasile/mimetype"
)

// Recognizer extracts text from an image.
type Recognizer interface {
	Recognize(ctx context.Context, data []byte, mime string) (string, error)
}

// DocconvOCR recognises images through docconv. OCR only works when the
// binary is built with the "ocr" tag and tesseract is installed; otherwise
// every call fails.
type DocconvOCR struct{}

func (DocconvOCR) Recognize(ctx context.Context, data []byte, mime string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	res, err := docconv.Convert(bytes.NewReader(data), mime, false)
	if err != nil {
		return "", err
	}
	return res.Body, nil
}

func (p *Pipeline) extractImage(ctx context.Context, doc Document) (string, error) {
	mime := doc.MIME
	if !strings.HasPrefix(mime, "image/") {
		mime = imageMIMEs[strings.ToLower(path.Ext(doc.Name))]
	}
	if mime == "" {
		mime = mimetype.Detect(doc.Data).String()
	}
	text, err := p.cfg.OCR.Recognize(ctx, doc.Data, mime)
	if err != nil {
		return "", fmt.Errorf("%w: ocr: %w", ErrDecode, err)
	}
	return text, nil
}
