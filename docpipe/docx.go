package docpipe

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const wordNamespace = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// maxXMLDepth bounds element nesting in package markup.
const maxXMLDepth = 256

// extractDocx concatenates every w:t text run, each followed by " \n".
func extractDocx(data []byte) (string, error) {
	body, err := openPackagePart(data, "word/document.xml")
	if err != nil {
		return "", err
	}
	defer body.Close()

	var sb strings.Builder
	var run strings.Builder
	inRun := false
	err = walkXML(body, func(tok xml.Token) {
		switch t := tok.(type) {
		case xml.StartElement:
			if isWordText(t.Name) {
				inRun = true
				run.Reset()
			}
		case xml.CharData:
			if inRun {
				run.Write(t)
			}
		case xml.EndElement:
			if isWordText(t.Name) && inRun {
				inRun = false
				sb.WriteString(run.String())
				sb.WriteString(" \n")
			}
		}
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

func isWordText(n xml.Name) bool {
	return n.Local == "t" && (n.Space == wordNamespace || n.Space == "w")
}

// openPackagePart opens the named entry of a zip-based document package.
func openPackagePart(data []byte, name string) (io.ReadCloser, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: open %s: %w", ErrMalformed, name, err)
			}
			return rc, nil
		}
	}
	return nil, fmt.Errorf("%w: %s not found in archive", ErrMissingPart, name)
}

// walkXML feeds every token of r to fn, rejecting documents nested deeper
// than maxXMLDepth.
func walkXML(r io.Reader, fn func(xml.Token)) error {
	dec := xml.NewDecoder(r)
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDecode, err)
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
			if depth > maxXMLDepth {
				return fmt.Errorf("%w: xml nesting depth exceeds %d", ErrDecode, maxXMLDepth)
			}
		case xml.EndElement:
			depth--
		}
		fn(tok)
	}
}
