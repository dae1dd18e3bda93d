package docpipe

import (
	"encoding/xml"
	"strings"
)

// extractODT returns the headings and paragraphs of content.xml separated
// by blank lines.
func extractODT(data []byte) (string, error) {
	content, err := openPackagePart(data, "content.xml")
	if err != nil {
		return "", err
	}
	defer content.Close()

	var paragraphs []string
	var current strings.Builder
	depth := 0
	err = walkXML(content, func(tok xml.Token) {
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p", "h":
				if depth == 0 {
					current.Reset()
				}
				depth++
			case "tab":
				if depth > 0 {
					current.WriteByte('\t')
				}
			case "s", "line-break":
				if depth > 0 {
					current.WriteByte(' ')
				}
			}
		case xml.CharData:
			if depth > 0 {
				current.Write(t)
			}
		case xml.EndElement:
			if (t.Name.Local == "p" || t.Name.Local == "h") && depth > 0 {
				depth--
				if depth > 0 {
					return
				}
				if text := strings.TrimSpace(current.String()); text != "" {
					paragraphs = append(paragraphs, text)
				}
			}
		}
	})
	if err != nil {
		return "", err
	}
	return strings.Join(paragraphs, "\n\n"), nil
}
