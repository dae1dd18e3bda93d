package docpipe

import (
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var mimeFormats = map[string]Format{
	"text/plain":                   FormatText,
	"application/pdf":              FormatPDF,
	"application/zip":              FormatArchive,
	"application/x-zip":            FormatArchive,
	"application/x-zip-compressed": FormatArchive,
	"text/html":                    FormatHTML,
	"application/xhtml+xml":        FormatHTML,

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDocx,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       FormatXlsx,
	"application/vnd.oasis.opendocument.text":                                 FormatODT,
}

var extFormats = map[string]Format{
	".txt":  FormatText,
	".md":   FormatText,
	".pdf":  FormatPDF,
	".docx": FormatDocx,
	".xlsx": FormatXlsx,
	".zip":  FormatArchive,
	".html": FormatHTML,
	".htm":  FormatHTML,
	".odt":  FormatODT,
	".png":  FormatImage,
	".jpg":  FormatImage,
	".jpeg": FormatImage,
	".gif":  FormatImage,
	".bmp":  FormatImage,
	".tif":  FormatImage,
	".tiff": FormatImage,
	".webp": FormatImage,
}

var imageMIMEs = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".webp": "image/webp",
}

// FormatFromMIME maps a media type to a Format. Parameters such as
// "; charset=utf-8" are ignored. Unknown types return "".
func FormatFromMIME(mime string) Format {
	mime, _, _ = strings.Cut(mime, ";")
	mime = strings.ToLower(strings.TrimSpace(mime))
	if f, ok := mimeFormats[mime]; ok {
		return f
	}
	if strings.HasPrefix(mime, "image/") {
		return FormatImage
	}
	if strings.HasPrefix(mime, "text/") {
		return FormatText
	}
	return ""
}

// FormatFromName maps a file name extension to a Format. Unknown
// extensions return "".
func FormatFromName(name string) Format {
	return extFormats[strings.ToLower(path.Ext(name))]
}

// Detect declares the format of a document: the media type wins, then the
// name, then content sniffing on head. Anything unrecognised is text.
func Detect(name, mime string, head []byte) Format {
	if f := FormatFromMIME(mime); f != "" {
		return f
	}
	if f := FormatFromName(name); f != "" {
		return f
	}
	if len(head) > 0 {
		if f := FormatFromMIME(mimetype.Detect(head).String()); f != "" {
			return f
		}
	}
	return FormatText
}

// memberFormat picks the variant for an archive member. Nested archives
// are read as text.
func memberFormat(name string) Format {
	f := FormatFromName(name)
	if f == "" || f == FormatArchive {
		return FormatText
	}
	return f
}

// SupportedFormats returns all formats the pipeline extracts.
func SupportedFormats() []Format {
	return []Format{FormatText, FormatPDF, FormatDocx, FormatXlsx, FormatArchive, FormatImage, FormatHTML, FormatODT}
}
