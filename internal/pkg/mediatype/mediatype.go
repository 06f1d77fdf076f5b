// Package mediatype resolves content types and maps them onto storage categories.
package mediatype

import (
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Category is the coarse classification that picks the storage partition
// and backs the list filter.
type Category string

const (
	Image    Category = "image"
	Video    Category = "video"
	Document Category = "document"
	Other    Category = "other"
)

// Categories lists every category in partition order.
var Categories = []Category{Image, Video, Document, Other}

const OctetStream = "application/octet-stream"

var documentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   true,
	"application/vnd.ms-excel":                                                  true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         true,
	"application/vnd.ms-powerpoint":                                             true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.oasis.opendocument.text":                                   true,
	"application/vnd.oasis.opendocument.spreadsheet":                            true,
	"application/vnd.oasis.opendocument.presentation":                           true,
	"application/rtf":  true,
	"text/rtf":         true,
	"text/plain":       true,
	"text/csv":         true,
	"text/markdown":    true,
	"text/html":        true,
	"application/json": true,
	"application/xml":  true,
	"text/xml":         true,
}

// extensionTypes refines generic sniffs by filename. It is fixed so the
// result never depends on the host's mime.types. The first extension listed
// for a type is its canonical one.
var extensionTypes = []struct{ ext, contentType string }{
	{".txt", "text/plain"},
	{".csv", "text/csv"},
	{".tsv", "text/tab-separated-values"},
	{".md", "text/markdown"},
	{".markdown", "text/markdown"},
	{".html", "text/html"},
	{".htm", "text/html"},
	{".css", "text/css"},
	{".js", "text/javascript"},
	{".xml", "text/xml"},
	{".rtf", "text/rtf"},
	{".ics", "text/calendar"},
	{".vtt", "text/vtt"},
	{".srt", "application/x-subrip"},
	{".yaml", "application/yaml"},
	{".yml", "application/yaml"},
	{".json", "application/json"},
	{".pdf", "application/pdf"},
	{".doc", "application/msword"},
	{".docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	{".xls", "application/vnd.ms-excel"},
	{".xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
	{".ppt", "application/vnd.ms-powerpoint"},
	{".pptx", "application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	{".odt", "application/vnd.oasis.opendocument.text"},
	{".ods", "application/vnd.oasis.opendocument.spreadsheet"},
	{".odp", "application/vnd.oasis.opendocument.presentation"},
	{".zip", "application/zip"},
	{".jpg", "image/jpeg"},
	{".jpeg", "image/jpeg"},
	{".png", "image/png"},
	{".gif", "image/gif"},
	{".webp", "image/webp"},
	{".bmp", "image/bmp"},
	{".tif", "image/tiff"},
	{".tiff", "image/tiff"},
	{".svg", "image/svg+xml"},
	{".heic", "image/heic"},
	{".avif", "image/avif"},
	{".ico", "image/x-icon"},
	{".mp4", "video/mp4"},
	{".m4v", "video/x-m4v"},
	{".mov", "video/quicktime"},
	{".webm", "video/webm"},
	{".mkv", "video/x-matroska"},
	{".avi", "video/x-msvideo"},
	{".mpeg", "video/mpeg"},
	{".mpg", "video/mpeg"},
	{".mp3", "audio/mpeg"},
	{".wav", "audio/wav"},
	{".ogg", "audio/ogg"},
}

func typeByExtension(ext string) string {
	for _, e := range extensionTypes {
		if e.ext == ext {
			return e.contentType
		}
	}
	return ""
}

func extensionByType(contentType string) string {
	for _, e := range extensionTypes {
		if e.contentType == contentType {
			return e.ext
		}
	}
	return ""
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case Image, Video, Document, Other:
		return true
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory accepts a category name case-insensitively.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Categorize maps a resolved content type onto its category.
func Categorize(contentType string) Category {
	ct := Base(contentType)
	switch {
	case strings.HasPrefix(ct, "image/"):
		return Image
	case strings.HasPrefix(ct, "video/"):
		return Video
	case documentTypes[ct]:
		return Document
	default:
		return Other
	}
}

// Base strips parameters and lowercases a content type.
func Base(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

// Resolve determines the content type of data. Sniffed content wins; when
// sniffing only yields a generic type, the filename extension and then the
// client's hint are consulted. The result depends only on the inputs.
func Resolve(data []byte, filename, hint string) string {
	sniffed := Base(mimetype.Detect(data).String())
	if !isGeneric(sniffed) {
		return sniffed
	}

	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		if byExt := typeByExtension(ext); canRefine(sniffed, byExt) {
			return byExt
		}
	}

	if h := Base(hint); canRefine(sniffed, h) {
		return h
	}

	if sniffed == "" {
		return OctetStream
	}
	return sniffed
}

// IsVector reports whether the image type is a vector format that is never
// rasterized.
func IsVector(contentType string) bool {
	return Base(contentType) == "image/svg+xml"
}

// Extension returns the canonical file extension (with dot) for a type.
func Extension(contentType string) string {
	if m := mimetype.Lookup(Base(contentType)); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if ext := extensionByType(Base(contentType)); ext != "" {
		return ext
	}
	return ".bin"
}

// canRefine reports whether candidate may replace a generic sniff. Text
// content is never relabelled as a binary type.
func canRefine(sniffed, candidate string) bool {
	if candidate == "" || isGeneric(candidate) {
		return false
	}
	return sniffed != "text/plain" || strings.HasPrefix(candidate, "text/")
}

func isGeneric(ct string) bool {
	return ct == "" || ct == OctetStream || ct == "text/plain"
}
