package constants

import "strings"

// Formats a document can be extracted as.
const (
	PDF  = "PDF"
	EPUB = "EPUB"
	MOBI = "MOBI"
)

// SupportedExtensions holds the e-book extensions the renamer considers (lowercased, sans '.').
var SupportedExtensions = map[string]struct{}{
	"pdf":  {},
	"epub": {},
	"mobi": {},
	"azw3": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsSupportedExt reports whether ext (with or without dot, any case) is a supported e-book extension.
func IsSupportedExt(ext string) bool {
	_, ok := SupportedExtensions[NormalizeExt(ext)]
	return ok
}

// MapExtToFormat returns the extraction format for an extension, or "" when unsupported.
// AZW3 shares the MOBI converter path.
func MapExtToFormat(ext string) string {
	switch NormalizeExt(ext) {
	case "pdf":
		return PDF
	case "epub":
		return EPUB
	case "mobi", "azw3":
		return MOBI
	default:
		return ""
	}
}

// MapMimeToFormat maps a sniffed MIME type to an extraction format, or "" when it is not an e-book.
func MapMimeToFormat(mime string) string {
	switch mime {
	case "application/pdf":
		return PDF
	case "application/epub+zip":
		return EPUB
	case "application/x-mobipocket-ebook":
		return MOBI
	default:
		return ""
	}
}
