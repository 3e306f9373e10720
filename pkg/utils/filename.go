// Package utils holds small helpers shared by the HTTP surface.
package utils

import (
	"mime"
	"path"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FallbackFilename is used when nothing printable survives sanitizing.
const FallbackFilename = "download"

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeFilename reduces name to a printable ASCII base name safe to quote
// in a header. Accents are dropped ("résumé" becomes "resume"), any other
// non-ASCII rune becomes '-', and quotes, backslashes and control characters
// are removed.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}

	if stripped, _, err := transform.String(stripMarks, name); err == nil {
		name = stripped
	}

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '"' || r == '\\':
		case r < 128 && unicode.IsPrint(r):
			b.WriteRune(r)
		case r >= 128:
			b.WriteRune('-')
		}
	}
	return strings.TrimSpace(b.String())
}

// ContentDisposition builds an attachment header value for name. The plain
// filename parameter carries the sanitized ASCII form and filename* the
// original UTF-8 name when it differs.
func ContentDisposition(name string) string {
	ascii := SanitizeFilename(name)
	if ascii == "" {
		ascii = FallbackFilename
	}

	header := mime.FormatMediaType("attachment", map[string]string{"filename": ascii})
	if header == "" {
		return "attachment"
	}

	if base := path.Base(strings.ReplaceAll(name, "\\", "/")); base != ascii && hasNonASCII(base) {
		// Non-ASCII values come back as filename*=utf-8''<percent-encoded>.
		if encoded := mime.FormatMediaType("attachment", map[string]string{"filename": base}); encoded != "" {
			header += strings.TrimPrefix(encoded, "attachment")
		}
	}
	return header
}

func hasNonASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return true
		}
	}
	return false
}
