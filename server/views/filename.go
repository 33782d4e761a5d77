package views

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const maxFilenameBaseLength = 120

func sanitizeFilenamePart(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '.' || r == '_' || r == ' ':
			b.WriteRune(r)
		case r == '\r' || r == '\n' || r == '"':
			// Dropped entirely: these would corrupt response headers.
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// SanitizeFilename rewrites name into something safe to echo in headers and
// URLs: the extension is preserved, everything outside a conservative
// character set is replaced, and overlong names are truncated.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	ext := sanitizeFilenamePart(filepath.Ext(name))
	if ext == "." {
		ext = ""
	}
	base := sanitizeFilenamePart(strings.TrimSuffix(name, filepath.Ext(name)))
	base = strings.Trim(base, ". ")
	for utf8.RuneCountInString(base) > maxFilenameBaseLength {
		_, size := utf8.DecodeLastRuneInString(base)
		base = base[:len(base)-size]
	}
	if base == "" {
		base = "file"
	}
	return base + ext
}
