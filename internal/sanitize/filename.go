package sanitize

import (
	"strings"
)

const (
	// DefaultExt is the default extension used when none is provided.
	DefaultExt = "mp4"
	// DefaultName is the replacement name when the title is empty.
	DefaultName = "video"
)

const upperhex = "0123456789ABCDEF"

// Quote percent-encodes every byte of s except ASCII letters, digits and
// "_.-~". Multi-byte UTF-8 runes are encoded byte by byte, so the result is
// plain ASCII and safe inside a quoted header parameter.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}

func unreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return c == '_' || c == '.' || c == '-' || c == '~'
}

// AttachmentFilename builds the encoded download name for title and ext
// (without dot in ext).
func AttachmentFilename(title, ext string) string {
	name := strings.TrimSpace(title)
	if name == "" {
		name = DefaultName
	}
	ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
	if ext == "" {
		ext = DefaultExt
	}
	return Quote(name) + "." + ext
}

// ContentDisposition returns an attachment header value for title.
func ContentDisposition(title, ext string) string {
	return `attachment; filename="` + AttachmentFilename(title, ext) + `"`
}
