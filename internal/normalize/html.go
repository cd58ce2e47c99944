package normalize

import (
	"bytes"
	"html"
)

// HTMLEntityDecode resolves named, decimal and hex character references.
// A few HTML5 entities expand past their source length, so the result may
// be a new buffer.
func HTMLEntityDecode(b []byte) []byte {
	if bytes.IndexByte(b, '&') < 0 {
		return b
	}
	out := html.UnescapeString(string(b))
	if len(out) <= cap(b) {
		return append(b[:0], out...)
	}
	return []byte(out)
}
