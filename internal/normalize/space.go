package normalize

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\v', '\f', '\r', 0xa0:
		return true
	default:
		return false
	}
}

// CompressSpace collapses every run of whitespace into a single space.
func CompressSpace(b []byte) []byte {
	w := 0
	inSpace := false
	for _, c := range b {
		if isSpace(c) {
			if !inSpace {
				b[w] = ' '
				w++
				inSpace = true
			}
			continue
		}
		inSpace = false
		b[w] = c
		w++
	}
	return b[:w]
}

// DeleteSpace removes all whitespace.
func DeleteSpace(b []byte) []byte {
	w := 0
	for _, c := range b {
		if isSpace(c) {
			continue
		}
		b[w] = c
		w++
	}
	return b[:w]
}
