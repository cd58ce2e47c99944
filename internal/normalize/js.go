package normalize

// JSDecode decodes JavaScript string escapes in place: \xHH, \uHHHH (low
// byte, full-width ASCII folded to ASCII), octal \OOO and the C escapes.
// Any other escaped character decodes to itself.
func JSDecode(b []byte) []byte {
	w := 0
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '\\' || i+1 >= len(b) {
			b[w] = c
			w++
			continue
		}

		next := b[i+1]
		switch {
		case next == 'u' && i+5 < len(b) && isHex(b[i+2]) && isHex(b[i+3]) && isHex(b[i+4]) && isHex(b[i+5]):
			hi := unhex(b[i+2])<<4 | unhex(b[i+3])
			lo := unhex(b[i+4])<<4 | unhex(b[i+5])
			b[w] = foldFullWidth(hi, lo)
			i += 5
		case next == 'x' && i+3 < len(b) && isHex(b[i+2]) && isHex(b[i+3]):
			b[w] = unhex(b[i+2])<<4 | unhex(b[i+3])
			i += 3
		case isOctal(next):
			limit := 3
			if next > '3' {
				limit = 2
			}
			var v byte
			j := 0
			for j < limit && i+1+j < len(b) && isOctal(b[i+1+j]) {
				v = v<<3 | (b[i+1+j] - '0')
				j++
			}
			b[w] = v
			i += j
		default:
			b[w] = cEscape(next)
			i++
		}
		w++
	}
	return b[:w]
}

func cEscape(c byte) byte {
	switch c {
	case 'a':
		return '\a'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'v':
		return '\v'
	default:
		return c
	}
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}

// foldFullWidth maps U+FF01..U+FF5E onto ASCII and otherwise keeps the low
// byte of the code unit.
func foldFullWidth(hi, lo byte) byte {
	if hi == 0xff && lo > 0x00 && lo < 0x5f {
		return lo + 0x20
	}
	return lo
}
