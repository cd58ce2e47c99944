package normalize

// CSSDecode decodes CSS escapes in place: a backslash followed by one to six
// hex digits (one trailing whitespace consumed), an escaped newline which is
// removed, or an escaped character which decodes to itself.
func CSSDecode(b []byte) []byte {
	w := 0
	for i := 0; i < len(b); i++ {
		c := b[i]
		if c != '\\' {
			b[w] = c
			w++
			continue
		}
		if i+1 >= len(b) {
			break
		}

		j := 0
		var code uint32
		for j < 6 && i+1+j < len(b) && isHex(b[i+1+j]) {
			code = code<<4 | uint32(unhex(b[i+1+j]))
			j++
		}

		if j > 0 {
			if code > 0xff00 && code < 0xff5f {
				b[w] = byte(code-0xff00) + 0x20
			} else {
				b[w] = byte(code)
			}
			w++
			i += j
			if i+1 < len(b) && isSpace(b[i+1]) {
				i++
			}
			continue
		}

		if b[i+1] == '\n' {
			i++
			continue
		}

		b[w] = b[i+1]
		w++
		i++
	}
	return b[:w]
}
