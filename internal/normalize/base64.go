package normalize

import "encoding/base64"

// Base64Decode decodes b as standard base64, skipping bytes outside the
// alphabet and stopping at the first padding character. It never fails:
// undecodable input yields an empty buffer.
func Base64Decode(b []byte) []byte {
	return lenientBase64(b, base64.RawStdEncoding, '+', '/')
}

// Base64URLDecode is Base64Decode over the URL-safe alphabet.
func Base64URLDecode(b []byte) []byte {
	return lenientBase64(b, base64.RawURLEncoding, '-', '_')
}

func lenientBase64(b []byte, enc *base64.Encoding, c62, c63 byte) []byte {
	n := 0
	for _, c := range b {
		if c == '=' {
			break
		}
		if isAlnum(c) || c == c62 || c == c63 {
			b[n] = c
			n++
		}
	}
	// a single dangling sextet carries no full byte
	if n%4 == 1 {
		n--
	}
	if n == 0 {
		return b[:0]
	}

	out := make([]byte, enc.DecodedLen(n))
	written, _ := enc.Decode(out, b[:n])
	return out[:written]
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
