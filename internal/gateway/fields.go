package gateway

import (
	"net/http"
	"strings"

	"github.com/klyr/wafcore/internal/field"
)

// Field is one raw request value tagged with where it came from. Values are
// taken as they appear on the wire; decoding is left to the engine.
type Field struct {
	Kind  field.Kind
	Name  string
	Value []byte
}

// ExtractFields splits r into classified fields in a fixed order: path,
// query arguments, cookies, host and selected headers, then the body.
func ExtractFields(r *http.Request, body []byte) []Field {
	var out []Field

	out = append(out, Field{Kind: field.URL, Name: "path", Value: []byte(r.URL.EscapedPath())})

	out = appendArgs(out, r.URL.RawQuery, field.QueryArgKey, field.QueryArgVal)

	for _, header := range r.Header.Values("Cookie") {
		for _, part := range strings.Split(header, ";") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			name, value, _ := strings.Cut(part, "=")
			out = append(out,
				Field{Kind: field.CookieKey, Name: name, Value: []byte(name)},
				Field{Kind: field.CookieVal, Name: name, Value: []byte(value)},
			)
		}
	}

	if r.Host != "" {
		out = append(out, Field{Kind: field.Host, Name: "host", Value: []byte(r.Host)})
	}
	if referer := r.Header.Get("Referer"); referer != "" {
		out = append(out, Field{Kind: field.Referer, Name: "referer", Value: []byte(referer)})
	}
	if ua := r.Header.Get("User-Agent"); ua != "" {
		out = append(out, Field{Kind: field.UserAgent, Name: "user-agent", Value: []byte(ua)})
	}
	if cl := r.Header.Get("Content-Length"); cl != "" {
		out = append(out, Field{Kind: field.ContentLength, Name: "content-length", Value: []byte(cl)})
	}

	if len(body) == 0 {
		return out
	}
	if isFormBody(r) {
		return appendArgs(out, string(body), field.PostArgKey, field.PostArgVal)
	}
	return append(out, Field{Kind: field.ContentVal, Name: "body", Value: body})
}

func appendArgs(out []Field, raw string, keyKind, valKind field.Kind) []Field {
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		out = append(out, Field{Kind: keyKind, Name: name, Value: []byte(name)})
		if value != "" {
			out = append(out, Field{Kind: valKind, Name: name, Value: []byte(value)})
		}
	}
	return out
}

func isFormBody(r *http.Request) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded")
}
