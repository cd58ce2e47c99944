package field

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFieldKind is returned for a value outside the closed Kind set.
var ErrInvalidFieldKind = errors.New("invalid field kind")

// Kind identifies which part of an HTTP request a value was taken from.
type Kind int

const (
	URL Kind = iota
	QueryArgKey
	QueryArgVal
	PostArgKey
	PostArgVal
	CookieKey
	CookieVal
	Host
	Referer
	UserAgent
	ContentVal
	ContentLength

	kindCount
)

var kindNames = [kindCount]string{
	URL:           "url",
	QueryArgKey:   "query_arg_key",
	QueryArgVal:   "query_arg_val",
	PostArgKey:    "post_arg_key",
	PostArgVal:    "post_arg_val",
	CookieKey:     "cookie_key",
	CookieVal:     "cookie_val",
	Host:          "host",
	Referer:       "referer",
	UserAgent:     "user_agent",
	ContentVal:    "content_val",
	ContentLength: "content_length",
}

// Kinds returns every member of the closed set in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := URL; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

func (k Kind) Valid() bool {
	return k >= URL && k < kindCount
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a config or CLI name back to a Kind.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k := URL; k < kindCount; k++ {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidFieldKind, name)
}
