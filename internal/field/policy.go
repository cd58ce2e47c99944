package field

import (
	"fmt"
	"strings"
)

// Policy is the set of decode steps enabled for a field kind.
type Policy uint8

const (
	DecodeURI Policy = 1 << iota
	DecodeHTML
	DecodeJS
	DecodeCSS
	DecodeBase64
	DeleteSpace
	CompressSpace
	DeleteComment
)

const decodeChain = DecodeURI | DecodeHTML | DecodeJS | DecodeCSS

var flagNames = []struct {
	flag Policy
	name string
}{
	{DecodeURI, "decode_uri"},
	{DecodeHTML, "decode_html"},
	{DecodeJS, "decode_js"},
	{DecodeCSS, "decode_css"},
	{DecodeBase64, "decode_base64"},
	{DeleteSpace, "delete_space"},
	{CompressSpace, "compress_space"},
	{DeleteComment, "delete_comment"},
}

// PolicyFor returns the decode policy of kind. The switch is exhaustive over
// the closed set; anything else is rejected rather than looked up.
func PolicyFor(kind Kind) (Policy, error) {
	switch kind {
	case URL:
		return decodeChain | CompressSpace, nil
	case QueryArgKey:
		return decodeChain, nil
	case QueryArgVal:
		return decodeChain | DeleteComment, nil
	case PostArgKey:
		return decodeChain, nil
	case PostArgVal:
		return decodeChain | DeleteComment, nil
	case CookieKey:
		return decodeChain, nil
	case CookieVal:
		return decodeChain | DeleteComment, nil
	case Host:
		return decodeChain | DecodeBase64, nil
	case Referer:
		return decodeChain, nil
	case UserAgent:
		return decodeChain, nil
	case ContentVal:
		return decodeChain, nil
	case ContentLength:
		return decodeChain, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidFieldKind, int(kind))
	}
}

func (p Policy) Has(flag Policy) bool {
	return p&flag == flag
}

func (p Policy) String() string {
	if p == 0 {
		return "none"
	}
	names := make([]string, 0, len(flagNames))
	for _, f := range flagNames {
		if p.Has(f.flag) {
			names = append(names, f.name)
		}
	}
	return strings.Join(names, "|")
}
