// Package normalize holds the decode transforms applied to field values
// before signature matching. Every transform takes ownership of its input
// buffer and may rewrite it in place; callers must use the returned slice.
package normalize

import "github.com/klyr/wafcore/internal/field"

// Apply runs the decode chain enabled by policy. The order is fixed: each
// stage unwraps one encoding layer and later stages see the output of the
// earlier ones, so URL-encoded entities hiding a tag are caught.
func Apply(policy field.Policy, payload []byte) []byte {
	if policy.Has(field.DecodeURI) {
		payload = URLDecode(payload)
	}
	if policy.Has(field.DecodeHTML) {
		payload = HTMLEntityDecode(payload)
	}
	if policy.Has(field.DecodeJS) {
		payload = JSDecode(payload)
	}
	if policy.Has(field.DecodeCSS) {
		payload = CSSDecode(payload)
	}
	return payload
}
