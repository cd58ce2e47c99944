// Package scan escalates a field value through up to three matcher attempts,
// each on a more aggressively normalized form of the value.
package scan

import (
	"github.com/klyr/wafcore/internal/field"
	"github.com/klyr/wafcore/internal/normalize"
	"github.com/klyr/wafcore/internal/rules"
)

// Matcher is the one call the orchestrator needs from a compiled signature set.
type Matcher interface {
	Scan(data []byte) *rules.SignatureInfo
}

// Tier identifies the attempt that produced a Result.
type Tier int

const (
	TierDecoded Tier = iota + 1
	TierSpaceless
	TierBase64
)

func (t Tier) String() string {
	switch t {
	case TierDecoded:
		return "decoded"
	case TierSpaceless:
		return "spaceless"
	case TierBase64:
		return "base64"
	default:
		return "unknown"
	}
}

type Result struct {
	Info *rules.SignatureInfo
	Tier Tier
}

func (r Result) Matched() bool {
	return r.Info != nil
}

// Run takes ownership of payload and may rewrite it.
//
// Tier 1 scans the policy-decoded value with whitespace runs compressed.
// On a miss tier 2 scans it again with all whitespace removed, and on a
// second miss tier 3 scans the base64 decoding of the tier 2 form. The
// first hit ends the escalation; the tier 3 outcome is final either way.
func Run(m Matcher, policy field.Policy, kind field.Kind, payload []byte) Result {
	payload = normalize.Apply(policy, payload)
	payload = normalize.CompressSpace(payload)
	if info := m.Scan(payload); info != nil {
		return Result{Info: info, Tier: TierDecoded}
	}

	payload = normalize.DeleteSpace(payload)
	if info := m.Scan(payload); info != nil {
		return Result{Info: info, Tier: TierSpaceless}
	}

	if kind == field.URL {
		payload = normalize.Base64URLDecode(payload)
	} else {
		payload = normalize.Base64Decode(payload)
	}
	return Result{Info: m.Scan(payload), Tier: TierBase64}
}
