package rules

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobRule suppresses matches of rules whose id matches Rule and, when
// Payload is set, whose normalized payload matches Payload.
type GlobRule struct {
	Rule    string
	Payload string
}

type GlobWhitelist struct {
	entries []globEntry
}

type globEntry struct {
	rule    glob.Glob
	payload glob.Glob
}

func NewGlobWhitelist(rules []GlobRule) (*GlobWhitelist, error) {
	entries := make([]globEntry, 0, len(rules))
	for i, r := range rules {
		if r.Rule == "" {
			return nil, fmt.Errorf("whitelist[%d]: rule pattern is required", i)
		}
		ruleGlob, err := glob.Compile(r.Rule)
		if err != nil {
			return nil, fmt.Errorf("whitelist[%d] rule: %w", i, err)
		}
		entry := globEntry{rule: ruleGlob}
		if r.Payload != "" {
			payloadGlob, err := glob.Compile(r.Payload)
			if err != nil {
				return nil, fmt.Errorf("whitelist[%d] payload: %w", i, err)
			}
			entry.payload = payloadGlob
		}
		entries = append(entries, entry)
	}
	return &GlobWhitelist{entries: entries}, nil
}

func (w *GlobWhitelist) Suppress(info SignatureInfo, payload []byte) bool {
	for _, e := range w.entries {
		if !e.rule.Match(info.RuleID) {
			continue
		}
		if e.payload == nil || e.payload.Match(string(payload)) {
			return true
		}
	}
	return false
}
