package rules

import "sync/atomic"

// Matcher is the compiled form of one Database. Risk level and whitelist
// can be changed while scans run; each scan reads them once.
type Matcher struct {
	rules       []compiledRule
	fingerprint string

	level     atomic.Int32
	whitelist atomic.Pointer[whitelistRef]
	closed    atomic.Bool
}

type compiledRule struct {
	info    SignatureInfo
	pattern Pattern
}

type whitelistRef struct {
	w Whitelist
}

func newMatcher(rules []compiledRule, fingerprint string) *Matcher {
	m := &Matcher{rules: rules, fingerprint: fingerprint}
	m.level.Store(int32(DefaultRiskLevel))
	return m
}

// Scan returns the first enabled, non-suppressed rule matching data, in
// rule source order, or nil.
func (m *Matcher) Scan(data []byte) *SignatureInfo {
	level := RiskLevel(m.level.Load())
	ref := m.whitelist.Load()

	for i := range m.rules {
		rule := &m.rules[i]
		if rule.info.Level > level {
			continue
		}
		matched, evidence := rule.pattern.Match(data)
		if !matched {
			continue
		}

		info := rule.info
		info.Tags = append([]string(nil), rule.info.Tags...)
		info.Evidence = evidence
		info.Database = m.fingerprint
		if ref != nil && ref.w.Suppress(info, data) {
			continue
		}
		return &info
	}
	return nil
}

func (m *Matcher) SetLevel(level RiskLevel) {
	m.level.Store(int32(level))
}

func (m *Matcher) Level() RiskLevel {
	return RiskLevel(m.level.Load())
}

// SetWhitelist installs w; nil removes the whitelist.
func (m *Matcher) SetWhitelist(w Whitelist) {
	if w == nil {
		m.whitelist.Store(nil)
		return
	}
	m.whitelist.Store(&whitelistRef{w: w})
}

func (m *Matcher) Fingerprint() string {
	return m.fingerprint
}

func (m *Matcher) RuleCount() int {
	return len(m.rules)
}

// Close releases the compiled rules. The caller guarantees no scan is still
// running on m.
func (m *Matcher) Close() {
	if m.closed.Swap(true) {
		return
	}
	m.rules = nil
}

func (m *Matcher) Closed() bool {
	return m.closed.Load()
}
