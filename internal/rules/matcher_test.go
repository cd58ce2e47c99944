package rules

import (
	"strings"
	"testing"
)

func testDatabase() *Database {
	return &Database{
		Fingerprint: "abc123",
		Rules: []RuleSpec{
			{ID: "xss-script", Severity: SeverityCritical, Level: LevelLow, Tags: []string{"xss"},
				Match: MatchSpec{Type: MatchAho, Patterns: []string{"<script"}}},
			{ID: "sqli-union", Severity: SeverityHigh, Level: LevelMedium, Transforms: []string{"lowercase"},
				Match: MatchSpec{Type: MatchAho, Patterns: []string{"union select"}}},
			{ID: "cmd-exec", Severity: SeverityHigh, Level: LevelParanoid,
				Match: MatchSpec{Type: MatchRegex, Pattern: `;\s*(cat|ls)\b`}},
		},
	}
}

func mustCompile(t *testing.T, db *Database) *Matcher {
	t.Helper()
	m, err := Compile(db)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return m
}

func TestMatcherScan(t *testing.T) {
	m := mustCompile(t, testDatabase())

	info := m.Scan([]byte("q=<script>alert(1)</script>"))
	if info == nil || info.RuleID != "xss-script" {
		t.Fatalf("expected xss-script, got %+v", info)
	}
	if info.Evidence != "<script" || info.Database != "abc123" {
		t.Fatalf("unexpected evidence/database: %+v", info)
	}

	info = m.Scan([]byte("1 UNION SELECT password"))
	if info == nil || info.RuleID != "sqli-union" {
		t.Fatalf("expected folded sqli match, got %+v", info)
	}

	if info := m.Scan([]byte("hello world")); info != nil {
		t.Fatalf("expected no match, got %+v", info)
	}
}

func TestMatcherSourceOrderWins(t *testing.T) {
	m := mustCompile(t, testDatabase())
	info := m.Scan([]byte("union select <script>"))
	if info == nil || info.RuleID != "xss-script" {
		t.Fatalf("expected first rule in source order, got %+v", info)
	}
}

func TestMatcherRiskLevel(t *testing.T) {
	m := mustCompile(t, testDatabase())
	payload := []byte("a; cat /etc/passwd")

	if m.Level() != DefaultRiskLevel {
		t.Fatalf("expected default level, got %v", m.Level())
	}
	if info := m.Scan(payload); info != nil {
		t.Fatalf("paranoid rule fired at medium: %+v", info)
	}

	m.SetLevel(LevelParanoid)
	if info := m.Scan(payload); info == nil || info.RuleID != "cmd-exec" {
		t.Fatalf("expected cmd-exec at paranoid, got %+v", info)
	}

	m.SetLevel(LevelLow)
	if info := m.Scan([]byte("union select")); info != nil {
		t.Fatalf("medium rule fired at low: %+v", info)
	}
}

func TestMatcherWhitelist(t *testing.T) {
	m := mustCompile(t, testDatabase())
	wl, err := NewGlobWhitelist([]GlobRule{{Rule: "xss-*", Payload: "*trusted*"}})
	if err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	m.SetWhitelist(wl)

	if info := m.Scan([]byte("trusted <script>")); info != nil {
		t.Fatalf("expected suppression, got %+v", info)
	}
	if info := m.Scan([]byte("evil <script>")); info == nil {
		t.Fatal("expected match outside whitelist payload")
	}

	// a suppressed rule does not hide later rules
	if info := m.Scan([]byte("trusted <script> union select")); info == nil || info.RuleID != "sqli-union" {
		t.Fatalf("expected sqli-union after suppressed xss, got %+v", info)
	}

	m.SetWhitelist(nil)
	if info := m.Scan([]byte("trusted <script>")); info == nil {
		t.Fatal("expected match after clearing whitelist")
	}
}

func TestMatcherResultIsIndependentCopy(t *testing.T) {
	m := mustCompile(t, testDatabase())
	first := m.Scan([]byte("<script"))
	first.Tags[0] = "mutated"
	second := m.Scan([]byte("<script"))
	if second.Tags[0] != "xss" {
		t.Fatalf("scan result shares tags with matcher: %v", second.Tags)
	}
}

func TestMatcherClose(t *testing.T) {
	m := mustCompile(t, testDatabase())
	if m.RuleCount() != 3 {
		t.Fatalf("expected 3 rules, got %d", m.RuleCount())
	}
	m.Close()
	m.Close()
	if !m.Closed() || m.RuleCount() != 0 {
		t.Fatal("expected closed matcher with no rules")
	}
}

func TestCompileErrors(t *testing.T) {
	if _, err := Compile(nil); err == nil {
		t.Fatal("expected error for nil database")
	}

	db := &Database{Rules: []RuleSpec{
		{ID: "bad-regex", Match: MatchSpec{Type: MatchRegex, Pattern: "("}},
	}}
	_, err := Compile(db)
	if err == nil || !strings.Contains(err.Error(), "rule bad-regex") {
		t.Fatalf("expected rule-scoped compile error, got %v", err)
	}
}

func TestEvidenceIsCapped(t *testing.T) {
	m, err := NewRegexMatcher(`a+`, false)
	if err != nil {
		t.Fatalf("regex: %v", err)
	}
	_, evidence := m.Match([]byte(strings.Repeat("a", 200)))
	if len(evidence) != maxEvidence {
		t.Fatalf("expected %d byte evidence, got %d", maxEvidence, len(evidence))
	}
}

func TestGlobWhitelistErrors(t *testing.T) {
	if _, err := NewGlobWhitelist([]GlobRule{{Payload: "*"}}); err == nil {
		t.Fatal("expected error for missing rule pattern")
	}
	if _, err := NewGlobWhitelist([]GlobRule{{Rule: "[unterminated"}}); err == nil {
		t.Fatal("expected error for bad glob")
	}
}
