package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadDatabase(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sqli.txt", "# sql keywords\nunion select\n\nor 1=1\n")
	path := writeFile(t, dir, "rules.yaml", `
version: 1
rules:
  - id: xss-script
    category: xss
    severity: critical
    match:
      type: aho
      patterns: ["<script>"]
  - id: sqli-keywords
    level: high
    transforms: [lowercase]
    match:
      type: aho
      patternsFile: sqli.txt
  - id: traversal
    level: 2
    match:
      type: regex
      pattern: '\.\./'
`)

	db, err := LoadDatabase(path)
	if err != nil {
		t.Fatalf("LoadDatabase error: %v", err)
	}
	if len(db.Rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(db.Rules))
	}
	if db.Rules[0].Level != LevelLow || db.Rules[0].Severity != SeverityCritical {
		t.Fatalf("unexpected defaults for first rule: %+v", db.Rules[0])
	}
	if db.Rules[1].Level != LevelHigh || db.Rules[1].Severity != SeverityMedium {
		t.Fatalf("unexpected level/severity for second rule: %+v", db.Rules[1])
	}
	if got := db.Rules[1].Match.Patterns; len(got) != 2 || got[0] != "union select" {
		t.Fatalf("expected patterns from file, got %v", got)
	}
	if db.Rules[2].Level != LevelMedium {
		t.Fatalf("expected numeric level 2, got %v", db.Rules[2].Level)
	}
	if len(db.Sources) != 2 {
		t.Fatalf("expected rule file and patterns file as sources, got %v", db.Sources)
	}
	if db.Fingerprint == "" {
		t.Fatal("expected fingerprint")
	}
}

func TestLoadDatabaseFingerprintTracksPatternFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "p.txt", "alpha\n")
	path := writeFile(t, dir, "rules.yaml", "version: 1\nrules:\n  - id: r1\n    match: {type: aho, patternsFile: p.txt}\n")

	first, err := LoadDatabase(path)
	if err != nil {
		t.Fatalf("LoadDatabase error: %v", err)
	}
	writeFile(t, dir, "p.txt", "beta\n")
	second, err := LoadDatabase(path)
	if err != nil {
		t.Fatalf("LoadDatabase error: %v", err)
	}
	if first.Fingerprint == second.Fingerprint {
		t.Fatal("expected fingerprint to change with pattern file")
	}
}

func TestLoadDatabaseErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadDatabase(filepath.Join(dir, "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}

	bad := writeFile(t, dir, "bad.yaml", "version: 1\nrules: [\n")
	if _, err := LoadDatabase(bad); err == nil || !strings.Contains(err.Error(), "parse rules") {
		t.Fatalf("expected parse error, got %v", err)
	}

	unknown := writeFile(t, dir, "unknown.yaml", "version: 1\nrules:\n  - id: r1\n    pattern: x\n")
	if _, err := LoadDatabase(unknown); err == nil {
		t.Fatal("expected unknown field error")
	}

	invalid := writeFile(t, dir, "invalid.yaml", `
version: 2
rules:
  - id: dup
    match: {type: aho, patterns: [a]}
  - id: dup
    severity: extreme
    match: {type: glob}
  - id: r3
    match: {type: regex}
  - id: r4
    match: {type: aho, patternsFile: nope.txt}
`)
	_, err := LoadDatabase(invalid)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Problems) != 6 {
		t.Fatalf("expected 6 problems, got %d: %v", len(verr.Problems), verr.Problems)
	}

	level := writeFile(t, dir, "level.yaml", "version: 1\nrules:\n  - id: r1\n    level: extreme\n    match: {type: aho, patterns: [a]}\n")
	if _, err := LoadDatabase(level); !errors.Is(err, ErrInvalidRiskLevel) {
		t.Fatalf("expected ErrInvalidRiskLevel, got %v", err)
	}
}

func TestBundledRulesCompile(t *testing.T) {
	db, err := LoadDatabase(filepath.Join("..", "..", "configs", "rules", "default.yaml"))
	if err != nil {
		t.Fatalf("load bundled rules: %v", err)
	}
	if len(db.Sources) != 2 {
		t.Fatalf("expected rules file and pattern file as sources, got %v", db.Sources)
	}

	m, err := Compile(db)
	if err != nil {
		t.Fatalf("compile bundled rules: %v", err)
	}
	defer m.Close()

	cases := []struct {
		payload string
		ruleID  string
	}{
		{"<SCRIPT>alert(1)</SCRIPT>", "xss-script"},
		{"1 UNION SELECT password FROM users", "sqli-union"},
		{"x' or '1'='1", "sqli-tautology"},
		{"../../etc/passwd", "traversal"},
		{"a; cat /etc/shadow", "cmd-injection"},
		{"hello world", ""},
	}
	for _, tt := range cases {
		info := m.Scan([]byte(tt.payload))
		got := ""
		if info != nil {
			got = info.RuleID
		}
		if got != tt.ruleID {
			t.Fatalf("payload %q: expected %q, got %q", tt.payload, tt.ruleID, got)
		}
	}
}
