package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "wafcore.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsAndResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "rules"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rules", "default.yaml"), []byte("version: 1\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	path := writeConfig(t, dir, `
configVersion: 1
engine:
  rules: rules/default.yaml
  watch:
    enabled: true
    debounce: 100ms
server:
  listen: 127.0.0.1:8080
  upstream: http://127.0.0.1:9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RulesPath() != filepath.Join(dir, "rules", "default.yaml") {
		t.Fatalf("unexpected rules path %s", cfg.RulesPath())
	}
	if cfg.Engine.Watch.Debounce != 100*time.Millisecond || cfg.Engine.Watch.MaxReloadsPerMinute != 30 {
		t.Fatalf("unexpected watch config: %+v", cfg.Engine.Watch)
	}
	if cfg.Engine.RiskLevel != "medium" || cfg.Server.Mode != ModeEnforce || cfg.Server.FailMode != FailOpen {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Engine, cfg.Server)
	}
	if cfg.Server.BlockStatusCode != 403 || cfg.Server.MaxBodyBytes != 1<<20 {
		t.Fatalf("server defaults not applied: %+v", cfg.Server)
	}
	if err := cfg.Validate(true); err != nil {
		t.Fatalf("Validate error: %v", err)
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, `
configVersion: 2
engine:
  riskLevel: extreme
  verdictCacheSize: -1
whitelist:
  - payload: "[bad"
server:
  listen: ""
  upstream: "not a url"
  mode: learn
  failMode: maybe
  blockStatusCode: 200
logging:
  level: loud
metrics:
  enabled: true
  listen: ""
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	err = cfg.Validate(true)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	want := []string{
		"configVersion must be 1",
		"engine.rules is required",
		"engine.riskLevel must be",
		"engine.verdictCacheSize must be >= 0",
		"whitelist[0].rule is required",
		"whitelist[0].payload invalid",
		"server.listen invalid",
		"server.upstream invalid",
		"server.mode must be enforce|shadow",
		"server.failMode must be open|closed",
		"server.blockStatusCode must be",
		"logging.level must be",
		"metrics.listen invalid",
	}
	joined := strings.Join(verr.Problems, "\n")
	for _, w := range want {
		if !strings.Contains(joined, w) {
			t.Fatalf("expected problem %q in:\n%s", w, joined)
		}
	}
}

func TestValidateSkipsServerWhenNotRequired(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "rules.yaml"), []byte("version: 1\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	path := writeConfig(t, dir, "configVersion: 1\nengine:\n  rules: rules.yaml\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if err := cfg.Validate(false); err != nil {
		t.Fatalf("expected valid engine-only config, got %v", err)
	}
	if err := cfg.Validate(true); err == nil {
		t.Fatal("expected server problems when server is required")
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
	path := writeConfig(t, t.TempDir(), "engine: [\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadRejectsUnknownAndEmpty(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	if err := os.WriteFile(unknown, []byte("configVersion: 1\nengine:\n  rule: typo.yaml\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(unknown); err == nil {
		t.Fatalf("expected unknown key to be rejected")
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, nil, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(empty); err == nil {
		t.Fatalf("expected empty config to be rejected")
	}
}
