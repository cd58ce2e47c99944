package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"

	"github.com/klyr/wafcore/internal/config"
	"github.com/klyr/wafcore/internal/engine"
	"github.com/klyr/wafcore/internal/field"
	"github.com/klyr/wafcore/internal/logging"
	"github.com/klyr/wafcore/internal/policy"
)

const gatewayRules = `
version: 1
rules:
  - id: xss-script
    category: xss
    severity: critical
    match: {type: aho, patterns: ["<script"]}
  - id: sqli-union
    category: sqli
    transforms: [lowercase]
    match: {type: aho, patterns: ["union select"]}
`

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(gatewayRules), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	e, err := engine.New(engine.Options{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := e.ConfigureDatabase(path); err != nil {
		t.Fatalf("ConfigureDatabase: %v", err)
	}
	return e
}

type backendCounter struct {
	hits atomic.Int64
}

func newBackend(t *testing.T) (*httptest.Server, *backendCounter) {
	t.Helper()
	counter := &backendCounter{}
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counter.hits.Add(1)
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok:" + string(body)))
	}))
	t.Cleanup(backend.Close)
	return backend, counter
}

func serverConfig(upstream, mode, failMode string) config.ServerConfig {
	return config.ServerConfig{
		Upstream:        upstream,
		Mode:            mode,
		FailMode:        failMode,
		MaxBodyBytes:    1024,
		BlockStatusCode: http.StatusForbidden,
	}
}

type actionCounter struct {
	actions []string
}

func (m *actionCounter) ObserveRequest(action string) {
	m.actions = append(m.actions, action)
}

func readVerdicts(t *testing.T, buf *bytes.Buffer) []logging.Verdict {
	t.Helper()
	var out []logging.Verdict
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var v logging.Verdict
		if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
			t.Fatalf("invalid verdict line: %v", err)
		}
		out = append(out, v)
	}
	return out
}

func TestGatewayProxiesCleanRequest(t *testing.T) {
	backend, counter := newBackend(t)
	gw, err := New(serverConfig(backend.URL, config.ModeEnforce, config.FailOpen), newEngine(t), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "http://example.com/search?q=shoes", strings.NewReader("name=alice"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != "ok:name=alice" {
		t.Fatalf("expected body forwarded, got %q", body)
	}
	if counter.hits.Load() != 1 {
		t.Fatalf("expected one upstream hit, got %d", counter.hits.Load())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected request id header")
	}
}

func TestGatewayBlocksInEnforceMode(t *testing.T) {
	backend, counter := newBackend(t)
	gw, err := New(serverConfig(backend.URL, config.ModeEnforce, config.FailOpen), newEngine(t), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	var buf bytes.Buffer
	gw.SetVerdictLogger(logging.NewVerdictLogger(&buf))
	metrics := &actionCounter{}
	gw.SetMetrics(metrics)

	req := httptest.NewRequest(http.MethodGet, "http://example.com/?q=%3Cscript%3Ealert(1)", nil)
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if counter.hits.Load() != 0 {
		t.Fatal("blocked request reached upstream")
	}

	verdicts := readVerdicts(t, &buf)
	if len(verdicts) != 1 {
		t.Fatalf("expected 1 verdict, got %d", len(verdicts))
	}
	v := verdicts[0]
	if v.RuleID != "xss-script" || v.Field != "query_arg_val" || v.Action != string(policy.ActionBlock) || v.Tier != "decoded" || v.Generation != 1 {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if strings.Join(metrics.actions, ",") != string(policy.ActionBlock) {
		t.Fatalf("unexpected actions: %v", metrics.actions)
	}
}

func TestGatewayShadowModeLogsAndForwards(t *testing.T) {
	backend, counter := newBackend(t)
	gw, err := New(serverConfig(backend.URL, config.ModeShadow, config.FailOpen), newEngine(t), nil)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	var buf bytes.Buffer
	gw.SetVerdictLogger(logging.NewVerdictLogger(&buf))

	req := httptest.NewRequest(http.MethodGet, "http://example.com/?a=%3Cscript%3E&b=UNION+SELECT", nil)
	req.Header.Set("Cookie", "session=PHNjcmlwdD4=")
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || counter.hits.Load() != 1 {
		t.Fatalf("expected shadowed request forwarded, got %d", rec.Code)
	}

	verdicts := readVerdicts(t, &buf)
	if len(verdicts) != 3 {
		t.Fatalf("expected 3 shadow verdicts, got %d: %+v", len(verdicts), verdicts)
	}
	if verdicts[2].Field != "cookie_val" || verdicts[2].Tier != "base64" {
		t.Fatalf("expected base64 cookie verdict, got %+v", verdicts[2])
	}
	for _, v := range verdicts {
		if v.Action != string(policy.ActionShadow) {
			t.Fatalf("expected shadow action, got %+v", v)
		}
	}
}

func TestGatewayFailModes(t *testing.T) {
	unconfigured, err := engine.New(engine.Options{})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	cases := []struct {
		failMode string
		code     int
		hits     int64
		action   string
	}{
		{config.FailOpen, http.StatusOK, 1, string(policy.ActionFailOpen)},
		{config.FailClosed, http.StatusServiceUnavailable, 0, string(policy.ActionFailClosed)},
	}
	for _, tt := range cases {
		backend, counter := newBackend(t)
		gw, err := New(serverConfig(backend.URL, config.ModeEnforce, tt.failMode), unconfigured, nil)
		if err != nil {
			t.Fatalf("New error: %v", err)
		}
		metrics := &actionCounter{}
		gw.SetMetrics(metrics)

		rec := httptest.NewRecorder()
		gw.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://example.com/?q=%3Cscript%3E", nil))
		if rec.Code != tt.code {
			t.Fatalf("failMode %s: expected %d, got %d", tt.failMode, tt.code, rec.Code)
		}
		if counter.hits.Load() != tt.hits {
			t.Fatalf("failMode %s: expected %d upstream hits, got %d", tt.failMode, tt.hits, counter.hits.Load())
		}
		if len(metrics.actions) != 1 || metrics.actions[0] != tt.action {
			t.Fatalf("failMode %s: unexpected actions %v", tt.failMode, metrics.actions)
		}
	}
}

func TestGatewayBodyErrors(t *testing.T) {
	cases := []struct {
		name    string
		body    io.Reader
		code    int
		actions []string
	}{
		{"declared length over limit", bytes.NewBufferString("hello"), http.StatusRequestEntityTooLarge, []string{string(policy.ActionBlock)}},
		{"chunked body over limit", io.MultiReader(strings.NewReader("hello")), http.StatusRequestEntityTooLarge, []string{string(policy.ActionBlock)}},
		{"client disconnect", iotest.ErrReader(errors.New("connection reset")), http.StatusBadRequest, nil},
	}
	for _, tt := range cases {
		backend, counter := newBackend(t)
		cfg := serverConfig(backend.URL, config.ModeEnforce, config.FailOpen)
		cfg.MaxBodyBytes = 4
		gw, err := New(cfg, newEngine(t), nil)
		if err != nil {
			t.Fatalf("New error: %v", err)
		}
		var buf bytes.Buffer
		gw.SetVerdictLogger(logging.NewVerdictLogger(&buf))
		metrics := &actionCounter{}
		gw.SetMetrics(metrics)

		rec := httptest.NewRecorder()
		gw.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "http://example.com/", tt.body))

		if rec.Code != tt.code {
			t.Fatalf("%s: expected %d, got %d", tt.name, tt.code, rec.Code)
		}
		if counter.hits.Load() != 0 {
			t.Fatalf("%s: expected no upstream hits, got %d", tt.name, counter.hits.Load())
		}
		if strings.Join(metrics.actions, ",") != strings.Join(tt.actions, ",") {
			t.Fatalf("%s: unexpected actions %v", tt.name, metrics.actions)
		}
		if verdicts := readVerdicts(t, &buf); len(verdicts) != len(tt.actions) {
			t.Fatalf("%s: expected %d verdicts, got %d", tt.name, len(tt.actions), len(verdicts))
		}
	}
}

func TestNewRejectsBadUpstream(t *testing.T) {
	if _, err := New(serverConfig("not-a-url", config.ModeEnforce, config.FailOpen), newEngine(t), nil); err == nil {
		t.Fatal("expected error for upstream without scheme")
	}
	if _, err := New(serverConfig("http://127.0.0.1:1", config.ModeEnforce, config.FailOpen), nil, nil); err == nil {
		t.Fatal("expected error without inspector")
	}
}

func TestExtractFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/a%2Fb?x=1&flag&y=%3C", strings.NewReader("user=bob&pw=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", "sid=abc; theme=dark")
	req.Header.Set("Referer", "http://ref.example/")
	req.Header.Set("User-Agent", "curl/8")
	req.Header.Set("Content-Length", "13")

	var got []string
	for _, f := range ExtractFields(req, []byte("user=bob&pw=x")) {
		got = append(got, f.Kind.String()+"="+string(f.Value))
	}
	want := []string{
		"url=/a%2Fb",
		"query_arg_key=x", "query_arg_val=1",
		"query_arg_key=flag",
		"query_arg_key=y", "query_arg_val=%3C",
		"cookie_key=sid", "cookie_val=abc",
		"cookie_key=theme", "cookie_val=dark",
		"host=example.com",
		"referer=http://ref.example/",
		"user_agent=curl/8",
		"content_length=13",
		"post_arg_key=user", "post_arg_val=bob",
		"post_arg_key=pw", "post_arg_val=x",
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("unexpected fields:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestExtractFieldsRawBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "http://example.com/", nil)
	req.Header.Set("Content-Type", "application/json")
	fields := ExtractFields(req, []byte(`{"a":1}`))
	last := fields[len(fields)-1]
	if last.Kind != field.ContentVal || string(last.Value) != `{"a":1}` {
		t.Fatalf("expected raw body field, got %+v", last)
	}
}

func TestRedactSecrets(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"password=hunter2 and Bearer abc.def", "password=<redacted> and bearer <redacted>"},
		{"Authorization: Bearer abc/def==", "Authorization: bearer <redacted>"},
		{"token=a-b_c&next=1", "token=<redacted>&next=1"},
		{"<script>", "<script>"},
		{"", ""},
	}
	for _, tt := range cases {
		if got := redactSecrets(tt.in); got != tt.want {
			t.Fatalf("redactSecrets(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
