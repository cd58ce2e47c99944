package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"regexp"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/klyr/wafcore/internal/config"
	"github.com/klyr/wafcore/internal/engine"
	"github.com/klyr/wafcore/internal/field"
	"github.com/klyr/wafcore/internal/logging"
	"github.com/klyr/wafcore/internal/policy"
)

const defaultUpstreamTimeout = 30 * time.Second

var errBodyTooLarge = errors.New("request body exceeds limit")

// Inspector scans one classified field value.
type Inspector interface {
	Inspect(kind field.Kind, data []byte) (engine.Verdict, error)
}

// Metrics counts requests by the action taken.
type Metrics interface {
	ObserveRequest(action string)
}

// Gateway inspects each request field by field and forwards clean requests
// to a single upstream.
type Gateway struct {
	inspector Inspector
	proxy     *httputil.ReverseProxy
	logger    *zap.Logger

	mode            string
	failMode        string
	maxBodyBytes    int64
	blockStatusCode int

	verdictLog *logging.VerdictLogger
	metrics    Metrics

	requestCount uint64
}

func New(cfg config.ServerConfig, inspector Inspector, logger *zap.Logger) (*Gateway, error) {
	if inspector == nil {
		return nil, errors.New("inspector is required")
	}
	target, err := url.Parse(cfg.Upstream)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream %q must include scheme and host", cfg.Upstream)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.Transport = newTransport(defaultUpstreamTimeout)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
		default:
			logger.Warn("upstream error", zap.Error(err))
			http.Error(w, "upstream error", http.StatusBadGateway)
		}
	}

	g := &Gateway{
		inspector:       inspector,
		proxy:           proxy,
		logger:          logger,
		mode:            cfg.Mode,
		failMode:        cfg.FailMode,
		maxBodyBytes:    cfg.MaxBodyBytes,
		blockStatusCode: cfg.BlockStatusCode,
	}
	if g.mode == "" {
		g.mode = config.ModeEnforce
	}
	if g.failMode == "" {
		g.failMode = config.FailOpen
	}
	if g.blockStatusCode == 0 {
		g.blockStatusCode = http.StatusForbidden
	}
	return g, nil
}

func (g *Gateway) SetVerdictLogger(logger *logging.VerdictLogger) {
	g.verdictLog = logger
}

func (g *Gateway) SetMetrics(metrics Metrics) {
	g.metrics = metrics
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	base := logging.Verdict{
		Timestamp: time.Now().UTC(),
		RequestID: g.newRequestID(),
		ClientIP:  clientIP(r),
		Method:    r.Method,
		Host:      r.Host,
		Path:      r.URL.Path,
		Mode:      g.mode,
	}
	w.Header().Set("X-Request-Id", base.RequestID)

	body, err := g.readBody(w, r)
	if err != nil {
		if !errors.Is(err, errBodyTooLarge) {
			g.logger.Debug("read request body", zap.String("request_id", base.RequestID), zap.Error(err))
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		base.Action = string(policy.ActionBlock)
		base.StatusCode = http.StatusRequestEntityTooLarge
		g.writeVerdict(base)
		g.finish(base.Action)
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	action := string(policy.ActionAllow)
	for _, f := range ExtractFields(r, body) {
		verdict, err := g.inspector.Inspect(f.Kind, f.Value)
		if err != nil {
			if errors.Is(err, engine.ErrNotConfigured) || errors.Is(err, engine.ErrShutdown) {
				decided, stop := policy.DecideUnavailable(g.failMode)
				base.Action = string(decided)
				if stop {
					base.StatusCode = http.StatusServiceUnavailable
					g.writeVerdict(base)
					g.finish(base.Action)
					http.Error(w, "inspection unavailable", http.StatusServiceUnavailable)
					return
				}
				g.writeVerdict(base)
				action = base.Action
				break
			}
			g.logger.Error("field inspection failed", zap.String("field", f.Kind.String()), zap.Error(err))
			continue
		}
		if verdict.Info == nil {
			continue
		}

		entry := base
		entry.Field = f.Kind.String()
		entry.RuleID = verdict.Info.RuleID
		entry.Severity = string(verdict.Info.Severity)
		entry.Category = verdict.Info.Category
		entry.Tier = verdict.Tier.String()
		entry.Generation = verdict.Generation
		entry.Evidence = redactSecrets(verdict.Info.Evidence)

		decided, stop := policy.DecideMatch(g.mode)
		entry.Action = string(decided)
		if stop {
			entry.StatusCode = g.blockStatusCode
			g.writeVerdict(entry)
			g.finish(entry.Action)
			http.Error(w, "request blocked", g.blockStatusCode)
			return
		}
		g.writeVerdict(entry)
		action = entry.Action
	}

	g.finish(action)
	g.proxy.ServeHTTP(w, r)
}

func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if g.maxBodyBytes > 0 {
		if r.ContentLength > g.maxBodyBytes {
			return nil, errBodyTooLarge
		}
		r.Body = http.MaxBytesReader(w, r.Body, g.maxBodyBytes)
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, errBodyTooLarge
		}
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	r.ContentLength = int64(len(body))
	return body, nil
}

func (g *Gateway) writeVerdict(v logging.Verdict) {
	if g.verdictLog == nil {
		return
	}
	if err := g.verdictLog.Write(v); err != nil {
		g.logger.Warn("verdict log write failed", zap.Error(err))
	}
}

func (g *Gateway) finish(action string) {
	if g.metrics != nil {
		g.metrics.ObserveRequest(action)
	}
}

func (g *Gateway) newRequestID() string {
	var buf [12]byte
	if _, err := rand.Read(buf[:]); err == nil {
		return hex.EncodeToString(buf[:])
	}
	value := atomic.AddUint64(&g.requestCount, 1)
	return fmt.Sprintf("req-%d", value)
}

var (
	secretKVPattern     = regexp.MustCompile(`(?i)\b(password|passwd|token|api[_-]?key|secret)\s*=\s*([^\s&]+)`) // key=value
	secretBearerPattern = regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/-]+=*`)
)

func redactSecrets(input string) string {
	if input == "" {
		return input
	}
	redacted := secretKVPattern.ReplaceAllString(input, `$1=<redacted>`)
	redacted = secretBearerPattern.ReplaceAllString(redacted, "bearer <redacted>")
	return redacted
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func newTransport(timeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
}
