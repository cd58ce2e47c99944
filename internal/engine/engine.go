// Package engine is the entry point of the decision core: it classifies a
// field, runs the scan escalation against the published signature set and
// manages reconfiguration of that set.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/klyr/wafcore/internal/field"
	"github.com/klyr/wafcore/internal/rules"
	"github.com/klyr/wafcore/internal/scan"
	"github.com/klyr/wafcore/internal/store"
)

var (
	ErrNotConfigured = errors.New("engine has no signature database")
	ErrShutdown      = errors.New("engine is shut down")
)

// Metrics receives scan and reload observations.
type Metrics interface {
	store.Observer
	ObserveScan(kind field.Kind, tier scan.Tier, matched bool, elapsed time.Duration)
	ObserveMatch(info *rules.SignatureInfo)
	ObserveScanError(reason string)
	ObserveCacheHit()
}

type Options struct {
	Logger  *zap.Logger
	Metrics Metrics

	// Loader and Compiler default to the YAML rule loader and rules.Compile.
	Loader   store.Loader
	Compiler store.Compiler

	// CacheSize enables a verdict cache of that many entries. The cache
	// assumes the whitelist predicate depends only on its arguments.
	CacheSize int
}

// Verdict is the outcome of one field scan.
type Verdict struct {
	Info       *rules.SignatureInfo
	Tier       scan.Tier
	Generation uint64
	Cached     bool
}

type Status struct {
	store.Status
	RiskLevel    rules.RiskLevel `json:"risk_level"`
	CacheEntries int             `json:"cache_entries"`
}

type Engine struct {
	store    *store.Store
	logger   *zap.Logger
	metrics  Metrics
	cache    *verdictCache
	shutdown atomic.Bool
}

// New returns an engine with no database. Scans fail with ErrNotConfigured
// until ConfigureDatabase succeeds.
func New(opts Options) (*Engine, error) {
	if opts.CacheSize < 0 {
		return nil, fmt.Errorf("cache size must be >= 0, got %d", opts.CacheSize)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{logger: logger, metrics: opts.Metrics}
	e.store = store.New(store.Options{
		Loader:   opts.Loader,
		Compiler: opts.Compiler,
		Logger:   logger,
		Observer: opts.Metrics,
	})

	if opts.CacheSize > 0 {
		cache, err := newVerdictCache(opts.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("verdict cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// ConfigureDatabase loads, compiles and publishes the rule source at path.
// On failure the engine keeps serving the previous database.
func (e *Engine) ConfigureDatabase(path string) error {
	if e.shutdown.Load() {
		return ErrShutdown
	}
	return e.storeErr(e.store.Configure(path))
}

// SetRiskLevel applies immediately to the active matcher and to every
// database configured later.
func (e *Engine) SetRiskLevel(level rules.RiskLevel) error {
	if e.shutdown.Load() {
		return ErrShutdown
	}
	if !level.Valid() {
		return fmt.Errorf("%w: %d", rules.ErrInvalidRiskLevel, int(level))
	}
	return e.storeErr(e.store.SetRiskLevel(level))
}

// SetWhitelist applies immediately to the active matcher and to every
// database configured later. A nil w removes the whitelist.
func (e *Engine) SetWhitelist(w rules.Whitelist) error {
	if e.shutdown.Load() {
		return ErrShutdown
	}
	return e.storeErr(e.store.SetWhitelist(w))
}

// Scan reports the signature data matches after normalization for kind, or
// nil. data is not modified.
func (e *Engine) Scan(kind field.Kind, data []byte) (*rules.SignatureInfo, error) {
	v, err := e.Inspect(kind, data)
	if err != nil {
		return nil, err
	}
	return v.Info, nil
}

// Inspect is Scan with the escalation tier and generation of the outcome.
func (e *Engine) Inspect(kind field.Kind, data []byte) (Verdict, error) {
	if e.shutdown.Load() {
		return Verdict{}, ErrShutdown
	}
	policy, err := field.PolicyFor(kind)
	if err != nil {
		e.scanError("invalid_field")
		return Verdict{}, err
	}

	start := time.Now()
	epoch := e.store.Epoch()
	if e.cache != nil {
		if v, ok := e.cache.get(kind, data, epoch); ok {
			if e.metrics != nil {
				e.metrics.ObserveCacheHit()
			}
			e.observe(kind, v, time.Since(start))
			return v, nil
		}
	}

	h := e.store.Acquire()
	if h == nil {
		if e.shutdown.Load() {
			return Verdict{}, ErrShutdown
		}
		e.scanError("not_configured")
		return Verdict{}, ErrNotConfigured
	}
	res := scan.Run(h.Matcher(), policy, kind, bytes.Clone(data))
	generation := h.Generation()
	h.Release()

	if res.Info != nil {
		res.Info.Generation = generation
	}
	v := Verdict{Info: res.Info, Tier: res.Tier, Generation: generation}
	if e.cache != nil {
		e.cache.add(kind, data, epoch, v)
	}
	e.observe(kind, v, time.Since(start))
	return v, nil
}

func (e *Engine) observe(kind field.Kind, v Verdict, elapsed time.Duration) {
	if v.Info != nil {
		e.logger.Debug("signature matched",
			zap.String("field", kind.String()),
			zap.String("rule_id", v.Info.RuleID),
			zap.String("tier", v.Tier.String()),
			zap.Uint64("generation", v.Generation),
			zap.Bool("cached", v.Cached),
		)
	}
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveScan(kind, v.Tier, v.Info != nil, elapsed)
	if v.Info != nil {
		e.metrics.ObserveMatch(v.Info)
	}
}

func (e *Engine) scanError(reason string) {
	if e.metrics != nil {
		e.metrics.ObserveScanError(reason)
	}
}

// Shutdown releases the active database once in-flight scans finish. Every
// later call, including another Shutdown, returns ErrShutdown.
func (e *Engine) Shutdown() error {
	if e.shutdown.Swap(true) {
		return ErrShutdown
	}
	if err := e.store.Close(); err != nil && !errors.Is(err, store.ErrClosed) {
		return err
	}
	if e.cache != nil {
		e.cache.purge()
	}
	e.logger.Info("engine shut down")
	return nil
}

func (e *Engine) Status() Status {
	st := Status{Status: e.store.Status(), RiskLevel: e.store.RiskLevel()}
	if e.cache != nil {
		st.CacheEntries = e.cache.len()
	}
	return st
}

// Sources lists the files the active database was built from.
func (e *Engine) Sources() []string {
	h := e.store.Acquire()
	if h == nil {
		return nil
	}
	defer h.Release()
	return append([]string(nil), h.Database().Sources...)
}

func (e *Engine) storeErr(err error) error {
	if errors.Is(err, store.ErrClosed) {
		return ErrShutdown
	}
	return err
}
