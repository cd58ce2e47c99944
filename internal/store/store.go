// Package store owns the active signature database and its compiled matcher
// and replaces both together while scans keep running.
package store

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/klyr/wafcore/internal/rules"
)

var (
	ErrDatabaseLoad   = errors.New("signature database load failed")
	ErrMatcherCompile = errors.New("signature matcher compile failed")
	ErrClosed         = errors.New("signature store closed")
)

// Loader reads a rule source into a validated database.
type Loader interface {
	Load(path string) (*rules.Database, error)
}

// Compiler builds a matcher for exactly one database.
type Compiler interface {
	Compile(db *rules.Database) (Matcher, error)
}

type CompilerFunc func(db *rules.Database) (Matcher, error)

func (f CompilerFunc) Compile(db *rules.Database) (Matcher, error) {
	return f(db)
}

// Matcher is the compiled signature set as the store sees it.
type Matcher interface {
	Scan(data []byte) *rules.SignatureInfo
	SetLevel(level rules.RiskLevel)
	SetWhitelist(w rules.Whitelist)
	Close()
}

// RulesCompiler compiles with rules.Compile.
var RulesCompiler = CompilerFunc(func(db *rules.Database) (Matcher, error) {
	m, err := rules.Compile(db)
	if err != nil {
		return nil, err
	}
	return m, nil
})

// Observer is told about every reload attempt.
type Observer interface {
	ObserveReload(result string, generation uint64, ruleCount int)
}

type Options struct {
	Loader   Loader
	Compiler Compiler
	Logger   *zap.Logger
	Observer Observer
}

// Status reports the active database and reload history.
type Status struct {
	Generation   uint64    `json:"generation"`
	Path         string    `json:"path,omitempty"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	Rules        int       `json:"rules"`
	LoadedAt     time.Time `json:"loaded_at,omitempty"`
	BuildTime    string    `json:"build_time,omitempty"`
	LastReloadAt time.Time `json:"last_reload_at,omitempty"`
	ReloadCount  int       `json:"reload_count"`
	FailureCount int       `json:"failure_count"`
	LastError    string    `json:"last_error,omitempty"`
}

// bundle pairs one database with the matcher compiled from it. The store
// holds one reference while the bundle is published; every Handle holds
// another. The matcher is closed when the count drops to zero.
type bundle struct {
	db         *rules.Database
	matcher    Matcher
	generation uint64
	refs       atomic.Int64
}

func (b *bundle) release() {
	if b.refs.Add(-1) == 0 {
		b.matcher.Close()
	}
}

type whitelistRef struct {
	w rules.Whitelist
}

type Store struct {
	loader   Loader
	compiler Compiler
	logger   *zap.Logger
	observer Observer

	current atomic.Pointer[bundle]
	epoch   atomic.Uint64
	group   singleflight.Group

	// admin serializes every mutation of the published state and the
	// success status that describes it
	admin      sync.Mutex
	generation uint64
	closed     bool
	level      rules.RiskLevel
	whitelist  *whitelistRef

	statusMu sync.RWMutex
	status   Status
}

func New(opts Options) *Store {
	s := &Store{
		loader:   opts.Loader,
		compiler: opts.Compiler,
		logger:   opts.Logger,
		observer: opts.Observer,
		level:    rules.DefaultRiskLevel,
	}
	if s.loader == nil {
		s.loader = rules.FileLoader{}
	}
	if s.compiler == nil {
		s.compiler = RulesCompiler
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Configure loads and compiles the rule source at path and publishes the
// result. On any failure the previously published database and matcher stay
// active. Concurrent calls for the same path share one load.
func (s *Store) Configure(path string) error {
	_, err, _ := s.group.Do(path, func() (any, error) {
		return nil, s.configure(path)
	})
	return err
}

func (s *Store) configure(path string) error {
	start := time.Now()

	db, err := s.loader.Load(path)
	if err != nil {
		return s.reloadFailed(path, fmt.Errorf("%w: %w", ErrDatabaseLoad, err))
	}
	matcher, err := s.compiler.Compile(db)
	if err != nil {
		return s.reloadFailed(path, fmt.Errorf("%w: %w", ErrMatcherCompile, err))
	}

	s.admin.Lock()
	if s.closed {
		s.admin.Unlock()
		matcher.Close()
		return ErrClosed
	}
	matcher.SetLevel(s.level)
	if s.whitelist != nil {
		matcher.SetWhitelist(s.whitelist.w)
	}
	s.generation++
	next := &bundle{db: db, matcher: matcher, generation: s.generation}
	next.refs.Store(1)
	prev := s.current.Swap(next)
	s.epoch.Add(1)

	elapsed := time.Since(start)
	s.statusMu.Lock()
	s.status = Status{
		Generation:   next.generation,
		Path:         db.Path,
		Fingerprint:  db.Fingerprint,
		Rules:        len(db.Rules),
		LoadedAt:     db.LoadedAt,
		BuildTime:    elapsed.String(),
		LastReloadAt: time.Now().UTC(),
		ReloadCount:  s.status.ReloadCount + 1,
		FailureCount: s.status.FailureCount,
	}
	s.statusMu.Unlock()
	s.admin.Unlock()

	if prev != nil {
		prev.release()
	}

	s.logger.Info("signature database reloaded",
		zap.String("path", db.Path),
		zap.Uint64("generation", next.generation),
		zap.Int("rules", len(db.Rules)),
		zap.String("fingerprint", db.Fingerprint),
		zap.Duration("duration", elapsed),
	)
	if s.observer != nil {
		s.observer.ObserveReload("success", next.generation, len(db.Rules))
	}
	return nil
}

func (s *Store) reloadFailed(path string, err error) error {
	s.statusMu.Lock()
	s.status.FailureCount++
	s.status.LastError = err.Error()
	generation, ruleCount := s.status.Generation, s.status.Rules
	s.statusMu.Unlock()

	s.logger.Warn("signature database reload failed",
		zap.String("path", path),
		zap.Uint64("generation", generation),
		zap.Error(err),
	)
	if s.observer != nil {
		s.observer.ObserveReload("failure", generation, ruleCount)
	}
	return err
}

// SetRiskLevel applies level to the active matcher and to every matcher
// published later.
func (s *Store) SetRiskLevel(level rules.RiskLevel) error {
	s.admin.Lock()
	defer s.admin.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.level = level
	if b := s.current.Load(); b != nil {
		b.matcher.SetLevel(level)
	}
	s.epoch.Add(1)
	return nil
}

// SetWhitelist applies w to the active matcher and to every matcher
// published later. A nil w removes the whitelist.
func (s *Store) SetWhitelist(w rules.Whitelist) error {
	s.admin.Lock()
	defer s.admin.Unlock()
	if s.closed {
		return ErrClosed
	}
	if w == nil {
		s.whitelist = nil
	} else {
		s.whitelist = &whitelistRef{w: w}
	}
	if b := s.current.Load(); b != nil {
		b.matcher.SetWhitelist(w)
	}
	s.epoch.Add(1)
	return nil
}

func (s *Store) RiskLevel() rules.RiskLevel {
	s.admin.Lock()
	defer s.admin.Unlock()
	return s.level
}

// Epoch changes after every publish and every level or whitelist update.
// Anything derived from a scan is stale once the epoch has moved.
func (s *Store) Epoch() uint64 {
	return s.epoch.Load()
}

// Acquire pins the published bundle for one scan. It returns nil when no
// database has been published. The caller must Release the handle.
func (s *Store) Acquire() *Handle {
	for {
		b := s.current.Load()
		if b == nil {
			return nil
		}
		n := b.refs.Load()
		if n == 0 {
			// retired after the load; the replacement is already published
			continue
		}
		if b.refs.CompareAndSwap(n, n+1) {
			return &Handle{b: b}
		}
	}
}

func (s *Store) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

// Close unpublishes the active bundle. Its matcher is closed once the last
// outstanding handle is released. Later calls return ErrClosed.
func (s *Store) Close() error {
	s.admin.Lock()
	defer s.admin.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.closed = true
	if prev := s.current.Swap(nil); prev != nil {
		prev.release()
	}
	s.epoch.Add(1)
	return nil
}

// Handle keeps one database and matcher alive for the duration of a scan.
type Handle struct {
	b        *bundle
	released atomic.Bool
}

func (h *Handle) Matcher() Matcher {
	return h.b.matcher
}

func (h *Handle) Database() *rules.Database {
	return h.b.db
}

func (h *Handle) Generation() uint64 {
	return h.b.generation
}

// Release drops the reference. Releasing twice is a no-op.
func (h *Handle) Release() {
	if h.released.Swap(true) {
		return
	}
	h.b.release()
}
