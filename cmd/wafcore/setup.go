package main

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/klyr/wafcore/internal/config"
	"github.com/klyr/wafcore/internal/engine"
	"github.com/klyr/wafcore/internal/rules"
)

func loadConfig(path string, requireServer bool) (*config.Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(requireServer); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildEngine creates the engine and applies the configured level,
// whitelist and rule source, in that order.
func buildEngine(cfg *config.Config, logger *zap.Logger, metrics engine.Metrics) (*engine.Engine, error) {
	e, err := engine.New(engine.Options{
		Logger:    logger,
		Metrics:   metrics,
		CacheSize: cfg.Engine.VerdictCacheSize,
	})
	if err != nil {
		return nil, err
	}

	level, err := rules.ParseRiskLevel(cfg.Engine.RiskLevel)
	if err != nil {
		return nil, err
	}
	if err := e.SetRiskLevel(level); err != nil {
		return nil, err
	}

	if len(cfg.Whitelist) > 0 {
		entries := make([]rules.GlobRule, 0, len(cfg.Whitelist))
		for _, w := range cfg.Whitelist {
			entries = append(entries, rules.GlobRule{Rule: w.Rule, Payload: w.Payload})
		}
		wl, err := rules.NewGlobWhitelist(entries)
		if err != nil {
			return nil, err
		}
		if err := e.SetWhitelist(wl); err != nil {
			return nil, err
		}
	}

	if err := e.ConfigureDatabase(cfg.RulesPath()); err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return e, nil
}
