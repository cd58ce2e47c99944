package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRiskLevel is returned for a level outside Low..Paranoid.
var ErrInvalidRiskLevel = errors.New("invalid risk level")

// RiskLevel is the engine sensitivity. A rule fires only when the configured
// level is at least the rule's own level.
type RiskLevel int

const (
	LevelLow RiskLevel = iota + 1
	LevelMedium
	LevelHigh
	LevelParanoid
)

const DefaultRiskLevel = LevelMedium

var levelNames = map[RiskLevel]string{
	LevelLow:      "low",
	LevelMedium:   "medium",
	LevelHigh:     "high",
	LevelParanoid: "paranoid",
}

func (l RiskLevel) Valid() bool {
	return l >= LevelLow && l <= LevelParanoid
}

func (l RiskLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// ParseRiskLevel accepts a level name or its number.
func ParseRiskLevel(raw string) (RiskLevel, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if n, err := strconv.Atoi(raw); err == nil {
		if level := RiskLevel(n); level.Valid() {
			return level, nil
		}
		return 0, fmt.Errorf("%w: %d", ErrInvalidRiskLevel, n)
	}
	for level, name := range levelNames {
		if name == raw {
			return level, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidRiskLevel, raw)
}

func (l *RiskLevel) UnmarshalYAML(value *yaml.Node) error {
	level, err := ParseRiskLevel(value.Value)
	if err != nil {
		return err
	}
	*l = level
	return nil
}

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

type MatchType string

const (
	MatchRegex MatchType = "regex"
	MatchAho   MatchType = "aho"
)

type Transform string

const TransformLowercase Transform = "lowercase"

// SignatureInfo describes the rule that matched a payload.
//
// It is tied to the database generation that produced it: once the engine
// has been reloaded the rule it names may no longer exist or may mean
// something else, so callers must act on it before the next reload and
// must not cache it across reloads.
type SignatureInfo struct {
	RuleID     string    `json:"rule_id"`
	Message    string    `json:"message,omitempty"`
	Category   string    `json:"category,omitempty"`
	Severity   Severity  `json:"severity"`
	Level      RiskLevel `json:"level"`
	Tags       []string  `json:"tags,omitempty"`
	Evidence   string    `json:"evidence"`
	Database   string    `json:"database"`
	Generation uint64    `json:"generation"`
}

// Whitelist decides whether an otherwise matching result is suppressed.
type Whitelist interface {
	Suppress(info SignatureInfo, payload []byte) bool
}

// WhitelistFunc adapts a plain function to Whitelist.
type WhitelistFunc func(info SignatureInfo, payload []byte) bool

func (f WhitelistFunc) Suppress(info SignatureInfo, payload []byte) bool {
	return f(info, payload)
}

// Pattern returns true if the input matches and an evidence snippet.
// Evidence is capped at maxEvidence bytes.
type Pattern interface {
	Match(input []byte) (bool, string)
}
