package rules

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// Database is a loaded and validated rule source. It is never mutated after
// LoadDatabase returns; a reload builds a new one.
type Database struct {
	Path        string
	Version     int
	Rules       []RuleSpec
	Sources     []string
	Fingerprint string
	LoadedAt    time.Time
}

type RuleSpec struct {
	ID         string    `yaml:"id"`
	Message    string    `yaml:"message"`
	Category   string    `yaml:"category"`
	Severity   Severity  `yaml:"severity"`
	Level      RiskLevel `yaml:"level"`
	Tags       []string  `yaml:"tags"`
	Transforms []string  `yaml:"transforms"`
	Match      MatchSpec `yaml:"match"`
}

type MatchSpec struct {
	Type         MatchType `yaml:"type"`
	Pattern      string    `yaml:"pattern"`
	Patterns     []string  `yaml:"patterns"`
	PatternsFile string    `yaml:"patternsFile"`
}

type ruleSource struct {
	Version int        `yaml:"version"`
	Rules   []RuleSpec `yaml:"rules"`
}

// ValidationError lists every problem found in a rule source.
type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d rule error(s): %s", len(v.Problems), strings.Join(v.Problems, "; "))
}

// FileLoader reads YAML rule sources from disk.
type FileLoader struct{}

func (FileLoader) Load(path string) (*Database, error) {
	return LoadDatabase(path)
}

// LoadDatabase reads, parses and validates the rule source at path, inlining
// the contents of any patternsFile it references.
func LoadDatabase(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}

	var src ruleSource
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&src); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve rules path: %w", err)
	}
	baseDir := filepath.Dir(absPath)

	digest := xxhash.New()
	_, _ = digest.Write(data)
	sources := []string{absPath}

	v := &ValidationError{}
	if src.Version != 1 {
		v.Add("version must be 1")
	}
	if len(src.Rules) == 0 {
		v.Add("at least one rule is required")
	}

	ids := map[string]struct{}{}
	for i := range src.Rules {
		rule := &src.Rules[i]
		applyDefaults(rule)

		if rule.ID == "" {
			v.Add("rules[%d].id is required", i)
		} else if _, exists := ids[rule.ID]; exists {
			v.Add("rules[%d].id %q is duplicated", i, rule.ID)
		} else {
			ids[rule.ID] = struct{}{}
		}

		if !rule.Severity.Valid() {
			v.Add("rules[%d].severity must be info|low|medium|high|critical", i)
		}
		for _, t := range rule.Transforms {
			if Transform(strings.TrimSpace(t)) != TransformLowercase {
				v.Add("rules[%d].transforms has unknown transform %q", i, t)
			}
		}

		switch rule.Match.Type {
		case MatchAho:
			if rule.Match.PatternsFile != "" {
				file := resolvePath(baseDir, rule.Match.PatternsFile)
				patterns, raw, readErr := readPatterns(file)
				if readErr != nil {
					v.Add("rules[%d].match.patternsFile invalid: %v", i, readErr)
					continue
				}
				_, _ = digest.Write(raw)
				sources = append(sources, file)
				rule.Match.Patterns = append(rule.Match.Patterns, patterns...)
			}
			if len(rule.Match.Patterns) == 0 {
				v.Add("rules[%d].match requires patterns or patternsFile for aho", i)
			}
		case MatchRegex:
			if rule.Match.Pattern == "" {
				v.Add("rules[%d].match.pattern is required for regex", i)
			}
		default:
			v.Add("rules[%d].match.type must be aho|regex", i)
		}
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return nil, v
	}

	return &Database{
		Path:        absPath,
		Version:     src.Version,
		Rules:       src.Rules,
		Sources:     sources,
		Fingerprint: strconv.FormatUint(digest.Sum64(), 16),
		LoadedAt:    time.Now().UTC(),
	}, nil
}

func applyDefaults(rule *RuleSpec) {
	if rule.Level == 0 {
		rule.Level = LevelLow
	}
	if rule.Severity == "" {
		rule.Severity = SeverityMedium
	}
}

func readPatterns(path string) ([]string, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var patterns []string
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return patterns, raw, nil
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
