package rules

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Compile builds a Matcher from db. Rules compile in parallel; the first
// failure aborts the build and nothing of the partial result is kept.
func Compile(db *Database) (*Matcher, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	compiled := make([]compiledRule, len(db.Rules))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range db.Rules {
		i := i
		g.Go(func() error {
			rule, err := compileRule(db.Rules[i])
			if err != nil {
				return fmt.Errorf("rule %s: %w", db.Rules[i].ID, err)
			}
			compiled[i] = rule
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return newMatcher(compiled, db.Fingerprint), nil
}

func compileRule(spec RuleSpec) (compiledRule, error) {
	fold := false
	for _, t := range spec.Transforms {
		if Transform(strings.TrimSpace(t)) == TransformLowercase {
			fold = true
		}
	}

	var (
		pattern Pattern
		err     error
	)
	switch spec.Match.Type {
	case MatchRegex:
		if spec.Match.Pattern == "" {
			return compiledRule{}, fmt.Errorf("regex pattern is required")
		}
		pattern, err = NewRegexMatcher(spec.Match.Pattern, fold)
	case MatchAho:
		pattern, err = NewAhoMatcher(spec.Match.Patterns, fold)
	default:
		return compiledRule{}, fmt.Errorf("unknown match type %q", spec.Match.Type)
	}
	if err != nil {
		return compiledRule{}, err
	}

	return compiledRule{
		info: SignatureInfo{
			RuleID:   spec.ID,
			Message:  spec.Message,
			Category: spec.Category,
			Severity: spec.Severity,
			Level:    spec.Level,
			Tags:     append([]string(nil), spec.Tags...),
		},
		pattern: pattern,
	}, nil
}
