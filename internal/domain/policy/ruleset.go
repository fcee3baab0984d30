package policy

import (
	"fmt"
	"time"
)

// RuleSetSource is the uncompiled, admin-editable form of a RuleSet: plain
// data, as loaded from the YAML persistence format (spec §6) or built up by
// admin mutations, before pattern compilation.
type RuleSetSource struct {
	ToolRules          map[string][]AllowlistRule
	CapabilityRules    map[string][]AllowlistRule
	ToolPatterns       []AllowlistRule
	CapabilityPatterns []AllowlistRule
	GlobalPatterns     []AllowlistRule
	DefaultAction      Action
}

// Compile builds an immutable RuleSet from src, compiling every pattern
// exactly once. A single bad regex aborts the whole snapshot: the caller
// should retain its previous RuleSet on error (spec §7 ConfigLoadError:
// "previous snapshot retained").
func Compile(src RuleSetSource, generation uint64) (*RuleSet, error) {
	toolPatterns, err := compilePatternRules(src.ToolPatterns)
	if err != nil {
		return nil, fmt.Errorf("policy: compiling tool patterns: %w", err)
	}
	capPatterns, err := compilePatternRules(src.CapabilityPatterns)
	if err != nil {
		return nil, fmt.Errorf("policy: compiling capability patterns: %w", err)
	}
	globalPatterns, err := compilePatternRules(src.GlobalPatterns)
	if err != nil {
		return nil, fmt.Errorf("policy: compiling global patterns: %w", err)
	}

	defaultAction := src.DefaultAction
	if defaultAction == "" {
		defaultAction = ActionDeny
	}

	toolRules := make(map[string][]AllowlistRule, len(src.ToolRules))
	for id, rules := range src.ToolRules {
		toolRules[id] = append([]AllowlistRule(nil), rules...)
	}
	capRules := make(map[string][]AllowlistRule, len(src.CapabilityRules))
	for id, rules := range src.CapabilityRules {
		capRules[id] = append([]AllowlistRule(nil), rules...)
	}

	return &RuleSet{
		ToolRules:          toolRules,
		CapabilityRules:    capRules,
		ToolPatterns:       toolPatterns,
		CapabilityPatterns: capPatterns,
		GlobalPatterns:     globalPatterns,
		DefaultAction:      defaultAction,
		Generation:         generation,
		BuiltAt:            time.Now().UTC(),
	}, nil
}

func compilePatternRules(rules []AllowlistRule) ([]compiledPatternRule, error) {
	out := make([]compiledPatternRule, 0, len(rules))
	for _, r := range rules {
		if r.Pattern == nil {
			return nil, fmt.Errorf("policy: rule %q at pattern level has no pattern", r.Name)
		}
		m, err := compileMatcher(*r.Pattern)
		if err != nil {
			return nil, err
		}
		out = append(out, compiledPatternRule{rule: r, matcher: m})
	}
	return out, nil
}
