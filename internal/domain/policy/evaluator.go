package policy

import (
	"sync"
	"sync/atomic"
)

// Evaluator holds the current RuleSet as an atomically-swapped snapshot,
// mirroring the teacher's CompiledRulesSnapshot/atomic.Value pattern: reads
// never block on a mutex, and a new RuleSet is published with a single
// pointer store. A short-lived mutex serializes only the swap itself
// (spec §5: "short-lived mutex only for the swap").
type Evaluator struct {
	current atomic.Value // *RuleSet
	swapMu  sync.Mutex
}

// NewEvaluator constructs an Evaluator seeded with an already-compiled
// RuleSet (typically the result of Compile at startup).
func NewEvaluator(initial *RuleSet) *Evaluator {
	e := &Evaluator{}
	e.current.Store(initial)
	return e
}

// Snapshot returns the RuleSet currently in effect.
func (e *Evaluator) Snapshot() *RuleSet {
	return e.current.Load().(*RuleSet)
}

// Publish atomically swaps in a new RuleSet. Callers should have already
// built next via Compile and bumped its Generation; Publish itself only
// performs the swap.
func (e *Evaluator) Publish(next *RuleSet) {
	e.swapMu.Lock()
	defer e.swapMu.Unlock()
	e.current.Store(next)
}

// EvaluateTool runs the §4.3 precedence walk: Tool exact rules, then Tool
// patterns, then (if capabilityID is non-empty) Capability exact rules and
// patterns, then Global patterns, then the configured default action. The
// first decisive rule wins; later levels are never consulted once a rule
// has matched. This function never fails — it is total, returning Allowed
// or Denied with a reason in every case. Emergency-level short-circuiting
// is the caller's responsibility (see the emergency package), matching
// spec §4.3's note that emergency is checked before this algorithm runs.
func (e *Evaluator) EvaluateTool(toolID, capabilityID string) Decision {
	rs := e.Snapshot()

	if d, ok := evaluateExact(rs.ToolRules, toolID, LevelTool); ok {
		return d
	}
	if d, ok := evaluatePatterns(rs.ToolPatterns, toolID, LevelTool); ok {
		return d
	}

	if capabilityID != "" {
		if d, ok := evaluateExact(rs.CapabilityRules, capabilityID, LevelCapability); ok {
			return d
		}
		if d, ok := evaluatePatterns(rs.CapabilityPatterns, capabilityID, LevelCapability); ok {
			return d
		}
	}

	if d, ok := evaluatePatterns(rs.GlobalPatterns, toolID, LevelGlobal); ok {
		return d
	}

	return Decision{
		Allowed: rs.DefaultAction == ActionAllow,
		Level:   LevelDefault,
		Reason:  "no rule matched; applying default action",
	}
}

func evaluateExact(rules map[string][]AllowlistRule, id string, level Level) (Decision, bool) {
	candidates, ok := rules[id]
	if !ok {
		return Decision{}, false
	}
	for i := range candidates {
		r := candidates[i]
		if !r.Enabled {
			continue
		}
		return Decision{
			Allowed:     r.Action == ActionAllow,
			Level:       level,
			MatchedRule: &r,
			Reason:      decisionReason(r, level),
		}, true
	}
	return Decision{}, false
}

func evaluatePatterns(rules []compiledPatternRule, candidate string, level Level) (Decision, bool) {
	for i := range rules {
		cr := rules[i]
		if !cr.rule.Enabled {
			continue
		}
		if !cr.matcher(candidate) {
			continue
		}
		r := cr.rule
		return Decision{
			Allowed:     r.Action == ActionAllow,
			Level:       level,
			MatchedRule: &r,
			Reason:      decisionReason(r, level),
		}, true
	}
	return Decision{}, false
}

func decisionReason(r AllowlistRule, level Level) string {
	if r.Reason != "" {
		return r.Reason
	}
	if r.Action == ActionAllow {
		return string(level) + " rule allows this action"
	}
	return string(level) + " rule denies this action"
}
