package policy

// ConflictSeverity classifies how serious a detected rule conflict is.
type ConflictSeverity string

const (
	// SeverityHigh: both rules are exact tool-level rules for the same tool
	// with opposite actions — a direct, unambiguous contradiction.
	SeverityHigh ConflictSeverity = "high"
	// SeverityMedium: one rule is an exact tool-level rule and the other a
	// pattern rule (at any level) that also matches the tool, with opposite
	// actions — resolvable by precedence but worth flagging.
	SeverityMedium ConflictSeverity = "medium"
)

// Conflict is a pair of rules that disagree about the same tool id.
type Conflict struct {
	RuleA    AllowlistRule
	RuleB    AllowlistRule
	ToolID   string
	Severity ConflictSeverity
}

// DetectConflicts is a pure, side-effect-free offline report: it never
// mutates the RuleSet and is not consulted during evaluation. It exists so
// administrators can audit a rule set for contradictory entries before they
// become a precedence surprise (spec §4.3, testable property "conflict
// detector completeness").
func DetectConflicts(rs *RuleSet) []Conflict {
	var conflicts []Conflict

	for toolID, rules := range rs.ToolRules {
		for i := 0; i < len(rules); i++ {
			for j := i + 1; j < len(rules); j++ {
				if rules[i].Action != rules[j].Action {
					conflicts = append(conflicts, Conflict{
						RuleA:    rules[i],
						RuleB:    rules[j],
						ToolID:   toolID,
						Severity: SeverityHigh,
					})
				}
			}
		}

		for _, pr := range rs.ToolPatterns {
			if !pr.matcher(toolID) {
				continue
			}
			for _, exact := range rules {
				if exact.Action != pr.rule.Action {
					conflicts = append(conflicts, Conflict{
						RuleA:    exact,
						RuleB:    pr.rule,
						ToolID:   toolID,
						Severity: SeverityMedium,
					})
				}
			}
		}

		for _, pr := range rs.GlobalPatterns {
			if !pr.matcher(toolID) {
				continue
			}
			for _, exact := range rules {
				if exact.Action != pr.rule.Action {
					conflicts = append(conflicts, Conflict{
						RuleA:    exact,
						RuleB:    pr.rule,
						ToolID:   toolID,
						Severity: SeverityMedium,
					})
				}
			}
		}
	}

	return conflicts
}
