package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// matcher is the compiled form of a Pattern. Exact and Wildcard patterns
// compile to closures with no regexp involvement; Regex patterns compile to
// a real *regexp.Regexp. Go has no combined-automaton equivalent of Rust's
// RegexSet, so pattern evaluation here falls back to a linear scan over
// each tool/capability/global pattern's matcher — a deliberate, disclosed
// simplification (see DESIGN.md).
type matcher func(candidate string) bool

// matchPattern compiles and immediately applies p to candidate. Used for
// one-off matches (AllowlistRule.Matches); the hot evaluation path and
// conflict detection use pre-compiled matchers stored on
// compiledPatternRule instead.
func matchPattern(p Pattern, candidate string) bool {
	m, err := compileMatcher(p)
	if err != nil {
		return false
	}
	return m(candidate)
}

// compileMatcher turns a Pattern into a matcher. Regex patterns are
// compiled exactly once; a compile failure is returned to the caller so
// RuleSet construction can abort the snapshot (spec §4.2/§4.3: "regex
// compile failures abort the entire rule-set snapshot").
func compileMatcher(p Pattern) (matcher, error) {
	switch p.Kind {
	case PatternExact:
		value := p.Value
		return func(candidate string) bool { return candidate == value }, nil
	case PatternWildcard:
		re, err := wildcardToRegexp(p.Value)
		if err != nil {
			return nil, err
		}
		return func(candidate string) bool { return re.MatchString(candidate) }, nil
	case PatternRegex:
		re, err := regexp.Compile(anchorFullMatch(p.Value))
		if err != nil {
			return nil, fmt.Errorf("policy: invalid regex pattern %q: %w", p.Value, err)
		}
		return func(candidate string) bool { return re.MatchString(candidate) }, nil
	default:
		return nil, fmt.Errorf("policy: unknown pattern kind %d", p.Kind)
	}
}

// wildcardToRegexp translates a "*"/"?" glob into a fully-anchored regexp:
// "*" matches any run of characters (including none), "?" matches exactly
// one character. Every other rune is escaped literally.
func wildcardToRegexp(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// anchorFullMatch wraps a regex so it must match the whole candidate
// string, per spec §3's "Regex: full-match, compile-once".
func anchorFullMatch(pattern string) string {
	if strings.HasPrefix(pattern, "^") && strings.HasSuffix(pattern, "$") {
		return pattern
	}
	return "^(?:" + pattern + ")$"
}
