// Package audit contains the audit trail builder's domain types (spec
// component C9): append-only decision records with redacted principal
// identifiers, plus the change-tracker sink shape for admin mutations.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Decision constants for audit records.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Operation categorizes a ChangeRecord's effect on its target.
type Operation string

const (
	OperationCreate  Operation = "create"
	OperationUpdate  Operation = "update"
	OperationDelete  Operation = "delete"
	OperationEnable  Operation = "enable"
	OperationDisable Operation = "disable"
)

// ChangeRecord is the generic shape handed to the change-tracker sink for
// every admin mutation (spec §6): rule/pattern/role CRUD and emergency
// activation all produce one of these. Modeled after the teacher's
// compliance record shape, generalized from audit-specific fields.
type ChangeRecord struct {
	ID          string
	Timestamp   time.Time
	ChangeType  string // e.g. "rule", "pattern", "role", "role_assignment", "emergency"
	Operation   Operation
	User        string
	Target      string
	BeforeState string // JSON-encoded, omitted when not applicable
	AfterState  string // JSON-encoded, omitted when not applicable
	Metadata    map[string]string
}

// sensitiveKeywords lists substrings that indicate a sensitive argument key.
var sensitiveKeywords = []string{
	"password", "secret", "token", "api_key", "apikey",
	"credential", "auth", "private_key", "privatekey",
}

// RedactSensitiveArgs returns a copy of args with sensitive values masked.
func RedactSensitiveArgs(args map[string]interface{}) map[string]interface{} {
	if len(args) == 0 {
		return args
	}
	redacted := make(map[string]interface{}, len(args))
	for k, v := range args {
		if isSensitiveKey(k) {
			redacted[k] = "***REDACTED***"
		} else {
			redacted[k] = v
		}
	}
	return redacted
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RedactIdentifier turns a raw identifier (principal id, api key name) into
// its audit-safe form: a 4-character prefix followed by a hash of the full
// value, so two records about the same identifier are still correlatable
// without the raw value ever appearing in the trail (spec §3: "redacts raw
// secrets/api-keys to 4-char-prefix+hash").
func RedactIdentifier(raw string) string {
	if raw == "" {
		return ""
	}
	prefix := raw
	if len(prefix) > 4 {
		prefix = prefix[:4]
	}
	sum := sha256.Sum256([]byte(raw))
	return prefix + ":" + hex.EncodeToString(sum[:])[:12]
}

// ComponentTimings records how long each stage of a decision took, for the
// AuditRecord's "component timings" field (spec §4.9).
type ComponentTimings struct {
	EmergencyCheckNanos int64
	CacheLookupNanos    int64
	AllowlistEvalNanos  int64
	RBACEvalNanos       int64
	TotalNanos          int64
}

// MatchedRuleStep is one entry in the chain of rules consulted to reach a
// decision (e.g. tool-level rule checked, no match, fell through to
// capability-level rule that matched).
type MatchedRuleStep struct {
	Level     string
	RuleName  string
	Matched   bool
}

// AuditRecord is a single immutable, auditable decision record (spec §3/
// §4.9). Principal and API-key identifiers are always redacted via
// RedactIdentifier before being stored here — callers must redact before
// constructing a record, never after.
type AuditRecord struct {
	RequestID string
	Timestamp time.Time

	PrincipalID   string // already redacted
	APIKeyName    string // already redacted, may be empty
	Roles         []string

	ToolID       string
	CapabilityID string

	Decision    string // DecisionAllow / DecisionDeny
	Level       string // the policy.Level the decision was made at
	Reason      string
	MatchedRuleChain []MatchedRuleStep

	CacheHit bool
	Timings  ComponentTimings

	LatencyMicros int64

	// Arguments carries tool-call arguments, pre-redacted via
	// RedactSensitiveArgs by the caller before the record is built.
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}
