// Package tool contains the catalog-facing domain types the policy core
// consumes: a Tool identifier stream ingested at the registry boundary
// (spec §3/§11), never a registry or transport implementation itself.
package tool

import (
	"encoding/json"
	"time"
)

// Tool is the subset of tool metadata the policy core inspects. Only ID and
// CapabilityID are read by the allowlist evaluator (spec §3: "core only
// inspects id/capability_id"); the rest is carried through for listing and
// audit purposes.
type Tool struct {
	// ID is the unique identifier used by the allowlist evaluator and the
	// permission cache. For tools ingested from an MCP catalog this is the
	// MCP tool name.
	ID string `json:"id"`

	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`

	Enabled bool `json:"enabled"`
	Hidden  bool `json:"hidden"`

	Annotations map[string]string `json:"annotations,omitempty"`

	// CapabilityID optionally names the capability group this tool
	// belongs to, consulted at the Capability precedence level.
	CapabilityID string `json:"capabilityId,omitempty"`
}

// Catalog is a cached, point-in-time collection of tools the evaluator and
// cache warm against (spec §4.6's "tool_catalog_snapshot").
type Catalog struct {
	Tools    []Tool    `json:"tools"`
	CachedAt time.Time `json:"cachedAt"`
	ServerID string    `json:"serverId,omitempty"`
}

// IDs returns the identifiers of every tool in the catalog, in order.
func (c Catalog) IDs() []string {
	ids := make([]string, len(c.Tools))
	for i, t := range c.Tools {
		ids[i] = t.ID
	}
	return ids
}
