// Package registry ingests a tool identifier stream from an MCP tool
// registry and converts it into the domain's Catalog shape. The registry
// and its transport are out of scope for the policy core (spec §1); this
// adapter only owns the conversion at the boundary.
package registry

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/policy-core/permissioncore/internal/domain/tool"
)

// AtomicCatalog holds the most recently ingested Catalog behind an
// atomically-swapped pointer, the same publication idiom policy.Evaluator
// uses for its RuleSet snapshot. It
// implements service.ToolCatalog's ListTools() method so the decision
// service always reads the latest ingested tool set without blocking a
// refresh.
type AtomicCatalog struct {
	value atomic.Value // tool.Catalog
}

// NewAtomicCatalog wraps an initial Catalog snapshot.
func NewAtomicCatalog(initial tool.Catalog) *AtomicCatalog {
	c := &AtomicCatalog{}
	c.value.Store(initial)
	return c
}

// Update atomically replaces the held Catalog.
func (c *AtomicCatalog) Update(next tool.Catalog) {
	c.value.Store(next)
}

// ListTools returns the tools in the currently held Catalog.
func (c *AtomicCatalog) ListTools() []tool.Tool {
	return c.value.Load().(tool.Catalog).Tools
}

// FromMCPTools converts a slice of MCP tool descriptors into a domain
// Catalog. capabilityOf optionally assigns a capability id to a tool by
// name; pass nil to leave CapabilityID empty for every tool.
func FromMCPTools(serverID string, tools []*mcp.Tool, capabilityOf func(name string) string) tool.Catalog {
	out := make([]tool.Tool, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		out = append(out, fromMCPTool(t, capabilityOf))
	}
	return tool.Catalog{
		Tools:    out,
		CachedAt: time.Now().UTC(),
		ServerID: serverID,
	}
}

func fromMCPTool(t *mcp.Tool, capabilityOf func(name string) string) tool.Tool {
	capability := ""
	if capabilityOf != nil {
		capability = capabilityOf(t.Name)
	}

	var schema json.RawMessage
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			schema = raw
		}
	}

	return tool.Tool{
		ID:           t.Name,
		Name:         t.Name,
		Description:  t.Description,
		InputSchema:  schema,
		Enabled:      true,
		Hidden:       false,
		CapabilityID: capability,
	}
}
