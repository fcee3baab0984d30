package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/policy-core/permissioncore/internal/adapter/outbound/registry"
	"github.com/policy-core/permissioncore/internal/domain/tool"
)

// loadCatalog reads a JSON tool-catalog file (a {"tools": [...]} document,
// the same shape registry.FromMCPTools produces) and wraps it in an
// AtomicCatalog. One-shot CLI invocations have no live MCP registry
// connection (spec §1 scopes that out); a static snapshot file is the
// narrowest stand-in that still exercises the same ToolCatalog boundary
// the running service uses.
func loadCatalog(path string) (*registry.AtomicCatalog, error) {
	if path == "" {
		return registry.NewAtomicCatalog(tool.Catalog{CachedAt: time.Now().UTC()}), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var catalog tool.Catalog
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	if catalog.CachedAt.IsZero() {
		catalog.CachedAt = time.Now().UTC()
	}

	return registry.NewAtomicCatalog(catalog), nil
}
