package cache

import (
	"github.com/policy-core/permissioncore/internal/domain/rbac"
	"github.com/policy-core/permissioncore/internal/domain/tool"
)

// MaxBitmapTools is the ceiling on how many catalog tools can be
// represented in a PermissionIndex's uint64 bitmaps. Catalogs larger than
// this still build an index; tools beyond the ceiling simply carry no bit
// and are never reachable through RoleToBitmap, so buildCacheEntry must
// fall back to an explicit per-tool RBAC check for them.
const MaxBitmapTools = 64

// PermissionIndex is the lookup structure C6 builds cache entries from:
// which bit each tool occupies in the fast-path bitmap, and which tools
// each role reaches through that bitmap. It is a snapshot over one
// catalog/role-store state; DecisionService.buildCacheEntry builds a fresh
// one on every cache miss rather than holding and swapping a shared one.
type PermissionIndex struct {
	RoleToToolIDs  map[string]map[string]struct{}
	RoleToBitmap   map[string]uint64
	ToolIDToBitmap map[string]uint64
	ToolIDToRoles  map[string][]string
	BitToToolIDs   map[uint]map[string]struct{}
	Generation     uint64
}

// BuildPermissionIndex computes a PermissionIndex from the current tool
// catalog and role definitions: each of the first MaxBitmapTools tools
// (catalog order) gets a bitmap slot, and each role's bit set is the union
// of every tool slot whose "tool:<id>" permission the role grants (via
// rbac.MatchesPermission, including the GrantsAll admin/wildcard
// shortcut). This lets DecisionService.buildCacheEntry resolve "does any
// of this principal's effective roles reach this tool" as an O(1) bitmap
// AND instead of re-walking each role's permission list per catalog tool.
func BuildPermissionIndex(tools []tool.Tool, roles []rbac.Role, generation uint64) PermissionIndex {
	idx := PermissionIndex{
		RoleToToolIDs:  make(map[string]map[string]struct{}),
		RoleToBitmap:   make(map[string]uint64),
		ToolIDToBitmap: make(map[string]uint64),
		ToolIDToRoles:  make(map[string][]string),
		BitToToolIDs:   make(map[uint]map[string]struct{}),
		Generation:     generation,
	}

	bitFor := make(map[string]uint)
	for i, t := range tools {
		if i >= MaxBitmapTools {
			break
		}
		bit := uint(i)
		bitFor[t.ID] = bit
		idx.ToolIDToBitmap[t.ID] = uint64(1) << bit
		idx.BitToToolIDs[bit] = map[string]struct{}{t.ID: {}}
	}

	for _, role := range roles {
		toolSet := make(map[string]struct{})
		var bitmap uint64
		for _, t := range tools {
			perm := "tool:" + t.ID
			if !role.GrantsAll() && !roleHasPermission(role, perm) {
				continue
			}
			toolSet[t.ID] = struct{}{}
			idx.ToolIDToRoles[t.ID] = append(idx.ToolIDToRoles[t.ID], role.Name)
			if bit, ok := bitFor[t.ID]; ok {
				bitmap |= uint64(1) << bit
			}
		}
		idx.RoleToToolIDs[role.Name] = toolSet
		idx.RoleToBitmap[role.Name] = bitmap
	}

	return idx
}

func roleHasPermission(role rbac.Role, required string) bool {
	for _, perm := range role.Permissions {
		if rbac.MatchesPermission(perm, required) {
			return true
		}
	}
	return false
}

// ToolsForRole returns the set of tool ids reachable by role, as a plain
// slice for convenience at call sites.
func (idx PermissionIndex) ToolsForRole(role string) []string {
	set, ok := idx.RoleToToolIDs[role]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// BitmapFor returns the permission bitmap associated with a tool id.
func (idx PermissionIndex) BitmapFor(toolID string) uint64 {
	return idx.ToolIDToBitmap[toolID]
}

// PrincipalBitmap returns the union of RoleToBitmap over roles, i.e. every
// bitmap-slotted tool any of the given effective roles reaches.
func (idx PermissionIndex) PrincipalBitmap(roles []string) uint64 {
	var bitmap uint64
	for _, r := range roles {
		bitmap |= idx.RoleToBitmap[r]
	}
	return bitmap
}
