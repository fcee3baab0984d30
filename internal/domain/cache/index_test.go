package cache

import (
	"testing"

	"github.com/policy-core/permissioncore/internal/domain/rbac"
	"github.com/policy-core/permissioncore/internal/domain/tool"
)

func TestBuildPermissionIndex_GrantsBitForExplicitPermission(t *testing.T) {
	t.Parallel()

	tools := []tool.Tool{{ID: "read_file"}, {ID: "write_file"}}
	roles := []rbac.Role{{Name: "reader", Permissions: []string{"tool:read_file"}, Active: true}}

	idx := BuildPermissionIndex(tools, roles, 1)

	if got := idx.PrincipalBitmap([]string{"reader"}); got != idx.BitmapFor("read_file") {
		t.Errorf("PrincipalBitmap(reader) = %b, want exactly the read_file bit (%b)", got, idx.BitmapFor("read_file"))
	}
	if got := idx.PrincipalBitmap([]string{"reader"}); got&idx.BitmapFor("write_file") != 0 {
		t.Errorf("PrincipalBitmap(reader) unexpectedly reaches write_file: %b", got)
	}
}

func TestBuildPermissionIndex_WildcardPermissionGrantsEveryTool(t *testing.T) {
	t.Parallel()

	tools := []tool.Tool{{ID: "read_file"}, {ID: "write_file"}, {ID: "delete_file"}}
	roles := []rbac.Role{{Name: "editor", Permissions: []string{"tool:*"}, Active: true}}

	idx := BuildPermissionIndex(tools, roles, 1)

	var want uint64
	for _, tl := range tools {
		want |= idx.BitmapFor(tl.ID)
	}
	if got := idx.PrincipalBitmap([]string{"editor"}); got != want {
		t.Errorf("PrincipalBitmap(editor) = %b, want %b (every tool)", got, want)
	}
}

func TestBuildPermissionIndex_AdminHeuristicGrantsAllViaGrantsAll(t *testing.T) {
	t.Parallel()

	tools := []tool.Tool{{ID: "read_file"}, {ID: "delete_file"}}
	roles := []rbac.Role{{Name: "superuser", Active: true}}

	idx := BuildPermissionIndex(tools, roles, 1)

	var want uint64
	for _, tl := range tools {
		want |= idx.BitmapFor(tl.ID)
	}
	if got := idx.PrincipalBitmap([]string{"superuser"}); got != want {
		t.Errorf("PrincipalBitmap(superuser) = %b, want %b (admin-like role name grants everything)", got, want)
	}
}

func TestBuildPermissionIndex_PrincipalBitmapUnionsMultipleRoles(t *testing.T) {
	t.Parallel()

	tools := []tool.Tool{{ID: "read_file"}, {ID: "write_file"}}
	roles := []rbac.Role{
		{Name: "reader", Permissions: []string{"tool:read_file"}, Active: true},
		{Name: "writer", Permissions: []string{"tool:write_file"}, Active: true},
	}

	idx := BuildPermissionIndex(tools, roles, 1)

	want := idx.BitmapFor("read_file") | idx.BitmapFor("write_file")
	if got := idx.PrincipalBitmap([]string{"reader", "writer"}); got != want {
		t.Errorf("PrincipalBitmap(reader, writer) = %b, want %b (union of both)", got, want)
	}
}

func TestBuildPermissionIndex_ToolsBeyondBitmapCeilingCarryNoBit(t *testing.T) {
	t.Parallel()

	tools := make([]tool.Tool, MaxBitmapTools+1)
	for i := range tools {
		tools[i] = tool.Tool{ID: string(rune('a' + i))}
	}
	roles := []rbac.Role{{Name: "editor", Permissions: []string{"tool:*"}, Active: true}}

	idx := BuildPermissionIndex(tools, roles, 1)

	overflow := tools[MaxBitmapTools].ID
	if got := idx.BitmapFor(overflow); got != 0 {
		t.Errorf("BitmapFor(overflow tool) = %b, want 0 (no bit assigned beyond MaxBitmapTools)", got)
	}
	// The overflow tool is still recorded as role-reachable, just not
	// through the bitmap -- buildCacheEntry must fall back to a direct
	// RBAC check for it.
	found := false
	for _, id := range idx.ToolsForRole("editor") {
		if id == overflow {
			found = true
		}
	}
	if !found {
		t.Error("ToolsForRole(editor) should still include the overflow tool via RoleToToolIDs")
	}
}

func TestPermissionIndex_ToolsForRole_UnknownRoleReturnsNil(t *testing.T) {
	t.Parallel()

	idx := BuildPermissionIndex(nil, nil, 1)
	if got := idx.ToolsForRole("nobody"); got != nil {
		t.Errorf("ToolsForRole(unknown) = %v, want nil", got)
	}
}
