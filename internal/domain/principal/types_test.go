package principal

import "testing"

func TestFingerprint_Deterministic(t *testing.T) {
	t.Parallel()

	p := Principal{ID: "alice", Roles: []string{"reader", "writer"}, APIKeyName: "key-1"}
	if Fingerprint(p) != Fingerprint(p) {
		t.Fatal("Fingerprint must be deterministic for the same principal")
	}
}

func TestFingerprint_RoleOrderIndependent(t *testing.T) {
	t.Parallel()

	a := Principal{ID: "alice", Roles: []string{"reader", "writer"}}
	b := Principal{ID: "alice", Roles: []string{"writer", "reader"}}

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("Fingerprint must not depend on Roles slice order")
	}
}

func TestFingerprint_DistinguishesIdentity(t *testing.T) {
	t.Parallel()

	base := Principal{ID: "alice", Roles: []string{"reader"}, APIKeyName: "key-1"}

	cases := []struct {
		name string
		p    Principal
	}{
		{"different id", Principal{ID: "bob", Roles: base.Roles, APIKeyName: base.APIKeyName}},
		{"different roles", Principal{ID: base.ID, Roles: []string{"writer"}, APIKeyName: base.APIKeyName}},
		{"extra role", Principal{ID: base.ID, Roles: []string{"reader", "writer"}, APIKeyName: base.APIKeyName}},
		{"different api key", Principal{ID: base.ID, Roles: base.Roles, APIKeyName: "key-2"}},
	}

	baseFP := Fingerprint(base)
	for _, c := range cases {
		if Fingerprint(c.p) == baseFP {
			t.Errorf("%s: Fingerprint collided with base principal, want distinct", c.name)
		}
	}
}

func TestFingerprint_EmptyPartialPrincipalDiffersFromReal(t *testing.T) {
	t.Parallel()

	real := Principal{ID: "bob", Roles: []string{"writer"}, APIKeyName: "key-1"}
	partial := Principal{ID: "bob"}

	if Fingerprint(real) == Fingerprint(partial) {
		t.Fatal("a principal reconstructed from only an id must not fingerprint-collide with the real principal when Roles/APIKeyName are non-empty")
	}
}

func TestIsAdminLike_MatchesSubstringCaseInsensitive(t *testing.T) {
	t.Parallel()

	cases := []struct {
		roles []string
		want  bool
	}{
		{[]string{"reader"}, false},
		{[]string{"Admin"}, true},
		{[]string{"SUPERUSER"}, true},
		{[]string{"sys-admin-readonly"}, true},
		{nil, false},
	}

	for _, c := range cases {
		if got := IsAdminLike(Principal{Roles: c.roles}); got != c.want {
			t.Errorf("IsAdminLike(%v) = %v, want %v", c.roles, got, c.want)
		}
	}
}

func TestIsAdminLikeRoles_UsedForEffectiveRoles(t *testing.T) {
	t.Parallel()

	// A principal with no admin-named role in Roles itself must still be
	// detected as admin-like once its RBAC-resolved effective roles
	// (store-bound or inherited) are checked instead.
	p := Principal{Roles: []string{"reader"}}
	if IsAdminLike(p) {
		t.Fatal("bare Roles should not be admin-like in this case")
	}

	effective := []string{"reader", "org-admin"}
	if !IsAdminLikeRoles(effective) {
		t.Error("IsAdminLikeRoles must detect an admin-like role gained through RBAC resolution")
	}
}

func TestFromAuth_AnonymousAllowsEmptyIdentity(t *testing.T) {
	t.Parallel()

	p, err := FromAuth(AuthResult{AuthMethod: AuthMethodAnonymous}, RequestMeta{})
	if err != nil {
		t.Fatalf("FromAuth() error = %v, want nil for anonymous", err)
	}
	if p.AuthMethod != AuthMethodAnonymous {
		t.Errorf("AuthMethod = %q, want anonymous", p.AuthMethod)
	}
}

func TestFromAuth_NonAnonymousRequiresIdentity(t *testing.T) {
	t.Parallel()

	_, err := FromAuth(AuthResult{AuthMethod: AuthMethodJWT}, RequestMeta{})
	if err == nil {
		t.Fatal("expected ErrInvalidAuthResult when a non-anonymous method carries no id or api key")
	}
}

func TestFromAuth_CopiesRolesDefensively(t *testing.T) {
	t.Parallel()

	roles := []string{"reader"}
	p, err := FromAuth(AuthResult{UserID: "alice", AuthMethod: AuthMethodJWT, Roles: roles}, RequestMeta{})
	if err != nil {
		t.Fatalf("FromAuth() error: %v", err)
	}

	roles[0] = "mutated"
	if p.Roles[0] != "reader" {
		t.Error("FromAuth must copy Roles, not alias the caller's slice")
	}
}
