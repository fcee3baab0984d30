// Package principal contains the normalized view of an authenticated caller
// used throughout the policy core: identity, roles, credential, and the
// deterministic fingerprint used to key the permission cache.
package principal

import (
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// AuthMethod identifies how a Principal was authenticated.
type AuthMethod string

const (
	AuthMethodAPIKey        AuthMethod = "api_key"
	AuthMethodOAuth         AuthMethod = "oauth"
	AuthMethodJWT           AuthMethod = "jwt"
	AuthMethodServiceAcct   AuthMethod = "service_account"
	AuthMethodDeviceCode    AuthMethod = "device_code"
	AuthMethodAnonymous     AuthMethod = "anonymous"
)

// Principal is the normalized, authenticated caller for whom a decision is made.
type Principal struct {
	// ID is an opaque identifier; may be empty for anonymous callers.
	ID string
	// APIKeyName is the optional name of the credential used to authenticate.
	APIKeyName string
	// Roles are the role names directly bound to this principal by the caller
	// (in addition to any roles bound to ID or APIKeyName in the role store).
	Roles []string
	// AuthMethod records how the principal was authenticated.
	AuthMethod AuthMethod
	// ClientIP is the optional originating address.
	ClientIP string
	// RequestTime is the wall-clock time the request was received.
	RequestTime time.Time
}

// AuthResult is the structurally-validated output of an upstream authenticator.
// Missing fields are not an error; they become empty/zero values on the
// resulting Principal. from_auth only fails when the result itself is
// structurally invalid (e.g. both ID and APIKeyName empty under a non-anonymous
// method).
type AuthResult struct {
	UserID     string
	APIKeyName string
	Roles      []string
	AuthMethod AuthMethod
	ClientIP   string
}

// RequestMeta carries request-scoped metadata not owned by the authenticator.
type RequestMeta struct {
	RequestTime time.Time
}

// FromAuth merges an authenticator's output and request metadata into a
// canonical Principal. It fails only when auth is structurally invalid:
// a non-anonymous method with neither a user id nor an api-key name.
func FromAuth(auth AuthResult, meta RequestMeta) (Principal, error) {
	if auth.AuthMethod != AuthMethodAnonymous && auth.AuthMethod != "" &&
		auth.UserID == "" && auth.APIKeyName == "" {
		return Principal{}, ErrInvalidAuthResult
	}

	requestTime := meta.RequestTime
	if requestTime.IsZero() {
		requestTime = time.Now().UTC()
	}

	roles := make([]string, len(auth.Roles))
	copy(roles, auth.Roles)

	return Principal{
		ID:          auth.UserID,
		APIKeyName:  auth.APIKeyName,
		Roles:       roles,
		AuthMethod:  auth.AuthMethod,
		ClientIP:    auth.ClientIP,
		RequestTime: requestTime,
	}, nil
}

// Fingerprint computes a deterministic, non-cryptographic hash over
// (id, sorted roles, api_key_name), used as the permission-cache key.
// Equal principals (by those three fields) always produce equal fingerprints.
func Fingerprint(p Principal) uint64 {
	h := xxhash.New()

	_, _ = h.WriteString(p.ID)
	_, _ = h.Write([]byte{0})

	sortedRoles := make([]string, len(p.Roles))
	copy(sortedRoles, p.Roles)
	sort.Strings(sortedRoles)
	_, _ = h.WriteString(strings.Join(sortedRoles, ","))
	_, _ = h.Write([]byte{0})

	_, _ = h.WriteString(p.APIKeyName)

	return h.Sum64()
}

// IsAdminLike reports whether p.Roles contains a role whose name contains
// "admin" or "superuser" (case-insensitive). p.Roles is only the caller-
// supplied role list, not the RBAC-resolved effective set (store-bound and
// inherited roles are not visible here) — callers that have already
// resolved effective roles should check those with IsAdminLikeRoles
// instead, since that superset is what the admin-TTL invariant actually
// cares about.
func IsAdminLike(p Principal) bool {
	return IsAdminLikeRoles(p.Roles)
}

// IsAdminLikeRoles reports whether any role name in roles contains "admin"
// or "superuser" (case-insensitive). Used by the permission cache to
// select the shorter admin TTL against a principal's RBAC-resolved
// effective roles; rbac.Role.IsAdminLike applies the same rule to a
// single role name.
func IsAdminLikeRoles(roles []string) bool {
	for _, role := range roles {
		lower := strings.ToLower(role)
		if strings.Contains(lower, "admin") || strings.Contains(lower, "superuser") {
			return true
		}
	}
	return false
}
