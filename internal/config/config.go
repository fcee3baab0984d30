// Package config provides configuration types for the policy core.
//
// The schema is intentionally narrow: it configures the six evaluation
// components (allowlist, RBAC, permission cache, invalidation, listing,
// emergency latch) and the ambient concerns (logging, audit sink,
// persistent state paths). It does not configure a transport layer --
// no HTTP listener, no TLS, no rate limiting -- those live upstream of
// this module.
package config

import (
	"os"
)

// Config is the top-level configuration for the policy core.
type Config struct {
	// Allowlist configures the hierarchical allowlist evaluator (C3).
	Allowlist AllowlistConfig `yaml:"allowlist" mapstructure:"allowlist"`

	// RBAC configures the role-based permission evaluator (C4).
	RBAC RBACConfig `yaml:"rbac" mapstructure:"rbac"`

	// PermissionCache configures the per-principal permission cache (C6).
	PermissionCache PermissionCacheConfig `yaml:"permission_cache" mapstructure:"permission_cache"`

	// Invalidation configures the cache invalidator (C7).
	Invalidation InvalidationConfig `yaml:"invalidation" mapstructure:"invalidation"`

	// Listing configures tool-listing filtering behavior.
	Listing ListingConfig `yaml:"listing" mapstructure:"listing"`

	// Emergency configures the emergency lockdown latch (C8).
	Emergency EmergencyConfig `yaml:"emergency" mapstructure:"emergency"`

	// State configures where persistent documents (roles, rules,
	// patterns, change history) are stored on disk.
	State StateConfig `yaml:"state" mapstructure:"state"`

	// Audit configures the audit trail sink (C9).
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// LogLevel sets the minimum structured-log level.
	// Valid values: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// DevMode relaxes startup requirements (e.g. seeds a default admin
	// role) for local development.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// AllowlistConfig configures the hierarchical allowlist evaluator.
type AllowlistConfig struct {
	// Enabled is parsed but not read by bootstrap.New or the decision
	// service: the allowlist evaluator runs on every decision whatever
	// its value.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// DefaultAction is returned when no rule at any level matches and
	// the rules file on disk leaves default_action empty. When the rules
	// file is missing, the default is deny.
	DefaultAction string `yaml:"default_action" mapstructure:"default_action" validate:"required,oneof=allow deny"`
}

// RBACConfig configures the role-based permission evaluator.
type RBACConfig struct {
	// Enabled is parsed but not read by bootstrap.New or the decision
	// service: RBAC evaluation runs on every decision whatever its value.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// InheritPermissions controls whether a role's permissions include
	// those granted transitively via ParentRoles.
	InheritPermissions bool `yaml:"inherit_permissions" mapstructure:"inherit_permissions"`

	// DefaultRoles are granted to a principal with no explicit role
	// assignment, unless the roles document names default roles of its
	// own.
	DefaultRoles []string `yaml:"default_roles" mapstructure:"default_roles"`
}

// PermissionCacheConfig configures the per-principal permission cache.
type PermissionCacheConfig struct {
	// MaxCachedPrincipals bounds the number of entries kept resident;
	// the least-recently-built entry is evicted beyond this bound.
	MaxCachedPrincipals int `yaml:"max_cached_principals" mapstructure:"max_cached_principals" validate:"omitempty,min=1"`

	// DefaultTTLSeconds is the entry lifetime for ordinary principals.
	DefaultTTLSeconds int `yaml:"default_ttl_seconds" mapstructure:"default_ttl_seconds" validate:"omitempty,min=1"`

	// AdminTTLSeconds is the (shorter) entry lifetime applied to
	// admin-like principals, so privilege-escalating changes take
	// effect sooner for the highest-impact accounts.
	AdminTTLSeconds int `yaml:"admin_ttl_seconds" mapstructure:"admin_ttl_seconds" validate:"omitempty,min=1"`

	// CleanupIntervalSeconds is parsed and defaulted but not read by
	// bootstrap.New, and no background sweep runs: an expired entry stays
	// resident until its next lookup rebuilds it, or until eviction,
	// invalidation or an explicit cache.Manager.Sweep call removes it.
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds" mapstructure:"cleanup_interval_seconds" validate:"omitempty,min=1"`
}

// InvalidationConfig configures the cache invalidator.
type InvalidationConfig struct {
	// MaxConcurrent is parsed and defaulted but not read by
	// bootstrap.New; the invalidation handler applies events one at a
	// time and triggers no rebuilds of its own.
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent" validate:"omitempty,min=1"`

	// EnableWarming is parsed but not read: invalidated entries are
	// always rebuilt lazily on their next use.
	EnableWarming bool `yaml:"enable_warming" mapstructure:"enable_warming"`
}

// ListingConfig configures TOOL_LIST filtering behavior.
type ListingConfig struct {
	// MaxFilteringMS bounds how long tool-listing filtering may take
	// before the fallback behavior below applies.
	MaxFilteringMS int `yaml:"max_filtering_ms" mapstructure:"max_filtering_ms" validate:"omitempty,min=1"`

	// FailOpenOnTimeout controls whether a filtering timeout returns
	// the full unfiltered catalog (true) or an empty list (false).
	// Defaults to false: high-security deployments should not fail
	// open on a listing timeout.
	FailOpenOnTimeout bool `yaml:"fail_open_on_timeout" mapstructure:"fail_open_on_timeout"`
}

// EmergencyConfig configures the emergency lockdown latch.
type EmergencyConfig struct {
	// Enabled is parsed but not read by bootstrap.New or the admin
	// service: emergency activation and deactivation are honored
	// whatever its value.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// StateConfig configures where persistent documents live on disk.
type StateConfig struct {
	// Dir is the base directory for all persisted documents.
	Dir string `yaml:"dir" mapstructure:"dir" validate:"required"`

	// Backend selects the role-store persistence mechanism: "file" (the
	// default) keeps roles in the RolesFile JSON document, loaded into
	// memory at startup; "sqlite" keeps roles in a durable SQLite
	// database under Dir instead, for deployments that want queryable
	// role history without rewriting the whole document on every
	// mutation.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"omitempty,oneof=file sqlite"`

	// RolesFile is the path (relative to Dir) of the roles+assignments
	// JSON document. It seeds the role store under either Backend.
	RolesFile string `yaml:"roles_file" mapstructure:"roles_file"`

	// RolesDBFile is the path (relative to Dir) of the SQLite role-store
	// database. Only used when Backend is "sqlite".
	RolesDBFile string `yaml:"roles_db_file" mapstructure:"roles_db_file"`

	// RulesFile is the path (relative to Dir) of the allowlist rule
	// YAML document (all four levels, in sections).
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`

	// CapabilityPatternsFile and GlobalPatternsFile are the optional
	// pattern YAML documents.
	CapabilityPatternsFile string `yaml:"capability_patterns_file" mapstructure:"capability_patterns_file"`
	GlobalPatternsFile     string `yaml:"global_patterns_file" mapstructure:"global_patterns_file"`

	// ChangeHistoryDir is the directory for append-only change-history
	// JSON-lines files.
	ChangeHistoryDir string `yaml:"change_history_dir" mapstructure:"change_history_dir"`
}

// AuditConfig configures the audit trail sink. Its fields are parsed,
// defaulted and validated, but bootstrap.New does not read them: the
// runtime's audit service writes to an in-memory store with the service's
// built-in channel, batch, flush, send-timeout and warning defaults.
type AuditConfig struct {
	// Output specifies where audit records are written.
	// Valid values: "stdout" or "file:///absolute/path/to/audit.log"
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g. "1s").
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout is how long to block when the channel is full
	// (e.g. "100ms", "0"). "0" or empty means drop immediately.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`

	// WarningThreshold is the percentage (0-100) of channel capacity
	// at which a rate-limited warning is logged. 0 disables it.
	WarningThreshold int `yaml:"warning_threshold" mapstructure:"warning_threshold" validate:"omitempty,min=0,max=100"`
}

// SetDevDefaults applies permissive defaults for development mode.
// Applied BEFORE validation so required fields are satisfied.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	if len(c.RBAC.DefaultRoles) == 0 {
		c.RBAC.DefaultRoles = []string{"admin"}
	}
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.State.Dir == "" {
		if dir, err := os.UserCacheDir(); err == nil {
			c.State.Dir = dir + "/policycore"
		} else {
			c.State.Dir = "./policycore-state"
		}
	}
}

// SetDefaults applies sensible default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Allowlist.DefaultAction == "" {
		c.Allowlist.DefaultAction = "deny"
	}

	if c.PermissionCache.MaxCachedPrincipals == 0 {
		c.PermissionCache.MaxCachedPrincipals = 10000
	}
	if c.PermissionCache.DefaultTTLSeconds == 0 {
		c.PermissionCache.DefaultTTLSeconds = 300
	}
	if c.PermissionCache.AdminTTLSeconds == 0 {
		c.PermissionCache.AdminTTLSeconds = 60
	}
	if c.PermissionCache.CleanupIntervalSeconds == 0 {
		c.PermissionCache.CleanupIntervalSeconds = 60
	}

	if c.Invalidation.MaxConcurrent == 0 {
		c.Invalidation.MaxConcurrent = 4
	}

	if c.Listing.MaxFilteringMS == 0 {
		c.Listing.MaxFilteringMS = 50
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}
	if c.Audit.WarningThreshold == 0 {
		c.Audit.WarningThreshold = 80
	}

	if c.State.Dir == "" {
		c.State.Dir = "./state"
	}
	if c.State.Backend == "" {
		c.State.Backend = "file"
	}
	if c.State.RolesFile == "" {
		c.State.RolesFile = "roles.json"
	}
	if c.State.RolesDBFile == "" {
		c.State.RolesDBFile = "roles.db"
	}
	if c.State.RulesFile == "" {
		c.State.RulesFile = "rules.yaml"
	}
	if c.State.CapabilityPatternsFile == "" {
		c.State.CapabilityPatternsFile = "capability-patterns.yaml"
	}
	if c.State.GlobalPatternsFile == "" {
		c.State.GlobalPatternsFile = "global-patterns.yaml"
	}
	if c.State.ChangeHistoryDir == "" {
		c.State.ChangeHistoryDir = "change-history"
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
