package audit

import "context"

// AuditStore is the external sink C9 hands finished records to. Persistence,
// querying, and retention are out of scope for the policy core (spec §1);
// this interface is the boundary a collaborator implements.
type AuditStore interface {
	// Append stores audit records. Must be non-blocking from the caller's
	// perspective — the audit trail builder never waits on sink latency.
	Append(ctx context.Context, records ...AuditRecord) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// ChangeSink is the external sink admin mutations hand their ChangeRecord
// to (spec §6's change-history output). Persistence is out of scope; this
// is the boundary a collaborator implements.
type ChangeSink interface {
	Append(ctx context.Context, records ...ChangeRecord) error
	Close() error
}
