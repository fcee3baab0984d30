// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/policy-core/permissioncore/internal/domain/audit"
)

func TestAuditStore_Append(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	record := audit.AuditRecord{
		RequestID:   "req-1",
		ToolID:      "test_tool",
		Decision:    audit.DecisionAllow,
		Timestamp:   time.Now().UTC(),
		PrincipalID: audit.RedactIdentifier("user-1"),
	}

	if err := store.Append(ctx, record); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	output := buf.String()
	if output == "" {
		t.Fatal("Append() did not write to buffer")
	}

	var decoded audit.AuditRecord
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &decoded); err != nil {
		t.Fatalf("Written output is not valid JSON: %v", err)
	}

	if decoded.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want %q", decoded.RequestID, "req-1")
	}
	if decoded.ToolID != "test_tool" {
		t.Errorf("ToolID = %q, want %q", decoded.ToolID, "test_tool")
	}
}

func TestAuditStore_AppendMultiple(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	records := []audit.AuditRecord{
		{RequestID: "req-1", ToolID: "tool_1", Decision: audit.DecisionAllow, Timestamp: time.Now().UTC()},
		{RequestID: "req-2", ToolID: "tool_2", Decision: audit.DecisionDeny, Timestamp: time.Now().UTC()},
		{RequestID: "req-3", ToolID: "tool_3", Decision: audit.DecisionAllow, Timestamp: time.Now().UTC()},
	}

	if err := store.Append(ctx, records...); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 3 {
		t.Errorf("Expected 3 JSON lines, got %d", len(lines))
	}

	for i, line := range lines {
		var decoded audit.AuditRecord
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Errorf("Line %d is not valid JSON: %v", i, err)
		}
		expectedReqID := "req-" + string(rune('1'+i))
		if decoded.RequestID != expectedReqID {
			t.Errorf("Line %d RequestID = %q, want %q", i, decoded.RequestID, expectedReqID)
		}
	}
}

func TestAuditStore_Flush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	record := audit.AuditRecord{RequestID: "req-flush", ToolID: "flush_tool", Timestamp: time.Now().UTC()}
	if err := store.Append(ctx, record); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	if err := store.Flush(ctx); err != nil {
		t.Errorf("Flush() error: %v (expected nil, flush is no-op)", err)
	}

	if buf.Len() == 0 {
		t.Error("Buffer should still contain data after Flush()")
	}
}

func TestAuditStore_Close(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	if err := store.Close(); err != nil {
		t.Errorf("Close() error: %v (expected nil for non-file writer)", err)
	}
}

func TestAuditStore_AppendEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	if err := store.Append(ctx); err != nil {
		t.Errorf("Append() with no records error: %v", err)
	}

	if buf.Len() != 0 {
		t.Errorf("Buffer should be empty after appending no records, got %d bytes", buf.Len())
	}
}

func TestAuditStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	var wg sync.WaitGroup
	errCh := make(chan error, 100)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			record := audit.AuditRecord{
				RequestID: "req-" + string(rune('a'+(idx%26))),
				ToolID:    "concurrent_tool",
				Decision:  audit.DecisionAllow,
				Timestamp: time.Now().UTC(),
			}
			if err := store.Append(ctx, record); err != nil {
				errCh <- err
			}
		}(i)
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Errorf("Concurrent Append() error: %v", err)
	}

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 100 {
		t.Errorf("Expected 100 JSON lines, got %d", len(lines))
	}
}

func TestAuditStore_RecordFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	now := time.Now().UTC()
	record := audit.AuditRecord{
		RequestID:     "req-fields",
		ToolID:        "fields_tool",
		Decision:      audit.DecisionDeny,
		Timestamp:     now,
		PrincipalID:   audit.RedactIdentifier("user-admin"),
		Reason:        "Policy violation",
		Level:         "tool",
		LatencyMicros: 1500,
	}

	if err := store.Append(ctx, record); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	var decoded audit.AuditRecord
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("JSON decode error: %v", err)
	}

	if decoded.RequestID != "req-fields" {
		t.Errorf("RequestID = %q, want %q", decoded.RequestID, "req-fields")
	}
	if decoded.Decision != audit.DecisionDeny {
		t.Errorf("Decision = %q, want %q", decoded.Decision, audit.DecisionDeny)
	}
	if decoded.PrincipalID != record.PrincipalID {
		t.Errorf("PrincipalID = %q, want %q", decoded.PrincipalID, record.PrincipalID)
	}
	if decoded.Reason != "Policy violation" {
		t.Errorf("Reason = %q, want %q", decoded.Reason, "Policy violation")
	}
	if decoded.LatencyMicros != 1500 {
		t.Errorf("LatencyMicros = %d, want %d", decoded.LatencyMicros, 1500)
	}
}

func TestAuditStore_DefaultStdout(t *testing.T) {
	store := NewAuditStore()
	if store == nil {
		t.Fatal("NewAuditStore() returned nil")
	}

	if err := store.Close(); err != nil {
		t.Errorf("Close() on default store error: %v", err)
	}
}

func TestAuditStore_QueryFiltersByToolAndDecision(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	records := []audit.AuditRecord{
		{RequestID: "1", ToolID: "a", Decision: audit.DecisionAllow, Timestamp: time.Now().UTC()},
		{RequestID: "2", ToolID: "b", Decision: audit.DecisionDeny, Timestamp: time.Now().UTC()},
		{RequestID: "3", ToolID: "a", Decision: audit.DecisionDeny, Timestamp: time.Now().UTC()},
	}
	if err := store.Append(ctx, records...); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	got := store.Query(RecentFilter{ToolID: "a"})
	if len(got) != 2 {
		t.Fatalf("Query(ToolID=a) returned %d records, want 2", len(got))
	}

	got = store.Query(RecentFilter{ToolID: "a", Decision: audit.DecisionDeny})
	if len(got) != 1 || got[0].RequestID != "3" {
		t.Fatalf("Query(ToolID=a, Decision=deny) = %+v, want single record req 3", got)
	}
}
