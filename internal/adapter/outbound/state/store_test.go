package state

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// ---------------------------------------------------------------------------
// Zero-value tests
// ---------------------------------------------------------------------------

func TestRolesStore_ZeroValue(t *testing.T) {
	s := NewRolesStore(filepath.Join(t.TempDir(), "roles.json"), testLogger())
	doc := s.newZero()

	if doc.Version != "1" {
		t.Errorf("expected Version '1', got %q", doc.Version)
	}
	if doc.Roles == nil || len(doc.Roles) != 0 {
		t.Errorf("expected empty Roles map, got %v", doc.Roles)
	}
}

// ---------------------------------------------------------------------------
// Load tests
// ---------------------------------------------------------------------------

func TestLoad_NoFile_ReturnsZeroValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	s := NewRolesStore(path, testLogger())

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if doc.Version != "1" {
		t.Errorf("expected Version '1', got %q", doc.Version)
	}
	if len(doc.Roles) != 0 {
		t.Errorf("expected no roles, got %d", len(doc.Roles))
	}
}

func TestLoad_ValidFile_ReturnsParsedDocument(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")

	now := time.Now().UTC().Truncate(time.Second)
	original := &RolesDocument{
		Version: "1",
		Roles: map[string]RoleEntry{
			"admin": {
				Name:        "admin",
				Permissions: []string{"*"},
				Active:      true,
				CreatedAt:   now,
				ModifiedAt:  now,
			},
		},
		Assignments: AssignmentsEntry{
			ByUserID: map[string][]string{"user-1": {"admin"}},
		},
		UpdatedAt: now,
	}

	data, err := json.MarshalIndent(original, "", "  ")
	if err != nil {
		t.Fatalf("failed to marshal test document: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write test document: %v", err)
	}

	s := NewRolesStore(path, testLogger())
	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if doc.Version != "1" {
		t.Errorf("expected Version '1', got %q", doc.Version)
	}
	if len(doc.Roles) != 1 {
		t.Fatalf("expected 1 role, got %d", len(doc.Roles))
	}
	admin, ok := doc.Roles["admin"]
	if !ok {
		t.Fatal("expected 'admin' role to be present")
	}
	if len(admin.Permissions) != 1 || admin.Permissions[0] != "*" {
		t.Errorf("unexpected permissions: %v", admin.Permissions)
	}
	if doc.Assignments.ByUserID["user-1"][0] != "admin" {
		t.Errorf("unexpected assignment: %v", doc.Assignments.ByUserID)
	}
}

func TestLoad_CorruptFile_ReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")

	if err := os.WriteFile(path, []byte("{invalid json"), 0600); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}

	s := NewRolesStore(path, testLogger())
	_, err := s.Load()
	if err == nil {
		t.Fatal("expected error for corrupt JSON, got nil")
	}
}

// ---------------------------------------------------------------------------
// Save tests
// ---------------------------------------------------------------------------

func TestSave_CreatesFileWithCorrectContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	s := NewRolesStore(path, testLogger())

	doc := s.newZero()
	doc.Roles["viewer"] = RoleEntry{Name: "viewer", Permissions: []string{"read:*"}, Active: true}

	if err := s.Save(doc); err != nil {
		t.Fatalf("Save() returned unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved file: %v", err)
	}

	var loaded RolesDocument
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("failed to unmarshal saved file: %v", err)
	}

	if loaded.Roles["viewer"].Name != "viewer" {
		t.Errorf("expected role 'viewer', got %v", loaded.Roles)
	}
}

func TestSave_SetsFilePermissions0600(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	s := NewRolesStore(path, testLogger())

	if err := s.Save(s.newZero()); err != nil {
		t.Fatalf("Save() returned unexpected error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("failed to stat file: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("expected permissions 0600, got %04o", perm)
	}
}

func TestSave_CreatesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	s := NewRolesStore(path, testLogger())

	doc1 := s.newZero()
	doc1.Roles["r1"] = RoleEntry{Name: "original"}
	if err := s.Save(doc1); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}

	doc2 := s.newZero()
	doc2.Roles["r1"] = RoleEntry{Name: "updated"}
	if err := s.Save(doc2); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	bakPath := path + ".bak"
	data, err := os.ReadFile(bakPath)
	if err != nil {
		t.Fatalf("failed to read backup file: %v", err)
	}

	var backup RolesDocument
	if err := json.Unmarshal(data, &backup); err != nil {
		t.Fatalf("failed to unmarshal backup: %v", err)
	}
	if backup.Roles["r1"].Name != "original" {
		t.Errorf("expected backup to contain 'original', got %q", backup.Roles["r1"].Name)
	}

	currentData, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read current file: %v", err)
	}
	var current RolesDocument
	if err := json.Unmarshal(currentData, &current); err != nil {
		t.Fatalf("failed to unmarshal current: %v", err)
	}
	if current.Roles["r1"].Name != "updated" {
		t.Errorf("expected current to contain 'updated', got %q", current.Roles["r1"].Name)
	}
}

func TestSave_AtomicWrite_NoTmpFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	s := NewRolesStore(path, testLogger())

	if err := s.Save(s.newZero()); err != nil {
		t.Fatalf("Save() returned unexpected error: %v", err)
	}

	tmpPath := path + ".tmp"
	if _, err := os.Stat(tmpPath); !os.IsNotExist(err) {
		t.Errorf("expected .tmp file to not exist after save, but it does")
	}
}

// ---------------------------------------------------------------------------
// Exists / Path tests
// ---------------------------------------------------------------------------

func TestExists_NoFile_ReturnsFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	s := NewRolesStore(path, testLogger())

	if s.Exists() {
		t.Error("expected Exists() to return false for missing file")
	}
}

func TestExists_WithFile_ReturnsTrue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")

	if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	s := NewRolesStore(path, testLogger())
	if !s.Exists() {
		t.Error("expected Exists() to return true for existing file")
	}
}

func TestPath_ReturnsConfiguredPath(t *testing.T) {
	expected := "/some/path/roles.json"
	s := NewRolesStore(expected, testLogger())

	if got := s.Path(); got != expected {
		t.Errorf("expected path %q, got %q", expected, got)
	}
}

// ---------------------------------------------------------------------------
// Concurrent access tests
// ---------------------------------------------------------------------------

func TestConcurrentSaves_DoNotCorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	s := NewRolesStore(path, testLogger())

	if err := s.Save(s.newZero()); err != nil {
		t.Fatalf("initial Save() failed: %v", err)
	}

	const goroutines = 20
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			doc := s.newZero()
			doc.Roles["concurrent"] = RoleEntry{Name: "concurrent"}
			if err := s.Save(doc); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Save() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read file after concurrent saves: %v", err)
	}

	var final RolesDocument
	if err := json.Unmarshal(data, &final); err != nil {
		t.Fatalf("file corrupted after concurrent saves: %v", err)
	}
	if final.Version != "1" {
		t.Errorf("expected Version '1' after concurrent saves, got %q", final.Version)
	}
}

// ---------------------------------------------------------------------------
// Round-trip tests, including the YAML rule-set document
// ---------------------------------------------------------------------------

func TestSaveAndLoad_RoundTrip_Roles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	s := NewRolesStore(path, testLogger())

	now := time.Now().UTC().Truncate(time.Second)
	original := &RolesDocument{
		Version: "1",
		Roles: map[string]RoleEntry{
			"admin": {
				Name:        "admin",
				Permissions: []string{"*"},
				Active:      true,
				CreatedAt:   now,
				ModifiedAt:  now,
			},
			"viewer": {
				Name:        "viewer",
				Permissions: []string{"read:*"},
				ParentRoles: []string{},
				Active:      true,
				CreatedAt:   now,
				ModifiedAt:  now,
			},
		},
		Assignments: AssignmentsEntry{
			ByUserID:     map[string][]string{"u1": {"admin", "viewer"}},
			ByAPIKey:     map[string][]string{"key-1": {"viewer"}},
			DefaultRoles: []string{"viewer"},
		},
		UpdatedAt: now,
	}

	if err := s.Save(original); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(loaded.Roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(loaded.Roles))
	}
	if loaded.Assignments.DefaultRoles[0] != "viewer" {
		t.Errorf("default roles mismatch: %v", loaded.Assignments.DefaultRoles)
	}
	if loaded.Assignments.ByAPIKey["key-1"][0] != "viewer" {
		t.Errorf("api key assignment mismatch: %v", loaded.Assignments.ByAPIKey)
	}
}

func TestSaveAndLoad_RoundTrip_RuleSetYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	s := NewRuleSetStore(path, testLogger())

	original := &RuleSetDocument{
		DefaultAction: "deny",
		Tool: LevelSection{
			Rules: []RuleEntry{
				{Name: "shell-deny", Target: "shell_exec", Action: "deny", Enabled: true},
			},
			Patterns: []PatternEntry{
				{Name: "read-star", PatternKind: "wildcard", Value: "read_*", Action: "allow", Enabled: true},
			},
		},
		Capability: LevelSection{
			Rules: []RuleEntry{
				{Name: "fs-write-deny", Target: "filesystem_write", Action: "deny", Enabled: true},
			},
		},
		Global: []PatternEntry{
			{Name: "catch-all", PatternKind: "wildcard", Value: "*", Action: "allow", Enabled: true},
		},
	}

	if err := s.Save(original); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	loaded, err := s.Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if loaded.DefaultAction != "deny" {
		t.Errorf("DefaultAction mismatch: %q", loaded.DefaultAction)
	}
	if len(loaded.Tool.Rules) != 1 || loaded.Tool.Rules[0].Target != "shell_exec" {
		t.Errorf("tool rules mismatch: %v", loaded.Tool.Rules)
	}
	if len(loaded.Tool.Patterns) != 1 || loaded.Tool.Patterns[0].Value != "read_*" {
		t.Errorf("tool patterns mismatch: %v", loaded.Tool.Patterns)
	}
	if len(loaded.Capability.Rules) != 1 {
		t.Errorf("capability rules mismatch: %v", loaded.Capability.Rules)
	}
	if len(loaded.Global) != 1 || loaded.Global[0].Value != "*" {
		t.Errorf("global patterns mismatch: %v", loaded.Global)
	}
}

// ---------------------------------------------------------------------------
// Permission tests (SECU-07)
// ---------------------------------------------------------------------------

func TestLoad_TooOpenPermissions_WarnsButSucceeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")

	data := []byte(`{"version":"1","roles":{}}`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := NewRolesStore(path, logger)

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if doc == nil {
		t.Fatal("Load() returned nil document")
	}

	logOutput := buf.String()
	if !strings.Contains(logOutput, "too-open permissions") {
		t.Errorf("expected warning about too-open permissions, got log output: %q", logOutput)
	}
}

func TestLoad_CorrectPermissions_NoWarning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")

	data := []byte(`{"version":"1","roles":{}}`)
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	s := NewRolesStore(path, logger)

	doc, err := s.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if doc == nil {
		t.Fatal("Load() returned nil document")
	}

	logOutput := buf.String()
	if strings.Contains(logOutput, "too-open permissions") {
		t.Errorf("unexpected warning for correctly permissioned file, got: %q", logOutput)
	}
}

func TestSave_ExplicitChmod0600(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roles.json")
	s := NewRolesStore(path, testLogger())

	doc := s.newZero()
	if err := s.Save(doc); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	if err := os.Chmod(path, 0644); err != nil {
		t.Fatalf("chmod: %v", err)
	}

	if err := s.Save(doc); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected 0600 after save, got %04o", perm)
	}
}
