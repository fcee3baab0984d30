package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Codec marshals and unmarshals a document's on-disk representation.
// JSONCodec and YAMLCodec provide the two shapes spec §6 calls for.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes documents as indented JSON (roles, permission
// registry).
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.MarshalIndent(v, "", "  ") }
func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// YAMLCodec encodes documents as YAML (rule sets, pattern files).
type YAMLCodec struct{}

func (YAMLCodec) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (YAMLCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }

// FileStore manages reading and writing a single persisted document of
// type T. It provides atomic writes (write-tmp-then-rename), automatic
// backups, and file locking (flock for cross-process, mutex for
// in-process) -- the same mechanics regardless of which document (T)
// is being persisted.
type FileStore[T any] struct {
	path    string
	codec   Codec
	mu      sync.Mutex
	logger  *slog.Logger
	newZero func() *T
}

// NewFileStore creates a FileStore for path using codec to (de)serialize
// documents of type T. newZero constructs the value Load returns when
// no file exists yet (e.g. an empty RolesDocument with Version set).
func NewFileStore[T any](path string, codec Codec, logger *slog.Logger, newZero func() *T) *FileStore[T] {
	return &FileStore[T]{path: path, codec: codec, logger: logger, newZero: newZero}
}

// Load reads and parses the document. If the file does not exist, it
// returns newZero(). If the file contains invalid data, it returns an
// error.
func (s *FileStore[T]) Load() (*T, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("document not found, using zero value", "path", s.path)
			return s.newZero(), nil
		}
		return nil, fmt.Errorf("read document: %w", err)
	}

	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 {
				s.logger.Warn("document file has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var doc T
	if err := s.codec.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &doc, nil
}

// Save writes doc to disk atomically.
//
// The write sequence is:
//  1. Acquire in-process mutex
//  2. Acquire flock on path+".lock"
//  3. Copy current file to path+".bak" (ignored if no current file)
//  4. Marshal doc via the configured codec
//  5. Write to path+".tmp" with 0600 permissions
//  6. Fsync the temp file
//  7. Rename path+".tmp" -> path
//  8. Release flock
//  9. Release mutex
func (s *FileStore[T]) Save(doc *T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := flockLock(lockFile.Fd()); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer flockUnlock(lockFile.Fd()) //nolint:errcheck

	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		bakPath := s.path + ".bak"
		if writeErr := os.WriteFile(bakPath, currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := s.codec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on document file", "error", err)
	}

	s.logger.Debug("document saved", "path", s.path)
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it
// over the target path. On any error the temp file is cleaned up.
func (s *FileStore[T]) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to target: %w", err)
	}
	return nil
}

// Exists returns true if the document file exists on disk.
func (s *FileStore[T]) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the configured file path.
func (s *FileStore[T]) Path() string {
	return s.path
}

// NewRolesStore builds the FileStore for the roles+assignments document.
func NewRolesStore(path string, logger *slog.Logger) *FileStore[RolesDocument] {
	return NewFileStore[RolesDocument](path, JSONCodec{}, logger, func() *RolesDocument {
		return &RolesDocument{
			Version:   "1",
			Roles:     map[string]RoleEntry{},
			UpdatedAt: time.Now().UTC(),
		}
	})
}

// NewPermissionRegistryStore builds the FileStore for the permission
// registry document.
func NewPermissionRegistryStore(path string, logger *slog.Logger) *FileStore[PermissionRegistryDocument] {
	return NewFileStore[PermissionRegistryDocument](path, JSONCodec{}, logger, func() *PermissionRegistryDocument {
		return &PermissionRegistryDocument{
			Version:       "1",
			RoleToToolIDs: map[string][]string{},
			ToolIDToBit:   map[string]uint8{},
			UpdatedAt:     time.Now().UTC(),
		}
	})
}

// NewRuleSetStore builds the FileStore for the allowlist rule-set YAML
// document.
func NewRuleSetStore(path string, logger *slog.Logger) *FileStore[RuleSetDocument] {
	return NewFileStore[RuleSetDocument](path, YAMLCodec{}, logger, func() *RuleSetDocument {
		return &RuleSetDocument{DefaultAction: "deny"}
	})
}

// NewPatternStore builds the FileStore for an optional pattern YAML
// document (capability-patterns.yaml or global-patterns.yaml).
func NewPatternStore(path string, logger *slog.Logger) *FileStore[PatternDocument] {
	return NewFileStore[PatternDocument](path, YAMLCodec{}, logger, func() *PatternDocument {
		return &PatternDocument{}
	})
}
