// Package changesink provides a file-based implementation of the
// change-tracker sink: append-only JSON Lines records of every admin
// mutation (rule/pattern/role CRUD, emergency activation), with daily
// and size-based rotation and retention cleanup. Retention and rotation
// are the sink's responsibility, not the change-tracker builder's.
package changesink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/policy-core/permissioncore/internal/domain/audit"
)

// fileInfo holds parsed information about a change-history file.
type fileInfo struct {
	name   string
	date   string
	suffix int
}

// filenamePattern matches change-history filenames:
// changes-YYYY-MM-DD.jsonl or changes-YYYY-MM-DD-N.jsonl
var filenamePattern = regexp.MustCompile(`^changes-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.jsonl$`)

func parseFilename(name string) (fileInfo, bool) {
	matches := filenamePattern.FindStringSubmatch(name)
	if matches == nil {
		return fileInfo{}, false
	}
	info := fileInfo{name: name, date: matches[1]}
	if matches[2] != "" {
		n, err := strconv.Atoi(matches[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

func sortFiles(files []fileInfo) {
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
}

// Config holds configuration for the file-based change-tracker sink.
type Config struct {
	// Dir is the directory where change-history files are stored.
	Dir string
	// RetentionDays is the number of days to keep change-history files
	// (default 90 -- change history is lower-volume and higher-value
	// for incident review than raw audit traffic).
	RetentionDays int
	// MaxFileSizeMB is the maximum file size in megabytes before
	// rotation (default 50).
	MaxFileSizeMB int
}

// FileSink implements audit.ChangeSink with file rotation and retention.
type FileSink struct {
	dir           string
	maxFileSize   int64
	retentionDays int
	currentFile   *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	mu            sync.Mutex
	logger        *slog.Logger
	cancel        context.CancelFunc
	closed        bool
}

// NewFileSink creates a new file-based change-tracker sink. It creates
// the directory if it does not exist, opens today's file, runs
// retention cleanup, and starts the hourly cleanup goroutine.
func NewFileSink(cfg Config, logger *slog.Logger) (*FileSink, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 50
	}

	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create change-history directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s := &FileSink{
		dir:           cfg.Dir,
		maxFileSize:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		retentionDays: cfg.RetentionDays,
		logger:        logger,
		cancel:        cancel,
	}

	today := time.Now().UTC().Format("2006-01-02")
	if err := s.openCurrentFile(today); err != nil {
		cancel()
		return nil, fmt.Errorf("open change-history file: %w", err)
	}

	s.runCleanup()
	go s.startCleanupLoop(ctx)

	return s, nil
}

// Append stores change records as JSON Lines, handling date and size
// rotation as needed.
func (s *FileSink) Append(_ context.Context, records ...audit.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		dateStr := rec.Timestamp.UTC().Format("2006-01-02")

		if dateStr != s.currentDate {
			if err := s.rotateDateLocked(dateStr); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.rotateSizeLocked(); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal change record: %w", err)
		}
		line := append(data, '\n')
		n, err := s.currentFile.Write(line)
		if err != nil {
			return fmt.Errorf("write change record: %w", err)
		}
		s.currentSize += int64(n)
	}

	return nil
}

// Close releases resources, stops the cleanup goroutine, and closes the
// current file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()

	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		err := s.currentFile.Close()
		s.currentFile = nil
		return err
	}
	return nil
}

func (s *FileSink) openCurrentFile(dateStr string) error {
	suffix := s.findHighestSuffix(dateStr)

	f, size, err := s.openFile(dateStr, suffix)
	if err != nil {
		return err
	}

	s.currentFile = f
	s.currentDate = dateStr
	s.currentSize = size
	s.currentSuffix = suffix
	return nil
}

func (s *FileSink) findHighestSuffix(dateStr string) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	highest := 0
	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok || info.date != dateStr {
			continue
		}
		if info.suffix > highest {
			highest = info.suffix
		}
	}
	return highest
}

func (s *FileSink) openFile(dateStr string, suffix int) (*os.File, int64, error) {
	filename := s.buildFilename(dateStr, suffix)
	path := filepath.Join(s.dir, filename)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, 0, fmt.Errorf("open file %s: %w", filename, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat file %s: %w", filename, err)
	}

	return f, info.Size(), nil
}

func (s *FileSink) buildFilename(dateStr string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("changes-%s.jsonl", dateStr)
	}
	return fmt.Sprintf("changes-%s-%d.jsonl", dateStr, suffix)
}

func (s *FileSink) rotateDateLocked(dateStr string) error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	s.currentSuffix = 0
	s.currentSize = 0
	s.currentDate = dateStr

	f, size, err := s.openFile(dateStr, 0)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	return nil
}

func (s *FileSink) rotateSizeLocked() error {
	if s.currentFile != nil {
		_ = s.currentFile.Sync()
		_ = s.currentFile.Close()
		s.currentFile = nil
	}

	s.currentSuffix++
	s.currentSize = 0

	f, size, err := s.openFile(s.currentDate, s.currentSuffix)
	if err != nil {
		return err
	}
	s.currentFile = f
	s.currentSize = size
	return nil
}

// runCleanup deletes change-history files older than the retention period.
func (s *FileSink) runCleanup() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Error("change-history cleanup: failed to read directory", "dir", s.dir, "error", err)
		return
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -s.retentionDays)
	deleted := 0

	for _, e := range entries {
		info, ok := parseFilename(e.Name())
		if !ok {
			continue
		}
		fileDate, err := time.Parse("2006-01-02", info.date)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			path := filepath.Join(s.dir, e.Name())
			if err := os.Remove(path); err != nil {
				s.logger.Error("change-history cleanup: failed to delete file", "file", e.Name(), "error", err)
			} else {
				deleted++
			}
		}
	}

	if deleted > 0 {
		s.logger.Info("change-history cleanup completed", "deleted", deleted)
	}
}

func (s *FileSink) startCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

// sortedFilesFor exposes parsed+sorted file listing for tests.
func sortedFilesFor(dir string) []fileInfo {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []fileInfo
	for _, e := range entries {
		if info, ok := parseFilename(e.Name()); ok {
			files = append(files, info)
		}
	}
	sortFiles(files)
	return files
}

// Compile-time interface verification.
var _ audit.ChangeSink = (*FileSink)(nil)
