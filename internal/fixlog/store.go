package fixlog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lucasnoah/fixlog/internal/parser"
)

// DefaultPath is the log file name used when none is configured.
const DefaultPath = "fix_log.json"

// DefaultLockTimeout is how long AppendAndSave waits for a concurrent writer.
const DefaultLockTimeout = 30 * time.Second

// ErrNotObject is returned when the document is valid JSON but its top level
// is not an object.
var ErrNotObject = errors.New("fix log is not a JSON object")

// Store owns a single fix log document on disk.
type Store struct {
	path        string
	logger      *zap.Logger
	lockTimeout time.Duration
}

// NewStore creates a Store for the document at path.
func NewStore(path string, logger *zap.Logger) *Store {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger, lockTimeout: DefaultLockTimeout}
}

// SetLockTimeout overrides how long writers wait for the lock.
func (s *Store) SetLockTimeout(d time.Duration) {
	s.lockTimeout = d
}

// Path returns the document path.
func (s *Store) Path() string {
	return s.path
}

// LoadOrInit reads the document. A missing, empty or malformed file yields a
// fresh log; that is the first-run path, not an error. A well-formed document
// that is not an object, or whose fields have the wrong types, is returned as
// an error so it is never overwritten.
func (s *Store) LoadOrInit() (*Log, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("fix log not found, initializing", zap.String("path", s.path))
			return New(), nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		s.logger.Warn("fix log is empty, initializing", zap.String("path", s.path))
		return New(), nil
	}
	if trimmed[0] != '{' && json.Valid(trimmed) {
		return nil, fmt.Errorf("%s: %w", s.path, ErrNotObject)
	}

	var l Log
	if err := json.Unmarshal(trimmed, &l); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			s.logger.Warn("fix log is not valid JSON, initializing",
				zap.String("path", s.path),
				zap.Error(err),
			)
			return New(), nil
		}
		return nil, fmt.Errorf("unmarshal %s: %w", s.path, err)
	}
	l.normalize()
	return &l, nil
}

// Save rewrites the whole document.
func (s *Store) Save(l *Log) error {
	if err := WriteJSON(s.path, l); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// AppendAndSave loads the document, appends entry with the next UID,
// replaces the performance summary with latest and rewrites the file.
// The stored entry is returned.
func (s *Store) AppendAndSave(entry Entry, latest parser.PerformanceMetrics) (*Entry, error) {
	release, err := acquireLock(s.path, s.lockTimeout)
	if err != nil {
		return nil, err
	}
	defer release()

	l, err := s.LoadOrInit()
	if err != nil {
		return nil, err
	}

	entry.UID = NextUID(len(l.History))
	if entry.Dependencies == nil {
		entry.Dependencies = []string{}
	}
	l.History = append(l.History, entry)
	l.PerformanceSummary = latest

	if err := s.Save(l); err != nil {
		return nil, err
	}
	s.logger.Info("fix log entry appended",
		zap.String("path", s.path),
		zap.String("uid", entry.UID),
		zap.Int("history", len(l.History)),
	)
	return &entry, nil
}
