/*
Package storage implements the persistent embedding cache and run history.

Example embeddings are stored per (embedding model, text hash) so a selector
can reuse them across runs. Runs are recorded with their identity, status and
failed inputs. Both live in SQLite databases opened through modernc.org/sqlite
(a pure Go, CGo-free implementation). If a database cannot be opened, storage
is disabled and every operation becomes a no-op (graceful degradation).
*/
package storage

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Storage defines the interface for persistent storage operations.
type Storage interface {
	// Init opens the database and runs migrations.
	Init() error

	// SaveEmbedding caches the embedding of text computed by model.
	SaveEmbedding(model, text string, vector []float32) error

	// GetEmbedding returns the cached embedding of text, or nil when absent.
	GetEmbedding(model, text string) ([]float32, error)

	// EmbeddingStats returns the number of cached vectors per model.
	EmbeddingStats() (map[string]int, error)

	// ClearEmbeddings removes cached vectors of model, or all when model is "".
	ClearEmbeddings(model string) (int64, error)

	// StartRun records a new run attempt.
	StartRun(run RunRecord) error

	// FinishRun stores the outcome of a run attempt.
	FinishRun(attemptID string, outcome RunOutcome) error

	// ListRuns returns the most recent run attempts, newest first.
	ListRuns(limit int) ([]RunRecord, error)

	// Close closes the database connection.
	Close() error
}

// EmbeddingsFile is the database name used inside an embedding cache directory.
const EmbeddingsFile = "embeddings.db"

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db       *sql.DB
	dbPath   string
	enabled  bool
	logger   *zap.Logger
	mu       sync.Mutex
	initOnce sync.Once
}

// NewStorage creates the run history storage at ~/.icl-simplify/history.db.
func NewStorage(logger *zap.Logger) *SQLiteStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("failed to get home directory, run history disabled", zap.Error(err))
		return &SQLiteStorage{enabled: false, logger: logger}
	}

	return NewStorageAt(filepath.Join(home, ".icl-simplify", "history.db"), logger)
}

// NewEmbeddingStorage creates the embedding cache storage inside dir.
func NewEmbeddingStorage(dir string, logger *zap.Logger) *SQLiteStorage {
	return NewStorageAt(filepath.Join(dir, EmbeddingsFile), logger)
}

// NewStorageAt creates a storage backed by the database at dbPath.
func NewStorageAt(dbPath string, logger *zap.Logger) *SQLiteStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStorage{
		dbPath:  dbPath,
		enabled: true,
		logger:  logger.Named("storage"),
	}
}

// Enabled reports whether the database is usable.
func (s *SQLiteStorage) Enabled() bool {
	return s.enabled && s.db != nil
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// Init initializes the database and runs migrations.
//
// If initialization fails, storage is disabled and subsequent operations
// become no-ops (graceful degradation).
func (s *SQLiteStorage) Init() error {
	if !s.enabled {
		return nil
	}

	var initErr error
	s.initOnce.Do(func() {
		dbDir := filepath.Dir(s.dbPath)
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			initErr = fmt.Errorf("failed to create db directory: %w", err)
			s.enabled = false
			return
		}

		db, err := sql.Open("sqlite", s.dbPath)
		if err != nil {
			initErr = fmt.Errorf("failed to open database: %w", err)
			s.enabled = false
			s.logger.Warn("storage disabled", zap.Error(initErr))
			return
		}
		s.db = db

		if err := db.Ping(); err != nil {
			initErr = fmt.Errorf("failed to ping database: %w", err)
			s.enabled = false
			s.logger.Warn("storage disabled", zap.Error(initErr))
			return
		}

		if err := s.runMigrations(); err != nil {
			initErr = fmt.Errorf("failed to run migrations: %w", err)
			s.enabled = false
			s.logger.Warn("storage disabled", zap.Error(initErr))
			return
		}
	})

	return initErr
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	if !s.enabled || s.db == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.db = nil
	return nil
}

// HashText creates a SHA256 hash of a text used as cache key.
func HashText(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
