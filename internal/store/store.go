// Package store implements the per-folder embedded store (spec.md §4.7):
// one SQLite database per indexed folder holding documents, chunks,
// embeddings, and file-processing state, with atomic document writes and
// brute-force vector search. Grounded on the teacher's
// `pkg/database/manager.go` (PRAGMA set, WAL, gorm.Open) generalized from a
// single process-wide singleton to one instance per folder (spec.md §9 Open
// Question 4: no shared singleton).
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/semindex/semindex/internal/errs"
)

// dbFileName is the SQLite file created inside each folder's hidden state
// directory (spec.md §6 exclude-glob list already reserves ".semindex").
const dbFileName = "index.sqlite"

// Store is one folder's embedded database: documents, chunks, embeddings,
// and file-processing state, plus a pluggable vector search engine.
type Store struct {
	db     *gorm.DB
	dbPath string

	mu          sync.RWMutex
	engine      vectorEngine
	vectorCache map[chunkKey][]float32
	cacheLoaded bool
}

// Open creates (if needed) and opens the SQLite store rooted at
// folderPath/.semindex/index.sqlite, applying the same WAL/foreign-key
// PRAGMA set as the teacher's Manager.Init, and auto-migrates the schema.
func Open(folderPath string) (*Store, error) {
	stateDir := filepath.Join(folderPath, ".semindex")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, errs.NewStorageError("open", fmt.Errorf("create state dir: %w", err))
	}

	dbPath := filepath.Join(stateDir, dbFileName)
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1", dbPath)
	dialector := sqlite.New(sqlite.Config{DriverName: "sqlite3", DSN: dsn})

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errs.NewStorageError("open", fmt.Errorf("open database %s: %w", dbPath, err))
	}

	if err := applyPragmas(db); err != nil {
		return nil, errs.NewStorageError("open", fmt.Errorf("apply pragmas: %w", err))
	}

	if err := db.AutoMigrate(&documentRow{}, &chunkRow{}, &embeddingRow{}, &fileStateRow{}); err != nil {
		return nil, errs.NewStorageError("open", fmt.Errorf("migrate: %w", err))
	}

	return &Store{
		db:          db,
		dbPath:      dbPath,
		engine:      newBruteForceEngine(),
		vectorCache: make(map[chunkKey][]float32),
	}, nil
}

// OpenFromDB wraps an already-open *gorm.DB (used by tests against an
// in-memory database) and runs the same migration.
func OpenFromDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&documentRow{}, &chunkRow{}, &embeddingRow{}, &fileStateRow{}); err != nil {
		return nil, errs.NewStorageError("open", fmt.Errorf("migrate: %w", err))
	}
	return &Store{db: db, engine: newBruteForceEngine(), vectorCache: make(map[chunkKey][]float32)}, nil
}

func applyPragmas(db *gorm.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-64000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if err := db.Exec(p).Error; err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint flushes the WAL back into the main database file (spec.md
// §4.1/4.7: "Store flushes on checkpoint").
func (s *Store) Checkpoint() error {
	if err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)").Error; err != nil {
		return errs.NewStorageError("checkpoint", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errs.NewStorageError("close", err)
	}
	return sqlDB.Close()
}

func (s *Store) invalidateVectorCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheLoaded = false
	s.vectorCache = make(map[chunkKey][]float32)
}

// now is overridable in tests; production code always uses time.Now.
var now = time.Now
