// Package db opens the local SQLite database that backs the durable
// key/value tier, the conversation store and memory embeddings.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Register sqlite-vec as an auto-extension so every SQLite connection
	// opened by this process has the vec0 virtual table module available.
	vec.Auto()
}

const (
	// DefaultEmbeddingDimension matches nomic-embed-text, the default Ollama embed model.
	// text-embedding-3-small produces 1536.
	DefaultEmbeddingDimension = 768
)

// DB wraps a *sql.DB and exposes helpers.
type DB struct {
	conn      *sql.DB
	vectors   bool
	dimension int
}

// Open opens (or creates) the SQLite database at path and applies migrations.
// dimension sizes the embedding table; zero selects DefaultEmbeddingDimension.
func Open(path string, dimension int) (*DB, error) {
	if dimension <= 0 {
		dimension = DefaultEmbeddingDimension
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", absPath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer, multiple readers.
	conn.SetMaxOpenConns(1)

	if err := applyMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	// Non-fatal: sqlite-vec may not be available in all build configurations.
	// Memory ranking degrades to importance order without it.
	vectors := applyVectorTables(conn, dimension) == nil

	return &DB{conn: conn, vectors: vectors, dimension: dimension}, nil
}

// Conn returns the underlying *sql.DB for use by store/vector layers.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// VectorsEnabled reports whether the vec_memories table exists.
func (d *DB) VectorsEnabled() bool {
	return d.vectors
}

// Dimension is the embedding width of vec_memories.
func (d *DB) Dimension() int {
	return d.dimension
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping checks the connection is live.
func (d *DB) Ping() error {
	return d.conn.Ping()
}
