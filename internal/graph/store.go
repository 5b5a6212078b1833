// Package graph provides the SQLite-backed property graph that serves as the
// agent's local resource cache.
//
// The graph holds three kinds of nodes: class anchors (one per vocabulary
// class), collection nodes (one per collection endpoint), and resource nodes
// (one per cached resource instance). Edges are directed and labeled; the
// store cascades edge removal when either endpoint node is deleted.
//
// The database runs in embedded mode using SQLite with WAL for concurrency
// support. Nodes carry a string-typed property map persisted as a JSON
// object; the store itself enforces no uniqueness across node ids, that
// discipline belongs to the sync engine.
//
// Architecture:
//   - Database file: one file per agent instance (each agent owns its cache)
//   - WAL mode: concurrent readers during writes
//   - Schema: nodes, edges tables with ON DELETE CASCADE foreign keys
//   - Indexes: label lookup on nodes, endpoint lookup on edges
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Properties is the string-typed property map carried by every node.
// All values are stored in their textual form; non-string scalars must be
// flattened before they reach the store.
type Properties map[string]string

// Store wraps the SQLite connection holding the cache graph.
// This provides embedded SQLite with WAL mode for concurrent access.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the database doesn't exist, it will be created; call InitSchema before
// first use.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	store, err := graph.Open(".hydragent/cache.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Pragmas go in the connection string so every pooled connection gets
	// them: WAL for concurrent reads, foreign keys for cascading edge
	// removal, busy timeout of 5 seconds.
	connStr := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		conn: conn,
		path: path,
	}

	return s, nil
}

// Path returns the filesystem path of the backing database file.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the store connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the graph schema if it doesn't exist.
//
// This creates the nodes and edges tables along with indexes for label and
// endpoint lookups. This is idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the graph schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS nodes (
		node_id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		props TEXT NOT NULL DEFAULT '{}'  -- JSON object, string values only
	);

	CREATE TABLE IF NOT EXISTS edges (
		edge_id INTEGER PRIMARY KEY AUTOINCREMENT,
		relation TEXT NOT NULL,
		source_id INTEGER NOT NULL,
		dest_id INTEGER NOT NULL,
		FOREIGN KEY (source_id) REFERENCES nodes(node_id) ON DELETE CASCADE,
		FOREIGN KEY (dest_id) REFERENCES nodes(node_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_label ON nodes(label);
	CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
	CREATE INDEX IF NOT EXISTS idx_edges_dest ON edges(dest_id);
	CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges(relation);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// NodeCount returns the total number of nodes in the graph.
func (s *Store) NodeCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM nodes").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get node count: %w", err)
	}
	return count, nil
}

// EdgeCount returns the total number of edges in the graph.
func (s *Store) EdgeCount(ctx context.Context) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM edges").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get edge count: %w", err)
	}
	return count, nil
}

// storedNode pairs a row id with its decoded property map during scans.
type storedNode struct {
	rowID int64
	props Properties
}

// scanNodes runs a node query and decodes each row's JSON property map.
func scanNodes(rows *sql.Rows) ([]storedNode, error) {
	var nodes []storedNode

	for rows.Next() {
		var n storedNode
		var propsJSON string

		if err := rows.Scan(&n.rowID, &propsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}

		if err := json.Unmarshal([]byte(propsJSON), &n.props); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node properties: %w", err)
		}

		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}

	return nodes, nil
}
