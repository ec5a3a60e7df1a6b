package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/nodebook/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (session + nodes)
const currentSchemaVersion = 1

// ErrNoChain is returned by LoadChain when nothing has been saved yet.
var ErrNoChain = errors.New("no chain record")

// NodeRecord is the persisted form of one node.
type NodeRecord struct {
	ID      string
	Code    string
	Valid   bool
	Inputs  map[string]string
	Outputs map[string]string
}

// ChainRecord is the persisted form of a whole chain, head first.
type ChainRecord struct {
	SessionID     string
	EngineVersion string
	Nodes         []NodeRecord
}

// MetaStore persists chain records in SQLite.
type MetaStore struct {
	db *sql.DB
}

// OpenMeta creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func OpenMeta(path string) (*MetaStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &MetaStore{db: db}, nil
}

// Close closes the database connection.
func (m *MetaStore) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}

// SaveChain replaces the stored record with rec in one transaction.
func (m *MetaStore) SaveChain(ctx context.Context, rec ChainRecord) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save chain: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO session (id, session_id, engine_version, payload_version)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			engine_version = excluded.engine_version,
			payload_version = excluded.payload_version
	`, rec.SessionID, rec.EngineVersion, ir.PayloadVersion)
	if err != nil {
		return fmt.Errorf("save chain: session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes`); err != nil {
		return fmt.Errorf("save chain: clear nodes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO nodes (position, id, code, valid, inputs, outputs)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save chain: %w", err)
	}
	defer stmt.Close()

	for i, n := range rec.Nodes {
		inputs, err := marshalBindings(n.Inputs)
		if err != nil {
			return fmt.Errorf("save chain: node %s: %w", n.ID, err)
		}
		outputs, err := marshalBindings(n.Outputs)
		if err != nil {
			return fmt.Errorf("save chain: node %s: %w", n.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, i, n.ID, n.Code, n.Valid, inputs, outputs); err != nil {
			return fmt.Errorf("save chain: node %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save chain: commit: %w", err)
	}
	return nil
}

// LoadChain returns the stored record, nodes ordered head first.
// Returns ErrNoChain if SaveChain was never called on this database.
func (m *MetaStore) LoadChain(ctx context.Context) (*ChainRecord, error) {
	rec := &ChainRecord{}
	var payloadVersion string
	err := m.db.QueryRowContext(ctx, `
		SELECT session_id, engine_version, payload_version FROM session WHERE id = 1
	`).Scan(&rec.SessionID, &rec.EngineVersion, &payloadVersion)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoChain
	}
	if err != nil {
		return nil, fmt.Errorf("load chain: session: %w", err)
	}
	if payloadVersion != ir.PayloadVersion {
		return nil, fmt.Errorf("load chain: payload version %q, want %q", payloadVersion, ir.PayloadVersion)
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, code, valid, inputs, outputs
		FROM nodes
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load chain: query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			n               NodeRecord
			inputs, outputs string
		)
		if err := rows.Scan(&n.ID, &n.Code, &n.Valid, &inputs, &outputs); err != nil {
			return nil, fmt.Errorf("load chain: scan node: %w", err)
		}
		if n.Inputs, err = unmarshalBindings(inputs); err != nil {
			return nil, fmt.Errorf("load chain: node %s: %w", n.ID, err)
		}
		if n.Outputs, err = unmarshalBindings(outputs); err != nil {
			return nil, fmt.Errorf("load chain: node %s: %w", n.ID, err)
		}
		rec.Nodes = append(rec.Nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load chain: iterate nodes: %w", err)
	}

	return rec, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and checks the schema
// version. This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (m *MetaStore) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := m.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
