package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// pathIndex is a small SQLite database living inside the corpus directory
// that maps canonical source image paths to the batch files referencing
// them. It replaces a linear re-parse of every batch file per existence
// lookup and is kept in sync with every append.
type pathIndex struct {
	db *sql.DB
}

func openPathIndex(path string) (*pathIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The index is accessed from one process; a single connection avoids
	// SQLITE_BUSY churn between ingest workers.
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE IF NOT EXISTS batch_files (
			name TEXT PRIMARY KEY
		);
		CREATE TABLE IF NOT EXISTS sources (
			path TEXT NOT NULL,
			file TEXT NOT NULL REFERENCES batch_files(name)
		);
		CREATE INDEX IF NOT EXISTS sources_path_idx ON sources(path);
		CREATE INDEX IF NOT EXISTS sources_file_idx ON sources(file);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create index schema: %w", err)
	}
	return &pathIndex{db: db}, nil
}

func (ix *pathIndex) Close() error {
	return ix.db.Close()
}

// knownFiles returns the batch files the index has already absorbed.
func (ix *pathIndex) knownFiles(ctx context.Context) (map[string]bool, error) {
	rows, err := ix.db.QueryContext(ctx, "SELECT name FROM batch_files")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		known[name] = true
	}
	return known, rows.Err()
}

// addFile records one batch file and its source paths in a single
// transaction.
func (ix *pathIndex) addFile(ctx context.Context, file string, paths []string) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO batch_files (name) VALUES (?)", file); err != nil {
		return err
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO sources (path, file) VALUES (?, ?)", p, file); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// removeFiles drops index rows for batch files that no longer exist on disk.
func (ix *pathIndex) removeFiles(ctx context.Context, files []string) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(files)), ",")
	args := make([]any, len(files))
	for i, f := range files {
		args[i] = f
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM sources WHERE file IN ("+placeholders+")", args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM batch_files WHERE name IN ("+placeholders+")", args...); err != nil {
		return err
	}
	return tx.Commit()
}

// contains reports whether the canonical path is referenced by any indexed
// batch file.
func (ix *pathIndex) contains(ctx context.Context, path string) (bool, error) {
	var exists bool
	err := ix.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM sources WHERE path = ?)", path,
	).Scan(&exists)
	return exists, err
}
