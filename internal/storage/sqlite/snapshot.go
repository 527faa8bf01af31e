package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// Snapshot writes a consistent copy of the store to destPath using
// VACUUM INTO, which also captures pages still in the WAL. destPath must not
// exist. The copy is integrity checked before Snapshot returns.
func (s *TermStore) Snapshot(ctx context.Context, destPath string) error {
	if _, err := os.Stat(destPath); err == nil {
		return fmt.Errorf("sqlite: snapshot target %s already exists", destPath)
	}

	quoted := strings.ReplaceAll(destPath, "'", "''")
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return fmt.Errorf("sqlite: failed to snapshot to %s: %w", destPath, err)
	}

	if err := VerifySnapshot(ctx, destPath); err != nil {
		_ = os.Remove(destPath)
		return err
	}
	return nil
}

// VerifySnapshot runs SQLite's integrity check on the database at path.
func VerifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("sqlite: failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("sqlite: failed to run integrity check on %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("sqlite: integrity check failed on %s: %s", path, result)
	}
	return nil
}
