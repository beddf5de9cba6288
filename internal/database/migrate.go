package database

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// getSchemaVersion returns the applied schema version (PRAGMA user_version).
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// migrate applies every pending migration in order. A database written by a
// newer binary is refused rather than partially understood.
func migrate(conn *sql.DB, logger *zap.Logger) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}
	latest := latestVersion()
	switch {
	case current > latest:
		return fmt.Errorf("index schema version %d is newer than this binary supports (%d)", current, latest)
	case current == latest:
		return nil
	}

	logger.Info("upgrading document index", zap.Int("from", current), zap.Int("to", latest))
	for _, m := range migrations {
		if m.Version > current {
			if err := apply(conn, m); err != nil {
				return err
			}
			logger.Debug("migration applied", zap.Int("version", m.Version), zap.String("description", m.Description))
		}
	}
	return nil
}

// apply runs one migration in its own transaction and records its version.
// The version pragma cannot run inside the transaction on modernc/sqlite;
// the DDL is idempotent, so a crash between the two re-runs the step.
func apply(conn *sql.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", m.Version, err)
	}
	if err := m.Up(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: commit: %w", m.Version, err)
	}
	if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
		return fmt.Errorf("migration %d: recording version: %w", m.Version, err)
	}
	return nil
}
