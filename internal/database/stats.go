package database

import (
	"context"
	"database/sql"
	"fmt"
)

// GetStats returns counts over the document index.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	var newest sql.NullString

	query, args, err := psql.Select(
		"COUNT(DISTINCT subject_key)", "COUNT(*)", "COALESCE(SUM(word_count), 0)", "MAX(ingested_at)",
	).From("documents").ToSql()
	if err != nil {
		return s, err
	}
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&s.Subjects, &s.Documents, &s.Words, &newest); err != nil {
		return s, fmt.Errorf("counting documents: %w", err)
	}
	if newest.Valid {
		t := parseTime(newest.String)
		s.Newest = &t
	}

	query, args, err = psql.Select("COUNT(*)").From("chunks").ToSql()
	if err != nil {
		return s, err
	}
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&s.Chunks); err != nil {
		return s, fmt.Errorf("counting chunks: %w", err)
	}
	return s, nil
}
