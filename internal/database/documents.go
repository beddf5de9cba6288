package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a document lookup matches nothing.
var ErrNotFound = errors.New("document not found")

const (
	timeLayout = "2006-01-02 15:04:05"
	chunkBatch = 200
)

// SubjectKey folds a subject name for matching: lower case, single spaces.
func SubjectKey(subject string) string {
	return strings.ToLower(strings.Join(strings.Fields(subject), " "))
}

// InsertDocument stores a document and its chunks in one transaction.
// An existing document with the same subject and source is replaced.
func (db *DB) InsertDocument(ctx context.Context, doc Document, chunks []string) (int64, error) {
	key := SubjectKey(doc.Subject)
	if key == "" {
		return 0, fmt.Errorf("document subject is empty")
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("document %q has no content", doc.Source)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	query, args, err := psql.Delete("documents").
		Where(sq.Eq{"subject_key": key, "source": doc.Source}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("replacing document: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		db.logger.Debug("replaced document", zap.String("subject", doc.Subject), zap.String("source", doc.Source))
	}

	query, args, err = psql.Insert("documents").
		Columns("subject", "subject_key", "source", "title", "word_count").
		Values(strings.TrimSpace(doc.Subject), key, doc.Source, doc.Title, doc.WordCount).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err = tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("inserting document: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for start := 0; start < len(chunks); start += chunkBatch {
		end := min(start+chunkBatch, len(chunks))
		insert := psql.Insert("chunks").Columns("document_id", "seq", "content")
		for i := start; i < end; i++ {
			insert = insert.Values(id, i, chunks[i])
		}
		query, args, err = insert.ToSql()
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("inserting chunks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return id, nil
}

// ListDocuments returns documents newest first. An empty subject lists all.
func (db *DB) ListDocuments(ctx context.Context, subject string) ([]Document, error) {
	b := psql.Select(
		"d.id", "d.subject", "d.source", "d.title", "d.word_count", "d.ingested_at",
		"(SELECT COUNT(*) FROM chunks c WHERE c.document_id = d.id)",
	).From("documents d").OrderBy("d.ingested_at DESC", "d.id DESC")
	if key := SubjectKey(subject); key != "" {
		b = b.Where(sq.Eq{"d.subject_key": key})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var ingested string
		if err := rows.Scan(&d.ID, &d.Subject, &d.Source, &d.Title, &d.WordCount, &ingested, &d.ChunkCount); err != nil {
			return nil, err
		}
		d.IngestedAt = parseTime(ingested)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// GetDocument returns one document by ID.
func (db *DB) GetDocument(ctx context.Context, id int64) (Document, error) {
	query, args, err := psql.Select("id", "subject", "source", "title", "word_count", "ingested_at").
		From("documents").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return Document{}, err
	}
	var d Document
	var ingested string
	err = db.conn.QueryRowContext(ctx, query, args...).
		Scan(&d.ID, &d.Subject, &d.Source, &d.Title, &d.WordCount, &ingested)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if err != nil {
		return Document{}, err
	}
	d.IngestedAt = parseTime(ingested)
	return d, nil
}

// DeleteDocument removes a document and its chunks.
func (db *DB) DeleteDocument(ctx context.Context, id int64) error {
	query, args, err := psql.Delete("documents").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
