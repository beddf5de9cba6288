package database

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	sq "github.com/Masterminds/squirrel"
)

// MatchExpression turns free text into an FTS5 query that ORs every
// quoted token of two or more characters. It returns "" when no token
// survives.
func MatchExpression(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		if len([]rune(f)) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// SearchChunks returns the chunks of a subject's documents that best match
// text, ranked by BM25. When text has no searchable terms the first chunks
// of the subject's documents are returned in reading order.
func (db *DB) SearchChunks(ctx context.Context, subject, text string, limit int) ([]Hit, error) {
	key := SubjectKey(subject)
	if key == "" || limit <= 0 {
		return nil, nil
	}

	var b sq.SelectBuilder
	if match := MatchExpression(text); match != "" {
		b = psql.Select("c.id", "c.document_id", "c.seq", "c.content", "d.title", "d.source", "bm25(chunks_fts) AS rank").
			From("chunks_fts").
			Join("chunks c ON c.id = chunks_fts.rowid").
			Join("documents d ON d.id = c.document_id").
			Where("chunks_fts MATCH ?", match).
			Where(sq.Eq{"d.subject_key": key}).
			OrderBy("rank", "c.id")
	} else {
		b = psql.Select("c.id", "c.document_id", "c.seq", "c.content", "d.title", "d.source", "0.0 AS rank").
			From("chunks c").
			Join("documents d ON d.id = c.document_id").
			Where(sq.Eq{"d.subject_key": key}).
			OrderBy("d.id", "c.seq")
	}
	query, args, err := b.Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.Seq, &h.Content, &h.Title, &h.Source, &h.Rank); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Neighbours returns the chunks within radius of seq in the same document,
// excluding seq itself, in reading order.
func (db *DB) Neighbours(ctx context.Context, documentID int64, seq, radius int) ([]Chunk, error) {
	if radius <= 0 {
		return nil, nil
	}
	query, args, err := psql.Select("id", "document_id", "seq", "content").
		From("chunks").
		Where(sq.Eq{"document_id": documentID}).
		Where(sq.GtOrEq{"seq": seq - radius}).
		Where(sq.LtOrEq{"seq": seq + radius}).
		Where(sq.NotEq{"seq": seq}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading neighbours: %w", err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.Content); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}
