package store

import (
	"context"

	"github.com/rcliao/mail-sentinel/internal/model"
)

// ExportAll returns every entry in the store, oldest first, optionally
// filtered by kind. Embeddings are not included in the export.
func (s *SQLiteStore) ExportAll(ctx context.Context, kind model.Kind) ([]model.Entry, error) {
	query := `SELECT id, content, kind, importance, metadata, created_at, embedding
	          FROM entries`
	args := []interface{}{}
	if kind != "" {
		query += " WHERE kind = ?"
		args = append(args, string(kind))
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &PersistenceError{Op: "export entries", Err: err}
	}
	defer rows.Close()

	var entries []model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, &PersistenceError{Op: "scan entry", Err: err}
		}
		e.Embedding = nil
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
