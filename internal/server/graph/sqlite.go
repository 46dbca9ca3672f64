package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/systemshift/docmigrate/internal/core"
)

// SQLiteRepository implements Repository using SQLite
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSQLite creates a new SQLite repository. Use ":memory:" for a throwaway store.
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// One connection: keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	repo := &SQLiteRepository{db: db, now: time.Now}

	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if err := repo.EnsureIndexes(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// Close closes the SQLite connection
func (r *SQLiteRepository) Close(ctx context.Context) error {
	return r.db.Close()
}

// EnsureIndexes creates tables and indexes when missing
func (r *SQLiteRepository) EnsureIndexes(ctx context.Context) error {
	for _, stmt := range allSchemaStatements() {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}

// GetDocument retrieves a document by id
func (r *SQLiteRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	return r.getDocument(ctx, r.db, id)
}

func (r *SQLiteRepository) getDocument(ctx context.Context, q queryer, id string) (*core.Document, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, type, revision, fields, created_at, modified_at
		FROM documents
		WHERE id = ?
	`, id)
	return scanDocument(row)
}

// QueryDocuments returns documents matching q ordered by id, plus the unpaged total
func (r *SQLiteRepository) QueryDocuments(ctx context.Context, q core.Query) ([]*core.Document, int, error) {
	var where []string
	var args []any

	if len(q.Types) > 0 {
		where = append(where, "d.type IN ("+placeholders(len(q.Types))+")")
		args = appendStrings(args, q.Types)
	}
	if len(q.IDs) > 0 {
		where = append(where, "d.id IN ("+placeholders(len(q.IDs))+")")
		args = appendStrings(args, q.IDs)
	}
	if len(q.References) > 0 {
		where = append(where, "d.id IN (SELECT source_id FROM refs WHERE target_id IN ("+placeholders(len(q.References))+"))")
		args = appendStrings(args, q.References)
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents d"+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting documents: %w", err)
	}

	limit := -1
	if q.Limit > 0 {
		limit = q.Limit
	}
	query := "SELECT d.id, d.type, d.revision, d.fields, d.created_at, d.modified_at FROM documents d" +
		clause + " ORDER BY d.id LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var docs []*core.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
	}
	return docs, total, rows.Err()
}

// CreateDocument inserts a new document; the id must be free
func (r *SQLiteRepository) CreateDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	return r.write(ctx, doc.ID, func(existing *core.Document) (*core.Document, error) {
		if existing != nil {
			return nil, core.ErrAlreadyExists
		}
		return doc.Clone(), nil
	})
}

// PutDocument creates or replaces a document
func (r *SQLiteRepository) PutDocument(ctx context.Context, doc *core.Document) (*core.Document, error) {
	return r.write(ctx, doc.ID, func(existing *core.Document) (*core.Document, error) {
		out := doc.Clone()
		if existing != nil {
			out.Created = existing.Created
		}
		return out, nil
	})
}

// PatchDocument applies p to an existing document
func (r *SQLiteRepository) PatchDocument(ctx context.Context, id string, p core.Patch) (*core.Document, error) {
	return r.write(ctx, id, func(existing *core.Document) (*core.Document, error) {
		if existing == nil {
			return nil, core.ErrNotFound
		}
		if p.IfRevision != "" && p.IfRevision != existing.Revision {
			return nil, core.ErrConflict
		}
		return p.Apply(existing), nil
	})
}

// DeleteDocument removes a document and its outbound reference rows
func (r *SQLiteRepository) DeleteDocument(ctx context.Context, id string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("deleting document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM refs WHERE source_id = ?`, id); err != nil {
		return false, fmt.Errorf("deleting references: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return affected > 0, nil
}

// write runs mutate against the current row inside one transaction and stores the result
func (r *SQLiteRepository) write(ctx context.Context, id string, mutate func(existing *core.Document) (*core.Document, error)) (*core.Document, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := r.getDocument(ctx, tx, id)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	doc, err := mutate(existing)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	doc.Revision = uuid.NewString()
	doc.Modified = now
	if doc.Created.IsZero() {
		doc.Created = now
	}

	fieldsJSON, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("marshaling fields: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, type, revision, fields, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type = excluded.type,
			revision = excluded.revision,
			fields = excluded.fields,
			created_at = excluded.created_at,
			modified_at = excluded.modified_at
	`, doc.ID, doc.Type, doc.Revision, string(fieldsJSON),
		doc.Created.Format(time.RFC3339Nano), doc.Modified.Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("writing document: %w", err)
	}

	if err := replaceRefs(ctx, tx, doc); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return doc, nil
}

func replaceRefs(ctx context.Context, q queryer, doc *core.Document) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM refs WHERE source_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("clearing references: %w", err)
	}
	for _, ref := range doc.References() {
		_, err := q.ExecContext(ctx, `
			INSERT INTO refs (source_id, source_type, path, target_id) VALUES (?, ?, ?, ?)
		`, ref.FromID, ref.FromType, ref.Path, ref.ToID)
		if err != nil {
			return fmt.Errorf("inserting reference %s: %w", ref.Path, err)
		}
	}
	return nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(s scanner) (*core.Document, error) {
	var id, docType, revision, fields, createdAt, modifiedAt string
	if err := s.Scan(&id, &docType, &revision, &fields, &createdAt, &modifiedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}

	doc := &core.Document{ID: id, Type: docType, Revision: revision}
	if err := json.Unmarshal([]byte(fields), &doc.Fields); err != nil {
		return nil, fmt.Errorf("unmarshaling fields of %s: %w", id, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		doc.Created = t
	}
	if t, err := time.Parse(time.RFC3339Nano, modifiedAt); err == nil {
		doc.Modified = t
	}
	return doc, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func appendStrings(args []any, values []string) []any {
	for _, v := range values {
		args = append(args, v)
	}
	return args
}
