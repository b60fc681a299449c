package item

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the items table. position fixes the collection
// order; new rows take the next sequence value.
const Schema = `
CREATE TABLE IF NOT EXISTS reciter_items (
    id            TEXT PRIMARY KEY,
    collection_id TEXT NOT NULL DEFAULT '',
    question      TEXT NOT NULL DEFAULT '',
    answer_text   TEXT NOT NULL DEFAULT '',
    answer_html   TEXT NOT NULL DEFAULT '',
    focus_points  TEXT NOT NULL DEFAULT '',
    position      BIGSERIAL NOT NULL,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_reciter_items_position ON reciter_items(position);
`

const selectColumns = `id, collection_id, question, answer_text, answer_html, focus_points, created_at, updated_at`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore returns a store using db. Call [PostgresStore.Migrate]
// before the first query.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("item: migrate: %w", err)
	}
	return nil
}

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(
		&it.ID, &it.CollectionID, &it.Question, &it.AnswerText,
		&it.AnswerHTML, &it.FocusPoints, &it.CreatedAt, &it.UpdatedAt,
	)
	return it, err
}

// Get implements [Source].
func (s *PostgresStore) Get(ctx context.Context, id string) (Item, error) {
	const query = `SELECT ` + selectColumns + ` FROM reciter_items WHERE id = $1`
	it, err := scanItem(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("item: get %q: %w", id, ErrNotFound)
		}
		return Item{}, fmt.Errorf("item: get %q: %w", id, err)
	}
	return it, nil
}

// Next implements [Source].
func (s *PostgresStore) Next(ctx context.Context, id string) (Item, bool, error) {
	const query = `
		SELECT ` + selectColumns + ` FROM reciter_items
		WHERE position > (SELECT position FROM reciter_items WHERE id = $1)
		ORDER BY position ASC
		LIMIT 1`
	return s.neighbour(ctx, "next", query, id)
}

// Prev implements [Source].
func (s *PostgresStore) Prev(ctx context.Context, id string) (Item, bool, error) {
	const query = `
		SELECT ` + selectColumns + ` FROM reciter_items
		WHERE position < (SELECT position FROM reciter_items WHERE id = $1)
		ORDER BY position DESC
		LIMIT 1`
	return s.neighbour(ctx, "prev", query, id)
}

func (s *PostgresStore) neighbour(ctx context.Context, op, query, id string) (Item, bool, error) {
	it, err := scanItem(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, false, nil
		}
		return Item{}, false, fmt.Errorf("item: %s %q: %w", op, id, err)
	}
	return it, true, nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]Item, error) {
	const query = `SELECT ` + selectColumns + ` FROM reciter_items ORDER BY position`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("item: list: %w", err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("item: list scan: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("item: list: %w", err)
	}
	return items, nil
}

// Put implements [Store].
func (s *PostgresStore) Put(ctx context.Context, it *Item) error {
	if it.ID == "" {
		it.ID = NewID()
	}
	const query = `
		INSERT INTO reciter_items (id, collection_id, question, answer_text, answer_html, focus_points)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			collection_id = EXCLUDED.collection_id,
			question = EXCLUDED.question,
			answer_text = EXCLUDED.answer_text,
			answer_html = EXCLUDED.answer_html,
			focus_points = EXCLUDED.focus_points,
			updated_at = now()
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query,
		it.ID, it.CollectionID, it.Question, it.AnswerText, it.AnswerHTML, it.FocusPoints,
	).Scan(&it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return fmt.Errorf("item: put %q: %w", it.ID, err)
	}
	return nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM reciter_items WHERE id = $1`, id); err != nil {
		return fmt.Errorf("item: delete %q: %w", id, err)
	}
	return nil
}
