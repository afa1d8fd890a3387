package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"lendscope/internal/store"
)

// Store provides Postgres persistence for ledger entities. Documents live in
// a single jsonb table keyed by (kind, id); processor progress lives in
// processor_state.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS entities (
			kind text NOT NULL,
			id text NOT NULL,
			doc jsonb NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now(),
			PRIMARY KEY (kind, id)
		);
		CREATE TABLE IF NOT EXISTS processor_state (
			name text PRIMARY KEY,
			value bigint NOT NULL,
			updated_at timestamptz NOT NULL DEFAULT now()
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, kind, id string, out any) (bool, error) {
	var doc []byte
	row := s.pool.QueryRow(ctx, `SELECT doc FROM entities WHERE kind=$1 AND id=$2`, kind, id)
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return true, nil
}

func (s *Store) Set(ctx context.Context, kind, id string, record any) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO entities (kind, id, doc, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (kind, id) DO UPDATE
		SET doc = EXCLUDED.doc, updated_at = now()
	`, kind, id, doc)
	return err
}

// SetBatch upserts many records of one kind in a single round trip.
func (s *Store) SetBatch(ctx context.Context, kind string, records map[string]any) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for id, record := range records {
		doc, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", kind, id, err)
		}
		batch.Queue(`
			INSERT INTO entities (kind, id, doc, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (kind, id) DO UPDATE
			SET doc = EXCLUDED.doc, updated_at = now()
		`, kind, id, doc)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, kind, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE kind=$1 AND id=$2`, kind, id)
	return err
}

func (s *Store) Query(ctx context.Context, kind, field, value string, page store.Page, out any) error {
	limit := page.Limit
	if limit <= 0 {
		limit = -1 // LIMIT ALL
	}
	rows, err := s.pool.Query(ctx, `
		SELECT doc FROM entities
		WHERE kind=$1 AND doc->>$2 = $3
		ORDER BY id
		LIMIT NULLIF($4, -1) OFFSET $5
	`, kind, field, value, limit, page.Offset)
	if err != nil {
		return err
	}
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return err
		}
		docs = append(docs, json.RawMessage(doc))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	joined, err := json.Marshal(docs)
	if err != nil {
		return err
	}
	return json.Unmarshal(joined, out)
}

// LoadState returns the persisted processor value for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var value int64
	row := s.pool.QueryRow(ctx, `SELECT value FROM processor_state WHERE name=$1`, name)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(value), true, nil
}

// SaveState upserts the processor value for a name.
func (s *Store) SaveState(ctx context.Context, name string, value uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processor_state (name, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()
	`, name, int64(value))
	return err
}
