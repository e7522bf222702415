package kv

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps every entry as a JSONB row in a single table.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, table: "kv_store"}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
    CREATE TABLE IF NOT EXISTS `+s.table+` (
      key   TEXT PRIMARY KEY,
      value JSONB NOT NULL
    )
  `)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value::text FROM `+s.table+` WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
    INSERT INTO `+s.table+` (key, value)
    VALUES ($1, $2::jsonb)
    ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
  `, key, string(value))
	return err
}

func (s *PostgresStore) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
    INSERT INTO `+s.table+` (key, value)
    VALUES ($1, $2::jsonb)
    ON CONFLICT (key) DO NOTHING
  `, key, string(value))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM `+s.table+` WHERE key = $1`, key)
	return err
}

// DeleteIfEqual compares as JSONB, so expected may differ from the stored
// text in whitespace or key order.
func (s *PostgresStore) DeleteIfEqual(ctx context.Context, key string, expected []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
    DELETE FROM `+s.table+`
    WHERE key = $1 AND value = $2::jsonb
  `, key, string(expected))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
    UPDATE `+s.table+`
    SET value = $3::jsonb
    WHERE key = $1 AND value = $2::jsonb
  `, key, string(expected), string(value))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetByPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, `
    SELECT key, value::text
    FROM `+s.table+`
    WHERE starts_with(key, $1)
    ORDER BY key
  `, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.Key, &entry.Value); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Incr is a single upsert statement, so concurrent callers are serialized by
// the row lock on key.
func (s *PostgresStore) Incr(ctx context.Context, key string) (int64, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `
    INSERT INTO `+s.table+` AS kv (key, value)
    VALUES ($1, '1'::jsonb)
    ON CONFLICT (key) DO UPDATE
      SET value = to_jsonb((kv.value #>> '{}')::bigint + 1)
    RETURNING value #>> '{}'
  `, key).Scan(&raw)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
