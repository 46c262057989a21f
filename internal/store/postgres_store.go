package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrev/pairdb/gridcache/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore implements CacheStore on a PostgreSQL table
type PostgresStore struct {
	pool   *pgxpool.Pool
	table  string
	logger *zap.Logger
}

// PostgresConfig holds PostgreSQL connection settings
type PostgresConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MaxConns int
	MinConns int
	Table    string
}

// NewPostgresStore connects to PostgreSQL and creates the entry table if needed
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.MaxConns, cfg.MinConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	table := cfg.Table
	if table == "" {
		table = "gridcache_entries"
	}
	s := &PostgresStore{pool: pool, table: pgx.Identifier{table}.Sanitize(), logger: logger}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			scope      TEXT NOT NULL,
			cache      TEXT NOT NULL,
			key_id     TEXT NOT NULL,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (scope, cache, key_id)
		)
	`, s.table)

	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create entry table: %w", err)
	}
	return nil
}

// Load reads a value
func (s *PostgresStore) Load(ctx context.Context, cache model.CacheID, keyID string) (any, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE scope = $1 AND cache = $2 AND key_id = $3`, s.table)

	var data string
	err := s.pool.QueryRow(ctx, query, cache.Scope, cache.Name, keyID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load entry: %w", err)
	}

	v, err := DecodeValue([]byte(data))
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Store upserts a value
func (s *PostgresStore) Store(ctx context.Context, cache model.CacheID, keyID string, _ any, val any) error {
	data, err := EncodeValue(val)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (scope, cache, key_id, value, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (scope, cache, key_id)
		DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`, s.table)

	if _, err := s.pool.Exec(ctx, query, cache.Scope, cache.Name, keyID, string(data)); err != nil {
		return fmt.Errorf("failed to store entry: %w", err)
	}
	return nil
}

// Erase deletes a value
func (s *PostgresStore) Erase(ctx context.Context, cache model.CacheID, keyID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE scope = $1 AND cache = $2 AND key_id = $3`, s.table)

	if _, err := s.pool.Exec(ctx, query, cache.Scope, cache.Name, keyID); err != nil {
		return fmt.Errorf("failed to erase entry: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
