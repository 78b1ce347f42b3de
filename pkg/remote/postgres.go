package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
)

// PostgresStore keeps every collection in one JSONB document table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresStore connects, pings and migrates.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse remote dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping remote store: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: slog.With("component", "remote")}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("remote migration failed: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			lat DOUBLE PRECISION,
			lon DOUBLE PRECISION,
			expires_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS documents_geo_idx ON documents (collection, lat, lon) WHERE lat IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS documents_expiry_idx ON documents (collection, expires_at) WHERE expires_at IS NOT NULL`,
	}
	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("exec error: %w query: %s", err, q)
		}
	}
	return nil
}

const selectColumns = `SELECT collection, id, data, lat, lon, expires_at, updated_at FROM documents`

const upsertQuery = `
	INSERT INTO documents (collection, id, data, lat, lon, expires_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, now())
	ON CONFLICT (collection, id) DO UPDATE SET
		data = EXCLUDED.data,
		lat = EXCLUDED.lat,
		lon = EXCLUDED.lon,
		expires_at = EXCLUDED.expires_at,
		updated_at = now()`

func upsertArgs(doc *Document) []any {
	var lat, lon *float64
	if doc.HasGeo {
		lat, lon = &doc.Lat, &doc.Lon
	}
	var expires *time.Time
	if !doc.ExpiresAt.IsZero() {
		expires = &doc.ExpiresAt
	}
	return []any{doc.Collection, doc.ID, doc.Data, lat, lon, expires}
}

func scanDocument(row pgx.Row) (Document, error) {
	var doc Document
	var lat, lon *float64
	var expires *time.Time
	if err := row.Scan(&doc.Collection, &doc.ID, &doc.Data, &lat, &lon, &expires, &doc.UpdatedAt); err != nil {
		return Document{}, err
	}
	if lat != nil && lon != nil {
		doc.Lat, doc.Lon, doc.HasGeo = *lat, *lon, true
	}
	if expires != nil {
		doc.ExpiresAt = *expires
	}
	return doc, nil
}

func collectDocuments(rows pgx.Rows) ([]Document, error) {
	defer rows.Close()
	var out []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` WHERE collection = $1 AND id = $2`, collection, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("remote.Get %s/%s: %w", collection, id, err)
	}
	return &doc, nil
}

func (s *PostgresStore) GetMany(ctx context.Context, collection string, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, selectColumns+` WHERE collection = $1 AND id = ANY($2)`, collection, ids)
	if err != nil {
		return nil, fmt.Errorf("remote.GetMany %s: %w", collection, err)
	}
	return collectDocuments(rows)
}

func (s *PostgresStore) Put(ctx context.Context, doc Document) error {
	if _, err := s.pool.Exec(ctx, upsertQuery, upsertArgs(&doc)...); err != nil {
		return fmt.Errorf("remote.Put %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return nil
}

func (s *PostgresStore) PutBatch(ctx context.Context, docs []Document) error {
	if len(docs) > MaxBatch {
		return ErrBatchTooLarge
	}
	if len(docs) == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range docs {
			batch.Queue(upsertQuery, upsertArgs(&docs[i])...)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("remote.PutBatch: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("remote.Delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("remote.List %s: %w", collection, err)
	}
	return collectDocuments(rows)
}

func (s *PostgresStore) QueryBounds(ctx context.Context, collection string, b orb.Bound) ([]Document, error) {
	rows, err := s.pool.Query(ctx, selectColumns+`
		WHERE collection = $1
		  AND lat BETWEEN $2 AND $3
		  AND lon BETWEEN $4 AND $5
		ORDER BY id`,
		collection, b.Min.Lat(), b.Max.Lat(), b.Min.Lon(), b.Max.Lon())
	if err != nil {
		return nil, fmt.Errorf("remote.QueryBounds %s: %w", collection, err)
	}
	return collectDocuments(rows)
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, collection string, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM documents WHERE collection = $1 AND expires_at IS NOT NULL AND expires_at <= $2`,
		collection, now)
	if err != nil {
		return 0, fmt.Errorf("remote.DeleteExpired %s: %w", collection, err)
	}
	s.logger.Debug("Expired documents removed", "collection", collection, "count", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
