// Package database provides the Postgres-backed listing record store.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avitolab/listings-crawler/internal/crawler"
)

var validSchemaName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for listing rows.
type Config struct {
	DSN             string
	Schema          string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ListingStore upserts listing records into Postgres.
type ListingStore struct {
	pool   execCloser
	schema string
}

// NewListingStore creates a Postgres-backed ListingStore using the provided config.
func NewListingStore(ctx context.Context, cfg Config) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}
	if !validSchemaName.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ListingStore{pool: pool, schema: schema}, nil
}

// NewListingStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewListingStoreWithPool(pool execCloser, schema string) (*ListingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if schema == "" {
		schema = "public"
	}
	if !validSchemaName.MatchString(schema) {
		return nil, fmt.Errorf("invalid schema name %q", schema)
	}
	return &ListingStore{pool: pool, schema: schema}, nil
}

// Close releases the underlying pool resources.
func (s *ListingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InitSchema creates the schema, listings table, and updated_at trigger when
// they are missing.
func (s *ListingStore) InitSchema(ctx context.Context) error {
	table := s.schema + ".listings"
	statements := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			item_id BIGINT PRIMARY KEY,
			title TEXT NULL,
			description TEXT NULL,
			characteristics JSONB NULL,
			price NUMERIC(12, 2) NULL,
			seller_name TEXT NULL,
			seller_profile_url TEXT NULL,
			published_at TEXT NULL,
			location_address TEXT NULL,
			location_metro TEXT NULL,
			location_region TEXT NULL,
			views_total INTEGER NULL,
			processed_at TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('success', 'unavailable', 'error')),
			failure_reason TEXT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, table),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s.touch_listings_updated_at() RETURNS TRIGGER AS $$
		BEGIN
			NEW.updated_at = now();
			RETURN NEW;
		END;
		$$ LANGUAGE plpgsql`, s.schema),
		fmt.Sprintf("DROP TRIGGER IF EXISTS listings_touch_updated_at ON %s", table),
		fmt.Sprintf(`CREATE TRIGGER listings_touch_updated_at
			BEFORE UPDATE ON %s
			FOR EACH ROW EXECUTE FUNCTION %s.touch_listings_updated_at()`, table, s.schema),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Upsert inserts or replaces the listing row for the record's item ID.
func (s *ListingStore) Upsert(ctx context.Context, record crawler.ListingRecord) error {
	if record.ItemID <= 0 {
		return fmt.Errorf("item_id must be a positive integer")
	}
	switch record.Status {
	case crawler.StatusSuccess, crawler.StatusUnavailable, crawler.StatusError:
	default:
		return fmt.Errorf("unknown listing status %q", record.Status)
	}
	processedAt := record.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	var characteristics any
	if len(record.Characteristics) > 0 {
		data, err := json.Marshal(record.Characteristics)
		if err != nil {
			return fmt.Errorf("marshal characteristics: %w", err)
		}
		characteristics = data
	}

	query := fmt.Sprintf(`INSERT INTO %s.listings (
		item_id, title, description, characteristics, price,
		seller_name, seller_profile_url, published_at,
		location_address, location_metro, location_region,
		views_total, processed_at, status, failure_reason
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	ON CONFLICT (item_id) DO UPDATE SET
		title=EXCLUDED.title,
		description=EXCLUDED.description,
		characteristics=EXCLUDED.characteristics,
		price=EXCLUDED.price,
		seller_name=EXCLUDED.seller_name,
		seller_profile_url=EXCLUDED.seller_profile_url,
		published_at=EXCLUDED.published_at,
		location_address=EXCLUDED.location_address,
		location_metro=EXCLUDED.location_metro,
		location_region=EXCLUDED.location_region,
		views_total=EXCLUDED.views_total,
		processed_at=EXCLUDED.processed_at,
		status=EXCLUDED.status,
		failure_reason=EXCLUDED.failure_reason`, s.schema)

	_, err := s.pool.Exec(ctx, query,
		record.ItemID,
		nullIfEmpty(record.Title),
		nullIfEmpty(record.Description),
		characteristics,
		nullIfEmpty(record.Price),
		nullIfEmpty(record.SellerName),
		nullIfEmpty(record.SellerProfileURL),
		nullIfEmpty(record.PublishedAt),
		nullIfEmpty(record.LocationAddress),
		nullIfEmpty(record.LocationMetro),
		nullIfEmpty(record.LocationRegion),
		nullIfZero(record.ViewsTotal),
		processedAt,
		record.Status,
		nullIfEmpty(record.FailureReason),
	)
	if err != nil {
		return fmt.Errorf("upsert listing %d: %w", record.ItemID, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullIfZero(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
