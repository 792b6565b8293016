package database

import (
	"context"

	"github.com/avitolab/listings-crawler/internal/crawler"
)

// NoOpStore discards listing records. Useful for dry runs and local
// development without a database.
type NoOpStore struct{}

// Upsert does nothing.
func (NoOpStore) Upsert(_ context.Context, _ crawler.ListingRecord) error { return nil }

// Close does nothing.
func (NoOpStore) Close() {}
