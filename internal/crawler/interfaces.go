package crawler

import (
	"context"
	"time"
)

// RecordStore persists listing outcomes. Upsert is keyed by item ID and must
// be safe to call concurrently from multiple workers for different keys.
type RecordStore interface {
	Upsert(ctx context.Context, record ListingRecord) error
	Close()
}

// Session is one live browser page bound to a single proxy endpoint.
type Session interface {
	// Navigate loads the target and returns the resulting page snapshot.
	Navigate(ctx context.Context, url string) (PageView, error)
	// Snapshot re-reads the current page without navigating, used after a
	// challenge has been cleared.
	Snapshot(ctx context.Context) (PageView, error)
	Close(ctx context.Context) error
}

// SessionFactory creates browser sessions routed through a proxy.
type SessionFactory interface {
	New(ctx context.Context, address, username, password string) (Session, error)
}

// Detector classifies a page snapshot into a PageState. Block, auth, and
// rate-limit signals take priority over content signals.
type Detector interface {
	Detect(view PageView) (PageState, error)
}

// CardParser extracts structured card fields from raw page HTML.
type CardParser interface {
	Parse(html string) (CardData, error)
}

// ChallengeSolver attempts to clear a captcha or hold-button challenge on a
// live session and reports whether it succeeded.
type ChallengeSolver interface {
	Resolve(ctx context.Context, session Session) (bool, error)
}

// Publisher pushes task outcome events to Pub/Sub (or an in-memory fake).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw artifacts (failing page HTML) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the default wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
