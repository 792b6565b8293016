// Package crawler defines the domain types and collaborator contracts shared
// by the queue, proxy pool, worker, and supervisor.
package crawler

import "time"

// TaskState tracks where a task sits in the queue lifecycle.
type TaskState string

const (
	// TaskPending means the task has been enqueued and never dispatched.
	TaskPending TaskState = "pending"
	// TaskInProgress means a worker currently owns the task.
	TaskInProgress TaskState = "in_progress"
	// TaskReturned means the task came back for another attempt.
	TaskReturned TaskState = "returned"
)

// Task is one unit of crawl work identified by a unique item key.
type Task struct {
	ItemID     int64
	URL        string
	Attempt    int
	State      TaskState
	LastProxy  string
	LastResult string
	EnqueuedAt time.Time
	UpdatedAt  time.Time
}

// PageState is the classified outcome of loading a listing page.
type PageState string

const (
	StateCardFound      PageState = "card_found"
	StateRemoved        PageState = "removed"
	StateCaptcha        PageState = "captcha"
	StateContinueButton PageState = "continue_button"
	StateRateLimited    PageState = "rate_limited"
	StateProxyBlocked   PageState = "proxy_blocked"
	StateProxyAuth      PageState = "proxy_auth"
	StateSellerProfile  PageState = "seller_profile"
	StateCatalog        PageState = "catalog"
	StateDetectionError PageState = "detection_error"
)

// PageView is a snapshot of a loaded page handed to the detector and parser.
type PageView struct {
	URL        string
	StatusCode int
	HTML       string
}

// CardData holds the fields extracted from a listing card.
type CardData struct {
	ItemID           int64
	Title            string
	Description      string
	Characteristics  map[string]string
	Price            string
	SellerName       string
	SellerProfileURL string
	PublishedAt      string
	LocationAddress  string
	LocationMetro    string
	LocationRegion   string
	ViewsTotal       int
}

// Listing statuses accepted by the record store.
const (
	StatusSuccess     = "success"
	StatusUnavailable = "unavailable"
	StatusError       = "error"
)

// ListingRecord is the upsert payload for one processed item.
// Pointer fields stay NULL in the store when the page yielded no value.
type ListingRecord struct {
	ItemID           int64
	Status           string
	FailureReason    string
	Title            string
	Description      string
	Characteristics  map[string]string
	Price            string
	SellerName       string
	SellerProfileURL string
	PublishedAt      string
	LocationAddress  string
	LocationMetro    string
	LocationRegion   string
	ViewsTotal       int
	ProcessedAt      time.Time
}
