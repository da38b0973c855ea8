package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageSource addresses the paginated listing.
type PageSource interface {
	// FetchListing retrieves the unpaginated listing used to read metadata.
	FetchListing(ctx context.Context) (FetchResponse, error)
	// FetchPage retrieves page N at the configured page size.
	FetchPage(ctx context.Context, page int) (FetchResponse, error)
	PageSize() int
}

// Extractor turns page bodies into records. Implementations must be pure.
type Extractor interface {
	Records(page int, body []byte) []Record
	TotalCount(body []byte) (int, error)
}

// Sink persists records keyed by external id.
type Sink interface {
	Exists(ctx context.Context, externalID int64) (bool, error)
	Insert(ctx context.Context, record Record) error
}

// CheckpointStore keeps the last fully committed page.
type CheckpointStore interface {
	// Read returns 0 when nothing has been committed yet.
	Read(ctx context.Context) (int, error)
	Write(ctx context.Context, page int) error
}

// FailureLog lists the pages left unprocessed by the current run.
type FailureLog interface {
	Reset(ctx context.Context) error
	Append(ctx context.Context, entry FailureEntry) error
	Entries(ctx context.Context) ([]FailureEntry, error)
	// Replace atomically swaps the log contents for entries.
	Replace(ctx context.Context, entries []FailureEntry) error
}

// Pacer delays requests to keep the request pattern polite.
type Pacer interface {
	Wait(ctx context.Context) (time.Duration, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests used to name archived artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
