package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/sitetree-crawler/internal/speed"
)

// FetchSession is one worker's HTTP client. It is not shared between workers.
type FetchSession interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
	Close()
}

// SessionFactory creates fetch sessions, one per worker.
type SessionFactory interface {
	NewSession() FetchSession
}

// Pacer enforces the inter-request delay and returns how long it waited.
type Pacer interface {
	Wait(ctx context.Context, url string) (time.Duration, error)
}

// Publisher pushes node events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Recorder receives per-page samples and upsert results.
type Recorder interface {
	RecordPage(s speed.Sample)
	RecordUpsert(result string)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
