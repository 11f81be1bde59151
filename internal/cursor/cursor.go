// Package cursor persists each consumer's last-processed position so work
// resumes at the right place across restarts. Every consumer (an
// UpstreamWorker, a pqact instance) owns exactly one Store, keyed by a name
// derived from the consumer's identity (a peer address, a config file path).
package cursor

import (
	"context"
	"time"
)

// Store saves and restores a single durable insertion-timestamp per
// consumer. Implementations must make Save atomic: a crash mid-write must
// never leave a reader observing a torn or missing value.
type Store interface {
	// Load returns the last saved timestamp for key, or the zero Time and
	// ok=false if nothing has been saved yet.
	Load(ctx context.Context, key string) (ts time.Time, ok bool, err error)

	// Save durably records ts for key, superseding any prior value.
	Save(ctx context.Context, key string, ts time.Time) error

	Close() error
}
