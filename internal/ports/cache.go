package ports

import (
	"context"
	"time"
)

// LockoutStore tracks consecutive failed logins per identity. Counters expire
// on their own once the lockout window lapses.
type LockoutStore interface {
	// RegisterFailure increments the failure counter and reports the new count.
	RegisterFailure(ctx context.Context, key string, window time.Duration) (int64, error)
	// Failures reports the current counter without mutating it.
	Failures(ctx context.Context, key string) (int64, error)
	// Clear removes the counter after a successful authentication.
	Clear(ctx context.Context, key string) error
}

// ThrottleStore counts uses of a key inside a sliding window. It rate limits
// verification resends and, with a limit of one, marks consumed TOTP codes so
// a code cannot be replayed within its validity window.
type ThrottleStore interface {
	// Allow reports whether another use fits inside the window and, when it
	// does, counts it.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
