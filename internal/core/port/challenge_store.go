package port

import (
	"context"
	"time"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
)

// ChallengeStore persists TTL-bound MFA challenges keyed by (userID, method).
// Replace is the commit point of challenge issuance: it atomically swaps any
// live challenge in the slot so at most one non-terminal challenge exists per
// (userID, method) at any time.
type ChallengeStore interface {
	Replace(ctx context.Context, challenge domain.MFAChallenge, ttl time.Duration) error
	Fetch(ctx context.Context, userID string, method domain.MFAMethod) (*domain.MFAChallenge, error)
	// IncrementAttempts atomically bumps the attempt counter and returns the
	// new count, so concurrent mismatches cannot race past the max.
	IncrementAttempts(ctx context.Context, userID string, method domain.MFAMethod) (int, error)
	Delete(ctx context.Context, userID string, method domain.MFAMethod) error
}

// LockoutStore tracks active verification cool-downs per (subject, scope).
// Entries expire with LockedUntil; Status returns nil once the window passed.
type LockoutStore interface {
	Lock(ctx context.Context, subject, scope, reason string, attempts int, until time.Time) error
	Status(ctx context.Context, subject, scope string) (*domain.LockoutState, error)
	Clear(ctx context.Context, subject, scope string) error
}
