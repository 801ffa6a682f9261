package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
)

const defaultLockoutPrefix = "lockout"

type lockoutRecord struct {
	Reason      string    `json:"reason"`
	Attempts    int       `json:"attempts"`
	LockedUntil time.Time `json:"locked_until"`
}

// LockoutRepository persists verification cool-downs in Redis. The key TTL
// mirrors LockedUntil so entries clear themselves once the window passes.
type LockoutRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewLockoutRepository constructs a lockout repository with the provided
// Redis client and key prefix.
func NewLockoutRepository(client *red.Client, keyPrefix string) *LockoutRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultLockoutPrefix
	}

	return &LockoutRepository{client: client, prefix: prefix, now: time.Now}
}

// Lock records an active cool-down for (subject, scope) lasting until the
// provided instant.
func (r *LockoutRepository) Lock(ctx context.Context, subject, scope, reason string, attempts int, until time.Time) error {
	if subject == "" || scope == "" {
		return errors.New("subject and scope are required")
	}

	ttl := until.Sub(r.now())
	if ttl <= 0 {
		return errors.New("until must be in the future")
	}

	payload, err := json.Marshal(lockoutRecord{
		Reason:      reason,
		Attempts:    attempts,
		LockedUntil: until.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal lockout: %w", err)
	}

	if err := r.client.Set(ctx, r.key(subject, scope), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set lockout: %w", err)
	}

	return nil
}

// Status returns the active lockout for (subject, scope), or nil when none is
// in effect.
func (r *LockoutRepository) Status(ctx context.Context, subject, scope string) (*domain.LockoutState, error) {
	raw, err := r.client.Get(ctx, r.key(subject, scope)).Result()
	if errors.Is(err, red.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get lockout: %w", err)
	}

	var record lockoutRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("unmarshal lockout: %w", err)
	}

	if !r.now().Before(record.LockedUntil) {
		return nil, nil
	}

	return &domain.LockoutState{
		Subject:     subject,
		Scope:       scope,
		Reason:      record.Reason,
		Attempts:    record.Attempts,
		LockedUntil: record.LockedUntil,
	}, nil
}

// Clear removes the lockout, used after a successful verification.
func (r *LockoutRepository) Clear(ctx context.Context, subject, scope string) error {
	if err := r.client.Del(ctx, r.key(subject, scope)).Err(); err != nil {
		return fmt.Errorf("redis delete lockout: %w", err)
	}
	return nil
}

// WithClock overrides the internal clock, used in tests.
func (r *LockoutRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

func (r *LockoutRepository) key(subject, scope string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, subject, scope)
}

var _ port.LockoutStore = (*LockoutRepository)(nil)
