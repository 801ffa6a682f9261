package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
	"github.com/qisslab/entativa-id-security/internal/repository"
)

const (
	defaultChallengePrefix = "challenge"

	fieldChallengeID = "id"
	fieldComparand   = "comparand"
	fieldIssuedAt    = "issued_at"
	fieldExpiresAt   = "expires_at"
	fieldAttempts    = "attempts"
	fieldMaxAttempts = "max_attempts"
)

// ChallengeRepository persists live MFA challenges in Redis hashes keyed by
// (userID, method). Replacing a slot runs inside a transactional pipeline so
// two concurrent issuances cannot leave two live challenges behind.
type ChallengeRepository struct {
	client *red.Client
	prefix string
	now    func() time.Time
}

// NewChallengeRepository constructs a challenge repository with the provided
// Redis client and key prefix.
func NewChallengeRepository(client *red.Client, keyPrefix string) *ChallengeRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultChallengePrefix
	}

	return &ChallengeRepository{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// Replace atomically swaps the slot content for the challenge's
// (userID, method) pair and applies the TTL.
func (r *ChallengeRepository) Replace(ctx context.Context, challenge domain.MFAChallenge, ttl time.Duration) error {
	switch {
	case challenge.UserID == "":
		return errors.New("user id is required")
	case challenge.Method == "":
		return errors.New("method is required")
	case challenge.Comparand == "":
		return errors.New("comparand is required")
	case ttl <= 0:
		return errors.New("ttl must be positive")
	}

	key := r.key(challenge.UserID, challenge.Method)

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		fieldChallengeID: challenge.ID,
		fieldComparand:   challenge.Comparand,
		fieldIssuedAt:    strconv.FormatInt(challenge.IssuedAt.Unix(), 10),
		fieldExpiresAt:   strconv.FormatInt(challenge.ExpiresAt.Unix(), 10),
		fieldAttempts:    strconv.Itoa(challenge.AttemptCount),
		fieldMaxAttempts: strconv.Itoa(challenge.MaxAttempts),
	})
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis store challenge: %w", err)
	}

	return nil
}

// Fetch retrieves the live challenge for the provided (userID, method).
func (r *ChallengeRepository) Fetch(ctx context.Context, userID string, method domain.MFAMethod) (*domain.MFAChallenge, error) {
	if userID == "" || method == "" {
		return nil, errors.New("user id and method are required")
	}

	values, err := r.client.HGetAll(ctx, r.key(userID, method)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall challenge: %w", err)
	}
	if len(values) == 0 {
		return nil, repository.ErrNotFound
	}

	issuedAt, err := parseUnix(values[fieldIssuedAt])
	if err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	expiresAt, err := parseUnix(values[fieldExpiresAt])
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	// The Redis TTL rounds to whole seconds; a hash can linger briefly past
	// its recorded deadline. Treat it as gone either way.
	if !r.now().UTC().Before(expiresAt) {
		return nil, repository.ErrNotFound
	}

	attempts, _ := strconv.Atoi(values[fieldAttempts])
	maxAttempts, _ := strconv.Atoi(values[fieldMaxAttempts])

	return &domain.MFAChallenge{
		ID:           values[fieldChallengeID],
		UserID:       userID,
		Method:       method,
		Comparand:    values[fieldComparand],
		IssuedAt:     issuedAt,
		ExpiresAt:    expiresAt,
		AttemptCount: attempts,
		MaxAttempts:  maxAttempts,
		Status:       domain.ChallengeIssued,
	}, nil
}

// IncrementAttempts atomically bumps the attempt counter and returns the new
// value.
func (r *ChallengeRepository) IncrementAttempts(ctx context.Context, userID string, method domain.MFAMethod) (int, error) {
	if _, err := r.Fetch(ctx, userID, method); err != nil {
		return 0, err
	}

	count, err := r.client.HIncrBy(ctx, r.key(userID, method), fieldAttempts, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("redis hincrby challenge attempts: %w", err)
	}

	return int(count), nil
}

// Delete removes the challenge slot, terminating its lifecycle.
func (r *ChallengeRepository) Delete(ctx context.Context, userID string, method domain.MFAMethod) error {
	if userID == "" || method == "" {
		return errors.New("user id and method are required")
	}

	if err := r.client.Del(ctx, r.key(userID, method)).Err(); err != nil {
		return fmt.Errorf("redis delete challenge: %w", err)
	}

	return nil
}

// WithClock overrides the internal clock, used in tests.
func (r *ChallengeRepository) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

func (r *ChallengeRepository) key(userID string, method domain.MFAMethod) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, userID, method)
}

func parseUnix(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(v, 0).UTC(), nil
}

var _ port.ChallengeStore = (*ChallengeRepository)(nil)
