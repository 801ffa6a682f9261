package redis

import (
	"context"
	"testing"
	"time"
)

func newTestRateLimit(t *testing.T) *RateLimitRepository {
	t.Helper()
	client, _ := newTestRedis(t)
	return NewRateLimitRepository(client, SlidingWindowConfig{KeyPrefix: "attempts", TTL: time.Hour})
}

func TestRateLimitRepository_CountWithinWindow(t *testing.T) {
	repo := newTestRateLimit(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{-15 * time.Minute, -5 * time.Minute, -time.Minute} {
		if err := repo.RecordAttempt(ctx, "ip:203.0.113.7", base.Add(offset)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	count, err := repo.CountAttempts(ctx, "ip:203.0.113.7", 10*time.Minute, base)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2 inside the 10m window", count)
	}
}

func TestRateLimitRepository_TrimWindow(t *testing.T) {
	repo := newTestRateLimit(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	for _, offset := range []time.Duration{-30 * time.Minute, -time.Minute} {
		if err := repo.RecordAttempt(ctx, "acct:user-1", base.Add(offset)); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	if err := repo.TrimWindow(ctx, "acct:user-1", 10*time.Minute, base); err != nil {
		t.Fatalf("TrimWindow returned error: %v", err)
	}

	// The trimmed attempt is gone even for a wider query window.
	count, err := repo.CountAttempts(ctx, "acct:user-1", time.Hour, base)
	if err != nil {
		t.Fatalf("CountAttempts returned error: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 after trim", count)
	}
}

func TestRateLimitRepository_OldestAndLatest(t *testing.T) {
	repo := newTestRateLimit(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	if _, found, err := repo.LatestAttempt(ctx, "acct:user-1", 10*time.Minute, base); err != nil || found {
		t.Fatalf("LatestAttempt on empty set: found=%v err=%v, want miss", found, err)
	}

	oldest := base.Add(-8 * time.Minute)
	latest := base.Add(-30 * time.Second)
	for _, at := range []time.Time{oldest, base.Add(-4 * time.Minute), latest} {
		if err := repo.RecordAttempt(ctx, "acct:user-1", at); err != nil {
			t.Fatalf("RecordAttempt returned error: %v", err)
		}
	}

	got, found, err := repo.OldestAttempt(ctx, "acct:user-1", 10*time.Minute, base)
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if !found || !got.Equal(oldest) {
		t.Fatalf("oldest = %v found=%v, want %v", got, found, oldest)
	}

	got, found, err = repo.LatestAttempt(ctx, "acct:user-1", 10*time.Minute, base)
	if err != nil {
		t.Fatalf("LatestAttempt returned error: %v", err)
	}
	if !found || !got.Equal(latest) {
		t.Fatalf("latest = %v found=%v, want %v", got, found, latest)
	}

	// A narrow window hides the older attempts.
	got, found, err = repo.OldestAttempt(ctx, "acct:user-1", time.Minute, base)
	if err != nil {
		t.Fatalf("OldestAttempt returned error: %v", err)
	}
	if !found || !got.Equal(latest) {
		t.Fatalf("narrow-window oldest = %v found=%v, want %v", got, found, latest)
	}
}

func TestRateLimitRepository_WindowValidation(t *testing.T) {
	repo := newTestRateLimit(t)
	ctx := context.Background()

	if _, err := repo.CountAttempts(ctx, "acct:user-1", 0, time.Now()); err == nil {
		t.Fatal("expected error for non-positive window")
	}
	if err := repo.TrimWindow(ctx, "acct:user-1", -time.Minute, time.Now()); err == nil {
		t.Fatal("expected error for negative window")
	}
}
