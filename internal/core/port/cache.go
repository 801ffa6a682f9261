package port

import (
	"context"
	"time"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
)

// VerdictCache is a read-through cache for handle verdicts, keyed by the
// normalized handle. Entries are invalidated by TTL only.
type VerdictCache interface {
	Get(ctx context.Context, normalizedHandle string) (*domain.HandleVerdict, error)
	Put(ctx context.Context, normalizedHandle string, verdict domain.HandleVerdict, ttl time.Duration) error
}

// AssessmentCache briefly caches risk assessments keyed by subject and event
// type so idempotent retries observe the same verdict.
type AssessmentCache interface {
	Get(ctx context.Context, userID string, eventType domain.RiskEventType) (*domain.RiskAssessment, error)
	Put(ctx context.Context, userID string, eventType domain.RiskEventType, assessment domain.RiskAssessment, ttl time.Duration) error
}
