package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly audit publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, userID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishHandleChecked logs handle.checked events.
func (p *StubPublisher) PublishHandleChecked(_ context.Context, event domain.HandleCheckedEvent) error {
	payload := map[string]any{
		"handle":           event.Handle,
		"valid":            event.Valid,
		"available":        event.Available,
		"quality_score":    event.QualityScore,
		"matched_category": event.MatchedCategory,
		"checked_at":       event.CheckedAt,
		"metadata":         event.Metadata,
	}
	p.logEvent(eventHandleChecked, "", event.CheckedAt, payload)
	return nil
}

// PublishRiskAssessed logs risk.assessed events.
func (p *StubPublisher) PublishRiskAssessed(_ context.Context, event domain.RiskAssessedEvent) error {
	payload := map[string]any{
		"user_id":            event.UserID,
		"event_type":         event.EventType,
		"score":              event.Score,
		"level":              event.Level,
		"recommended_action": event.RecommendedAction,
		"factor_names":       event.FactorNames,
		"confidence":         event.Confidence,
		"unavailable":        event.Unavailable,
		"assessed_at":        event.AssessedAt,
		"metadata":           event.Metadata,
	}
	p.logEvent(eventRiskAssessed, event.UserID, event.AssessedAt, payload)
	return nil
}

// PublishChallengeIssued logs mfa.challenge.issued events.
func (p *StubPublisher) PublishChallengeIssued(_ context.Context, event domain.ChallengeIssuedEvent) error {
	payload := map[string]any{
		"challenge_id":       event.ChallengeID,
		"user_id":            event.UserID,
		"method":             event.Method,
		"masked_destination": event.MaskedDestination,
		"issued_at":          event.IssuedAt,
		"expires_at":         event.ExpiresAt,
		"metadata":           event.Metadata,
	}
	p.logEvent(eventChallengeIssued, event.UserID, event.IssuedAt, payload)
	return nil
}

// PublishChallengeVerified logs mfa.challenge.verified events.
func (p *StubPublisher) PublishChallengeVerified(_ context.Context, event domain.ChallengeVerifiedEvent) error {
	payload := map[string]any{
		"challenge_id":         event.ChallengeID,
		"user_id":              event.UserID,
		"method":               event.Method,
		"verified_at":          event.VerifiedAt,
		"supplementary_factor": event.SupplementaryFactor,
		"metadata":             event.Metadata,
	}
	p.logEvent(eventChallengeVerified, event.UserID, event.VerifiedAt, payload)
	return nil
}

// PublishChallengeFailed logs mfa.challenge.failed events.
func (p *StubPublisher) PublishChallengeFailed(_ context.Context, event domain.ChallengeFailedEvent) error {
	payload := map[string]any{
		"challenge_id":  event.ChallengeID,
		"user_id":       event.UserID,
		"method":        event.Method,
		"attempt_count": event.AttemptCount,
		"reason":        event.Reason,
		"failed_at":     event.FailedAt,
		"metadata":      event.Metadata,
	}
	p.logEvent(eventChallengeFailed, event.UserID, event.FailedAt, payload)
	return nil
}

// PublishLockoutTriggered logs mfa.lockout.triggered events.
func (p *StubPublisher) PublishLockoutTriggered(_ context.Context, event domain.LockoutTriggeredEvent) error {
	payload := map[string]any{
		"subject":      event.Subject,
		"scope":        event.Scope,
		"reason":       event.Reason,
		"locked_until": event.LockedUntil,
		"triggered_at": event.TriggeredAt,
		"metadata":     event.Metadata,
	}
	p.logEvent(eventLockoutTriggered, event.Subject, event.TriggeredAt, payload)
	return nil
}

// PublishEnrollmentChanged logs mfa.enrollment.changed events.
func (p *StubPublisher) PublishEnrollmentChanged(_ context.Context, event domain.EnrollmentChangedEvent) error {
	payload := map[string]any{
		"user_id":    event.UserID,
		"method":     event.Method,
		"status":     event.Status,
		"changed_at": event.ChangedAt,
		"metadata":   event.Metadata,
	}
	p.logEvent(eventEnrollmentChanged, event.UserID, event.ChangedAt, payload)
	return nil
}

var _ port.AuditPublisher = (*StubPublisher)(nil)
