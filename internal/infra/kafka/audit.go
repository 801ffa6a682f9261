package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
	"github.com/qisslab/entativa-id-security/internal/infra/config"
)

const schemaVersion = "1.0"

// Event types, prefixed by the producer's topic prefix at send time.
const (
	eventHandleChecked     = "handle.checked"
	eventRiskAssessed      = "risk.assessed"
	eventChallengeIssued   = "mfa.challenge.issued"
	eventChallengeVerified = "mfa.challenge.verified"
	eventChallengeFailed   = "mfa.challenge.failed"
	eventLockoutTriggered  = "mfa.lockout.triggered"
	eventEnrollmentChanged = "mfa.enrollment.changed"
)

// AuditPublisher implements port.AuditPublisher using Kafka.
type AuditPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewAuditPublisher constructs a Kafka-backed audit publisher.
func NewAuditPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *AuditPublisher {
	return &AuditPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	UserID    string           `json:"user_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *AuditPublisher) publish(ctx context.Context, eventID, eventType, userID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		UserID:    userID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishHandleChecked publishes handle.checked events.
func (p *AuditPublisher) PublishHandleChecked(ctx context.Context, event domain.HandleCheckedEvent) error {
	payload := struct {
		Handle          string                     `json:"handle"`
		Valid           bool                       `json:"valid"`
		Available       bool                       `json:"available"`
		QualityScore    int                        `json:"quality_score"`
		MatchedCategory *domain.ProtectionCategory `json:"matched_category,omitempty"`
		CheckedAt       time.Time                  `json:"checked_at"`
		Metadata        map[string]any             `json:"metadata,omitempty"`
	}{
		Handle:          event.Handle,
		Valid:           event.Valid,
		Available:       event.Available,
		QualityScore:    event.QualityScore,
		MatchedCategory: event.MatchedCategory,
		CheckedAt:       event.CheckedAt.UTC(),
		Metadata:        event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventHandleChecked, "", event.CheckedAt, payload)
}

// PublishRiskAssessed publishes risk.assessed events.
func (p *AuditPublisher) PublishRiskAssessed(ctx context.Context, event domain.RiskAssessedEvent) error {
	payload := struct {
		UserID            string                   `json:"user_id,omitempty"`
		EventType         domain.RiskEventType     `json:"event_type"`
		Score             int                      `json:"score"`
		Level             domain.RiskLevel         `json:"level"`
		RecommendedAction domain.RecommendedAction `json:"recommended_action"`
		FactorNames       []string                 `json:"factor_names"`
		Confidence        float64                  `json:"confidence"`
		Unavailable       []string                 `json:"unavailable,omitempty"`
		AssessedAt        time.Time                `json:"assessed_at"`
		Metadata          map[string]any           `json:"metadata,omitempty"`
	}{
		UserID:            event.UserID,
		EventType:         event.EventType,
		Score:             event.Score,
		Level:             event.Level,
		RecommendedAction: event.RecommendedAction,
		FactorNames:       event.FactorNames,
		Confidence:        event.Confidence,
		Unavailable:       event.Unavailable,
		AssessedAt:        event.AssessedAt.UTC(),
		Metadata:          event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventRiskAssessed, event.UserID, event.AssessedAt, payload)
}

// PublishChallengeIssued publishes mfa.challenge.issued events.
func (p *AuditPublisher) PublishChallengeIssued(ctx context.Context, event domain.ChallengeIssuedEvent) error {
	payload := struct {
		ChallengeID       string           `json:"challenge_id"`
		UserID            string           `json:"user_id"`
		Method            domain.MFAMethod `json:"method"`
		MaskedDestination string           `json:"masked_destination,omitempty"`
		IssuedAt          time.Time        `json:"issued_at"`
		ExpiresAt         time.Time        `json:"expires_at"`
		Metadata          map[string]any   `json:"metadata,omitempty"`
	}{
		ChallengeID:       event.ChallengeID,
		UserID:            event.UserID,
		Method:            event.Method,
		MaskedDestination: event.MaskedDestination,
		IssuedAt:          event.IssuedAt.UTC(),
		ExpiresAt:         event.ExpiresAt.UTC(),
		Metadata:          event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventChallengeIssued, event.UserID, event.IssuedAt, payload)
}

// PublishChallengeVerified publishes mfa.challenge.verified events.
func (p *AuditPublisher) PublishChallengeVerified(ctx context.Context, event domain.ChallengeVerifiedEvent) error {
	payload := struct {
		ChallengeID         string           `json:"challenge_id,omitempty"`
		UserID              string           `json:"user_id"`
		Method              domain.MFAMethod `json:"method"`
		VerifiedAt          time.Time        `json:"verified_at"`
		SupplementaryFactor bool             `json:"supplementary_factor"`
		Metadata            map[string]any   `json:"metadata,omitempty"`
	}{
		ChallengeID:         event.ChallengeID,
		UserID:              event.UserID,
		Method:              event.Method,
		VerifiedAt:          event.VerifiedAt.UTC(),
		SupplementaryFactor: event.SupplementaryFactor,
		Metadata:            event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventChallengeVerified, event.UserID, event.VerifiedAt, payload)
}

// PublishChallengeFailed publishes mfa.challenge.failed events.
func (p *AuditPublisher) PublishChallengeFailed(ctx context.Context, event domain.ChallengeFailedEvent) error {
	payload := struct {
		ChallengeID  string           `json:"challenge_id,omitempty"`
		UserID       string           `json:"user_id"`
		Method       domain.MFAMethod `json:"method"`
		AttemptCount int              `json:"attempt_count"`
		Reason       string           `json:"reason"`
		FailedAt     time.Time        `json:"failed_at"`
		Metadata     map[string]any   `json:"metadata,omitempty"`
	}{
		ChallengeID:  event.ChallengeID,
		UserID:       event.UserID,
		Method:       event.Method,
		AttemptCount: event.AttemptCount,
		Reason:       event.Reason,
		FailedAt:     event.FailedAt.UTC(),
		Metadata:     event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventChallengeFailed, event.UserID, event.FailedAt, payload)
}

// PublishLockoutTriggered publishes mfa.lockout.triggered events.
func (p *AuditPublisher) PublishLockoutTriggered(ctx context.Context, event domain.LockoutTriggeredEvent) error {
	payload := struct {
		Subject     string         `json:"subject"`
		Scope       string         `json:"scope"`
		Reason      string         `json:"reason"`
		LockedUntil time.Time      `json:"locked_until"`
		TriggeredAt time.Time      `json:"triggered_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		Subject:     event.Subject,
		Scope:       event.Scope,
		Reason:      event.Reason,
		LockedUntil: event.LockedUntil.UTC(),
		TriggeredAt: event.TriggeredAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventLockoutTriggered, event.Subject, event.TriggeredAt, payload)
}

// PublishEnrollmentChanged publishes mfa.enrollment.changed events.
func (p *AuditPublisher) PublishEnrollmentChanged(ctx context.Context, event domain.EnrollmentChangedEvent) error {
	payload := struct {
		UserID    string                  `json:"user_id"`
		Method    domain.MFAMethod        `json:"method"`
		Status    domain.EnrollmentStatus `json:"status"`
		ChangedAt time.Time               `json:"changed_at"`
		Metadata  map[string]any          `json:"metadata,omitempty"`
	}{
		UserID:    event.UserID,
		Method:    event.Method,
		Status:    event.Status,
		ChangedAt: event.ChangedAt.UTC(),
		Metadata:  event.Metadata,
	}

	return p.publish(ctx, event.EventID, eventEnrollmentChanged, event.UserID, event.ChangedAt, payload)
}

var _ port.AuditPublisher = (*AuditPublisher)(nil)
