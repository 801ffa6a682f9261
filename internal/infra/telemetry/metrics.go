package telemetry

import (
	"context"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
)

// instrumentedAudit records decision counters as audit events flow through,
// then forwards to the wrapped publisher. Metrics stay out of the usecase
// layer this way; every published verdict is counted exactly once.
type instrumentedAudit struct {
	next     port.AuditPublisher
	provider *Provider
}

// InstrumentAudit wraps an audit publisher with metric recording.
func InstrumentAudit(provider *Provider, next port.AuditPublisher) port.AuditPublisher {
	if provider == nil {
		return next
	}
	return &instrumentedAudit{next: next, provider: provider}
}

func (a *instrumentedAudit) PublishHandleChecked(ctx context.Context, event domain.HandleCheckedEvent) error {
	outcome := "valid"
	switch {
	case !event.Valid:
		outcome = "invalid"
	case event.MatchedCategory != nil:
		outcome = "protected"
	case !event.Available:
		outcome = "unavailable"
	}
	a.provider.RecordHandleCheck(outcome)
	return a.next.PublishHandleChecked(ctx, event)
}

func (a *instrumentedAudit) PublishRiskAssessed(ctx context.Context, event domain.RiskAssessedEvent) error {
	a.provider.RecordRiskAssessment(string(event.EventType), string(event.Level))
	return a.next.PublishRiskAssessed(ctx, event)
}

func (a *instrumentedAudit) PublishChallengeIssued(ctx context.Context, event domain.ChallengeIssuedEvent) error {
	return a.next.PublishChallengeIssued(ctx, event)
}

func (a *instrumentedAudit) PublishChallengeVerified(ctx context.Context, event domain.ChallengeVerifiedEvent) error {
	a.provider.RecordVerification(string(event.Method), "verified")
	return a.next.PublishChallengeVerified(ctx, event)
}

func (a *instrumentedAudit) PublishChallengeFailed(ctx context.Context, event domain.ChallengeFailedEvent) error {
	a.provider.RecordVerification(string(event.Method), "failed")
	return a.next.PublishChallengeFailed(ctx, event)
}

func (a *instrumentedAudit) PublishLockoutTriggered(ctx context.Context, event domain.LockoutTriggeredEvent) error {
	a.provider.RecordLockout(event.Scope)
	return a.next.PublishLockoutTriggered(ctx, event)
}

func (a *instrumentedAudit) PublishEnrollmentChanged(ctx context.Context, event domain.EnrollmentChangedEvent) error {
	return a.next.PublishEnrollmentChanged(ctx, event)
}

var _ port.AuditPublisher = (*instrumentedAudit)(nil)
