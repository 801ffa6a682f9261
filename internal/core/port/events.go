package port

import (
	"context"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
)

// AuditPublisher emits structured decision events to the message bus. Every
// core verdict is published fire-and-forget; the core never persists or
// queries audit history itself.
type AuditPublisher interface {
	PublishHandleChecked(ctx context.Context, event domain.HandleCheckedEvent) error
	PublishRiskAssessed(ctx context.Context, event domain.RiskAssessedEvent) error
	PublishChallengeIssued(ctx context.Context, event domain.ChallengeIssuedEvent) error
	PublishChallengeVerified(ctx context.Context, event domain.ChallengeVerifiedEvent) error
	PublishChallengeFailed(ctx context.Context, event domain.ChallengeFailedEvent) error
	PublishLockoutTriggered(ctx context.Context, event domain.LockoutTriggeredEvent) error
	PublishEnrollmentChanged(ctx context.Context, event domain.EnrollmentChangedEvent) error
}

// NotificationSender delivers a one-time code to a destination. The SMS/email
// transport itself is outside the core.
type NotificationSender interface {
	SendCode(ctx context.Context, destination, code string, method domain.MFAMethod) error
}
