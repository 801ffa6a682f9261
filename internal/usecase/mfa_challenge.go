package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/infra/security"
	"github.com/qisslab/entativa-id-security/internal/repository"
)

const deliveredCodeLength = 6

// ChallengeTicket is handed back to the caller after issuance. Token is a
// signed correlation token; the code itself travels only over the delivery
// channel.
type ChallengeTicket struct {
	ChallengeID string
	Method      domain.MFAMethod
	Token       string
	ExpiresAt   time.Time
}

// IssueChallenge generates and delivers a one-time code for sms, email or
// push. Issuing replaces any live challenge in the (user, method) slot, so at
// most one challenge is verifiable at a time.
func (s *MFAService) IssueChallenge(ctx context.Context, userID string, method domain.MFAMethod) (*ChallengeTicket, error) {
	switch method {
	case domain.MFAMethodSMS, domain.MFAMethodEmail, domain.MFAMethodPush:
	default:
		return nil, ErrMethodNotDeliverable
	}

	enrollment, err := s.usableEnrollment(ctx, userID, method)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, ErrNotEnrolled
	}

	if locked, err := s.checkLockout(ctx, userID, method); err != nil {
		return nil, err
	} else if locked != nil {
		return nil, fmt.Errorf("%w: retry after %s", ErrVerificationLocked, locked.RetryAfter)
	}

	code, err := security.GenerateNumericCode(deliveredCodeLength)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	challenge := domain.MFAChallenge{
		ID:          uuid.NewString(),
		UserID:      userID,
		Method:      method,
		Comparand:   security.HashComparand(code),
		IssuedAt:    now,
		ExpiresAt:   now.Add(s.challengeTTL),
		MaxAttempts: s.maxAttempts,
		Status:      domain.ChallengeIssued,
	}

	if err := s.challenges.Replace(ctx, challenge, s.challengeTTL); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	if err := s.notifier.SendCode(ctx, enrollment.Destination, code, method); err != nil {
		// The slot is burned either way; the caller can re-issue.
		if derr := s.challenges.Delete(ctx, userID, method); derr != nil && !errors.Is(derr, repository.ErrNotFound) {
			s.logger.Warn("discard undelivered challenge failed", zap.Error(derr))
		}
		return nil, fmt.Errorf("deliver code: %w", err)
	}

	token, err := s.tokens.Issue(userID, challenge.ID, string(method))
	if err != nil {
		return nil, err
	}

	s.emitChallengeIssued(ctx, challenge, enrollment.Destination)

	return &ChallengeTicket{
		ChallengeID: challenge.ID,
		Method:      method,
		Token:       token,
		ExpiresAt:   challenge.ExpiresAt,
	}, nil
}

// VerifyCode checks a delivered one-time code against the live challenge.
// Lockout is checked first and consumes no attempt; an expired challenge is
// discarded without consuming an attempt either.
func (s *MFAService) VerifyCode(ctx context.Context, userID string, method domain.MFAMethod, code string) (VerificationResult, error) {
	if locked, err := s.checkLockout(ctx, userID, method); err != nil {
		return VerificationResult{}, err
	} else if locked != nil {
		return *locked, nil
	}

	enrollment, err := s.usableEnrollment(ctx, userID, method)
	if err != nil {
		return VerificationResult{}, err
	}
	if enrollment == nil {
		return VerificationResult{Outcome: OutcomeNotEnrolled}, nil
	}

	challenge, err := s.challenges.Fetch(ctx, userID, method)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return VerificationResult{Outcome: OutcomeNoChallenge}, nil
		}
		return VerificationResult{}, fmt.Errorf("fetch challenge: %w", err)
	}

	now := s.now().UTC()
	if now.After(challenge.ExpiresAt) {
		if err := s.challenges.Delete(ctx, userID, method); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("discard expired challenge failed", zap.Error(err))
		}
		s.emitChallengeFailed(ctx, challenge.ID, userID, method, challenge.AttemptCount, "expired")
		return VerificationResult{Outcome: OutcomeExpired}, nil
	}

	if security.ConstantTimeEquals(security.HashComparand(code), challenge.Comparand) {
		if err := s.challenges.Delete(ctx, userID, method); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("discard verified challenge failed", zap.Error(err))
		}
		s.clearFailures(ctx, userID, method)
		s.activateIfPending(ctx, enrollment)
		s.recordUsage(ctx, enrollment)
		s.emitChallengeVerified(ctx, challenge.ID, userID, method, false)
		return VerificationResult{Outcome: OutcomeVerified}, nil
	}

	attempts, err := s.challenges.IncrementAttempts(ctx, userID, method)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Lost a race with a concurrent success or expiry sweep.
			return VerificationResult{Outcome: OutcomeNoChallenge}, nil
		}
		return VerificationResult{}, fmt.Errorf("count attempt: %w", err)
	}

	s.emitChallengeFailed(ctx, challenge.ID, userID, method, attempts, "code_mismatch")

	if attempts >= challenge.MaxAttempts {
		if err := s.challenges.Delete(ctx, userID, method); err != nil && !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("discard exhausted challenge failed", zap.Error(err))
		}
		until := now.Add(s.lockoutDuration)
		if err := s.lockouts.Lock(ctx, userID, lockoutScope(method), "attempts_exhausted", attempts, until); err != nil {
			return VerificationResult{}, fmt.Errorf("trigger lockout: %w", err)
		}
		s.emitLockoutTriggered(ctx, userID, method, "attempts_exhausted", attempts, until)
		return VerificationResult{Outcome: OutcomeLocked, RetryAfter: s.lockoutDuration}, nil
	}

	return VerificationResult{
		Outcome:           OutcomeInvalidCode,
		RemainingAttempts: challenge.MaxAttempts - attempts,
	}, nil
}
