package usecase

import (
	"context"
	"fmt"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/infra/security"
)

// VerifyTOTP checks an authenticator code against the enrolled shared
// secret, tolerating one time step of clock drift in either direction.
// Failed attempts share the same budget and cool-down as delivered codes.
func (s *MFAService) VerifyTOTP(ctx context.Context, userID, code string) (VerificationResult, error) {
	if locked, err := s.checkLockout(ctx, userID, domain.MFAMethodTOTP); err != nil {
		return VerificationResult{}, err
	} else if locked != nil {
		return *locked, nil
	}

	enrollment, err := s.usableEnrollment(ctx, userID, domain.MFAMethodTOTP)
	if err != nil {
		return VerificationResult{}, err
	}
	if enrollment == nil || enrollment.Secret == nil {
		return VerificationResult{Outcome: OutcomeNotEnrolled}, nil
	}

	secret, err := s.envelope.Open(*enrollment.Secret)
	if err != nil {
		// Integrity failures are never treated as a mere mismatch.
		return VerificationResult{}, fmt.Errorf("open totp secret: %w", err)
	}

	ok, err := security.ValidateTOTP(string(secret), code, s.now().UTC(), s.totpSkewSteps)
	if err != nil {
		return VerificationResult{}, err
	}
	if !ok {
		return s.registerFailure(ctx, userID, domain.MFAMethodTOTP, "code_mismatch")
	}

	s.clearFailures(ctx, userID, domain.MFAMethodTOTP)
	s.activateIfPending(ctx, enrollment)
	s.recordUsage(ctx, enrollment)
	s.emitChallengeVerified(ctx, "", userID, domain.MFAMethodTOTP, false)

	return VerificationResult{Outcome: OutcomeVerified}, nil
}
