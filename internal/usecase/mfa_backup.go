package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/infra/security"
	"github.com/qisslab/entativa-id-security/internal/repository"
)

// VerifyBackupCode burns a single-use recovery code. A consumed code can
// never verify again; the result reports how many codes remain so callers
// can prompt for regeneration.
func (s *MFAService) VerifyBackupCode(ctx context.Context, userID, code string) (VerificationResult, error) {
	if locked, err := s.checkLockout(ctx, userID, domain.MFAMethodBackupCode); err != nil {
		return VerificationResult{}, err
	} else if locked != nil {
		return *locked, nil
	}

	enrollment, err := s.usableEnrollment(ctx, userID, domain.MFAMethodBackupCode)
	if err != nil {
		return VerificationResult{}, err
	}
	if enrollment == nil || len(enrollment.BackupCodes) == 0 {
		return VerificationResult{Outcome: OutcomeNotEnrolled}, nil
	}

	matched := -1
	for i, bc := range enrollment.BackupCodes {
		if bc.ConsumedAt != nil {
			continue
		}
		ok, err := security.VerifySecret(code, bc.Hash)
		if err != nil {
			return VerificationResult{}, fmt.Errorf("verify backup code: %w", err)
		}
		if ok {
			matched = i
			break
		}
	}

	if matched < 0 {
		return s.registerFailure(ctx, userID, domain.MFAMethodBackupCode, "code_mismatch")
	}

	now := s.now().UTC()
	if err := s.enrollments.ConsumeBackupCode(ctx, enrollment.ID, matched, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// A concurrent attempt burned the same code first; only one
			// redemption may win.
			return s.registerFailure(ctx, userID, domain.MFAMethodBackupCode, "code_replayed")
		}
		// The code must not remain reusable if consumption cannot be recorded.
		return VerificationResult{}, fmt.Errorf("consume backup code: %w", err)
	}
	enrollment.BackupCodes[matched].ConsumedAt = &now

	remaining := 0
	for _, bc := range enrollment.BackupCodes {
		if bc.ConsumedAt == nil {
			remaining++
		}
	}
	if remaining <= 2 {
		s.logger.Info("backup codes running low",
			zap.Int("remaining", remaining),
		)
	}

	s.clearFailures(ctx, userID, domain.MFAMethodBackupCode)
	s.recordUsage(ctx, enrollment)
	s.emitChallengeVerified(ctx, "", userID, domain.MFAMethodBackupCode, false)

	return VerificationResult{Outcome: OutcomeVerified, RemainingBackupCodes: remaining}, nil
}
