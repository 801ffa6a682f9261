package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
)

// ErrTemplateMismatch is returned when the stored template cannot be
// compared against the presented sample, for example after a dimension
// change in the capture pipeline.
var ErrTemplateMismatch = errors.New("biometric template dimensions do not match")

// VerifyBiometric scores a presented sample against the enrolled template.
// A pass below the strong band is flagged supplementary so callers require
// an additional factor alongside it.
func (s *MFAService) VerifyBiometric(ctx context.Context, userID string, sample []float64) (VerificationResult, error) {
	if locked, err := s.checkLockout(ctx, userID, domain.MFAMethodBiometric); err != nil {
		return VerificationResult{}, err
	} else if locked != nil {
		return *locked, nil
	}

	enrollment, err := s.usableEnrollment(ctx, userID, domain.MFAMethodBiometric)
	if err != nil {
		return VerificationResult{}, err
	}
	if enrollment == nil || enrollment.Secret == nil {
		return VerificationResult{Outcome: OutcomeNotEnrolled}, nil
	}

	payload, err := s.envelope.Open(*enrollment.Secret)
	if err != nil {
		// A template that fails authenticated decryption is unusable and the
		// verification must not degrade to a pass.
		return VerificationResult{}, fmt.Errorf("open biometric template: %w", err)
	}
	template, err := decodeTemplate(payload)
	if err != nil {
		return VerificationResult{}, err
	}

	score, err := cosineSimilarity(sample, template)
	if err != nil {
		return VerificationResult{}, err
	}

	if score < s.verifyThreshold {
		return s.registerFailure(ctx, userID, domain.MFAMethodBiometric, "similarity_below_threshold")
	}

	supplementary := score < s.strongThreshold

	s.clearFailures(ctx, userID, domain.MFAMethodBiometric)
	s.activateIfPending(ctx, enrollment)
	s.recordUsage(ctx, enrollment)
	s.emitChallengeVerified(ctx, "", userID, domain.MFAMethodBiometric, supplementary)

	return VerificationResult{Outcome: OutcomeVerified, SupplementaryFactor: supplementary}, nil
}

func encodeTemplate(template []float64) ([]byte, error) {
	if len(template) == 0 {
		return nil, fmt.Errorf("biometric template is empty")
	}
	payload, err := json.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("encode biometric template: %w", err)
	}
	return payload, nil
}

func decodeTemplate(payload []byte) ([]float64, error) {
	var template []float64
	if err := json.Unmarshal(payload, &template); err != nil {
		return nil, fmt.Errorf("decode biometric template: %w", err)
	}
	return template, nil
}

func cosineSimilarity(a, b []float64) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, ErrTemplateMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
