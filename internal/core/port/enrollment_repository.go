package port

import (
	"context"
	"time"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
)

// EnrollmentRepository persists MFA factor enrollments. Enrollments are
// soft-disabled, never deleted, to satisfy compliance retention.
type EnrollmentRepository interface {
	Create(ctx context.Context, enrollment domain.MFAEnrollment) error
	Get(ctx context.Context, userID string, method domain.MFAMethod) (*domain.MFAEnrollment, error)
	ListByUser(ctx context.Context, userID string) ([]domain.MFAEnrollment, error)
	UpdateStatus(ctx context.Context, id string, status domain.EnrollmentStatus, at time.Time) error
	// RecordUsage bumps the usage counter and last-used timestamp after a
	// successful verification.
	RecordUsage(ctx context.Context, id string, usedAt time.Time) error
	UpdateBackupCodes(ctx context.Context, id string, codes []domain.BackupCode) error
	// ConsumeBackupCode marks the code at index as consumed, but only if it
	// is still unconsumed in the store. Returns repository.ErrConflict when
	// another verification already burned it, so a single-use code can never
	// be redeemed twice by concurrent attempts.
	ConsumeBackupCode(ctx context.Context, id string, index int, consumedAt time.Time) error
}
