package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
	"github.com/qisslab/entativa-id-security/internal/infra/config"
	"github.com/qisslab/entativa-id-security/internal/infra/logger"
	"github.com/qisslab/entativa-id-security/internal/infra/security"
	"github.com/qisslab/entativa-id-security/internal/repository"
)

const (
	defaultChallengeTTL      = 10 * time.Minute
	defaultMaxAttempts       = 5
	defaultLockoutDuration   = 5 * time.Minute
	defaultBackupCodeCount   = 10
	defaultBackupCodeLength  = 10
	defaultTOTPSkewSteps     = 1
	defaultEnrollQuality     = 0.7
	defaultVerifyThreshold   = 0.85
	defaultStrongThreshold   = 0.95
	defaultProvisioningLabel = "Entativa ID"
)

var (
	// ErrMethodNotSupported is returned when enrollment is requested for an
	// unknown factor type.
	ErrMethodNotSupported = errors.New("mfa method not supported")
	// ErrMethodNotDeliverable is returned when a challenge is requested for a
	// method that verifies locally instead of via a delivered code.
	ErrMethodNotDeliverable = errors.New("mfa method does not use delivered challenges")
	// ErrDestinationRequired is returned when sms/email/push enrollment lacks
	// a delivery destination.
	ErrDestinationRequired = errors.New("delivery destination is required")
	// ErrTemplateQualityTooLow is returned when a biometric sample does not
	// meet the enrollment quality floor.
	ErrTemplateQualityTooLow = errors.New("biometric template quality below enrollment floor")
	// ErrVerificationLocked is returned when issuance is refused because the
	// (user, method) slot is inside a lockout cool-down.
	ErrVerificationLocked = errors.New("mfa verification is locked")
	// ErrNotEnrolled is returned by enrollment operations when no usable
	// enrollment exists for the (user, method) pair.
	ErrNotEnrolled = errors.New("method not enrolled")
)

// VerificationOutcome classifies the result of one verification attempt.
type VerificationOutcome string

const (
	OutcomeVerified    VerificationOutcome = "verified"
	OutcomeInvalidCode VerificationOutcome = "invalid_code"
	OutcomeLocked      VerificationOutcome = "locked"
	OutcomeExpired     VerificationOutcome = "expired"
	OutcomeNoChallenge VerificationOutcome = "no_challenge"
	OutcomeNotEnrolled VerificationOutcome = "not_enrolled"
)

// VerificationResult is the outcome of one verification attempt. Only the
// fields relevant to the outcome are populated.
type VerificationResult struct {
	Outcome           VerificationOutcome
	RemainingAttempts int
	RetryAfter        time.Duration
	// SupplementaryFactor is set on biometric passes that clear the match
	// threshold but fall short of the strong band, signalling callers to
	// require an additional factor.
	SupplementaryFactor  bool
	RemainingBackupCodes int
}

// EnrollmentSetup is returned by BeginEnrollment. Sensitive material (the
// TOTP secret, raw backup codes) appears here exactly once and is never
// retrievable afterwards.
type EnrollmentSetup struct {
	EnrollmentID    string
	Method          domain.MFAMethod
	Status          domain.EnrollmentStatus
	TOTPSecret      string
	ProvisioningURI string
	BackupCodes     []string
}

// EnrollmentRequest carries the method-specific enrollment inputs.
type EnrollmentRequest struct {
	UserID string
	Method domain.MFAMethod
	// Destination is the phone number, email address or push device token
	// for deliverable methods.
	Destination string
	// BiometricTemplate and TemplateQuality are set for biometric enrollment.
	BiometricTemplate []float64
	TemplateQuality   float64
}

// MFAService owns factor enrollment, challenge issuance and verification.
type MFAService struct {
	enrollments port.EnrollmentRepository
	challenges  port.ChallengeStore
	lockouts    port.LockoutStore
	signals     port.SignalStore
	notifier    port.NotificationSender
	audit       port.AuditPublisher
	envelope    *security.Envelope
	tokens      *security.ChallengeTokenIssuer
	logger      *zap.Logger
	now         func() time.Time

	challengeTTL     time.Duration
	maxAttempts      int
	lockoutDuration  time.Duration
	backupCodeCount  int
	backupCodeLength int
	totpSkewSteps    int
	enrollQuality    float64
	verifyThreshold  float64
	strongThreshold  float64
	issuerLabel      string
}

// NewMFAService wires the MFA state machine over its stores.
func NewMFAService(
	cfg config.MFASettings,
	enrollments port.EnrollmentRepository,
	challenges port.ChallengeStore,
	lockouts port.LockoutStore,
	signals port.SignalStore,
	notifier port.NotificationSender,
	audit port.AuditPublisher,
	envelope *security.Envelope,
	tokens *security.ChallengeTokenIssuer,
	log *zap.Logger,
) *MFAService {
	if log == nil {
		log = zap.NewNop()
	}

	s := &MFAService{
		enrollments:      enrollments,
		challenges:       challenges,
		lockouts:         lockouts,
		signals:          signals,
		notifier:         notifier,
		audit:            audit,
		envelope:         envelope,
		tokens:           tokens,
		logger:           log,
		now:              time.Now,
		challengeTTL:     cfg.ChallengeTTL,
		maxAttempts:      cfg.MaxAttempts,
		lockoutDuration:  cfg.LockoutDuration,
		backupCodeCount:  cfg.BackupCodeCount,
		backupCodeLength: cfg.BackupCodeLength,
		totpSkewSteps:    cfg.TOTPSkewSteps,
		enrollQuality:    cfg.BiometricEnrollQuality,
		verifyThreshold:  cfg.BiometricVerifyThreshold,
		strongThreshold:  cfg.BiometricStrongThreshold,
		issuerLabel:      cfg.IssuerLabel,
	}

	if s.challengeTTL <= 0 {
		s.challengeTTL = defaultChallengeTTL
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.lockoutDuration <= 0 {
		s.lockoutDuration = defaultLockoutDuration
	}
	if s.backupCodeCount <= 0 {
		s.backupCodeCount = defaultBackupCodeCount
	}
	if s.backupCodeLength <= 0 {
		s.backupCodeLength = defaultBackupCodeLength
	}
	if s.totpSkewSteps <= 0 {
		s.totpSkewSteps = defaultTOTPSkewSteps
	}
	if s.enrollQuality <= 0 {
		s.enrollQuality = defaultEnrollQuality
	}
	if s.verifyThreshold <= 0 {
		s.verifyThreshold = defaultVerifyThreshold
	}
	if s.strongThreshold <= 0 {
		s.strongThreshold = defaultStrongThreshold
	}
	if s.issuerLabel == "" {
		s.issuerLabel = defaultProvisioningLabel
	}

	return s
}

// WithClock overrides the internal clock, used in tests.
func (s *MFAService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// BeginEnrollment registers a new factor in pending-setup state. The factor
// becomes active on its first successful verification.
func (s *MFAService) BeginEnrollment(ctx context.Context, req EnrollmentRequest) (*EnrollmentSetup, error) {
	now := s.now().UTC()

	enrollment := domain.MFAEnrollment{
		ID:        uuid.NewString(),
		UserID:    req.UserID,
		Method:    req.Method,
		Status:    domain.EnrollmentPendingSetup,
		CreatedAt: now,
	}
	setup := &EnrollmentSetup{
		EnrollmentID: enrollment.ID,
		Method:       req.Method,
		Status:       domain.EnrollmentPendingSetup,
	}

	switch req.Method {
	case domain.MFAMethodTOTP:
		secret, err := security.NewTOTPSecret()
		if err != nil {
			return nil, err
		}
		sealed, err := s.envelope.Seal([]byte(secret))
		if err != nil {
			return nil, fmt.Errorf("seal totp secret: %w", err)
		}
		enrollment.Secret = &sealed
		setup.TOTPSecret = secret
		setup.ProvisioningURI = security.ProvisioningURI(s.issuerLabel, req.UserID, secret)

	case domain.MFAMethodSMS, domain.MFAMethodEmail, domain.MFAMethodPush:
		if req.Destination == "" {
			return nil, ErrDestinationRequired
		}
		enrollment.Destination = req.Destination

	case domain.MFAMethodBiometric:
		if req.TemplateQuality < s.enrollQuality {
			return nil, ErrTemplateQualityTooLow
		}
		sealed, err := s.sealTemplate(req.BiometricTemplate)
		if err != nil {
			return nil, err
		}
		enrollment.Secret = &sealed
		enrollment.TemplateQuality = req.TemplateQuality

	case domain.MFAMethodBackupCode:
		codes, hashed, err := s.mintBackupCodes(now)
		if err != nil {
			return nil, err
		}
		enrollment.BackupCodes = hashed
		// Backup codes need no confirmation step; they are usable immediately.
		enrollment.Status = domain.EnrollmentActive
		enrollment.ActivatedAt = &now
		setup.Status = domain.EnrollmentActive
		setup.BackupCodes = codes

	default:
		return nil, ErrMethodNotSupported
	}

	if err := s.enrollments.Create(ctx, enrollment); err != nil {
		return nil, fmt.Errorf("create enrollment: %w", err)
	}

	s.emitEnrollmentChanged(ctx, req.UserID, req.Method, enrollment.Status)
	return setup, nil
}

// RegenerateBackupCodes replaces the user's backup code set. Previously
// issued codes stop working immediately.
func (s *MFAService) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	enrollment, err := s.enrollments.Get(ctx, userID, domain.MFAMethodBackupCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			setup, err := s.BeginEnrollment(ctx, EnrollmentRequest{UserID: userID, Method: domain.MFAMethodBackupCode})
			if err != nil {
				return nil, err
			}
			return setup.BackupCodes, nil
		}
		return nil, fmt.Errorf("load backup enrollment: %w", err)
	}

	now := s.now().UTC()
	codes, hashed, err := s.mintBackupCodes(now)
	if err != nil {
		return nil, err
	}
	if err := s.enrollments.UpdateBackupCodes(ctx, enrollment.ID, hashed); err != nil {
		return nil, fmt.Errorf("store backup codes: %w", err)
	}
	if enrollment.Status != domain.EnrollmentActive {
		if err := s.enrollments.UpdateStatus(ctx, enrollment.ID, domain.EnrollmentActive, now); err != nil {
			return nil, fmt.Errorf("activate backup enrollment: %w", err)
		}
	}

	s.emitEnrollmentChanged(ctx, userID, domain.MFAMethodBackupCode, domain.EnrollmentActive)
	return codes, nil
}

// DisableMethod soft-disables an enrollment and discards any live challenge
// for it. The record is retained, never deleted.
func (s *MFAService) DisableMethod(ctx context.Context, userID string, method domain.MFAMethod) error {
	enrollment, err := s.enrollments.Get(ctx, userID, method)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotEnrolled
		}
		return fmt.Errorf("load enrollment: %w", err)
	}
	if enrollment.Status == domain.EnrollmentDisabled {
		return nil
	}

	now := s.now().UTC()
	if err := s.enrollments.UpdateStatus(ctx, enrollment.ID, domain.EnrollmentDisabled, now); err != nil {
		return fmt.Errorf("disable enrollment: %w", err)
	}
	if err := s.challenges.Delete(ctx, userID, method); err != nil && !errors.Is(err, repository.ErrNotFound) {
		s.logger.Warn("discard live challenge on disable failed",
			zap.String("method", string(method)),
			zap.Error(err),
		)
	}

	s.emitEnrollmentChanged(ctx, userID, method, domain.EnrollmentDisabled)
	return nil
}

// Enrollments lists every factor registration for the user, disabled ones
// included.
func (s *MFAService) Enrollments(ctx context.Context, userID string) ([]domain.MFAEnrollment, error) {
	return s.enrollments.ListByUser(ctx, userID)
}

func (s *MFAService) usableEnrollment(ctx context.Context, userID string, method domain.MFAMethod) (*domain.MFAEnrollment, error) {
	enrollment, err := s.enrollments.Get(ctx, userID, method)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if !enrollment.IsUsable() {
		return nil, nil
	}
	return enrollment, nil
}

// activateIfPending transitions a pending-setup enrollment to active after
// its first successful verification.
func (s *MFAService) activateIfPending(ctx context.Context, enrollment *domain.MFAEnrollment) {
	if enrollment.Status != domain.EnrollmentPendingSetup {
		return
	}
	now := s.now().UTC()
	if err := s.enrollments.UpdateStatus(ctx, enrollment.ID, domain.EnrollmentActive, now); err != nil {
		s.logger.Warn("activate enrollment failed",
			zap.String("method", string(enrollment.Method)),
			zap.Error(err),
		)
		return
	}
	enrollment.Status = domain.EnrollmentActive
	s.emitEnrollmentChanged(ctx, enrollment.UserID, enrollment.Method, domain.EnrollmentActive)
}

func (s *MFAService) recordUsage(ctx context.Context, enrollment *domain.MFAEnrollment) {
	if err := s.enrollments.RecordUsage(ctx, enrollment.ID, s.now().UTC()); err != nil {
		s.logger.Debug("record factor usage failed", zap.Error(err))
	}
}

func (s *MFAService) mintBackupCodes(now time.Time) (raw []string, hashed []domain.BackupCode, err error) {
	raw = make([]string, 0, s.backupCodeCount)
	hashed = make([]domain.BackupCode, 0, s.backupCodeCount)
	for i := 0; i < s.backupCodeCount; i++ {
		code, err := security.GenerateBackupCode(s.backupCodeLength)
		if err != nil {
			return nil, nil, err
		}
		hash, err := security.HashSecret(code)
		if err != nil {
			return nil, nil, fmt.Errorf("hash backup code: %w", err)
		}
		raw = append(raw, code)
		hashed = append(hashed, domain.BackupCode{Hash: hash, CreatedAt: now})
	}
	return raw, hashed, nil
}

func (s *MFAService) sealTemplate(template []float64) (domain.EncryptedSecret, error) {
	payload, err := encodeTemplate(template)
	if err != nil {
		return domain.EncryptedSecret{}, err
	}
	sealed, err := s.envelope.Seal(payload)
	if err != nil {
		return domain.EncryptedSecret{}, fmt.Errorf("seal biometric template: %w", err)
	}
	return sealed, nil
}

// lockoutScope namespaces cool-downs per factor type so a TOTP lockout does
// not block backup-code recovery.
func lockoutScope(method domain.MFAMethod) string {
	return "mfa:" + string(method)
}

func attemptCounterKey(userID string, method domain.MFAMethod) string {
	return "mfa:fail:" + string(method) + ":" + userID
}

// checkLockout returns a populated result when the subject is cooling down.
func (s *MFAService) checkLockout(ctx context.Context, userID string, method domain.MFAMethod) (*VerificationResult, error) {
	state, err := s.lockouts.Status(ctx, userID, lockoutScope(method))
	if err != nil {
		return nil, fmt.Errorf("lockout status: %w", err)
	}
	if state == nil {
		return nil, nil
	}
	remaining := state.Remaining(s.now().UTC())
	if remaining <= 0 {
		return nil, nil
	}
	return &VerificationResult{Outcome: OutcomeLocked, RetryAfter: remaining}, nil
}

// registerFailure counts a failed local verification (totp, biometric,
// backup code) and triggers the cool-down when the budget is exhausted.
func (s *MFAService) registerFailure(ctx context.Context, userID string, method domain.MFAMethod, reason string) (VerificationResult, error) {
	count, err := s.signals.Increment(ctx, attemptCounterKey(userID, method), s.challengeTTL)
	if err != nil {
		return VerificationResult{}, fmt.Errorf("count failed attempt: %w", err)
	}

	s.emitChallengeFailed(ctx, "", userID, method, int(count), reason)

	if int(count) >= s.maxAttempts {
		until := s.now().UTC().Add(s.lockoutDuration)
		if err := s.lockouts.Lock(ctx, userID, lockoutScope(method), reason, int(count), until); err != nil {
			return VerificationResult{}, fmt.Errorf("trigger lockout: %w", err)
		}
		if err := s.signals.Delete(ctx, attemptCounterKey(userID, method)); err != nil {
			s.logger.Debug("reset attempt counter failed", zap.Error(err))
		}
		s.emitLockoutTriggered(ctx, userID, method, reason, int(count), until)
		return VerificationResult{Outcome: OutcomeLocked, RetryAfter: s.lockoutDuration}, nil
	}

	return VerificationResult{
		Outcome:           OutcomeInvalidCode,
		RemainingAttempts: s.maxAttempts - int(count),
	}, nil
}

// clearFailures resets the local failure counter and any expired lockout
// bookkeeping after a successful verification.
func (s *MFAService) clearFailures(ctx context.Context, userID string, method domain.MFAMethod) {
	if err := s.signals.Delete(ctx, attemptCounterKey(userID, method)); err != nil {
		s.logger.Debug("reset attempt counter failed", zap.Error(err))
	}
	if err := s.lockouts.Clear(ctx, userID, lockoutScope(method)); err != nil {
		s.logger.Debug("clear lockout failed", zap.Error(err))
	}
}

func maskDestination(destination string, method domain.MFAMethod) string {
	switch method {
	case domain.MFAMethodSMS:
		return logger.MaskPhone(destination)
	case domain.MFAMethodEmail:
		return logger.MaskEmail(destination)
	default:
		return logger.MaskString(destination)
	}
}

func (s *MFAService) emitEnrollmentChanged(ctx context.Context, userID string, method domain.MFAMethod, status domain.EnrollmentStatus) {
	if s.audit == nil {
		return
	}
	event := domain.EnrollmentChangedEvent{
		EventID:   uuid.NewString(),
		UserID:    userID,
		Method:    method,
		Status:    status,
		ChangedAt: s.now().UTC(),
	}
	if err := s.audit.PublishEnrollmentChanged(ctx, event); err != nil {
		s.logger.Warn("publish enrollment changed event failed", zap.Error(err))
	}
}

func (s *MFAService) emitChallengeIssued(ctx context.Context, challenge domain.MFAChallenge, destination string) {
	if s.audit == nil {
		return
	}
	event := domain.ChallengeIssuedEvent{
		EventID:           uuid.NewString(),
		ChallengeID:       challenge.ID,
		UserID:            challenge.UserID,
		Method:            challenge.Method,
		MaskedDestination: maskDestination(destination, challenge.Method),
		IssuedAt:          challenge.IssuedAt,
		ExpiresAt:         challenge.ExpiresAt,
	}
	if err := s.audit.PublishChallengeIssued(ctx, event); err != nil {
		s.logger.Warn("publish challenge issued event failed", zap.Error(err))
	}
}

func (s *MFAService) emitChallengeVerified(ctx context.Context, challengeID, userID string, method domain.MFAMethod, supplementary bool) {
	if s.audit == nil {
		return
	}
	event := domain.ChallengeVerifiedEvent{
		EventID:             uuid.NewString(),
		ChallengeID:         challengeID,
		UserID:              userID,
		Method:              method,
		VerifiedAt:          s.now().UTC(),
		SupplementaryFactor: supplementary,
	}
	if err := s.audit.PublishChallengeVerified(ctx, event); err != nil {
		s.logger.Warn("publish challenge verified event failed", zap.Error(err))
	}
}

func (s *MFAService) emitChallengeFailed(ctx context.Context, challengeID, userID string, method domain.MFAMethod, attempts int, reason string) {
	if s.audit == nil {
		return
	}
	event := domain.ChallengeFailedEvent{
		EventID:      uuid.NewString(),
		ChallengeID:  challengeID,
		UserID:       userID,
		Method:       method,
		AttemptCount: attempts,
		Reason:       reason,
		FailedAt:     s.now().UTC(),
	}
	if err := s.audit.PublishChallengeFailed(ctx, event); err != nil {
		s.logger.Warn("publish challenge failed event failed", zap.Error(err))
	}
}

func (s *MFAService) emitLockoutTriggered(ctx context.Context, userID string, method domain.MFAMethod, reason string, attempts int, until time.Time) {
	if s.audit == nil {
		return
	}
	event := domain.LockoutTriggeredEvent{
		EventID:     uuid.NewString(),
		Subject:     userID,
		Scope:       lockoutScope(method),
		Reason:      reason,
		LockedUntil: until,
		TriggeredAt: s.now().UTC(),
		Metadata:    map[string]any{"attempts": attempts},
	}
	if err := s.audit.PublishLockoutTriggered(ctx, event); err != nil {
		s.logger.Warn("publish lockout triggered event failed", zap.Error(err))
	}
}
