package usecase

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/infra/config"
	"github.com/qisslab/entativa-id-security/internal/infra/security"
	"github.com/qisslab/entativa-id-security/internal/repository"
)

// In-memory doubles for the MFA stores.

type enrollmentRepoMock struct {
	byKey map[string]*domain.MFAEnrollment
	byID  map[string]*domain.MFAEnrollment
	// staleGet, when set, is returned by Get instead of live state. It models
	// a reader that loaded the enrollment before a concurrent write landed.
	staleGet *domain.MFAEnrollment
}

func newEnrollmentRepoMock() *enrollmentRepoMock {
	return &enrollmentRepoMock{
		byKey: make(map[string]*domain.MFAEnrollment),
		byID:  make(map[string]*domain.MFAEnrollment),
	}
}

func enrollmentKey(userID string, method domain.MFAMethod) string {
	return userID + "/" + string(method)
}

func (m *enrollmentRepoMock) Create(_ context.Context, enrollment domain.MFAEnrollment) error {
	stored := enrollment
	m.byKey[enrollmentKey(enrollment.UserID, enrollment.Method)] = &stored
	m.byID[enrollment.ID] = &stored
	return nil
}

func (m *enrollmentRepoMock) Get(_ context.Context, userID string, method domain.MFAMethod) (*domain.MFAEnrollment, error) {
	if m.staleGet != nil && m.staleGet.UserID == userID && m.staleGet.Method == method {
		copied := *m.staleGet
		copied.BackupCodes = append([]domain.BackupCode(nil), m.staleGet.BackupCodes...)
		return &copied, nil
	}
	stored, ok := m.byKey[enrollmentKey(userID, method)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *stored
	copied.BackupCodes = append([]domain.BackupCode(nil), stored.BackupCodes...)
	return &copied, nil
}

func (m *enrollmentRepoMock) ListByUser(_ context.Context, userID string) ([]domain.MFAEnrollment, error) {
	var out []domain.MFAEnrollment
	for _, stored := range m.byKey {
		if stored.UserID == userID {
			out = append(out, *stored)
		}
	}
	return out, nil
}

func (m *enrollmentRepoMock) UpdateStatus(_ context.Context, id string, status domain.EnrollmentStatus, at time.Time) error {
	stored, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Status = status
	switch status {
	case domain.EnrollmentActive:
		stored.ActivatedAt = &at
	case domain.EnrollmentDisabled:
		stored.DisabledAt = &at
	}
	return nil
}

func (m *enrollmentRepoMock) RecordUsage(_ context.Context, id string, usedAt time.Time) error {
	stored, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	stored.UsageCount++
	stored.LastUsedAt = &usedAt
	return nil
}

func (m *enrollmentRepoMock) UpdateBackupCodes(_ context.Context, id string, codes []domain.BackupCode) error {
	stored, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	stored.BackupCodes = append([]domain.BackupCode(nil), codes...)
	return nil
}

func (m *enrollmentRepoMock) ConsumeBackupCode(_ context.Context, id string, index int, consumedAt time.Time) error {
	stored, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	if index < 0 || index >= len(stored.BackupCodes) || stored.BackupCodes[index].ConsumedAt != nil {
		return repository.ErrConflict
	}
	at := consumedAt
	stored.BackupCodes[index].ConsumedAt = &at
	return nil
}

type challengeStoreMock struct {
	challenges map[string]*domain.MFAChallenge
}

func newChallengeStoreMock() *challengeStoreMock {
	return &challengeStoreMock{challenges: make(map[string]*domain.MFAChallenge)}
}

func (m *challengeStoreMock) Replace(_ context.Context, challenge domain.MFAChallenge, _ time.Duration) error {
	stored := challenge
	m.challenges[enrollmentKey(challenge.UserID, challenge.Method)] = &stored
	return nil
}

func (m *challengeStoreMock) Fetch(_ context.Context, userID string, method domain.MFAMethod) (*domain.MFAChallenge, error) {
	stored, ok := m.challenges[enrollmentKey(userID, method)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *stored
	return &copied, nil
}

func (m *challengeStoreMock) IncrementAttempts(_ context.Context, userID string, method domain.MFAMethod) (int, error) {
	stored, ok := m.challenges[enrollmentKey(userID, method)]
	if !ok {
		return 0, repository.ErrNotFound
	}
	stored.AttemptCount++
	return stored.AttemptCount, nil
}

func (m *challengeStoreMock) Delete(_ context.Context, userID string, method domain.MFAMethod) error {
	delete(m.challenges, enrollmentKey(userID, method))
	return nil
}

type lockoutStoreMock struct {
	locks map[string]*domain.LockoutState
}

func newLockoutStoreMock() *lockoutStoreMock {
	return &lockoutStoreMock{locks: make(map[string]*domain.LockoutState)}
}

func (m *lockoutStoreMock) Lock(_ context.Context, subject, scope, reason string, attempts int, until time.Time) error {
	m.locks[subject+"/"+scope] = &domain.LockoutState{
		Subject:     subject,
		Scope:       scope,
		Reason:      reason,
		Attempts:    attempts,
		LockedUntil: until,
	}
	return nil
}

func (m *lockoutStoreMock) Status(_ context.Context, subject, scope string) (*domain.LockoutState, error) {
	state, ok := m.locks[subject+"/"+scope]
	if !ok {
		return nil, nil
	}
	copied := *state
	return &copied, nil
}

func (m *lockoutStoreMock) Clear(_ context.Context, subject, scope string) error {
	delete(m.locks, subject+"/"+scope)
	return nil
}

type signalStoreMock struct {
	counters map[string]int64
	values   map[string]string
}

func newSignalStoreMock() *signalStoreMock {
	return &signalStoreMock{counters: make(map[string]int64), values: make(map[string]string)}
}

func (m *signalStoreMock) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.values[key]; ok {
		return v, nil
	}
	if c, ok := m.counters[key]; ok {
		return strconv.FormatInt(c, 10), nil
	}
	return "", repository.ErrNotFound
}

func (m *signalStoreMock) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.values[key] = value
	return nil
}

func (m *signalStoreMock) Delete(_ context.Context, key string) error {
	delete(m.values, key)
	delete(m.counters, key)
	return nil
}

func (m *signalStoreMock) Increment(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.counters[key]++
	return m.counters[key], nil
}

func (m *signalStoreMock) CompareAndSwap(_ context.Context, key, expected, replacement string, _ time.Duration) (bool, error) {
	if m.values[key] != expected {
		return false, nil
	}
	m.values[key] = replacement
	return true, nil
}

type senderMock struct {
	destinations []string
	codes        []string
	err          error
}

func (m *senderMock) SendCode(_ context.Context, destination, code string, _ domain.MFAMethod) error {
	if m.err != nil {
		return m.err
	}
	m.destinations = append(m.destinations, destination)
	m.codes = append(m.codes, code)
	return nil
}

func (m *senderMock) lastCode(t *testing.T) string {
	t.Helper()
	if len(m.codes) == 0 {
		t.Fatal("no code was delivered")
	}
	return m.codes[len(m.codes)-1]
}

// mfaFixture bundles the service with its injected doubles and a settable
// clock.
type mfaFixture struct {
	svc         *MFAService
	enrollments *enrollmentRepoMock
	challenges  *challengeStoreMock
	lockouts    *lockoutStoreMock
	signals     *signalStoreMock
	sender      *senderMock
	now         time.Time
}

func newMFAFixture(t *testing.T) *mfaFixture {
	t.Helper()

	envelope, err := security.NewEnvelope("test-key", bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	tokens, err := security.NewChallengeTokenIssuer("entativa-id-security-test", []byte("0123456789abcdef0123456789abcdef"), 10*time.Minute)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}

	f := &mfaFixture{
		enrollments: newEnrollmentRepoMock(),
		challenges:  newChallengeStoreMock(),
		lockouts:    newLockoutStoreMock(),
		signals:     newSignalStoreMock(),
		sender:      &senderMock{},
		now:         time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewMFAService(config.MFASettings{}, f.enrollments, f.challenges, f.lockouts, f.signals, f.sender, nil, envelope, tokens, nil)
	f.svc.WithClock(func() time.Time { return f.now })
	return f
}

func (f *mfaFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func TestEnrollAndVerifyDeliveredCode(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	setup, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{
		UserID:      "user-1",
		Method:      domain.MFAMethodSMS,
		Destination: "+14255550123",
	})
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	if setup.Status != domain.EnrollmentPendingSetup {
		t.Fatalf("status = %s, want pending_setup", setup.Status)
	}

	ticket, err := f.svc.IssueChallenge(ctx, "user-1", domain.MFAMethodSMS)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if ticket.Token == "" || ticket.ChallengeID == "" {
		t.Fatal("ticket missing token or challenge id")
	}
	code := f.sender.lastCode(t)
	if len(code) != deliveredCodeLength {
		t.Fatalf("delivered code length = %d, want %d", len(code), deliveredCodeLength)
	}

	// A wrong code consumes an attempt.
	result, err := f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodSMS, "000000")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if result.Outcome != OutcomeInvalidCode {
		t.Fatalf("outcome = %s, want invalid_code", result.Outcome)
	}
	if result.RemainingAttempts != defaultMaxAttempts-1 {
		t.Fatalf("remaining attempts = %d, want %d", result.RemainingAttempts, defaultMaxAttempts-1)
	}

	// The right code verifies and activates the pending enrollment.
	result, err = f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodSMS, code)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Fatalf("outcome = %s, want verified", result.Outcome)
	}

	enrollment, err := f.enrollments.Get(ctx, "user-1", domain.MFAMethodSMS)
	if err != nil {
		t.Fatalf("Get enrollment: %v", err)
	}
	if enrollment.Status != domain.EnrollmentActive {
		t.Fatalf("enrollment status = %s, want active after first success", enrollment.Status)
	}

	// The challenge is single-use.
	result, err = f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodSMS, code)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if result.Outcome != OutcomeNoChallenge {
		t.Fatalf("outcome = %s, want no_challenge after consumption", result.Outcome)
	}
}

func TestIssueChallengeReplacesLiveChallenge(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{
		UserID: "user-1", Method: domain.MFAMethodEmail, Destination: "user@example.com",
	}); err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}

	if _, err := f.svc.IssueChallenge(ctx, "user-1", domain.MFAMethodEmail); err != nil {
		t.Fatalf("first IssueChallenge: %v", err)
	}
	firstCode := f.sender.lastCode(t)

	if _, err := f.svc.IssueChallenge(ctx, "user-1", domain.MFAMethodEmail); err != nil {
		t.Fatalf("second IssueChallenge: %v", err)
	}
	secondCode := f.sender.lastCode(t)

	// The first code is dead once the slot is replaced; only the latest one
	// verifies.
	if firstCode != secondCode {
		result, err := f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodEmail, firstCode)
		if err != nil {
			t.Fatalf("VerifyCode: %v", err)
		}
		if result.Outcome != OutcomeInvalidCode {
			t.Fatalf("stale code outcome = %s, want invalid_code", result.Outcome)
		}
	}

	result, err := f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodEmail, secondCode)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Fatalf("latest code outcome = %s, want verified", result.Outcome)
	}
}

func TestVerifyCodeLockoutAfterExhaustedAttempts(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{
		UserID: "user-1", Method: domain.MFAMethodSMS, Destination: "+14255550123",
	}); err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	if _, err := f.svc.IssueChallenge(ctx, "user-1", domain.MFAMethodSMS); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	var result VerificationResult
	var err error
	for i := 0; i < defaultMaxAttempts; i++ {
		result, err = f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodSMS, "000000")
		if err != nil {
			t.Fatalf("VerifyCode attempt %d: %v", i+1, err)
		}
	}
	if result.Outcome != OutcomeLocked {
		t.Fatalf("outcome after %d failures = %s, want locked", defaultMaxAttempts, result.Outcome)
	}
	if result.RetryAfter != defaultLockoutDuration {
		t.Fatalf("retry after = %s, want %s", result.RetryAfter, defaultLockoutDuration)
	}

	// Still locked, and the lockout check consumes no attempt.
	result, err = f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodSMS, "000000")
	if err != nil {
		t.Fatalf("VerifyCode while locked: %v", err)
	}
	if result.Outcome != OutcomeLocked {
		t.Fatalf("outcome while locked = %s, want locked", result.Outcome)
	}

	// New challenges cannot be issued during the cool-down, and the refusal
	// is branchable by callers.
	if _, err := f.svc.IssueChallenge(ctx, "user-1", domain.MFAMethodSMS); !errors.Is(err, ErrVerificationLocked) {
		t.Fatalf("IssueChallenge during lockout = %v, want ErrVerificationLocked", err)
	}

	// The cool-down expires.
	f.advance(defaultLockoutDuration + time.Second)
	if _, err := f.svc.IssueChallenge(ctx, "user-1", domain.MFAMethodSMS); err != nil {
		t.Fatalf("IssueChallenge after cool-down: %v", err)
	}
}

func TestVerifyCodeExpiredChallenge(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{
		UserID: "user-1", Method: domain.MFAMethodSMS, Destination: "+14255550123",
	}); err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	if _, err := f.svc.IssueChallenge(ctx, "user-1", domain.MFAMethodSMS); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	code := f.sender.lastCode(t)

	f.advance(defaultChallengeTTL + time.Minute)

	result, err := f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodSMS, code)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if result.Outcome != OutcomeExpired {
		t.Fatalf("outcome = %s, want expired", result.Outcome)
	}

	// The expired challenge is discarded, not retried.
	result, err = f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodSMS, code)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if result.Outcome != OutcomeNoChallenge {
		t.Fatalf("outcome = %s, want no_challenge after expiry sweep", result.Outcome)
	}
}

func TestIssueChallengeDeliveryFailure(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{
		UserID: "user-1", Method: domain.MFAMethodSMS, Destination: "+14255550123",
	}); err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}

	f.sender.err = context.DeadlineExceeded
	if _, err := f.svc.IssueChallenge(ctx, "user-1", domain.MFAMethodSMS); err == nil {
		t.Fatal("IssueChallenge succeeded despite delivery failure")
	}

	// No orphaned challenge remains verifiable.
	result, err := f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodSMS, "000000")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if result.Outcome != OutcomeNoChallenge {
		t.Fatalf("outcome = %s, want no_challenge after failed delivery", result.Outcome)
	}
}

func TestIssueChallengeRequiresDeliverableMethod(t *testing.T) {
	f := newMFAFixture(t)

	if _, err := f.svc.IssueChallenge(context.Background(), "user-1", domain.MFAMethodTOTP); err != ErrMethodNotDeliverable {
		t.Fatalf("error = %v, want ErrMethodNotDeliverable", err)
	}
}

func TestVerifyTOTP(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	setup, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{UserID: "user-1", Method: domain.MFAMethodTOTP})
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	if setup.TOTPSecret == "" || setup.ProvisioningURI == "" {
		t.Fatal("totp setup missing secret or provisioning uri")
	}

	code, err := security.GenerateTOTP(setup.TOTPSecret, f.now)
	if err != nil {
		t.Fatalf("GenerateTOTP: %v", err)
	}

	result, err := f.svc.VerifyTOTP(ctx, "user-1", code)
	if err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Fatalf("outcome = %s, want verified", result.Outcome)
	}

	enrollment, err := f.enrollments.Get(ctx, "user-1", domain.MFAMethodTOTP)
	if err != nil {
		t.Fatalf("Get enrollment: %v", err)
	}
	if enrollment.Status != domain.EnrollmentActive {
		t.Fatalf("enrollment status = %s, want active after first success", enrollment.Status)
	}
}

func TestVerifyTOTPClockSkew(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	setup, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{UserID: "user-1", Method: domain.MFAMethodTOTP})
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}

	// A code from the previous step still verifies within the skew window.
	previous, err := security.GenerateTOTP(setup.TOTPSecret, f.now.Add(-30*time.Second))
	if err != nil {
		t.Fatalf("GenerateTOTP: %v", err)
	}
	result, err := f.svc.VerifyTOTP(ctx, "user-1", previous)
	if err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Fatalf("outcome for previous-step code = %s, want verified", result.Outcome)
	}

	// A code three steps old is outside the window.
	stale, err := security.GenerateTOTP(setup.TOTPSecret, f.now.Add(-90*time.Second))
	if err != nil {
		t.Fatalf("GenerateTOTP: %v", err)
	}
	result, err = f.svc.VerifyTOTP(ctx, "user-1", stale)
	if err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}
	if result.Outcome != OutcomeInvalidCode {
		t.Fatalf("outcome for stale code = %s, want invalid_code", result.Outcome)
	}
}

func TestVerifyTOTPNotEnrolled(t *testing.T) {
	f := newMFAFixture(t)

	result, err := f.svc.VerifyTOTP(context.Background(), "user-1", "123456")
	if err != nil {
		t.Fatalf("VerifyTOTP: %v", err)
	}
	if result.Outcome != OutcomeNotEnrolled {
		t.Fatalf("outcome = %s, want not_enrolled", result.Outcome)
	}
}

func TestVerifyBiometric(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	template := []float64{1, 0}
	if _, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{
		UserID:            "user-1",
		Method:            domain.MFAMethodBiometric,
		BiometricTemplate: template,
		TemplateQuality:   0.9,
	}); err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}

	// Exact match: strong pass, no supplementary factor required.
	result, err := f.svc.VerifyBiometric(ctx, "user-1", []float64{2, 0})
	if err != nil {
		t.Fatalf("VerifyBiometric: %v", err)
	}
	if result.Outcome != OutcomeVerified || result.SupplementaryFactor {
		t.Fatalf("exact match: outcome=%s supplementary=%v, want verified/strong", result.Outcome, result.SupplementaryFactor)
	}

	// Similarity ~0.90 clears the match threshold but not the strong band.
	result, err = f.svc.VerifyBiometric(ctx, "user-1", []float64{9, 4.359})
	if err != nil {
		t.Fatalf("VerifyBiometric: %v", err)
	}
	if result.Outcome != OutcomeVerified || !result.SupplementaryFactor {
		t.Fatalf("borderline match: outcome=%s supplementary=%v, want verified/supplementary", result.Outcome, result.SupplementaryFactor)
	}

	// Similarity ~0.71 fails and consumes an attempt.
	result, err = f.svc.VerifyBiometric(ctx, "user-1", []float64{1, 1})
	if err != nil {
		t.Fatalf("VerifyBiometric: %v", err)
	}
	if result.Outcome != OutcomeInvalidCode {
		t.Fatalf("weak match outcome = %s, want invalid_code", result.Outcome)
	}
}

func TestVerifyBiometricDimensionMismatch(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{
		UserID:            "user-1",
		Method:            domain.MFAMethodBiometric,
		BiometricTemplate: []float64{1, 0},
		TemplateQuality:   0.9,
	}); err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}

	if _, err := f.svc.VerifyBiometric(ctx, "user-1", []float64{1, 0, 0}); err == nil {
		t.Fatal("dimension mismatch did not error")
	}
}

func TestBiometricEnrollmentQualityFloor(t *testing.T) {
	f := newMFAFixture(t)

	_, err := f.svc.BeginEnrollment(context.Background(), EnrollmentRequest{
		UserID:            "user-1",
		Method:            domain.MFAMethodBiometric,
		BiometricTemplate: []float64{1, 0},
		TemplateQuality:   0.5,
	})
	if err != ErrTemplateQualityTooLow {
		t.Fatalf("error = %v, want ErrTemplateQualityTooLow", err)
	}
}

func TestBackupCodesSingleUse(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	setup, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{UserID: "user-1", Method: domain.MFAMethodBackupCode})
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	if setup.Status != domain.EnrollmentActive {
		t.Fatalf("backup code status = %s, want active immediately", setup.Status)
	}
	if len(setup.BackupCodes) != defaultBackupCodeCount {
		t.Fatalf("got %d backup codes, want %d", len(setup.BackupCodes), defaultBackupCodeCount)
	}

	code := setup.BackupCodes[0]
	result, err := f.svc.VerifyBackupCode(ctx, "user-1", code)
	if err != nil {
		t.Fatalf("VerifyBackupCode: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Fatalf("outcome = %s, want verified", result.Outcome)
	}
	if result.RemainingBackupCodes != defaultBackupCodeCount-1 {
		t.Fatalf("remaining = %d, want %d", result.RemainingBackupCodes, defaultBackupCodeCount-1)
	}

	// The consumed code never verifies again.
	result, err = f.svc.VerifyBackupCode(ctx, "user-1", code)
	if err != nil {
		t.Fatalf("VerifyBackupCode: %v", err)
	}
	if result.Outcome != OutcomeInvalidCode {
		t.Fatalf("reused code outcome = %s, want invalid_code", result.Outcome)
	}
}

func TestBackupCodeConcurrentRedemptionSingleWinner(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	setup, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{UserID: "user-1", Method: domain.MFAMethodBackupCode})
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	code := setup.BackupCodes[0]

	// Freeze reads at the pre-redemption state so both verifications scan a
	// pool where the code looks unconsumed, as two parallel requests would.
	stored := f.enrollments.byKey[enrollmentKey("user-1", domain.MFAMethodBackupCode)]
	snapshot := *stored
	snapshot.BackupCodes = append([]domain.BackupCode(nil), stored.BackupCodes...)
	f.enrollments.staleGet = &snapshot

	first, err := f.svc.VerifyBackupCode(ctx, "user-1", code)
	if err != nil {
		t.Fatalf("first VerifyBackupCode: %v", err)
	}
	if first.Outcome != OutcomeVerified {
		t.Fatalf("first outcome = %s, want verified", first.Outcome)
	}

	second, err := f.svc.VerifyBackupCode(ctx, "user-1", code)
	if err != nil {
		t.Fatalf("second VerifyBackupCode: %v", err)
	}
	if second.Outcome == OutcomeVerified {
		t.Fatal("single-use backup code verified twice")
	}
}

func TestRegenerateBackupCodesInvalidatesOldSet(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	setup, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{UserID: "user-1", Method: domain.MFAMethodBackupCode})
	if err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	oldCode := setup.BackupCodes[0]

	fresh, err := f.svc.RegenerateBackupCodes(ctx, "user-1")
	if err != nil {
		t.Fatalf("RegenerateBackupCodes: %v", err)
	}
	if len(fresh) != defaultBackupCodeCount {
		t.Fatalf("got %d fresh codes, want %d", len(fresh), defaultBackupCodeCount)
	}

	result, err := f.svc.VerifyBackupCode(ctx, "user-1", oldCode)
	if err != nil {
		t.Fatalf("VerifyBackupCode: %v", err)
	}
	if result.Outcome != OutcomeInvalidCode {
		t.Fatalf("old code outcome = %s, want invalid_code after regeneration", result.Outcome)
	}

	result, err = f.svc.VerifyBackupCode(ctx, "user-1", fresh[0])
	if err != nil {
		t.Fatalf("VerifyBackupCode: %v", err)
	}
	if result.Outcome != OutcomeVerified {
		t.Fatalf("fresh code outcome = %s, want verified", result.Outcome)
	}
}

func TestRegenerateBackupCodesEnrollsWhenMissing(t *testing.T) {
	f := newMFAFixture(t)

	codes, err := f.svc.RegenerateBackupCodes(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("RegenerateBackupCodes: %v", err)
	}
	if len(codes) != defaultBackupCodeCount {
		t.Fatalf("got %d codes, want %d", len(codes), defaultBackupCodeCount)
	}
}

func TestTOTPLockoutAfterRepeatedFailures(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{UserID: "user-1", Method: domain.MFAMethodTOTP}); err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}

	var result VerificationResult
	var err error
	for i := 0; i < defaultMaxAttempts; i++ {
		result, err = f.svc.VerifyTOTP(ctx, "user-1", "000000")
		if err != nil {
			t.Fatalf("VerifyTOTP attempt %d: %v", i+1, err)
		}
	}
	if result.Outcome != OutcomeLocked {
		t.Fatalf("outcome after %d failures = %s, want locked", defaultMaxAttempts, result.Outcome)
	}

	// The TOTP lockout is scoped per method: backup codes still work.
	setup, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{UserID: "user-1", Method: domain.MFAMethodBackupCode})
	if err != nil {
		t.Fatalf("BeginEnrollment backup: %v", err)
	}
	verify, err := f.svc.VerifyBackupCode(ctx, "user-1", setup.BackupCodes[0])
	if err != nil {
		t.Fatalf("VerifyBackupCode: %v", err)
	}
	if verify.Outcome != OutcomeVerified {
		t.Fatalf("backup code outcome during totp lockout = %s, want verified", verify.Outcome)
	}
}

func TestDisableMethod(t *testing.T) {
	f := newMFAFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BeginEnrollment(ctx, EnrollmentRequest{
		UserID: "user-1", Method: domain.MFAMethodSMS, Destination: "+14255550123",
	}); err != nil {
		t.Fatalf("BeginEnrollment: %v", err)
	}
	if _, err := f.svc.IssueChallenge(ctx, "user-1", domain.MFAMethodSMS); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	if err := f.svc.DisableMethod(ctx, "user-1", domain.MFAMethodSMS); err != nil {
		t.Fatalf("DisableMethod: %v", err)
	}

	// The enrollment is retained but unusable, and the live challenge is gone.
	enrollment, err := f.enrollments.Get(ctx, "user-1", domain.MFAMethodSMS)
	if err != nil {
		t.Fatalf("Get enrollment: %v", err)
	}
	if enrollment.Status != domain.EnrollmentDisabled {
		t.Fatalf("status = %s, want disabled", enrollment.Status)
	}

	result, err := f.svc.VerifyCode(ctx, "user-1", domain.MFAMethodSMS, "000000")
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if result.Outcome != OutcomeNotEnrolled {
		t.Fatalf("outcome = %s, want not_enrolled after disable", result.Outcome)
	}

	if err := f.svc.DisableMethod(ctx, "user-1", domain.MFAMethodPush); err != ErrNotEnrolled {
		t.Fatalf("error = %v, want ErrNotEnrolled for unknown method", err)
	}
}

func TestEnrollmentRequiresDestinationForDeliverableMethods(t *testing.T) {
	f := newMFAFixture(t)

	for _, method := range []domain.MFAMethod{domain.MFAMethodSMS, domain.MFAMethodEmail, domain.MFAMethodPush} {
		if _, err := f.svc.BeginEnrollment(context.Background(), EnrollmentRequest{UserID: "user-1", Method: method}); err != ErrDestinationRequired {
			t.Fatalf("method %s: error = %v, want ErrDestinationRequired", method, err)
		}
	}

	if _, err := f.svc.BeginEnrollment(context.Background(), EnrollmentRequest{UserID: "user-1", Method: domain.MFAMethod("carrier_pigeon")}); err != ErrMethodNotSupported {
		t.Fatalf("error = %v, want ErrMethodNotSupported", err)
	}
}
