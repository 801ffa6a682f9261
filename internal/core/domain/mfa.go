package domain

import "time"

// MFAMethod enumerates the supported second-factor types.
type MFAMethod string

const (
	MFAMethodTOTP       MFAMethod = "totp"
	MFAMethodSMS        MFAMethod = "sms"
	MFAMethodEmail      MFAMethod = "email"
	MFAMethodPush       MFAMethod = "push"
	MFAMethodBiometric  MFAMethod = "biometric"
	MFAMethodBackupCode MFAMethod = "backup_code"
)

// EnrollmentStatus tracks the lifecycle of one (user, method) enrollment.
// Disabled is terminal and reached only via explicit removal; enrollments are
// never hard-deleted.
type EnrollmentStatus string

const (
	EnrollmentUnenrolled   EnrollmentStatus = "unenrolled"
	EnrollmentPendingSetup EnrollmentStatus = "pending_setup"
	EnrollmentActive       EnrollmentStatus = "active"
	EnrollmentDisabled     EnrollmentStatus = "disabled"
)

// ChallengeStatus tracks the lifecycle of one issued challenge. A challenge
// transitions exactly once from Issued to a terminal status.
type ChallengeStatus string

const (
	ChallengeIssued   ChallengeStatus = "issued"
	ChallengeVerified ChallengeStatus = "verified"
	ChallengeFailed   ChallengeStatus = "failed"
	ChallengeExpired  ChallengeStatus = "expired"
)

// EncryptedSecret is an envelope-encrypted payload. The data key that sealed
// Ciphertext is stored wrapped by a master key identified by KeyID; the master
// key itself is never persisted alongside the record.
type EncryptedSecret struct {
	KeyID      string
	WrappedKey []byte
	Nonce      []byte
	Ciphertext []byte
}

// BackupCode is a single-use fallback credential. Only the Argon2id hash is
// retained; ConsumedAt is set on first successful use.
type BackupCode struct {
	Hash       string     `json:"hash"`
	CreatedAt  time.Time  `json:"created_at"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
}

// MFAEnrollment mirrors the persisted representation of one (user, method)
// factor registration.
type MFAEnrollment struct {
	ID              string
	UserID          string
	Method          MFAMethod
	Status          EnrollmentStatus
	Secret          *EncryptedSecret
	Destination     string
	BackupCodes     []BackupCode
	TemplateQuality float64
	UsageCount      int
	CreatedAt       time.Time
	ActivatedAt     *time.Time
	LastUsedAt      *time.Time
	DisabledAt      *time.Time
}

// IsUsable reports whether the enrollment may satisfy a verification.
func (e *MFAEnrollment) IsUsable() bool {
	return e != nil && (e.Status == EnrollmentActive || e.Status == EnrollmentPendingSetup)
}

// MFAChallenge is an ephemeral, TTL-bound second-factor challenge. Comparand
// holds a derived hash of the delivered code, never the raw code.
type MFAChallenge struct {
	ID           string
	UserID       string
	Method       MFAMethod
	Comparand    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	AttemptCount int
	MaxAttempts  int
	Status       ChallengeStatus
}

// LockoutState describes an active verification cool-down for one
// (subject, scope) pair.
type LockoutState struct {
	Subject     string
	Scope       string
	Reason      string
	Attempts    int
	LockedUntil time.Time
}

// Remaining returns the cool-down left at the given instant.
func (l *LockoutState) Remaining(now time.Time) time.Duration {
	if l == nil || !now.Before(l.LockedUntil) {
		return 0
	}
	return l.LockedUntil.Sub(now)
}
