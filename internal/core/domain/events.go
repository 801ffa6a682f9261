package domain

import "time"

// HandleCheckedEvent represents the payload for id.handle.checked messages.
type HandleCheckedEvent struct {
	EventID         string
	Handle          string
	Valid           bool
	Available       bool
	QualityScore    int
	MatchedCategory *ProtectionCategory
	CheckedAt       time.Time
	Metadata        map[string]any
}

// RiskAssessedEvent represents the payload for id.risk.assessed messages.
type RiskAssessedEvent struct {
	EventID           string
	UserID            string
	EventType         RiskEventType
	Score             int
	Level             RiskLevel
	RecommendedAction RecommendedAction
	FactorNames       []string
	Confidence        float64
	Unavailable       []string
	AssessedAt        time.Time
	Metadata          map[string]any
}

// ChallengeIssuedEvent represents the payload for id.mfa.challenge.issued messages.
type ChallengeIssuedEvent struct {
	EventID           string
	ChallengeID       string
	UserID            string
	Method            MFAMethod
	MaskedDestination string
	IssuedAt          time.Time
	ExpiresAt         time.Time
	Metadata          map[string]any
}

// ChallengeVerifiedEvent represents the payload for id.mfa.challenge.verified messages.
type ChallengeVerifiedEvent struct {
	EventID             string
	ChallengeID         string
	UserID              string
	Method              MFAMethod
	VerifiedAt          time.Time
	SupplementaryFactor bool
	Metadata            map[string]any
}

// ChallengeFailedEvent represents the payload for id.mfa.challenge.failed messages.
type ChallengeFailedEvent struct {
	EventID      string
	ChallengeID  string
	UserID       string
	Method       MFAMethod
	AttemptCount int
	Reason       string
	FailedAt     time.Time
	Metadata     map[string]any
}

// LockoutTriggeredEvent represents the payload for id.mfa.lockout.triggered messages.
type LockoutTriggeredEvent struct {
	EventID     string
	Subject     string
	Scope       string
	Reason      string
	LockedUntil time.Time
	TriggeredAt time.Time
	Metadata    map[string]any
}

// EnrollmentChangedEvent represents the payload for id.mfa.enrollment.changed messages.
type EnrollmentChangedEvent struct {
	EventID   string
	UserID    string
	Method    MFAMethod
	Status    EnrollmentStatus
	ChangedAt time.Time
	Metadata  map[string]any
}
