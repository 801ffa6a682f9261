package domain

import "time"

// RiskEventType enumerates the event classes the scoring engine understands.
type RiskEventType string

const (
	RiskEventLogin           RiskEventType = "login"
	RiskEventAccountCreation RiskEventType = "account_creation"
	RiskEventTransaction     RiskEventType = "transaction"
)

// RiskLevel buckets an aggregate score into an actionable tier.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelCritical RiskLevel = "critical"
)

// RecommendedAction is the engine's advice to the caller for a given level.
type RecommendedAction string

const (
	ActionAllow               RecommendedAction = "allow"
	ActionAdditionalFactor    RecommendedAction = "require_additional_verification"
	ActionManualReview        RecommendedAction = "require_manual_review"
	ActionBlockAndInvestigate RecommendedAction = "block_and_flag_for_investigation"
)

// RiskFactor is one discrete, weighted piece of evidence. Contributions are
// additive integers, not probabilities, so a score is reproducible from the
// factor list alone.
type RiskFactor struct {
	Name     string
	Score    int
	Evidence string
}

// RiskContext carries the raw signals for a single event under assessment.
type RiskContext struct {
	UserID                string
	EventType             RiskEventType
	IP                    string
	UserAgent             string
	DeviceFingerprint     string
	Email                 string
	PhoneNumber           string
	TimezoneOffsetMinutes int
	OccurredAt            time.Time
}

// RiskAssessment is the immutable verdict for one event.
// Score is always clamp(sum(factor scores), 0, 100); Unavailable lists the
// collectors whose upstream dependency could not be reached.
type RiskAssessment struct {
	Score             int
	Level             RiskLevel
	Factors           []RiskFactor
	RecommendedAction RecommendedAction
	Confidence        float64
	Unavailable       []string
	AssessedAt        time.Time
}

// LevelForScore maps an aggregate score to its risk level.
func LevelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskLevelCritical
	case score >= 60:
		return RiskLevelHigh
	case score >= 30:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// ActionForLevel maps a risk level to the recommended caller action.
func ActionForLevel(level RiskLevel) RecommendedAction {
	switch level {
	case RiskLevelCritical:
		return ActionBlockAndInvestigate
	case RiskLevelHigh:
		return ActionManualReview
	case RiskLevelMedium:
		return ActionAdditionalFactor
	default:
		return ActionAllow
	}
}

// ClampScore bounds an aggregate contribution sum to the [0,100] range.
func ClampScore(sum int) int {
	if sum < 0 {
		return 0
	}
	if sum > 100 {
		return 100
	}
	return sum
}
