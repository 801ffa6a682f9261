package domain

// ProtectionCategory classifies why a handle space is defended.
type ProtectionCategory string

const (
	ProtectionWellKnownFigure ProtectionCategory = "well_known_figure"
	ProtectionCompany         ProtectionCategory = "company"
	ProtectionReserved        ProtectionCategory = "reserved"
)

// ProtectedEntity is an immutable reference record for a defended handle space.
// Records are loaded from the protected-entity index and never mutated here.
type ProtectedEntity struct {
	ID                  string
	Category            ProtectionCategory
	CanonicalHandle     string
	AlternateHandles    []string
	SimilarityThreshold float64
}

// HandleVerdict is the result of validating a single handle candidate.
// Errors and Warnings carry human-readable reasons; the quality score and
// matched protection record are for audit/ops consumption.
type HandleVerdict struct {
	Handle            string
	Valid             bool
	Available         bool
	Errors            []string
	Warnings          []string
	Suggestions       []string
	QualityScore      int
	MatchedProtection *ProtectedEntity
}
