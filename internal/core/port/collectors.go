package port

import (
	"context"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
)

// SignalCollector evaluates one class of risk evidence for an event. A
// collector returns zero or more factors with additive integer contributions.
// When its upstream dependency is unreachable it returns an error and the
// engine records it as unavailable instead of failing the assessment.
type SignalCollector interface {
	Name() string
	Collect(ctx context.Context, rc domain.RiskContext) ([]domain.RiskFactor, error)
}
