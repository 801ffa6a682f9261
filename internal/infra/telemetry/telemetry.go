package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/qisslab/entativa-id-security/internal/infra/config"
)

// Provider represents a telemetry provider handle.
type Provider struct {
	handleChecks    *prometheus.CounterVec
	riskAssessments *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	lockouts        *prometheus.CounterVec
}

// Attach configures telemetry exporters and returns a provider handle.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	return &Provider{
		handleChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "id_security",
			Name:      "handle_checks_total",
			Help:      "Handle validations by outcome",
		}, []string{"outcome"}),
		riskAssessments: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "id_security",
			Name:      "risk_assessments_total",
			Help:      "Risk assessments by event type and level",
		}, []string{"event_type", "level"}),
		verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "id_security",
			Name:      "mfa_verifications_total",
			Help:      "MFA verification attempts by method and result",
		}, []string{"method", "result"}),
		lockouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "id_security",
			Name:      "mfa_lockouts_total",
			Help:      "Verification lockouts by scope",
		}, []string{"scope"}),
	}, nil
}

// RecordHandleCheck counts one handle validation by outcome
// (valid, invalid, unavailable, protected).
func (p *Provider) RecordHandleCheck(outcome string) {
	if p == nil {
		return
	}
	p.handleChecks.WithLabelValues(outcome).Inc()
}

// RecordRiskAssessment counts one assessment by event type and level.
func (p *Provider) RecordRiskAssessment(eventType, level string) {
	if p == nil {
		return
	}
	p.riskAssessments.WithLabelValues(eventType, level).Inc()
}

// RecordVerification counts one MFA verification attempt.
func (p *Provider) RecordVerification(method, result string) {
	if p == nil {
		return
	}
	p.verifications.WithLabelValues(method, result).Inc()
}

// RecordLockout counts one triggered lockout.
func (p *Provider) RecordLockout(scope string) {
	if p == nil {
		return
	}
	p.lockouts.WithLabelValues(scope).Inc()
}
