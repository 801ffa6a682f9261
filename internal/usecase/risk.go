package usecase

import (
	"context"
	"errors"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
	"github.com/qisslab/entativa-id-security/internal/infra/config"
)

const defaultAssessmentCacheTTL = 5 * time.Minute

// ErrUnknownEventType is returned when the event type is not one the engine
// understands.
var ErrUnknownEventType = errors.New("unknown risk event type")

// RiskService aggregates heterogeneous signals into a single deterministic
// risk verdict. Collectors run in a fixed order; each contributes additive
// integer factors, and a collector whose upstream dependency is unreachable
// is recorded as unavailable instead of failing the assessment.
type RiskService struct {
	collectors []port.SignalCollector
	cache      port.AssessmentCache
	audit      port.AuditPublisher
	logger     *zap.Logger
	now        func() time.Time
	cacheTTL   time.Duration
}

// NewRiskService constructs a RiskService over an ordered collector set.
func NewRiskService(cfg config.RiskSettings, collectors []port.SignalCollector, cache port.AssessmentCache, audit port.AuditPublisher, logger *zap.Logger) *RiskService {
	if logger == nil {
		logger = zap.NewNop()
	}

	ttl := cfg.AssessmentCacheTTL
	if ttl <= 0 {
		ttl = defaultAssessmentCacheTTL
	}
	if ttl > time.Hour {
		ttl = time.Hour
	}

	return &RiskService{
		collectors: collectors,
		cache:      cache,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
		cacheTTL:   ttl,
	}
}

// WithClock overrides the internal clock, used in tests.
func (s *RiskService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Assess evaluates one event and always returns a verdict; degraded signals
// shrink the factor set, they never block the assessment.
func (s *RiskService) Assess(ctx context.Context, rc domain.RiskContext) (domain.RiskAssessment, error) {
	switch rc.EventType {
	case domain.RiskEventLogin, domain.RiskEventAccountCreation, domain.RiskEventTransaction:
	default:
		return domain.RiskAssessment{}, ErrUnknownEventType
	}

	if rc.OccurredAt.IsZero() {
		rc.OccurredAt = s.now().UTC()
	}

	if s.cache != nil && rc.UserID != "" {
		if cached, err := s.cache.Get(ctx, rc.UserID, rc.EventType); err == nil {
			return *cached, nil
		}
	}

	var factors []domain.RiskFactor
	var unavailable []string
	for _, collector := range s.collectors {
		collected, err := collector.Collect(ctx, rc)
		if err != nil {
			unavailable = append(unavailable, collector.Name())
			s.logger.Warn("signal collector unavailable",
				zap.String("collector", collector.Name()),
				zap.Error(err),
			)
			continue
		}
		factors = append(factors, collected...)
	}

	assessment := BuildAssessment(factors, unavailable, rc.OccurredAt)

	if s.cache != nil && rc.UserID != "" {
		if err := s.cache.Put(ctx, rc.UserID, rc.EventType, assessment, s.cacheTTL); err != nil {
			s.logger.Debug("assessment cache write failed", zap.Error(err))
		}
	}

	s.emitRiskAssessed(ctx, rc, assessment)

	return assessment, nil
}

// BuildAssessment derives the verdict purely from the factor list, so audits
// can reproduce the score from the factors alone.
func BuildAssessment(factors []domain.RiskFactor, unavailable []string, at time.Time) domain.RiskAssessment {
	sum := 0
	for _, factor := range factors {
		sum += factor.Score
	}

	score := domain.ClampScore(sum)
	level := domain.LevelForScore(score)

	return domain.RiskAssessment{
		Score:             score,
		Level:             level,
		Factors:           factors,
		RecommendedAction: domain.ActionForLevel(level),
		Confidence:        confidenceFor(factors),
		Unavailable:       unavailable,
		AssessedAt:        at.UTC(),
	}
}

// confidenceFor derives advisory confidence from factor count and average
// weight. It never participates in the allow/deny decision.
func confidenceFor(factors []domain.RiskFactor) float64 {
	if len(factors) == 0 {
		return 0.25
	}

	sum := 0
	for _, factor := range factors {
		sum += factor.Score
	}
	avg := float64(sum) / float64(len(factors))

	confidence := 0.2 + 0.1*float64(len(factors)) + avg/100
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func (s *RiskService) emitRiskAssessed(ctx context.Context, rc domain.RiskContext, assessment domain.RiskAssessment) {
	if s.audit == nil {
		return
	}

	names := make([]string, 0, len(assessment.Factors))
	for _, factor := range assessment.Factors {
		names = append(names, factor.Name)
	}

	event := domain.RiskAssessedEvent{
		EventID:           uuid.NewString(),
		UserID:            rc.UserID,
		EventType:         rc.EventType,
		Score:             assessment.Score,
		Level:             assessment.Level,
		RecommendedAction: assessment.RecommendedAction,
		FactorNames:       names,
		Confidence:        assessment.Confidence,
		Unavailable:       assessment.Unavailable,
		AssessedAt:        assessment.AssessedAt,
	}

	if err := s.audit.PublishRiskAssessed(ctx, event); err != nil {
		s.logger.Warn("publish risk assessed event failed", zap.Error(err))
	}
}
