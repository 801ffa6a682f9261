package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
	"github.com/qisslab/entativa-id-security/internal/infra/config"
)

const (
	handleMinLength = 3
	handleMaxLength = 30

	defaultSuggestionLimit  = 5
	defaultSuggestionBudget = 50
	defaultVerdictCacheTTL  = 10 * time.Minute

	defaultAliasSlack      = 0.07
	defaultReservedCeiling = 0.60
)

var (
	// ErrProtectionIndexUnavailable indicates the protected-entity index could
	// not be reached. The matcher fails closed in that case.
	ErrProtectionIndexUnavailable = errors.New("protected entity index unavailable")
	// ErrHandleRegistryUnavailable indicates the claimed-handle registry could
	// not be reached. The matcher fails closed in that case.
	ErrHandleRegistryUnavailable = errors.New("handle registry unavailable")
)

// Handles must start and end with an alphanumeric and may contain single
// separators in between.
var handleFormatPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,28}[a-z0-9]$`)

// System-reserved handles rejected outright, no availability check performed.
var reservedHandles = map[string]struct{}{
	"admin": {}, "administrator": {}, "root": {}, "system": {}, "support": {},
	"help": {}, "api": {}, "www": {}, "mail": {}, "security": {}, "moderator": {},
	"official": {}, "staff": {}, "team": {}, "auth": {}, "login": {}, "signup": {},
	"register": {}, "settings": {}, "about": {}, "legal": {}, "privacy": {},
	"terms": {}, "verify": {}, "verified": {}, "billing": {}, "payments": {},
	"entativa": {}, "sonet": {}, "gala": {}, "pika": {}, "playpods": {},
}

// Curated disallowed substrings. Matched against the normalized candidate.
var prohibitedPatterns = []string{
	"fuck", "shit", "bitch", "cunt", "nigger", "faggot", "nazi", "hitler",
	"rapist", "pedo", "childporn",
}

// HandleService is the handle protection matcher: format validation,
// reserved-list and prohibited-content checks, fuzzy protection matching,
// quality scoring and suggestion generation.
type HandleService struct {
	index    port.ProtectedEntityIndex
	registry port.HandleRegistry
	cache    port.VerdictCache
	audit    port.AuditPublisher
	logger   *zap.Logger
	now      func() time.Time

	cacheTTL         time.Duration
	suggestionLimit  int
	suggestionBudget int
	aliasSlack       float64
	reservedCeiling  float64
}

// NewHandleService constructs a HandleService.
func NewHandleService(cfg config.HandleSettings, index port.ProtectedEntityIndex, registry port.HandleRegistry, cache port.VerdictCache, audit port.AuditPublisher, logger *zap.Logger) *HandleService {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &HandleService{
		index:            index,
		registry:         registry,
		cache:            cache,
		audit:            audit,
		logger:           logger,
		now:              time.Now,
		cacheTTL:         cfg.VerdictCacheTTL,
		suggestionLimit:  cfg.SuggestionLimit,
		suggestionBudget: cfg.SuggestionBudget,
		aliasSlack:       cfg.AliasThresholdSlack,
		reservedCeiling:  cfg.ReservedThresholdCeiling,
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultVerdictCacheTTL
	}
	if s.suggestionLimit <= 0 {
		s.suggestionLimit = defaultSuggestionLimit
	}
	if s.suggestionBudget <= 0 {
		s.suggestionBudget = defaultSuggestionBudget
	}
	if s.aliasSlack <= 0 {
		s.aliasSlack = defaultAliasSlack
	}
	if s.reservedCeiling <= 0 {
		s.reservedCeiling = defaultReservedCeiling
	}

	return s
}

// WithClock overrides the internal clock, used in tests.
func (s *HandleService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Validate runs the full matching pipeline for one handle candidate. Policy
// outcomes (invalid format, protected, taken) are carried in the verdict;
// only dependency failures surface as errors, and those fail closed.
func (s *HandleService) Validate(ctx context.Context, raw string) (domain.HandleVerdict, error) {
	normalized := normalizeHandle(raw)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, normalized); err == nil {
			return *cached, nil
		}
	}

	verdict, err := s.evaluate(ctx, normalized)
	if err != nil {
		return domain.HandleVerdict{}, err
	}

	if verdict.Valid && !verdict.Available {
		verdict.Suggestions = s.generateSuggestions(ctx, normalized)
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, normalized, verdict, s.cacheTTL); err != nil {
			s.logger.Debug("verdict cache write failed", zap.Error(err))
		}
	}

	s.emitHandleChecked(ctx, verdict)

	return verdict, nil
}

// evaluate runs steps 1-6 of the pipeline: everything except suggestion
// generation, caching and audit. Suggestion filtering reuses it directly.
func (s *HandleService) evaluate(ctx context.Context, normalized string) (domain.HandleVerdict, error) {
	verdict := domain.HandleVerdict{Handle: normalized, Valid: true, Available: true}

	verdict.Errors = checkFormat(normalized)
	if len(verdict.Errors) > 0 {
		verdict.Valid = false
		verdict.Available = false
		verdict.QualityScore, _ = scoreQuality(normalized)
		return verdict, nil
	}

	if _, reserved := reservedHandles[normalized]; reserved {
		verdict.Valid = false
		verdict.Available = false
		verdict.Errors = append(verdict.Errors, "this handle is reserved by the system")
		verdict.QualityScore, _ = scoreQuality(normalized)
		return verdict, nil
	}

	for _, pattern := range prohibitedPatterns {
		if strings.Contains(normalized, pattern) {
			verdict.Valid = false
			verdict.Available = false
			verdict.Errors = append(verdict.Errors, "handle contains prohibited content")
			verdict.QualityScore, _ = scoreQuality(normalized)
			return verdict, nil
		}
	}

	matched, err := s.matchProtection(ctx, normalized)
	if err != nil {
		return domain.HandleVerdict{}, err
	}
	if matched != nil {
		verdict.Available = false
		verdict.MatchedProtection = matched
		verdict.Warnings = append(verdict.Warnings, "this handle is too similar to a protected name")
	}

	if verdict.Available {
		taken, err := s.registry.IsTaken(ctx, normalized)
		if err != nil {
			return domain.HandleVerdict{}, fmt.Errorf("%w: %v", ErrHandleRegistryUnavailable, err)
		}
		if taken {
			verdict.Available = false
			verdict.Warnings = append(verdict.Warnings, "this handle is already taken")
		}
	}

	score, qualityWarnings := scoreQuality(normalized)
	verdict.QualityScore = score
	verdict.Warnings = append(verdict.Warnings, qualityWarnings...)

	return verdict, nil
}

// matchProtection similarity-checks the candidate against every protected
// entity, returning the strongest match that crosses its threshold.
func (s *HandleService) matchProtection(ctx context.Context, normalized string) (*domain.ProtectedEntity, error) {
	entities, err := s.index.LookupSimilar(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtectionIndexUnavailable, err)
	}

	stripped := stripDecorations(normalized)

	var best *domain.ProtectedEntity
	bestMargin := 0.0
	for i := range entities {
		entity := entities[i]

		canonicalThreshold := entity.SimilarityThreshold
		if entity.Category == domain.ProtectionReserved && canonicalThreshold > s.reservedCeiling {
			canonicalThreshold = s.reservedCeiling
		}
		aliasThreshold := canonicalThreshold + s.aliasSlack
		if aliasThreshold > 1 {
			aliasThreshold = 1
		}

		sim := candidateSimilarity(normalized, stripped, normalizeHandle(entity.CanonicalHandle))
		margin := sim - canonicalThreshold

		for _, alias := range entity.AlternateHandles {
			aliasSim := candidateSimilarity(normalized, stripped, normalizeHandle(alias))
			if m := aliasSim - aliasThreshold; m > margin {
				margin = m
			}
		}

		if margin >= 0 && (best == nil || margin > bestMargin) {
			best = &entities[i]
			bestMargin = margin
		}
	}

	return best, nil
}

func candidateSimilarity(normalized, stripped, target string) float64 {
	sim := trigramSimilarity(normalized, target)
	if stripped != "" && stripped != normalized {
		if s := trigramSimilarity(stripped, target); s > sim {
			sim = s
		}
	}
	return sim
}

func checkFormat(normalized string) []string {
	var errs []string

	if len(normalized) < handleMinLength || len(normalized) > handleMaxLength {
		errs = append(errs, fmt.Sprintf("handle must be between %d and %d characters", handleMinLength, handleMaxLength))
		return errs
	}

	if !handleFormatPattern.MatchString(normalized) {
		errs = append(errs, "handle may only contain letters, digits, '.', '_' or '-', and must start and end with a letter or digit")
		return errs
	}

	for i := 0; i+1 < len(normalized); i++ {
		if isSeparator(normalized[i]) && isSeparator(normalized[i+1]) {
			errs = append(errs, "handle may not contain consecutive special characters")
			break
		}
	}

	return errs
}

func isSeparator(c byte) bool {
	return c == '.' || c == '_' || c == '-'
}

func (s *HandleService) emitHandleChecked(ctx context.Context, verdict domain.HandleVerdict) {
	if s.audit == nil {
		return
	}

	event := domain.HandleCheckedEvent{
		EventID:      uuid.NewString(),
		Handle:       verdict.Handle,
		Valid:        verdict.Valid,
		Available:    verdict.Available,
		QualityScore: verdict.QualityScore,
		CheckedAt:    s.now().UTC(),
	}
	if verdict.MatchedProtection != nil {
		category := verdict.MatchedProtection.Category
		event.MatchedCategory = &category
	}

	if err := s.audit.PublishHandleChecked(ctx, event); err != nil {
		s.logger.Warn("publish handle checked event failed", zap.Error(err))
	}
}
