package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	red "github.com/redis/go-redis/v9"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
	"github.com/qisslab/entativa-id-security/internal/repository"
)

const (
	defaultVerdictPrefix    = "handle:verdict"
	defaultAssessmentPrefix = "risk:assessment"
)

// VerdictCache is a TTL cache of handle verdicts keyed by normalized handle.
type VerdictCache struct {
	client *red.Client
	prefix string
}

// NewVerdictCache constructs a verdict cache with the provided key prefix.
func NewVerdictCache(client *red.Client, keyPrefix string) *VerdictCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultVerdictPrefix
	}
	return &VerdictCache{client: client, prefix: prefix}
}

// Get returns the cached verdict, or repository.ErrNotFound on a miss.
func (c *VerdictCache) Get(ctx context.Context, normalizedHandle string) (*domain.HandleVerdict, error) {
	raw, err := c.client.Get(ctx, fmt.Sprintf("%s:%s", c.prefix, normalizedHandle)).Result()
	if errors.Is(err, red.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get verdict: %w", err)
	}

	var verdict domain.HandleVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, fmt.Errorf("unmarshal verdict: %w", err)
	}
	return &verdict, nil
}

// Put stores the verdict under the normalized handle with the provided TTL.
func (c *VerdictCache) Put(ctx context.Context, normalizedHandle string, verdict domain.HandleVerdict, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	payload, err := json.Marshal(verdict)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}

	if err := c.client.Set(ctx, fmt.Sprintf("%s:%s", c.prefix, normalizedHandle), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set verdict: %w", err)
	}
	return nil
}

// AssessmentCache briefly caches risk assessments keyed by subject and event
// type.
type AssessmentCache struct {
	client *red.Client
	prefix string
}

// NewAssessmentCache constructs an assessment cache with the provided key
// prefix.
func NewAssessmentCache(client *red.Client, keyPrefix string) *AssessmentCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultAssessmentPrefix
	}
	return &AssessmentCache{client: client, prefix: prefix}
}

// Get returns the cached assessment, or repository.ErrNotFound on a miss.
func (c *AssessmentCache) Get(ctx context.Context, userID string, eventType domain.RiskEventType) (*domain.RiskAssessment, error) {
	raw, err := c.client.Get(ctx, c.key(userID, eventType)).Result()
	if errors.Is(err, red.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get assessment: %w", err)
	}

	var assessment domain.RiskAssessment
	if err := json.Unmarshal([]byte(raw), &assessment); err != nil {
		return nil, fmt.Errorf("unmarshal assessment: %w", err)
	}
	return &assessment, nil
}

// Put stores the assessment with the provided TTL.
func (c *AssessmentCache) Put(ctx context.Context, userID string, eventType domain.RiskEventType, assessment domain.RiskAssessment, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}

	payload, err := json.Marshal(assessment)
	if err != nil {
		return fmt.Errorf("marshal assessment: %w", err)
	}

	if err := c.client.Set(ctx, c.key(userID, eventType), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set assessment: %w", err)
	}
	return nil
}

func (c *AssessmentCache) key(userID string, eventType domain.RiskEventType) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, userID, eventType)
}

var (
	_ port.VerdictCache    = (*VerdictCache)(nil)
	_ port.AssessmentCache = (*AssessmentCache)(nil)
)
