package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/infra/config"
)

// Mock index and registry for handle testing

type protectedIndexMock struct {
	entities []domain.ProtectedEntity
	err      error
}

func (m *protectedIndexMock) LookupSimilar(_ context.Context, _ string) ([]domain.ProtectedEntity, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.entities, nil
}

type handleRegistryMock struct {
	taken map[string]struct{}
	err   error
}

func (m *handleRegistryMock) IsTaken(_ context.Context, handle string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.taken[handle]
	return ok, nil
}

func newTestHandleService(index *protectedIndexMock, registry *handleRegistryMock) *HandleService {
	if index == nil {
		index = &protectedIndexMock{}
	}
	if registry == nil {
		registry = &handleRegistryMock{}
	}
	svc := NewHandleService(config.HandleSettings{}, index, registry, nil, nil, nil)
	svc.WithClock(func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) })
	return svc
}

func TestValidateFormat(t *testing.T) {
	svc := newTestHandleService(nil, nil)

	cases := []struct {
		name   string
		handle string
		valid  bool
	}{
		{"simple", "alice", true},
		{"with digits", "alice99", true},
		{"with separator", "alice_doe", true},
		{"uppercase normalized", "AliceDoe", true},
		{"too short", "ab", false},
		{"too long", strings.Repeat("a", 31), false},
		{"leading separator", "_alice", false},
		{"trailing separator", "alice.", false},
		{"consecutive separators", "alice__doe", false},
		{"invalid rune", "alice!doe", false},
		{"whitespace inside", "alice doe", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict, err := svc.Validate(context.Background(), tc.handle)
			if err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			if verdict.Valid != tc.valid {
				t.Fatalf("handle %q: valid = %v, want %v (errors: %v)", tc.handle, verdict.Valid, tc.valid, verdict.Errors)
			}
			if !tc.valid && len(verdict.Errors) == 0 {
				t.Fatalf("invalid handle %q carried no errors", tc.handle)
			}
		})
	}
}

func TestValidateNormalizesDiacritics(t *testing.T) {
	svc := newTestHandleService(nil, nil)

	verdict, err := svc.Validate(context.Background(), "  Çafé  ")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if verdict.Handle != "cafe" {
		t.Fatalf("normalized handle = %q, want %q", verdict.Handle, "cafe")
	}
}

func TestValidateReservedHandle(t *testing.T) {
	svc := newTestHandleService(nil, nil)

	for _, handle := range []string{"admin", "entativa", "support"} {
		verdict, err := svc.Validate(context.Background(), handle)
		if err != nil {
			t.Fatalf("Validate(%q) returned error: %v", handle, err)
		}
		if verdict.Valid || verdict.Available {
			t.Fatalf("reserved handle %q: valid=%v available=%v, want both false", handle, verdict.Valid, verdict.Available)
		}
	}
}

func TestValidateProhibitedContent(t *testing.T) {
	svc := newTestHandleService(nil, nil)

	verdict, err := svc.Validate(context.Background(), "shitpost")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if verdict.Valid {
		t.Fatal("handle containing prohibited content passed validation")
	}
}

func TestProtectionMatcher(t *testing.T) {
	index := &protectedIndexMock{entities: []domain.ProtectedEntity{
		{
			ID:                  "pe-1",
			Category:            domain.ProtectionWellKnownFigure,
			CanonicalHandle:     "elonmusk",
			AlternateHandles:    []string{"elonrmusk"},
			SimilarityThreshold: 0.85,
		},
	}}
	svc := newTestHandleService(index, nil)

	cases := []struct {
		handle  string
		blocked bool
	}{
		{"elonmusk", true},
		{"elonmusk2024", true},
		{"elonmusk_", false}, // trailing separator fails format before matching
		{"sunflower", false},
	}

	for _, tc := range cases {
		verdict, err := svc.Validate(context.Background(), tc.handle)
		if err != nil {
			t.Fatalf("Validate(%q) returned error: %v", tc.handle, err)
		}
		blocked := verdict.MatchedProtection != nil
		if blocked != tc.blocked {
			t.Fatalf("handle %q: protection matched = %v, want %v", tc.handle, blocked, tc.blocked)
		}
		if blocked && verdict.Available {
			t.Fatalf("handle %q matched protection but stayed available", tc.handle)
		}
	}
}

func TestProtectionIndexFailsClosed(t *testing.T) {
	index := &protectedIndexMock{err: errors.New("connection refused")}
	svc := newTestHandleService(index, nil)

	if _, err := svc.Validate(context.Background(), "anything"); !errors.Is(err, ErrProtectionIndexUnavailable) {
		t.Fatalf("error = %v, want ErrProtectionIndexUnavailable", err)
	}
}

func TestRegistryFailsClosed(t *testing.T) {
	registry := &handleRegistryMock{err: errors.New("connection refused")}
	svc := newTestHandleService(nil, registry)

	if _, err := svc.Validate(context.Background(), "anything"); !errors.Is(err, ErrHandleRegistryUnavailable) {
		t.Fatalf("error = %v, want ErrHandleRegistryUnavailable", err)
	}
}

func TestSuggestionsForTakenHandle(t *testing.T) {
	registry := &handleRegistryMock{taken: map[string]struct{}{"sunflower": {}}}
	svc := newTestHandleService(nil, registry)

	verdict, err := svc.Validate(context.Background(), "sunflower")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if verdict.Available {
		t.Fatal("taken handle reported available")
	}
	if len(verdict.Suggestions) == 0 {
		t.Fatal("no suggestions generated for a taken handle")
	}
	if len(verdict.Suggestions) > 5 {
		t.Fatalf("got %d suggestions, want at most 5", len(verdict.Suggestions))
	}

	// Every suggestion must itself be valid and available.
	for _, suggestion := range verdict.Suggestions {
		if suggestion == "sunflower" {
			t.Fatal("suggestions contained the original handle")
		}
		check, err := svc.Validate(context.Background(), suggestion)
		if err != nil {
			t.Fatalf("validating suggestion %q: %v", suggestion, err)
		}
		if !check.Valid || !check.Available {
			t.Fatalf("suggestion %q is not usable: valid=%v available=%v", suggestion, check.Valid, check.Available)
		}
	}
}

func TestSuggestionsAvoidProtectedNames(t *testing.T) {
	index := &protectedIndexMock{entities: []domain.ProtectedEntity{
		{
			ID:                  "pe-1",
			Category:            domain.ProtectionCompany,
			CanonicalHandle:     "sunflower",
			SimilarityThreshold: 0.6,
		},
	}}
	registry := &handleRegistryMock{taken: map[string]struct{}{"sunflower": {}}}
	svc := newTestHandleService(index, registry)

	verdict, err := svc.Validate(context.Background(), "sunflower")
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	// The handle is protected, so it is not eligible for suggestions at all.
	if verdict.MatchedProtection == nil {
		t.Fatal("expected a protection match")
	}

	for _, suggestion := range verdict.Suggestions {
		check, err := svc.Validate(context.Background(), suggestion)
		if err != nil {
			t.Fatalf("validating suggestion %q: %v", suggestion, err)
		}
		if check.MatchedProtection != nil {
			t.Fatalf("suggestion %q re-triggers protection", suggestion)
		}
	}
}

func TestQualityScoreBounds(t *testing.T) {
	handles := []string{
		"alice",
		"xzqwrtk",
		"a1b2c3d4e5",
		"the_official_music",
		"x.y-z_a.b-c_d.e",
		strings.Repeat("a", 30),
	}

	for _, handle := range handles {
		score, _ := scoreQuality(handle)
		if score < 0 || score > 100 {
			t.Fatalf("scoreQuality(%q) = %d, out of [0,100]", handle, score)
		}
	}
}

func TestQualityScorePreferences(t *testing.T) {
	readable, _ := scoreQuality("sunflower")
	noisy, _ := scoreQuality("x9z2q8w1")
	if readable <= noisy {
		t.Fatalf("readable handle scored %d, noisy scored %d; want readable higher", readable, noisy)
	}

	_, warnings := scoreQuality("strngth")
	if len(warnings) == 0 {
		t.Fatal("expected a pronounceability warning for a long consonant run")
	}
}

func TestTrigramSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		min  float64
		max  float64
	}{
		{"elonmusk", "elonmusk", 1.0, 1.0},
		{"elonmusk", "elonmosk", 0.4, 0.9},
		{"elonmusk", "sunflower", 0.0, 0.2},
		{"", "elonmusk", 0.0, 0.0},
	}

	for _, tc := range cases {
		sim := trigramSimilarity(tc.a, tc.b)
		if sim < tc.min || sim > tc.max {
			t.Fatalf("trigramSimilarity(%q, %q) = %.3f, want within [%.2f, %.2f]", tc.a, tc.b, sim, tc.min, tc.max)
		}
	}
}

func TestStripDecorations(t *testing.T) {
	cases := map[string]string{
		"elonmusk2024": "elonmusk",
		"elonmusk_":    "elonmusk",
		"el0nmusk":     "el0nmusk",
		"2024":         "",
	}

	for in, want := range cases {
		if got := stripDecorations(in); got != want {
			t.Fatalf("stripDecorations(%q) = %q, want %q", in, got, want)
		}
	}
}
