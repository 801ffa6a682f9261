package security

import (
	"errors"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// ErrChallengeTokenInvalid is returned for malformed, forged or expired
// challenge tokens.
var ErrChallengeTokenInvalid = errors.New("challenge token invalid")

// ChallengeClaims binds a challenge to its user and method so a stateless API
// tier can correlate a verification attempt without server-side lookup.
type ChallengeClaims struct {
	ChallengeID string `json:"cid"`
	Method      string `json:"mth"`
	jwt.RegisteredClaims
}

// ChallengeTokenIssuer signs and parses short-lived HS256 challenge tokens.
type ChallengeTokenIssuer struct {
	issuer string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewChallengeTokenIssuer constructs an issuer over a shared signing secret.
func NewChallengeTokenIssuer(issuer string, secret []byte, ttl time.Duration) (*ChallengeTokenIssuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("challenge token secret is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &ChallengeTokenIssuer{issuer: issuer, secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for the given challenge.
func (i *ChallengeTokenIssuer) Issue(userID, challengeID, method string) (string, error) {
	now := i.now().UTC()
	claims := ChallengeClaims{
		ChallengeID: challengeID,
		Method:      method,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign challenge token: %w", err)
	}
	return signed, nil
}

// Parse validates a token and returns its claims.
func (i *ChallengeTokenIssuer) Parse(raw string) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer), jwt.WithTimeFunc(func() time.Time { return i.now() }))
	if err != nil || !token.Valid {
		return nil, ErrChallengeTokenInvalid
	}
	return claims, nil
}

// WithClock overrides the internal clock, used in tests.
func (i *ChallengeTokenIssuer) WithClock(clock func() time.Time) {
	if clock != nil {
		i.now = clock
	}
}
