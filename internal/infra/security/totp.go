package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// TOTPPeriod is the RFC 6238 time step.
	TOTPPeriod = 30 * time.Second
	// TOTPDigits is the length of generated codes.
	TOTPDigits = 6

	totpSecretBytes = 20
)

// ErrMissingSecret is returned when the shared secret is empty.
var ErrMissingSecret = fmt.Errorf("totp secret is required")

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// NewTOTPSecret generates a random shared secret, base32-encoded for
// authenticator provisioning.
func NewTOTPSecret() (string, error) {
	buf := make([]byte, totpSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return b32.EncodeToString(buf), nil
}

// GenerateTOTP derives the code for the time step containing at.
func GenerateTOTP(secret string, at time.Time) (string, error) {
	return generateAtStep(secret, stepFor(at, 0))
}

// ValidateTOTP reports whether code matches the shared secret at the time step
// containing at, or any step within ±skewSteps to tolerate clock drift. All
// candidate comparisons run to completion so timing does not reveal which
// step matched.
func ValidateTOTP(secret, code string, at time.Time, skewSteps int) (bool, error) {
	if strings.TrimSpace(secret) == "" {
		return false, ErrMissingSecret
	}
	if len(code) != TOTPDigits {
		return false, nil
	}
	if skewSteps < 0 {
		skewSteps = 0
	}

	matched := false
	for offset := -skewSteps; offset <= skewSteps; offset++ {
		candidate, err := generateAtStep(secret, stepFor(at, offset))
		if err != nil {
			return false, err
		}
		if ConstantTimeEquals(candidate, code) {
			matched = true
		}
	}

	return matched, nil
}

// ProvisioningURI builds the otpauth:// URI consumed by authenticator apps.
func ProvisioningURI(issuer, account, secret string) string {
	label := url.PathEscape(fmt.Sprintf("%s:%s", issuer, account))
	q := url.Values{}
	q.Set("secret", secret)
	q.Set("issuer", issuer)
	q.Set("digits", fmt.Sprintf("%d", TOTPDigits))
	q.Set("period", fmt.Sprintf("%d", int(TOTPPeriod.Seconds())))
	return fmt.Sprintf("otpauth://totp/%s?%s", label, q.Encode())
}

func stepFor(at time.Time, offset int) uint64 {
	step := at.Unix() / int64(TOTPPeriod.Seconds())
	return uint64(step + int64(offset))
}

func generateAtStep(secret string, counter uint64) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", ErrMissingSecret
	}

	key, err := b32.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], counter)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	// RFC 4226 dynamic truncation.
	offset := sum[len(sum)-1] & 0x0f
	binCode := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff

	mod := uint32(1)
	for i := 0; i < TOTPDigits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", TOTPDigits, binCode%mod), nil
}
