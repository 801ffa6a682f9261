package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
)

// LoadMasterKey decodes the configured base64 master key. In non-production
// environments an empty configuration falls back to an ephemeral key so the
// service can run without secrets provisioned; sealed records then do not
// survive a restart.
func LoadMasterKey(env, encoded string, logger *zap.Logger) ([]byte, error) {
	if encoded != "" {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode master key: %w", err)
		}
		if len(key) != dataKeyLength {
			return nil, fmt.Errorf("master key must be %d bytes, got %d", dataKeyLength, len(key))
		}
		return key, nil
	}

	if env == "production" {
		return nil, fmt.Errorf("master key is required in production")
	}

	key := make([]byte, dataKeyLength)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate ephemeral master key: %w", err)
	}
	logger.Warn("no master key configured, using ephemeral key; sealed secrets will not survive restart")

	return key, nil
}
