// Package notify delivers one-time codes. The logging sender stands in for
// the SMS/email gateway in development; raw destinations are masked before
// they reach log output.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/qisslab/entativa-id-security/internal/core/domain"
	"github.com/qisslab/entativa-id-security/internal/core/port"
	"github.com/qisslab/entativa-id-security/internal/infra/logger"
)

// LoggingSender writes delivery intents to the log instead of a gateway.
type LoggingSender struct {
	logger *zap.Logger
}

// NewLoggingSender constructs a development-friendly sender.
func NewLoggingSender(log *zap.Logger) *LoggingSender {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggingSender{logger: log}
}

func (s *LoggingSender) SendCode(_ context.Context, destination, code string, method domain.MFAMethod) error {
	masked := logger.MaskString(destination)
	switch method {
	case domain.MFAMethodSMS:
		masked = logger.MaskPhone(destination)
	case domain.MFAMethodEmail:
		masked = logger.MaskEmail(destination)
	}

	s.logger.Info("one-time code delivery",
		zap.String("method", string(method)),
		zap.String("destination", masked),
		zap.Int("code_length", len(code)),
	)
	return nil
}

var _ port.NotificationSender = (*LoggingSender)(nil)
