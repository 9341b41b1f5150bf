package notify

import (
	"context"
	"fmt"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	"clinic-finder-server/internal/logging"
)

const defaultFromName = "Clinic Finder"

// SenderConfig selects and configures the outbound mail transport.
type SenderConfig struct {
	Transport string // sendgrid, ses or stub
	APIKey    string
	FromEmail string
	FromName  string
	Region    string
}

// NewSender builds the EmailSender for cfg.Transport.
func NewSender(ctx context.Context, cfg SenderConfig, logger *logging.Logger) (EmailSender, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport)) {
	case "", "stub":
		return NewStubEmailSender(logger), nil
	case "sendgrid":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("notify: SENDGRID_API_KEY is required for the sendgrid transport")
		}
		return NewSendGridSender(SendGridConfig{
			APIKey:    cfg.APIKey,
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
		}, logger), nil
	case "ses":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("notify: load aws config: %w", err)
		}
		return NewSESSender(sesv2.NewFromConfig(awsCfg), SESConfig{
			FromEmail: cfg.FromEmail,
			FromName:  cfg.FromName,
		}, logger), nil
	default:
		return nil, fmt.Errorf("notify: unknown mail transport %q", cfg.Transport)
	}
}
