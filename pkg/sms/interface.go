package sms

import (
	"context"
	"fmt"

	"guardian/internal/config"
)

type SMSProvider interface {
	SendSMS(ctx context.Context, request *SMSRequest) (*SMSResponse, error)
}

type SMSRequest struct {
	To      string `json:"to"`
	From    string `json:"from"`
	Message string `json:"message"`
	Type    string `json:"type"` // transactional, promotional, emergency
}

type SMSResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// New builds the provider selected by cfg.Provider. It returns nil, nil when
// SMS delivery is disabled.
func New(ctx context.Context, cfg *config.SMSConfig) (SMSProvider, error) {
	switch cfg.Provider {
	case "none", "":
		return nil, nil
	case "twilio":
		if cfg.Twilio.AccountSID == "" || cfg.Twilio.AuthToken == "" {
			return nil, fmt.Errorf("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN are required for the twilio sms provider")
		}
		return NewTwilioProvider(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, cfg.Twilio.FromNumber), nil
	case "aws", "sns":
		return NewAWSSNSProvider(ctx, cfg.AWS.Region, cfg.DefaultFrom)
	default:
		return nil, fmt.Errorf("unsupported sms provider: %s", cfg.Provider)
	}
}
