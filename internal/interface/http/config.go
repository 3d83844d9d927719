package httpservice

import (
	"fmt"
	"time"
)

const (
	defaultRequestTimeout = 60 * time.Second
	minWebhookSecretLen   = 16
)

type Config struct {
	Port           uint32
	EnableMetrics  bool
	RequestTimeout time.Duration
	// WebhookSecret is shared with the messaging gateway, which signs every api request.
	WebhookSecret string
}

func (c Config) Validate() error {
	if c.Port == 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must not be negative")
	}
	if len(c.WebhookSecret) < minWebhookSecretLen {
		return fmt.Errorf("webhook secret must be at least %d chars long", minWebhookSecretLen)
	}
	return nil
}

func (c Config) address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) requestTimeout() time.Duration {
	if c.RequestTimeout == 0 {
		return defaultRequestTimeout
	}
	return c.RequestTimeout
}
