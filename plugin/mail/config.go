package mail

import (
	"strings"

	"github.com/pkg/errors"
)

// Config represents the SendGrid configuration for report delivery.
// The sender address must be verified with SendGrid by the operator.
type Config struct {
	APIKey    string
	FromEmail string
	FromName  string
	ToEmail   string
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return errors.New("SendGrid API key is required")
	}
	if c.FromEmail == "" {
		return errors.New("from email is required")
	}
	if !strings.Contains(c.FromEmail, "@") {
		return errors.Errorf("from email %q is not an email address", c.FromEmail)
	}
	if c.ToEmail == "" {
		return errors.New("recipient email is required")
	}
	if !strings.Contains(c.ToEmail, "@") {
		return errors.Errorf("recipient email %q is not an email address", c.ToEmail)
	}
	return nil
}
