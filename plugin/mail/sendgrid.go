// Package mail delivers research reports over the SendGrid v3 API.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const sendEndpoint = "https://api.sendgrid.com/v3/mail/send"

// timeout is the timeout for one delivery request.
var timeout = 30 * time.Second

// Client sends mail through SendGrid. It implements the workflow's mail
// transport contract.
type Client struct {
	config   Config
	client   *http.Client
	endpoint string
	markdown goldmark.Markdown
}

// NewClient creates a SendGrid client from a validated config.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid mail config")
	}
	return &Client{
		config:   config,
		client:   &http.Client{Timeout: timeout},
		endpoint: sendEndpoint,
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}, nil
}

// SendGrid v3 mail/send request shapes.
type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
	Headers          map[string]string `json:"headers,omitempty"`
}

// Send renders the markdown report to HTML and posts it to SendGrid.
func (c *Client) Send(ctx context.Context, subject, markdown string) error {
	var html bytes.Buffer
	if err := c.markdown.Convert([]byte(markdown), &html); err != nil {
		return errors.Wrap(err, "failed to render report to HTML")
	}

	payload := sendRequest{
		Personalizations: []personalization{
			{To: []address{{Email: c.config.ToEmail}}},
		},
		From:    address{Email: c.config.FromEmail, Name: c.config.FromName},
		Subject: subject,
		Content: []mailContent{{Type: "text/html", Value: html.String()}},
		// Unique per send so mail clients do not thread successive reports.
		Headers: map[string]string{"X-Entity-Ref-ID": uuid.NewString()},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal mail request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return errors.Wrap(err, "failed to construct mail request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to post mail request")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return errors.Errorf("mail send rejected, status code: %d, response body: %s", resp.StatusCode, b)
	}
	return nil
}
