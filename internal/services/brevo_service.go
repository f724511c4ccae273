package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"forms-api/pkg/logging"

	brevo "github.com/getbrevo/brevo-go/lib"
	"github.com/google/uuid"
)

// Email is one outbound message handed to a Mailer
type Email struct {
	ToEmail     string
	ToName      string
	FromEmail   string
	FromName    string
	ReplyTo     string
	Subject     string
	HTMLContent string
	TextContent string
	Tags        []string
}

// Mailer sends transactional email and returns the provider's message id
type Mailer interface {
	Send(ctx context.Context, email Email) (string, error)
}

// BrevoService sends email through the Brevo transactional API
type BrevoService struct {
	client *brevo.APIClient
}

// NewBrevoService creates a new Brevo service instance
func NewBrevoService(apiKey string) *BrevoService {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	return &BrevoService{client: brevo.NewAPIClient(cfg)}
}

// Send sends email via Brevo API
func (s *BrevoService) Send(ctx context.Context, email Email) (string, error) {
	if email.ToEmail == "" {
		return "", errors.New("recipient is required")
	}

	req := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  email.FromName,
			Email: email.FromEmail,
		},
		To: []brevo.SendSmtpEmailTo{
			{Email: email.ToEmail, Name: email.ToName},
		},
		Subject:     email.Subject,
		HtmlContent: email.HTMLContent,
		TextContent: email.TextContent,
		Tags:        email.Tags,
	}
	if email.ReplyTo != "" {
		req.ReplyTo = &brevo.SendSmtpEmailReplyTo{Email: email.ReplyTo}
	}

	result, resp, err := s.client.TransactionalEmailsApi.SendTransacEmail(ctx, req)
	if err != nil {
		if resp != nil {
			return "", fmt.Errorf("brevo API error: status %d: %w", resp.StatusCode, err)
		}
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return result.MessageId, nil
}

// LogMailer writes emails to the log instead of sending them. It is used in
// development when no Brevo API key is configured.
type LogMailer struct{}

// Send logs the email and returns a synthetic message id
func (LogMailer) Send(ctx context.Context, email Email) (string, error) {
	id := "log-" + uuid.NewString()
	logging.Infof("Email not sent (no provider configured) - id: %s, to: %s, subject: %q", id, email.ToEmail, email.Subject)
	return id, nil
}
