package clients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// Email is a single outbound HTML message
type Email struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
}

// Mailer delivers transactional email
type Mailer interface {
	Send(ctx context.Context, email *Email) error
}

// Sender identifies the From header of outbound mail
type Sender struct {
	Address string
	Name    string
}

func (e *Email) validate() error {
	if strings.TrimSpace(e.To) == "" {
		return errors.New("recipient address is empty")
	}
	if e.HTMLBody == "" {
		return errors.New("email body is empty")
	}
	return nil
}

// SMTPMailer submits mail to an SMTP relay
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   Sender
	logger *logrus.Entry
}

// NewSMTPMailer creates a mailer for host:port with optional credentials
func NewSMTPMailer(host string, port int, username, password string, from Sender, logger *logrus.Logger) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
		logger: logger.WithField("component", "smtp-mailer"),
	}
}

// Send opens a connection, submits the message and closes it
func (m *SMTPMailer) Send(ctx context.Context, email *Email) error {
	if err := email.validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.from.Address, m.from.Name)
	if email.ToName != "" {
		msg.SetAddressHeader("To", email.To, email.ToName)
	} else {
		msg.SetHeader("To", email.To)
	}
	msg.SetHeader("Subject", email.Subject)
	if email.TextBody != "" {
		msg.SetBody("text/plain", email.TextBody)
		msg.AddAlternative("text/html", email.HTMLBody)
	} else {
		msg.SetBody("text/html", email.HTMLBody)
	}

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}

	m.logger.WithField("subject", email.Subject).Debug("Mail submitted")
	return nil
}

// SendGridMailer delivers mail through the SendGrid v3 API
type SendGridMailer struct {
	client *sendgrid.Client
	from   Sender
	logger *logrus.Entry
}

// NewSendGridMailer creates a SendGrid-backed mailer
func NewSendGridMailer(apiKey string, from Sender, logger *logrus.Logger) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   from,
		logger: logger.WithField("component", "sendgrid-mailer"),
	}
}

// Send posts the message to SendGrid
func (m *SendGridMailer) Send(ctx context.Context, email *Email) error {
	if err := email.validate(); err != nil {
		return err
	}

	message := sgmail.NewSingleEmail(
		sgmail.NewEmail(m.from.Name, m.from.Address),
		email.Subject,
		sgmail.NewEmail(email.ToName, email.To),
		email.TextBody,
		email.HTMLBody,
	)

	response, err := m.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send error: %w", err)
	}
	if response.StatusCode >= 400 {
		m.logger.WithField("status", response.StatusCode).Warn("SendGrid rejected message")
		return fmt.Errorf("sendgrid send failed: status=%d, body=%s", response.StatusCode, truncate(response.Body, 512))
	}
	return nil
}
