package fulfillment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/imrishuroy/bookstore-orderflow/internal/aws"
)

// Email is a rendered message ready to send.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers transactional email.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// SESMailer sends through Amazon SES.
type SESMailer struct {
	client aws.SESAPI
	from   string
}

func NewSESMailer(client aws.SESAPI, from string) *SESMailer {
	return &SESMailer{client: client, from: from}
}

func (m *SESMailer) Send(ctx context.Context, msg Email) error {
	charset := "UTF-8"
	body := &sestypes.Body{}
	if msg.HTML != "" {
		body.Html = &sestypes.Content{Data: &msg.HTML, Charset: &charset}
	}
	if msg.Text != "" {
		body.Text = &sestypes.Content{Data: &msg.Text, Charset: &charset}
	}

	_, err := m.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: &m.from,
		Destination:      &sestypes.Destination{ToAddresses: []string{msg.To}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: &msg.Subject, Charset: &charset},
				Body:    body,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// LogMailer only logs messages. Used for local runs without SES.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Email) error {
	m.logger.InfoContext(ctx, "email not sent (log mailer)", "to", msg.To, "subject", msg.Subject)
	return nil
}
