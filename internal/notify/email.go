package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
)

// EmailConfig configures the SMTP reminder channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type mailDialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// EmailSender sends reminder emails over SMTP.
type EmailSender struct {
	dialer mailDialer
	from   string
}

// NewEmailSender creates the SMTP reminder channel.
func NewEmailSender(cfg EmailConfig) (*EmailSender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}

	opts := []mail.Option{
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	}
	if cfg.Port > 0 {
		opts = append(opts, mail.WithPort(cfg.Port))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return &EmailSender{dialer: client, from: cfg.From}, nil
}

// SendReminder sends one reminder email.
func (s *EmailSender) SendReminder(ctx context.Context, address string, content Content) error {
	if address == "" {
		return fmt.Errorf("recipient address is required")
	}

	msg := mail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.To(address); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(content.Subject())
	msg.SetBodyString(mail.TypeTextPlain, content.Body())

	if err := s.dialer.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send reminder email: %w", err)
	}
	return nil
}
