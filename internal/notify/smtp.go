package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
)

type SMTPOptions struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLS is opportunistic, mandatory or none.
	TLS     string
	Timeout time.Duration
}

// SMTPMailer sends through one SMTP relay, dialing per message.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

func NewSMTP(opts SMTPOptions) (*SMTPMailer, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	policy := mail.TLSOpportunistic
	switch strings.ToLower(opts.TLS) {
	case "mandatory":
		policy = mail.TLSMandatory
	case "none":
		policy = mail.NoTLS
	}
	mopts := []mail.Option{mail.WithTLSPolicy(policy)}
	if opts.Port > 0 {
		mopts = append(mopts, mail.WithPort(opts.Port))
	}
	if opts.Timeout > 0 {
		mopts = append(mopts, mail.WithTimeout(opts.Timeout))
	}
	if opts.Username != "" {
		mopts = append(mopts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(opts.Username),
			mail.WithPassword(opts.Password))
	}
	client, err := mail.NewClient(opts.Host, mopts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: opts.From}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	return s.client.DialAndSendWithContext(ctx, m)
}

func (s *SMTPMailer) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return nil, fmt.Errorf("from %q: %w", s.from, err)
	}
	if msg.Name != "" {
		if err := m.AddToFormat(msg.Name, msg.To); err != nil {
			return nil, fmt.Errorf("to %q: %w", msg.To, err)
		}
	} else if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("to %q: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	return m, nil
}
