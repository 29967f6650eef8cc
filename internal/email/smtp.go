package email

import (
	"context"
	"fmt"
	"sync"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds relay settings. Defaults mirror a STARTTLS submission port.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// NoTLS disables STARTTLS; only for local relays such as MailHog.
	NoTLS bool
}

// SMTPSender sends messages through an SMTP relay.
type SMTPSender struct {
	mu       sync.Mutex
	client   *mail.Client
	from     string
	fromName string
}

// NewSMTPSender builds a client for cfg. It does not dial until the first Send.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("email: SMTP host and from address are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.NoTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
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
		return nil, fmt.Errorf("email: smtp client: %w", err)
	}
	return &SMTPSender{client: client, from: cfg.From, fromName: cfg.FromName}, nil
}

func (s *SMTPSender) build(msg Message) (*mail.Msg, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	m := mail.NewMsg()
	var err error
	if s.fromName != "" {
		err = m.FromFormat(s.fromName, s.from)
	} else {
		err = m.From(s.from)
	}
	if err != nil {
		return nil, fmt.Errorf("email: from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("email: to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

// Send dials the relay and delivers msg. Sends are serialized on the single client.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client.DialAndSendWithContext(ctx, m)
}
