package mail

import (
	"context"
	"crypto/tls"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/telekom/email-dispatcher/pkg/config"
	"github.com/telekom/email-dispatcher/pkg/metrics"
)

// Sender delivers a single plain-text message. Send blocks until the
// transport accepted or refused the message; failures are returned as
// *TransportError.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
	GetHost() string
}

// SMTPSender sends through an SMTP relay using gomail.
type SMTPSender struct {
	dialer        *gomail.Dialer
	senderAddress string
	senderName    string
	log           *zap.SugaredLogger
}

func NewSMTPSender(cfg config.Mail, log *zap.SugaredLogger) *SMTPSender {
	log = log.Named("smtp-sender")
	log.Infow("Initializing SMTP sender", "host", cfg.Host, "port", cfg.Port, "user", cfg.User)
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	if cfg.InsecureSkipVerify {
		log.Warn("InsecureSkipVerify is enabled for mail TLS connection")
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- explicit opt-in via config
	}
	// Determine sender address and name, use sensible defaults when missing
	senderAddr := cfg.SenderAddress
	if senderAddr == "" {
		senderAddr = "noreply@example.com"
	}
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = "Email Dispatcher"
	}

	return &SMTPSender{
		dialer:        d,
		senderAddress: senderAddr,
		senderName:    senderName,
		log:           log,
	}
}

// Send dials the relay once. There is no retry here; failed deliveries are
// picked up by the retry sweep. gomail has no context support, so ctx is
// only checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, recipient, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return s.fail(Classify(err))
	}

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", s.senderAddress, s.senderName)
	msg.SetHeader("To", recipient)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := s.dialer.DialAndSend(msg); err != nil {
		return s.fail(Classify(err))
	}
	s.log.Debugw("Mail sent", "recipient", recipient, "subject", subject)
	metrics.MailSendSuccess.WithLabelValues(s.GetHost()).Inc()
	return nil
}

func (s *SMTPSender) fail(te *TransportError) error {
	s.log.Warnw("Mail send failed", "host", s.GetHost(), "kind", te.Kind, "error", te.Message)
	metrics.MailSendFailure.WithLabelValues(s.GetHost(), string(te.Kind)).Inc()
	return te
}

func (s *SMTPSender) GetHost() string {
	return s.dialer.Host
}

func (s *SMTPSender) GetPort() int {
	return s.dialer.Port
}

// NewSender builds the sender selected by cfg.Transport.
func NewSender(ctx context.Context, cfg config.Mail, log *zap.SugaredLogger) (Sender, error) {
	if cfg.Transport == config.TransportSES {
		return ConnectSES(ctx, cfg, log)
	}
	return NewSMTPSender(cfg, log), nil
}
