package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"go.uber.org/zap"

	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/config"
	"github.com/AnthonyGillesRudolfo/agent-checkout/internal/purchase"
)

type Sender interface {
	Send(to, subject, htmlBody string) error
}

type SMTPSender struct {
	host string
	port string
	from string
	auth smtp.Auth // nil for local dev (MailHog)
}

func NewSMTPSender(cfg config.EmailConfig) *SMTPSender {
	s := &SMTPSender{host: cfg.SMTPHost, port: cfg.SMTPPort, from: cfg.From}
	if cfg.SMTPUser != "" {
		s.auth = smtp.PlainAuth("", cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return s
}

func (s *SMTPSender) Send(to, subject, htmlBody string) error {
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	msg := buildRFC822(s.from, to, subject, htmlBody)
	if err := smtp.SendMail(addr, s.auth, s.from, []string{to}, msg); err != nil {
		return fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return nil
}

func buildRFC822(from, to, subject, html string) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&buf, "\r\n%s\r\n", html)
	return buf.Bytes()
}

// Pick returns the SMTP sender when a host is configured, else the log sender.
func Pick(cfg config.EmailConfig, log *zap.Logger) Sender {
	if cfg.SMTPHost != "" {
		return NewSMTPSender(cfg)
	}
	return LogSender{Log: log}
}

var completedTpl = template.Must(template.New("completed").Parse(`
<h2>Your purchase went through</h2>
<p>Purchase ID: <b>{{.PurchaseID}}</b></p>
<p>Merchant: {{.Merchant}}</p>
<p>Total: <b>USD {{.Total.StringFixed 2}}</b></p>
`))

var failedTpl = template.Must(template.New("failed").Parse(`
<h2>We could not complete your purchase</h2>
<p>Purchase ID: <b>{{.PurchaseID}}</b></p>
<p>Merchant: {{.Merchant}}</p>
<p>Total: USD {{.Total.StringFixed 2}}</p>
<p>Reason: {{.Error}}</p>
`))

// Render returns the subject and body for a terminal status event. ok is
// false for non-terminal statuses, which get no email.
func Render(evt purchase.StatusChanged) (subject, body string, ok bool) {
	var tpl *template.Template
	switch evt.Status {
	case purchase.StatusCompleted:
		tpl, subject = completedTpl, "Your purchase is complete"
	case purchase.StatusFailed:
		tpl, subject = failedTpl, "Your purchase could not be completed"
	default:
		return "", "", false
	}
	var buf bytes.Buffer
	_ = tpl.Execute(&buf, evt)
	return subject, buf.String(), true
}

// LogSender writes emails to the log instead of sending them (dev without SMTP).
type LogSender struct{ Log *zap.Logger }

func (s LogSender) Send(to, subject, htmlBody string) error {
	log := s.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("email", zap.String("to", to), zap.String("subject", subject), zap.String("body", htmlBody))
	return nil
}
