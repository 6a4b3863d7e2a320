package notifier

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/origami/internal/models"
)

// SMTP transport security modes.
const (
	TLSImplicit = "implicit" // SMTPS, usually port 465
	TLSStartTLS = "starttls" // upgrade required, usually port 587
	TLSNone     = "none"     // plain connection, local relays only
)

// EmailConfig holds SMTP configuration.
type EmailConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"` // optional
	Password string        `yaml:"password"` // optional
	From     string        `yaml:"from"`
	TLS      string        `yaml:"tls"`     // implicit, starttls or none; empty picks by port
	Timeout  time.Duration `yaml:"timeout"` // dial timeout, default 30s
}

// Validate validates the email configuration.
func (c *EmailConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	if _, err := mail.ParseAddress(c.From); err != nil {
		return fmt.Errorf("invalid from address: %w", err)
	}
	switch c.TLS {
	case "", TLSImplicit, TLSStartTLS, TLSNone:
	default:
		return fmt.Errorf("unknown tls mode %q", c.TLS)
	}
	return nil
}

func (c *EmailConfig) tlsMode() string {
	if c.TLS != "" {
		return c.TLS
	}
	if c.Port == 465 {
		return TLSImplicit
	}
	return TLSStartTLS
}

// EmailNotifier sends alerts to the email address of each contact.
type EmailNotifier struct {
	config    EmailConfig
	from      *mail.Address
	templates *Templates
	now       func() time.Time
}

// NewEmailNotifier creates a new email notifier.
func NewEmailNotifier(config EmailConfig) (*EmailNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid email config: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	from, _ := mail.ParseAddress(config.From)

	templates, err := LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	return &EmailNotifier{
		config:    config,
		from:      from,
		templates: templates,
		now:       time.Now,
	}, nil
}

// Channel returns the email channel.
func (e *EmailNotifier) Channel() models.Channel {
	return models.ChannelEmail
}

// Send mails the alert to the contact.
func (e *EmailNotifier) Send(ctx context.Context, contact models.Contact, alert models.Alert) error {
	raw := contact.AddressFor(models.ChannelEmail)
	if raw == "" {
		return fmt.Errorf("%w: %s has no email", ErrNoAddress, contact.ID)
	}
	rcpt, err := mail.ParseAddress(raw)
	if err != nil {
		return fmt.Errorf("contact %s: invalid email %q: %w", contact.ID, raw, err)
	}

	data := AlertToTemplateData(contact, alert)
	htmlBody, err := e.templates.RenderHTML(data)
	if err != nil {
		return fmt.Errorf("failed to render HTML template: %w", err)
	}
	plainBody, err := e.templates.RenderPlain(data)
	if err != nil {
		return fmt.Errorf("failed to render plain template: %w", err)
	}

	subject := fmt.Sprintf("[%s] %s: %s", alert.Severity, alert.Category, alert.SubjectID)
	msg, err := e.compose(rcpt, subject, alert, plainBody, htmlBody)
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}
	return e.deliver(ctx, rcpt.Address, msg)
}

// Close is a no-op; a connection is opened per message.
func (e *EmailNotifier) Close() error {
	return nil
}

// compose builds a multipart/alternative message with quoted-printable parts.
func (e *EmailNotifier) compose(to *mail.Address, subject string, alert models.Alert, plainBody, htmlBody string) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ contentType, text string }{
		{"text/plain; charset=UTF-8", plainBody},
		{"text/html; charset=UTF-8", htmlBody},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(pw)
		if _, err := qp.Write([]byte(part.text)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&msg, "%s: %s\r\n", k, v) }
	header("From", e.from.String())
	header("To", to.String())
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", e.now().Format(time.RFC1123Z))
	header("Message-ID", "<"+uuid.NewString()+"@"+e.config.Host+">")
	header("X-Origami-Alert-ID", alert.ID)
	header("X-Origami-Domain", alert.DomainID)
	if alert.Severity.Urgent() {
		header("X-Priority", "1")
		header("Importance", "high")
	}
	header("MIME-Version", "1.0")
	header("Content-Type", `multipart/alternative; boundary="`+mw.Boundary()+`"`)
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// deliver runs one SMTP transaction bounded by ctx.
func (e *EmailNotifier) deliver(ctx context.Context, rcpt string, msg []byte) error {
	client, err := e.dial(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if e.config.Username != "" && e.config.Password != "" {
		auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(e.from.Address); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(rcpt); err != nil {
		return fmt.Errorf("failed to add recipient %s: %w", rcpt, err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data: %w", err)
	}
	return client.Quit()
}

func (e *EmailNotifier) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(e.config.Host, strconv.Itoa(e.config.Port))
	tlsConfig := &tls.Config{ServerName: e.config.Host, MinVersion: tls.VersionTLS12}
	nd := &net.Dialer{Timeout: e.config.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if e.config.tlsMode() == TLSImplicit {
		conn, err = (&tls.Dialer{NetDialer: nd, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}
	// smtp.Client has no context support; the deadline bounds the whole session.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, e.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if e.config.tlsMode() == TLSStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			client.Close()
			return nil, fmt.Errorf("server does not offer STARTTLS")
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}
	return client, nil
}
