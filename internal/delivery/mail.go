// Package delivery sends finished batches to people: email, a phone call that
// plays the audio, and Telegram replies.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/vocabcast/internal/vocab"
	"github.com/jhillyerd/enmime"
	"go.uber.org/zap"
)

const (
	defaultSMTPHost = "smtp.gmail.com"
	defaultSMTPPort = 587
	defaultFromName = "Daily Vocabulary"
)

var (
	// ErrDisabled reports a collaborator that was not configured.
	ErrDisabled = errors.New("delivery: collaborator disabled")
	// ErrNoRecipients reports a mailer without recipients.
	ErrNoRecipients = errors.New("delivery: at least one recipient is required")
)

// Mailer emails the word list with a link to the document.
type Mailer interface {
	Deliver(ctx context.Context, words []vocab.Entry, pdfURL string, subject string) error
}

// Subject is the mail subject for a batch sent at t, e.g. "Your Daily Vocabulary - May 14".
func Subject(t time.Time) string {
	return "Your Daily Vocabulary - " + t.Format("Jan 02")
}

// SMTPConfig describes the mail account.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	FromName   string
	Recipients []string
	Logger     *zap.Logger
}

// SMTPMailer builds multipart mail with enmime and sends it over SMTP.
type SMTPMailer struct {
	sender     enmime.Sender
	from       string
	fromName   string
	recipients []string
	logger     *zap.Logger
}

// NewSMTPMailer connects to Host:Port with PLAIN auth.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	host := cfg.Host
	if host == "" {
		host = defaultSMTPHost
	}
	port := cfg.Port
	if port == 0 {
		port = defaultSMTPPort
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	sender := enmime.NewSMTP(fmt.Sprintf("%s:%d", host, port), auth)
	return NewMailerWithSender(sender, cfg)
}

// NewMailerWithSender wires an existing enmime.Sender.
func NewMailerWithSender(sender enmime.Sender, cfg SMTPConfig) (*SMTPMailer, error) {
	if len(cfg.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	if from == "" {
		return nil, errors.New("delivery: sender address is required")
	}
	fromName := cfg.FromName
	if fromName == "" {
		fromName = defaultFromName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPMailer{
		sender:     sender,
		from:       from,
		fromName:   fromName,
		recipients: append([]string(nil), cfg.Recipients...),
		logger:     logger,
	}, nil
}

// Deliver sends one message to every recipient.
func (m *SMTPMailer) Deliver(ctx context.Context, words []vocab.Entry, pdfURL string, subject string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	builder := enmime.Builder().
		From(m.fromName, m.from).
		Subject(subject).
		HTML([]byte(MailHTML(words, pdfURL))).
		Text([]byte(MailText(words, pdfURL)))
	for _, recipient := range m.recipients {
		builder = builder.To("", recipient)
	}

	// net/smtp takes no context, so the send runs aside and Deliver returns when
	// ctx ends. An abandoned send may still complete.
	sent := make(chan error, 1)
	go func() {
		sent <- builder.Send(m.sender)
	}()
	select {
	case <-ctx.Done():
		m.logger.Warn("mail delivery abandoned", zap.String("subject", subject), zap.Error(ctx.Err()))
		return fmt.Errorf("delivery: send mail: %w", ctx.Err())
	case err := <-sent:
		if err != nil {
			m.logger.Error("mail delivery failed", zap.String("subject", subject), zap.Error(err))
			return fmt.Errorf("delivery: send mail: %w", err)
		}
	}
	m.logger.Info("mail delivered",
		zap.String("subject", subject),
		zap.Int("recipients", len(m.recipients)),
		zap.Int("words", len(words)))
	return nil
}

// MailHTML renders the HTML body.
func MailHTML(words []vocab.Entry, pdfURL string) string {
	var body strings.Builder
	body.WriteString("<h2>Today's Vocabulary</h2><ul>")
	for _, entry := range words {
		fmt.Fprintf(&body, "<li><b>%s</b>: %s</li>", html.EscapeString(entry.Word), html.EscapeString(entry.Meaning))
	}
	body.WriteString("</ul>")
	if pdfURL != "" {
		fmt.Fprintf(&body, `<p><a href="%s">Download today's PDF</a></p>`, html.EscapeString(pdfURL))
	}
	body.WriteString("<p>Happy learning!</p>")
	return body.String()
}

// MailText renders the plain-text alternative.
func MailText(words []vocab.Entry, pdfURL string) string {
	var body strings.Builder
	body.WriteString("Today's Vocabulary\n\n")
	for _, entry := range words {
		fmt.Fprintf(&body, "- %s: %s\n", entry.Word, entry.Meaning)
	}
	if pdfURL != "" {
		fmt.Fprintf(&body, "\nPDF: %s\n", pdfURL)
	}
	body.WriteString("\nHappy learning!\n")
	return body.String()
}

// DisabledMailer stands in when no mail account is configured.
type DisabledMailer struct {
	Logger *zap.Logger
}

// Deliver logs and reports ErrDisabled.
func (d DisabledMailer) Deliver(ctx context.Context, words []vocab.Entry, pdfURL string, subject string) error {
	if d.Logger != nil {
		d.Logger.Info("mail delivery skipped: mailer disabled", zap.String("subject", subject))
	}
	return fmt.Errorf("mail: %w", ErrDisabled)
}
