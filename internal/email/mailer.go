package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/http"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/taskflow/internal/metrics"
)

const (
	ProviderSMTP     = "smtp"
	ProviderSendGrid = "sendgrid"

	defaultSMTPPort  = "587"
	defaultFromName  = "TaskFlow Notifications"
	sendGridEndpoint = "https://api.sendgrid.com/v3/mail/send"
)

// Config holds the outgoing mail settings.
type Config struct {
	Provider    string // "smtp" or "sendgrid"
	SMTPHost    string
	SMTPPort    string
	SMTPUser    string
	SMTPPass    string
	SMTPFrom    string // falls back to SMTPUser
	SendGridKey string
	FromName    string
}

// Configured reports whether c carries enough to actually send mail.
func (c Config) Configured() bool {
	switch c.Provider {
	case ProviderSendGrid:
		return c.SendGridKey != ""
	default:
		return c.SMTPHost != "" && c.SMTPUser != "" && c.SMTPPass != ""
	}
}

func (c Config) fromAddress() string {
	if c.SMTPFrom != "" {
		return c.SMTPFrom
	}
	return c.SMTPUser
}

// Message is a single outgoing email with text and HTML alternatives.
type Message struct {
	From    mail.Address
	To      string
	Subject string
	Text    string
	HTML    string
}

// sender abstracts the transport for testing.
type sender interface {
	send(ctx context.Context, msg Message) error
}

// Mailer sends best-effort email. Failures are logged and reported as
// false, never returned.
type Mailer struct {
	config  Config
	sender  sender
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewMailer builds a Mailer for cfg. An unconfigured Mailer is valid and
// skips every send.
func NewMailer(cfg Config, logger zerolog.Logger, m *metrics.Metrics) *Mailer {
	if cfg.SMTPPort == "" {
		cfg.SMTPPort = defaultSMTPPort
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	mailer := &Mailer{
		config:  cfg,
		logger:  logger.With().Str("component", "email").Logger(),
		metrics: m,
	}
	switch cfg.Provider {
	case ProviderSendGrid:
		mailer.sender = &sendGridSender{key: cfg.SendGridKey, endpoint: sendGridEndpoint, client: &http.Client{Timeout: 10 * time.Second}}
	default:
		mailer.sender = &smtpSender{config: cfg}
	}
	if !cfg.Configured() {
		mailer.logger.Warn().Str("provider", cfg.Provider).Msg("email not configured, emails will be skipped")
	}
	return mailer
}

// Configured reports whether sends will be attempted.
func (m *Mailer) Configured() bool {
	return m.config.Configured()
}

// Send delivers one email. text is required; html is generated from text
// when empty.
func (m *Mailer) Send(ctx context.Context, to, subject, text, html string) bool {
	if !m.Configured() {
		m.logger.Info().Str("to", to).Str("subject", subject).Msg("email skipped (not configured)")
		m.metrics.Emails.WithLabelValues(metrics.EmailSkipped).Inc()
		return false
	}

	if html == "" {
		var err error
		if html, err = renderHTML(text); err != nil {
			m.logger.Warn().Err(err).Msg("failed to render email html")
			m.metrics.Emails.WithLabelValues(metrics.EmailFailed).Inc()
			return false
		}
	}

	msg := Message{
		From:    mail.Address{Name: m.config.FromName, Address: m.config.fromAddress()},
		To:      to,
		Subject: subject,
		Text:    text,
		HTML:    html,
	}
	if err := m.sender.send(ctx, msg); err != nil {
		m.logger.Warn().Err(err).Str("to", to).Str("subject", subject).Msg("failed to send email")
		m.metrics.Emails.WithLabelValues(metrics.EmailFailed).Inc()
		return false
	}

	m.logger.Info().Str("to", to).Str("subject", subject).Msg("email sent")
	m.metrics.Emails.WithLabelValues(metrics.EmailSent).Inc()
	return true
}

// TaskMail describes a task notification email.
type TaskMail struct {
	Title   string
	Message string
	TaskID  string
	DueDate *time.Time
	Status  string
}

// SendTaskNotification formats and sends a task notification to to.
func (m *Mailer) SendTaskNotification(ctx context.Context, to string, tm TaskMail) bool {
	return m.Send(ctx, to, "TaskFlow: "+tm.Title, TaskText(tm), "")
}

// TaskText renders the plain-text body of a task notification.
func TaskText(tm TaskMail) string {
	var b strings.Builder
	b.WriteString(tm.Message)
	b.WriteString("\n\n")
	if tm.TaskID == "" {
		return b.String()
	}
	b.WriteString("Task Details:\n")
	fmt.Fprintf(&b, "- Task ID: %s\n", tm.TaskID)
	if tm.DueDate != nil {
		fmt.Fprintf(&b, "- Due Date: %s\n", tm.DueDate.UTC().Format(time.DateOnly))
	}
	if tm.Status != "" {
		fmt.Fprintf(&b, "- Status: %s\n", tm.Status)
	}
	return b.String()
}

var htmlTmpl = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head><style>
body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 600px; margin: 0 auto; padding: 20px; }
.header { background: #4a90e2; color: #fff; padding: 20px; text-align: center; border-radius: 5px 5px 0 0; }
.content { background: #f9f9f9; padding: 20px; border-radius: 0 0 5px 5px; }
.footer { text-align: center; margin-top: 20px; font-size: 12px; color: #666; }
</style></head>
<body>
<div class="container">
  <div class="header"><h1>TaskFlow</h1></div>
  <div class="content"><p>{{range $i, $line := .}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p></div>
  <div class="footer"><p>This is an automated notification from TaskFlow</p></div>
</div>
</body>
</html>`))

func renderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := htmlTmpl.Execute(&buf, strings.Split(text, "\n")); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// smtpSender sends multipart/alternative mail over SMTP with PLAIN auth.
type smtpSender struct {
	config Config
}

func (s *smtpSender) send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := buildMIME(msg)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}
	addr := net.JoinHostPort(s.config.SMTPHost, s.config.SMTPPort)
	auth := smtp.PlainAuth("", s.config.SMTPUser, s.config.SMTPPass, s.config.SMTPHost)
	if err := smtp.SendMail(addr, auth, msg.From.Address, []string{msg.To}, body); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func buildMIME(msg Message) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From.String())
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())

	for _, part := range []struct{ contentType, body string }{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// sendGridSender sends mail through the SendGrid v3 API.
type sendGridSender struct {
	key      string
	endpoint string
	client   *http.Client
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridPayload struct {
	Personalizations []struct {
		To []sendGridAddress `json:"to"`
	} `json:"personalizations"`
	From    sendGridAddress   `json:"from"`
	Subject string            `json:"subject"`
	Content []sendGridContent `json:"content"`
}

func (s *sendGridSender) send(ctx context.Context, msg Message) error {
	var payload sendGridPayload
	payload.Personalizations = make([]struct {
		To []sendGridAddress `json:"to"`
	}, 1)
	payload.Personalizations[0].To = []sendGridAddress{{Email: msg.To}}
	payload.From = sendGridAddress{Email: msg.From.Address, Name: msg.From.Name}
	payload.Subject = msg.Subject
	payload.Content = []sendGridContent{
		{Type: "text/plain", Value: msg.Text},
		{Type: "text/html", Value: msg.HTML},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid returned status %d", resp.StatusCode)
	}
	return nil
}
