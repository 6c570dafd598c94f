// Package mail delivers check-in invitations and reports by email.
package mail

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"text/template"
	"time"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers a message to its recipient.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }

// LogMailer writes messages to the logger instead of sending them. It is
// selected when no SMTP host is configured.
type LogMailer struct {
	Logger *slog.Logger
}

func (m LogMailer) Send(_ context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("mail not sent (log mailer)", "to", msg.To, "subject", msg.Subject, "bytes", len(msg.Body))
	logger.Debug("mail body", "to", msg.To, "body", redactTokens(msg.Body))
	return nil
}

var tokenParam = regexp.MustCompile(`([?&]token=)[^&\s]+`)

// redactTokens blanks collection tokens in links. A token is a credential
// for its submission until the cycle closes.
func redactTokens(body string) string {
	return tokenParam.ReplaceAllString(body, "${1}REDACTED")
}

//go:embed templates/*.txt
var templateFS embed.FS

var templates = template.Must(template.New("mail").Funcs(template.FuncMap{
	"add1": func(i int) int { return i + 1 },
	"trim": strings.TrimSpace,
}).ParseFS(templateFS, "templates/*.txt"))

// InviteData fills the collection request template.
type InviteData struct {
	TeamName   string
	MemberName string
	Link       string
	ClosesAt   time.Time
	Location   *time.Location
	Questions  []string
}

// ReportData fills the report template.
type ReportData struct {
	TeamName  string
	Completed int
	Total     int
	Table     string
}

// RenderInvite renders the collection request body.
func RenderInvite(d InviteData) (string, error) {
	if d.Location == nil {
		d.Location = time.UTC
	}
	return render("invite.txt", d)
}

// RenderReport renders the report body around the pre-rendered table.
func RenderReport(d ReportData) (string, error) {
	return render("report.txt", d)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}
