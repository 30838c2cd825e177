// Package email sends notification mail over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"
)

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	AppURL   string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service renders notification templates and hands them to SMTP.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   SendFunc
}

func NewService(config Config) *Service {
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		send:   smtp.SendMail,
	}
}

// WithSender replaces the SMTP transport, mainly for tests.
func (s *Service) WithSender(send SendFunc) *Service {
	s.send = send
	return s
}

// IsConfigured reports whether host, port and sender are all set.
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart/alternative message with a plain fallback.
func (s *Service) SendHTMLEmail(to []string, subject, plainBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	from := mail.Address{Name: s.config.FromName, Address: s.config.From}
	msg, err := buildMessage(from, to, subject, plainBody, htmlBody)
	if err != nil {
		return fmt.Errorf("build mail: %w", err)
	}
	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// buildMessage renders headers and both bodies. Non-ASCII header text is
// Q-encoded; bodies go out as 8bit UTF-8.
func buildMessage(from mail.Address, to []string, subject, plainBody, htmlBody string) ([]byte, error) {
	var body bytes.Buffer
	parts := multipart.NewWriter(&body)
	for _, part := range [...]struct{ contentType, text string }{
		{"text/plain; charset=UTF-8", plainBody},
		{"text/html; charset=UTF-8", htmlBody},
	} {
		w, err := parts.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := io.WriteString(w, part.text); err != nil {
			return nil, err
		}
	}
	if err := parts.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	for _, h := range [][2]string{
		{"From", from.String()},
		{"To", strings.Join(to, ", ")},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"Date", time.Now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", mime.FormatMediaType("multipart/alternative", map[string]string{"boundary": parts.Boundary()})},
	} {
		fmt.Fprintf(&msg, "%s: %s\r\n", h[0], h[1])
	}
	msg.WriteString("\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

type TaskAssignedData struct {
	AppName    string
	UserName   string
	TaskTitle  string
	Priority   string
	AssignedBy string
	DueDate    string
	TaskURL    string
}

type PasswordResetData struct {
	AppName  string
	UserName string
	ResetURL string
}

// SendTaskAssigned tells a user a task was assigned to them.
func (s *Service) SendTaskAssigned(to, userName, taskID, title, priority, assignedBy string, due *time.Time) error {
	data := TaskAssignedData{
		AppName:    "Council",
		UserName:   userName,
		TaskTitle:  title,
		Priority:   priority,
		AssignedBy: assignedBy,
		TaskURL:    strings.TrimRight(s.config.AppURL, "/") + "/tasks/" + taskID,
	}
	if due != nil {
		data.DueDate = due.Format("Jan 2, 2006")
	}

	html, err := renderTemplate(taskAssignedTemplate, data)
	if err != nil {
		return fmt.Errorf("render task assigned template: %w", err)
	}
	plain := fmt.Sprintf("%s assigned you the task %q (%s priority). %s", assignedBy, title, priority, data.TaskURL)
	return s.SendHTMLEmail([]string{to}, "New task: "+title, plain, html)
}

func (s *Service) SendPasswordReset(to, userName, token string) error {
	data := PasswordResetData{
		AppName:  "Council",
		UserName: userName,
		ResetURL: strings.TrimRight(s.config.AppURL, "/") + "/reset-password?token=" + token,
	}
	html, err := renderTemplate(passwordResetTemplate, data)
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	plain := "Reset your password: " + data.ResetURL
	return s.SendHTMLEmail([]string{to}, "Reset your Council password", plain, html)
}

func renderTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const emailStyle = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #1f3b73; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #1f3b73; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }`

const taskAssignedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New task</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <p>Hi {{.UserName}},</p>
    <p>{{.AssignedBy}} assigned you a new task:</p>
    <h2>{{.TaskTitle}}</h2>
    <p>Priority: <strong>{{.Priority}}</strong>{{if .DueDate}} &middot; Due {{.DueDate}}{{end}}</p>
    <p><a href="{{.TaskURL}}" class="button">Open task</a></p>
    <div class="footer"><p>You are receiving this because task notifications are enabled for your account.</p></div>
</body>
</html>`

const passwordResetTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Reset your {{.AppName}} password</title>
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>
    <h2>Password Reset Request</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password. Click the button below to choose a new one:</p>
    <p><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
    <p>This link expires in 1 hour.</p>
    <div class="footer"><p>If you didn't request a password reset, you can ignore this email.</p></div>
</body>
</html>`
