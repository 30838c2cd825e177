package email

import (
	"bytes"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{name: "empty config", config: Config{}, expected: false},
		{name: "missing host", config: Config{Port: "587", From: "test@example.com"}, expected: false},
		{name: "missing port", config: Config{Host: "smtp.example.com", From: "test@example.com"}, expected: false},
		{name: "missing from", config: Config{Host: "smtp.example.com", Port: "587"}, expected: false},
		{name: "fully configured", config: Config{Host: "smtp.example.com", Port: "587", From: "test@example.com"}, expected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

type capturedMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newCapturingService(t *testing.T) (*Service, *capturedMail) {
	t.Helper()
	captured := &capturedMail{}
	svc := NewService(Config{
		Host:     "smtp.example.com",
		Port:     "587",
		From:     "noreply@council.org",
		FromName: "Council",
		AppURL:   "https://council.example.org/",
	}).WithSender(func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		captured.addr = addr
		captured.from = from
		captured.to = to
		captured.msg = string(msg)
		return nil
	})
	return svc, captured
}

func TestSendTaskAssigned(t *testing.T) {
	svc, mail := newCapturingService(t)
	due := time.Date(2026, 11, 3, 0, 0, 0, 0, time.UTC)

	if err := svc.SendTaskAssigned("ada@example.org", "Ada", "tsk_1", "Prepare <budget>", "high", "Avery", &due); err != nil {
		t.Fatalf("SendTaskAssigned() error = %v", err)
	}

	if mail.addr != "smtp.example.com:587" || mail.from != "noreply@council.org" {
		t.Fatalf("unexpected envelope: %+v", mail)
	}
	for _, want := range []string{
		"To: ada@example.org",
		`From: "Council" <noreply@council.org>`,
		"Subject: New task: Prepare <budget>",
		"Prepare &lt;budget&gt;",
		"https://council.example.org/tasks/tsk_1",
		"Due Nov 3, 2026",
		"Content-Type: text/plain",
	} {
		if !strings.Contains(mail.msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendPasswordReset(t *testing.T) {
	svc, mail := newCapturingService(t)
	if err := svc.SendPasswordReset("ada@example.org", "Ada", "tok123"); err != nil {
		t.Fatalf("SendPasswordReset() error = %v", err)
	}
	if !strings.Contains(mail.msg, "https://council.example.org/reset-password?token=tok123") {
		t.Fatalf("reset link missing from message:\n%s", mail.msg)
	}
}

func TestBuildMessageParsesBack(t *testing.T) {
	raw, err := buildMessage(mail.Address{Name: "Conseil", Address: "noreply@council.org"},
		[]string{"ada@example.org", "bo@example.org"}, "Réunion à 10h", "plain body", "<p>html body</p>")
	if err != nil {
		t.Fatal(err)
	}
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}

	subject, err := new(mime.WordDecoder).DecodeHeader(msg.Header.Get("Subject"))
	if err != nil || subject != "Réunion à 10h" {
		t.Fatalf("subject = %q, %v", subject, err)
	}
	if to, err := msg.Header.AddressList("To"); err != nil || len(to) != 2 {
		t.Fatalf("To = %v, %v", to, err)
	}

	mediaType, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/alternative" {
		t.Fatalf("content type = %q, %v", mediaType, err)
	}
	reader := multipart.NewReader(msg.Body, params["boundary"])
	var types []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		types = append(types, part.Header.Get("Content-Type"))
	}
	if len(types) != 2 || !strings.HasPrefix(types[0], "text/plain") || !strings.HasPrefix(types[1], "text/html") {
		t.Fatalf("unexpected parts %v", types)
	}
}

func TestSendWithoutConfigFails(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendPasswordReset("ada@example.org", "Ada", "tok"); err == nil {
		t.Fatal("expected error when SMTP is not configured")
	}
}
