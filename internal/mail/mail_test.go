package mail

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestRenderInvite(t *testing.T) {
	body, err := RenderInvite(InviteData{
		TeamName:   "Platform",
		MemberName: "Ana",
		Link:       "https://beat.example.com/status/save?token=abc",
		ClosesAt:   time.Date(2026, 10, 12, 13, 0, 0, 0, time.UTC),
		Questions:  []string{"Yesterday", "Rate the day"},
	})
	if err != nil {
		t.Fatalf("RenderInvite: %v", err)
	}
	for _, want := range []string{
		"Hi Ana,",
		"Platform check-in",
		"https://beat.example.com/status/save?token=abc",
		"1. Yesterday",
		"2. Rate the day",
		"Mon Oct 12, 1:00 PM UTC",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("invite body missing %q:\n%s", want, body)
		}
	}
}

func TestRenderReport(t *testing.T) {
	body, err := RenderReport(ReportData{TeamName: "Platform", Completed: 1, Total: 2, Table: "Ana\n\n----\n\n"})
	if err != nil {
		t.Fatalf("RenderReport: %v", err)
	}
	if !strings.Contains(body, "1 of 2 members reported.") {
		t.Errorf("report body missing completion line:\n%s", body)
	}
	if !strings.HasSuffix(body, "Ana\n\n----\n") {
		t.Errorf("unexpected report tail: %q", body)
	}
}

func TestCompose(t *testing.T) {
	raw := string(compose("beat@example.com", Message{
		To:      "ana@example.com",
		Subject: "Platform\r\nBcc: evil@example.com",
		Body:    "line one\nline two",
	}))

	if !strings.Contains(raw, "Subject: Platform  Bcc: evil@example.com\r\n") {
		t.Errorf("subject not sanitized:\n%q", raw)
	}
	if !strings.HasSuffix(raw, "\r\n\r\nline one\r\nline two") {
		t.Errorf("body not CRLF-normalized:\n%q", raw)
	}
}

func TestNewSMTPMailerValidation(t *testing.T) {
	if _, err := NewSMTPMailer(SMTPConfig{From: "a@example.com"}); err == nil {
		t.Error("expected error for missing host")
	}
	if _, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com"}); err == nil {
		t.Error("expected error for missing from")
	}
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", From: "a@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPMailer: %v", err)
	}
	if m.cfg.Port != 587 || m.cfg.Timeout != 10*time.Second {
		t.Errorf("defaults not applied: %+v", m.cfg)
	}
}

func TestLogMailerNeverFails(t *testing.T) {
	if err := (LogMailer{}).Send(context.Background(), Message{To: "a@example.com", Subject: "s"}); err != nil {
		t.Fatalf("LogMailer.Send: %v", err)
	}
}

func TestLogMailerRedactsTokens(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	body := "Open https://beat.example.com/status/save?token=s3cr3t.v4lue&next=%2Fdone\nor ?token=other"
	if err := (LogMailer{Logger: logger}).Send(context.Background(), Message{To: "a@example.com", Subject: "s", Body: body}); err != nil {
		t.Fatalf("LogMailer.Send: %v", err)
	}

	out := buf.String()
	for _, secret := range []string{"s3cr3t.v4lue", "other"} {
		if strings.Contains(out, secret) {
			t.Errorf("log output leaks token %q:\n%s", secret, out)
		}
	}
	if !strings.Contains(out, "token=REDACTED") || !strings.Contains(out, "next=%2Fdone") {
		t.Errorf("expected redacted link in log output:\n%s", out)
	}
}
