package email

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestBuildMessageHeaders(t *testing.T) {
	at := time.Date(2026, 3, 2, 11, 30, 0, 0, time.UTC)
	msg := string(buildMessage("lunch@lunchpass.de", Message{To: "b@y.de", Subject: "Noch 1 Mahlzeit übrig", Body: "Hallo\nGuten Appetit"}, at))
	for _, want := range []string{
		"From: lunch@lunchpass.de\r\n",
		"To: b@y.de\r\n",
		"Subject: =?utf-8?q?",
		"Date: Mon, 02 Mar 2026 11:30:00 +0000\r\n",
		"@lunchpass.de>\r\n",
		"\r\n\r\nHallo\r\nGuten Appetit\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message missing %q:\n%s", want, msg)
		}
	}

	plain := string(buildMessage("a@x", Message{To: "b@y", Subject: "Lunch"}, at))
	if !strings.Contains(plain, "Subject: Lunch\r\n") {
		t.Fatalf("ascii subject should not be encoded:\n%s", plain)
	}
}

func TestDefaultFrom(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mailpit", Port: "1025", From: " "})
	if s.from != "no-reply@lunchpass.local" || s.addr != "mailpit:1025" || s.auth != nil {
		t.Fatalf("unexpected sender %+v", s)
	}
	if NewSMTPSender(SMTPConfig{Host: "smtp.x", Port: "587", Username: "u", Password: "p"}).auth == nil {
		t.Fatal("username should enable auth")
	}
}

func TestRejectsHeaderInjection(t *testing.T) {
	s := NewLogSender(slog.New(slog.NewTextHandler(io.Discard, nil)))
	err := s.Send(context.Background(), Message{To: "a@x.de", Subject: "hi\r\nBcc: all@x.de"})
	if !errors.Is(err, ErrBadHeader) {
		t.Fatalf("expected ErrBadHeader, got %v", err)
	}
	if err := s.Send(context.Background(), Message{To: "not an address", Subject: "hi"}); err == nil {
		t.Fatal("expected invalid recipient error")
	}
	if err := s.Send(context.Background(), Message{To: "a@x.de", Subject: "hi"}); err != nil {
		t.Fatalf("valid message rejected: %v", err)
	}
}

func TestSMTPSendHonoursContext(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "127.0.0.1", Port: "1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Either the refused dial or the cancelled context wins; both are errors.
	if err := s.Send(ctx, Message{To: "a@x.de", Subject: "hi"}); err == nil {
		t.Fatal("expected an error")
	}
}
