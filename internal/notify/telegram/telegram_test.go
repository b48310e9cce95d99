package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/zulandar/heraldo/internal/notify"
	tele "gopkg.in/telebot.v4"
)

type mockBot struct {
	to   tele.Recipient
	text string
	err  error
}

func (m *mockBot) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	m.to = to
	m.text, _ = what.(string)
	if m.err != nil {
		return nil, m.err
	}
	return &tele.Message{ID: 1}, nil
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(SenderOpts{Token: "x"}); err == nil {
		t.Error("expected error without chat id")
	}
	if _, err := New(SenderOpts{ChatID: 1}); err == nil {
		t.Error("expected error without token")
	}
}

func TestNew_OfflineBot(t *testing.T) {
	s, err := New(SenderOpts{Token: "123:abc", ChatID: 42})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "telegram" {
		t.Errorf("Name = %q", s.Name())
	}
}

func TestSend_PlainText(t *testing.T) {
	mb := &mockBot{}
	s, err := New(SenderOpts{ChatID: -100, Bot: mb})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	msg := notify.Message{
		Title:  "Daily digest 2026-06-10",
		Body:   "t1: 5 sent, 0 failed",
		Fields: []notify.Field{{Name: "Sent", Value: "5"}},
	}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if mb.to.Recipient() != "-100" {
		t.Errorf("recipient = %q, want -100", mb.to.Recipient())
	}
	for _, want := range []string{"Daily digest", "t1: 5 sent", "Sent: 5"} {
		if !strings.Contains(mb.text, want) {
			t.Errorf("text %q missing %q", mb.text, want)
		}
	}
}

func TestSend_Truncates(t *testing.T) {
	mb := &mockBot{}
	s, _ := New(SenderOpts{ChatID: 1, Bot: mb})
	s.Send(context.Background(), notify.Message{Title: strings.Repeat("x", 5000)})
	if len(mb.text) != telegramTextLimit {
		t.Errorf("len = %d, want %d", len(mb.text), telegramTextLimit)
	}
}

func TestSend_Error(t *testing.T) {
	s, _ := New(SenderOpts{ChatID: 1, Bot: &mockBot{err: errors.New("chat not found")}})
	if err := s.Send(context.Background(), notify.Message{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestSend_CancelledContext(t *testing.T) {
	mb := &mockBot{}
	s, _ := New(SenderOpts{ChatID: 1, Bot: mb})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Send(ctx, notify.Message{Title: "x"}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if mb.text != "" {
		t.Error("nothing should be sent on a cancelled context")
	}
}
