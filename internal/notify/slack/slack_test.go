package slack

import (
	"context"
	"errors"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/heraldo/internal/notify"
)

func TestNew_RequiresURL(t *testing.T) {
	if _, err := New(SenderOpts{}); err == nil {
		t.Fatal("expected error for empty webhook url")
	}
}

func TestSend_BuildsAttachment(t *testing.T) {
	var gotURL string
	var got *slackapi.WebhookMessage
	s, err := New(SenderOpts{
		WebhookURL: "https://hooks.example/T/B/X",
		Post: func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error {
			gotURL, got = url, msg
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	msg := notify.Message{
		Title: "Bulk job completed for t1",
		Body:  "9 of 9 messages sent",
		Color: notify.ColorSuccess,
		Fields: []notify.Field{
			{Name: "Sent", Value: "9", Short: true},
		},
	}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotURL != "https://hooks.example/T/B/X" {
		t.Errorf("url = %q", gotURL)
	}
	if got.Text != msg.Title || len(got.Attachments) != 1 {
		t.Fatalf("webhook message = %+v", got)
	}
	att := got.Attachments[0]
	if att.Color != notify.ColorSuccess || att.Text != msg.Body || att.Fallback != msg.Title {
		t.Errorf("attachment = %+v", att)
	}
	if len(att.Fields) != 1 || att.Fields[0].Title != "Sent" || !att.Fields[0].Short {
		t.Errorf("fields = %+v", att.Fields)
	}
}

func TestSend_RetriesRateLimit(t *testing.T) {
	calls := 0
	s, _ := New(SenderOpts{
		WebhookURL: "https://hooks.example",
		Post: func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error {
			calls++
			if calls == 1 {
				return &slackapi.RateLimitedError{RetryAfter: time.Millisecond}
			}
			return nil
		},
	})
	if err := s.Send(context.Background(), notify.Message{Title: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestSend_OtherErrorsNotRetried(t *testing.T) {
	calls := 0
	s, _ := New(SenderOpts{
		WebhookURL: "https://hooks.example",
		Post: func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error {
			calls++
			return errors.New("invalid_payload")
		},
	})
	if err := s.Send(context.Background(), notify.Message{Title: "x"}); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestName(t *testing.T) {
	s, _ := New(SenderOpts{WebhookURL: "u"})
	if s.Name() != "slack" {
		t.Errorf("Name = %q", s.Name())
	}
}
