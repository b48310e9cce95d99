// Package slack delivers notifications through a Slack incoming webhook.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/heraldo/internal/notify"
)

const maxRetries = 3

// poster abstracts slackapi.PostWebhookContext for tests.
type poster func(ctx context.Context, url string, msg *slackapi.WebhookMessage) error

// SenderOpts holds parameters for creating a Sender.
type SenderOpts struct {
	WebhookURL string
	// Post overrides the webhook call (for testing).
	Post poster
}

// Sender implements notify.Sender.
type Sender struct {
	url  string
	post poster
}

// New creates a Slack Sender.
func New(opts SenderOpts) (*Sender, error) {
	if opts.WebhookURL == "" {
		return nil, fmt.Errorf("slack: webhook url is required")
	}
	post := opts.Post
	if post == nil {
		post = slackapi.PostWebhookContext
	}
	return &Sender{url: opts.WebhookURL, post: post}, nil
}

// Name returns "slack".
func (s *Sender) Name() string { return "slack" }

// Send posts msg as a single attachment.
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	wm := &slackapi.WebhookMessage{
		Text:        msg.Title,
		Attachments: []slackapi.Attachment{messageToAttachment(msg)},
	}
	if err := retryOnRateLimit(ctx, func() error { return s.post(ctx, s.url, wm) }); err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	return nil
}

// messageToAttachment converts a notify.Message to a Slack Attachment.
func messageToAttachment(msg notify.Message) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    msg.Title,
		Text:     msg.Body,
		Color:    msg.Color,
		Fallback: msg.Title,
	}
	for _, f := range msg.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
