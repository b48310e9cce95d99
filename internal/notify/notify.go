// Package notify sends operator notifications (job summaries and daily
// digests) to chat platforms.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Message is a platform-neutral notification.
type Message struct {
	Title    string
	Body     string
	Severity string // info, success, warning, error
	Color    string // sidebar color hint, e.g. "#36a64f"
	Fields   []Field
}

// Field is a key-value pair displayed with a Message.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Sender delivers a Message to one platform.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

// Summary describes a finished bulk job.
type Summary struct {
	TenantID    string
	JobID       string
	Total       int
	Sent        int
	Failed      int
	Skipped     int
	Aborted     bool
	AbortReason string
	WithImage   bool
	Duration    time.Duration
}

// TenantTotal is one tenant's counts in a daily digest.
type TenantTotal struct {
	TenantID string
	Sent     int
	Failed   int
	Skipped  int
}

// Notifier fans a Message out to every configured Sender. A nil or empty
// Notifier is a no-op.
type Notifier struct {
	senders []Sender
	log     zerolog.Logger
}

// New creates a Notifier.
func New(log zerolog.Logger, senders ...Sender) *Notifier {
	return &Notifier{senders: senders, log: log}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return n != nil && len(n.senders) > 0 }

// Senders returns the configured sender names.
func (n *Notifier) Senders() []string {
	if n == nil {
		return nil
	}
	names := make([]string, len(n.senders))
	for i, s := range n.senders {
		names[i] = s.Name()
	}
	return names
}

// JobFinished notifies that a bulk job ended.
func (n *Notifier) JobFinished(ctx context.Context, s Summary) error {
	return n.broadcast(ctx, FormatJobSummary(s))
}

// Digest sends the day's per-tenant totals.
func (n *Notifier) Digest(ctx context.Context, day time.Time, totals []TenantTotal) error {
	return n.broadcast(ctx, FormatDigest(day, totals))
}

// broadcast sends msg to every sender and joins their errors. One failing
// platform does not stop the others.
func (n *Notifier) broadcast(ctx context.Context, msg Message) error {
	if !n.Enabled() {
		return nil
	}
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.log.Warn().Err(err).Str("platform", s.Name()).Msg("notification failed")
			errs = append(errs, fmt.Errorf("notify: %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
