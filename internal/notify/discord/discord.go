// Package discord delivers notifications as Discord embeds over the REST API.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/heraldo/internal/notify"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limited calls.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 30 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// SenderOpts holds parameters for creating a Discord Sender.
type SenderOpts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// Sender implements notify.Sender. Only REST calls are made, so no gateway
// connection is opened.
type Sender struct {
	sess        session
	channelID   string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// New creates a Discord Sender.
func New(opts SenderOpts) (*Sender, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}

	sess := opts.Session
	if sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		sess = dg
	}
	return &Sender{
		sess:        sess,
		channelID:   opts.ChannelID,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Name returns "discord".
func (s *Sender) Name() string { return "discord" }

// Send posts msg as an embed to the configured channel. Rate-limited calls
// are retried up to maxRetries times.
func (s *Sender) Send(ctx context.Context, msg notify.Message) error {
	embed := messageToEmbed(msg)
	for attempt := 0; ; attempt++ {
		_, err := s.sess.ChannelMessageSendEmbed(s.channelID, embed, discordgo.WithContext(ctx))
		if err == nil {
			return nil
		}
		wait, limited := s.rateLimitWait(err, attempt)
		if !limited || attempt == maxRetries {
			return fmt.Errorf("discord: send embed: %w", err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("discord: send embed: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// rateLimitWait reports whether err is a 429 and how long to wait before the
// next attempt. Discord's Retry-After header wins over the local backoff.
func (s *Sender) rateLimitWait(err error, attempt int) (time.Duration, bool) {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil ||
		restErr.Response.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	wait := s.baseBackoff << attempt
	if secs, perr := strconv.ParseFloat(restErr.Response.Header.Get("Retry-After"), 64); perr == nil && secs > 0 {
		wait = time.Duration(secs * float64(time.Second))
	}
	return min(wait, s.maxBackoff), true
}

func messageToEmbed(msg notify.Message) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       msg.Title,
		Description: msg.Body,
		Color:       embedColor(msg.Color),
	}
	for _, f := range msg.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// embedColor turns "#rrggbb" into the integer Discord expects; anything
// unparseable leaves the embed uncolored.
func embedColor(hex string) int {
	v, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 24)
	if err != nil {
		return 0
	}
	return int(v)
}
