package main

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/zulandar/heraldo/internal/config"
)

func TestServeCmd_Help(t *testing.T) {
	out, err := run(t, "serve", "--help")
	if err != nil {
		t.Fatalf("serve --help failed: %v", err)
	}
	for _, want := range []string{"--config", "--port", "--watch"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected help to mention %q, got: %s", want, out)
		}
	}
}

func TestServeCmd_MissingConfig(t *testing.T) {
	_, err := run(t, "serve", "--config", "/nonexistent/heraldo.yaml")
	if err == nil || !strings.Contains(err.Error(), "load config") {
		t.Errorf("err = %v, want load config error", err)
	}
}

func TestServeCmd_DefaultPort(t *testing.T) {
	flag := newServeCmd().Flags().Lookup("port")
	if flag == nil {
		t.Fatal("--port flag not found")
	}
	if flag.DefValue != "0" {
		t.Errorf("default port = %q, want %q (use server.port)", flag.DefValue, "0")
	}
}

func TestNewProvider(t *testing.T) {
	cfg := config.Default()
	if _, err := newProvider(cfg, zerolog.Nop()); err != nil {
		t.Fatalf("newProvider(default): %v", err)
	}

	cfg.Transport.Driver = "carrier-pigeon"
	if _, err := newProvider(cfg, zerolog.Nop()); err == nil {
		t.Error("expected error for unknown driver")
	}

	cfg = config.Default()
	cfg.Transport.URL = "http://bridge:8090"
	_, err := newProvider(cfg, zerolog.Nop())
	if err == nil || !strings.Contains(err.Error(), "ws or wss") {
		t.Errorf("err = %v, want scheme error", err)
	}
}

func TestNewSenders(t *testing.T) {
	senders, err := newSenders(config.NotifyConfig{})
	if err != nil || len(senders) != 0 {
		t.Fatalf("empty config = %v, %v; want none", senders, err)
	}

	senders, err = newSenders(config.NotifyConfig{
		Slack:    config.SlackConfig{WebhookURL: "https://hooks.slack.com/services/T/B/X"},
		Discord:  config.DiscordConfig{BotToken: "token", ChannelID: "123"},
		Telegram: config.TelegramConfig{Token: "123:abc", ChatID: -100},
	})
	if err != nil {
		t.Fatalf("newSenders: %v", err)
	}
	var names []string
	for _, s := range senders {
		names = append(names, s.Name())
	}
	if got := strings.Join(names, ","); got != "slack,discord,telegram" {
		t.Errorf("senders = %s, want slack,discord,telegram", got)
	}

	if _, err := newSenders(config.NotifyConfig{Discord: config.DiscordConfig{BotToken: "token"}}); err == nil {
		t.Error("discord without channel should fail")
	}
}

func TestTokenCmd(t *testing.T) {
	path := writeConfig(t, "")
	out, err := run(t, "token", "acme", "--config", path, "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), ".") != 2 {
		t.Errorf("token output %q is not a JWT", out)
	}
}
