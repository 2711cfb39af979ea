// Copyright 2024-2026 Aiku AI

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/link"
)

func TestExampleConfigEmbedded(t *testing.T) {
	t.Parallel()
	if ExampleConfig == "" {
		t.Fatal("ExampleConfig should not be empty (embedded from example-config.yaml)")
	}
	if !strings.Contains(ExampleConfig, "links:") {
		t.Error("example config has no links section")
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	input := `
discord:
    token: abc
links:
    chat:
        - guild: Eco Server
          channel: " General Chat "
          game_channel: "#General"
    elections:
        - guild: Eco Server
          channel: votes
`
	cfg, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Platform != PlatformDiscord {
		t.Errorf("Platform: got %q", cfg.Platform)
	}
	if cfg.Relay.Name != "DiscordLink" || cfg.Relay.FirstDisplayDelay != 20*time.Second {
		t.Errorf("relay defaults: got %+v", cfg.Relay)
	}
	if cfg.AdminAPIAddr != "127.0.0.1:29320" || cfg.Database.Path != "discordlink.db" {
		t.Errorf("defaults: got addr %q db %q", cfg.AdminAPIAddr, cfg.Database.Path)
	}

	chat := cfg.Links.Chat[0]
	if chat.Variant != link.Chat || chat.Channel != "general-chat" || chat.GameChannel != "General" {
		t.Errorf("chat link not corrected: %+v", chat)
	}
	if !chat.AllowUserMentions || chat.Direction != link.Duplex {
		t.Errorf("chat link defaults missing: %+v", chat.ChatOptions)
	}
	if got := cfg.Links.Groups()[link.PurposeElections]; len(got) != 1 || got[0].Variant != link.Text {
		t.Errorf("elections group: got %+v", got)
	}
	if len(cfg.InvalidLinks()) != 0 {
		t.Errorf("unexpected invalid links: %v", cfg.InvalidLinks())
	}
}

func TestParseReportsInvalidLinks(t *testing.T) {
	input := `
discord:
    token: abc
links:
    chat:
        - guild: Eco Server
          channel: general
`
	cfg, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("invalid links must not fail the load: %v", err)
	}
	invalid := cfg.InvalidLinks()
	if len(invalid) != 1 || !errors.Is(invalid[0], link.ErrInvalid) {
		t.Errorf("InvalidLinks: got %v", invalid)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing discord token", "platform: discord\n"},
		{"missing mattermost url", "platform: mattermost\nmattermost:\n    token: t\n"},
		{"unknown platform", "platform: irc\n"},
		{"bad log level", "discord:\n    token: t\nlogging:\n    level: loud\n"},
		{"bad direction", "discord:\n    token: t\nlinks:\n    chat:\n        - {guild: g, channel: c, game_channel: x, direction: sideways}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEnvOverlay(t *testing.T) {
	t.Setenv("DISCORDLINK_DISCORD_TOKEN", "from-env")
	t.Setenv("DISCORDLINK_ADMIN_API_ADDR", "127.0.0.1:9000")
	t.Setenv("DISCORDLINK_ADMIN_API_TOKEN", "s3cret")
	t.Setenv("DISCORDLINK_LOG_LEVEL", "debug")

	cfg, err := Parse([]byte("discord:\n    token: from-file\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Discord.Token != "from-env" {
		t.Errorf("Discord.Token: got %q, want from-env", cfg.Discord.Token)
	}
	if cfg.AdminAPIAddr != "127.0.0.1:9000" {
		t.Errorf("AdminAPIAddr: got %q", cfg.AdminAPIAddr)
	}
	if cfg.AdminAPIToken != "s3cret" {
		t.Errorf("AdminAPIToken: got %q", cfg.AdminAPIToken)
	}
	if level, _ := cfg.Logging.ZerologLevel(); level != zerolog.DebugLevel {
		t.Errorf("log level: got %s", level)
	}
}

func TestLoadUpgradesFile(t *testing.T) {
	t.Setenv("DISCORDLINK_DISCORD_TOKEN", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("discord:\n    token: file-token\nrelay:\n    name: Bridge\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "file-token" || cfg.Relay.Name != "Bridge" {
		t.Errorf("file values lost: token %q name %q", cfg.Discord.Token, cfg.Relay.Name)
	}
	if cfg.Relay.EchoTTL != 5*time.Second {
		t.Errorf("EchoTTL from example: got %s", cfg.Relay.EchoTTL)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "first_display_delay") {
		t.Error("upgraded file was not saved")
	}
}

func TestWriteExampleKeepsExisting(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteExample(path); err != nil {
		t.Fatalf("WriteExample: %v", err)
	}
	if err := WriteExample(path); err == nil {
		t.Error("second WriteExample should refuse to overwrite")
	}
}
