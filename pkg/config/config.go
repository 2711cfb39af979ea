// Copyright 2024-2026 Aiku AI

// Package config loads the DiscordLink configuration file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"

	"github.com/aiku/discordlink/pkg/link"
)

//go:embed example-config.yaml
var ExampleConfig string

// EnvPrefix prefixes every environment variable read by the overlay.
const EnvPrefix = "DISCORDLINK_"

// Supported remote platforms.
const (
	PlatformDiscord    = "discord"
	PlatformMattermost = "mattermost"
)

// Config is the root configuration.
type Config struct {
	Platform   string           `yaml:"platform" env:"PLATFORM"`
	Discord    DiscordConfig    `yaml:"discord" envPrefix:"DISCORD_"`
	Mattermost MattermostConfig `yaml:"mattermost" envPrefix:"MATTERMOST_"`
	Game       GameConfig       `yaml:"game" envPrefix:"GAME_"`
	Relay      RelayConfig      `yaml:"relay"`
	Links      Links            `yaml:"links"`
	// AdminAPIAddr is the listen address of the admin HTTP API, which also
	// serves metrics and the game plugin endpoint.
	AdminAPIAddr string `yaml:"admin_api_addr" env:"ADMIN_API_ADDR"`
	// AdminAPIToken is the bearer token required on /api. Without one only
	// loopback clients are served.
	AdminAPIToken string         `yaml:"admin_api_token" env:"ADMIN_API_TOKEN"`
	Database      DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`
	Logging       LoggingConfig  `yaml:"logging" envPrefix:"LOG_"`

	invalidLinks []error `yaml:"-"`
}

// DiscordConfig configures the Discord client.
type DiscordConfig struct {
	Token string `yaml:"token" env:"TOKEN"`
}

// MattermostConfig configures the Mattermost client.
type MattermostConfig struct {
	ServerURL string `yaml:"server_url" env:"SERVER_URL"`
	Token     string `yaml:"token" env:"TOKEN"`
	// DisplaynameTemplate renders the name shown in game for Mattermost
	// authors. Fields: Username, Nickname, FirstName, LastName.
	DisplaynameTemplate string `yaml:"displayname_template"`
}

// GameConfig configures the game plugin endpoint.
type GameConfig struct {
	// Token is the shared secret the plugin sends in its handshake. Empty
	// disables authentication.
	Token string `yaml:"token" env:"TOKEN"`
}

// RelayConfig tunes chat relaying.
type RelayConfig struct {
	// Name is the game-side sender of relayed remote messages.
	Name string `yaml:"name"`
	// EchoMarker lets a relay-authored game message through the echo filter.
	EchoMarker    string        `yaml:"echo_marker"`
	CommandPrefix string        `yaml:"command_prefix"`
	EchoTTL       time.Duration `yaml:"echo_ttl"`
	// FirstDisplayDelay is the wait between connecting and the first render.
	FirstDisplayDelay time.Duration `yaml:"first_display_delay"`
	VerifyInterval    time.Duration `yaml:"verify_interval"`
}

// Links holds the channel links per purpose.
type Links struct {
	Chat        []link.Link `yaml:"chat"`
	PlayerList  []link.Link `yaml:"player_list"`
	ServerInfo  []link.Link `yaml:"server_info"`
	Elections   []link.Link `yaml:"elections"`
	Trades      []link.Link `yaml:"trades"`
	WorkParties []link.Link `yaml:"work_parties"`
	Currencies  []link.Link `yaml:"currencies"`
}

// DatabaseConfig points at the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// Groups returns the links keyed by purpose.
func (l Links) Groups() map[link.Purpose][]link.Link {
	return map[link.Purpose][]link.Link{
		link.PurposeChat:        l.Chat,
		link.PurposePlayerList:  l.PlayerList,
		link.PurposeServerInfo:  l.ServerInfo,
		link.PurposeElections:   l.Elections,
		link.PurposeTrades:      l.Trades,
		link.PurposeWorkParties: l.WorkParties,
		link.PurposeCurrencies:  l.Currencies,
	}
}

// Load reads the configuration at path, upgrading it against the example
// config and writing the upgraded file back when save is set. Environment
// variables override file values.
func Load(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         nil,
		Base:           ExampleConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document, applies the environment overlay
// and post-processes the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteExample writes the example configuration to path unless a file already
// exists there.
func WriteExample(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(ExampleConfig); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// PostProcess fills defaults, checks the settings the process cannot start
// without, and corrects the links. Invalid links do not fail the load; they
// are reported by InvalidLinks.
func (c *Config) PostProcess() error {
	c.Platform = strings.ToLower(strings.TrimSpace(c.Platform))
	if c.Platform == "" {
		c.Platform = PlatformDiscord
	}
	switch c.Platform {
	case PlatformDiscord:
		if c.Discord.Token == "" {
			return errors.New("discord.token is required")
		}
	case PlatformMattermost:
		if c.Mattermost.ServerURL == "" || c.Mattermost.Token == "" {
			return errors.New("mattermost.server_url and mattermost.token are required")
		}
	default:
		return fmt.Errorf("unknown platform %q", c.Platform)
	}

	if c.Relay.Name == "" {
		c.Relay.Name = "DiscordLink"
	}
	if c.Relay.EchoTTL < 0 {
		c.Relay.EchoTTL = 0
	}
	if c.Relay.FirstDisplayDelay <= 0 {
		c.Relay.FirstDisplayDelay = 20 * time.Second
	}
	if c.Relay.VerifyInterval <= 0 {
		c.Relay.VerifyInterval = 5 * time.Minute
	}
	if c.AdminAPIAddr == "" {
		c.AdminAPIAddr = "127.0.0.1:29320"
	}
	if c.Database.Path == "" {
		c.Database.Path = "discordlink.db"
	}
	if _, err := c.Logging.ZerologLevel(); err != nil {
		return err
	}

	c.invalidLinks = nil
	for purpose, group := range c.Links.Groups() {
		for i := range group {
			group[i].Variant = link.VariantFor(purpose)
			group[i].MakeCorrections()
			if err := group[i].Validate(); err != nil {
				c.invalidLinks = append(c.invalidLinks, fmt.Errorf("%s link %s: %w", purpose, group[i], err))
			}
		}
	}
	return nil
}

// InvalidLinks returns the validation errors found by the last PostProcess.
func (c *Config) InvalidLinks() []error {
	return c.invalidLinks
}

// ZerologLevel parses the configured level. An empty level means info.
func (l LoggingConfig) ZerologLevel() (zerolog.Level, error) {
	if l.Level == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", l.Level, err)
	}
	return level, nil
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "platform")
	helper.Copy(up.Str|up.Null, "discord", "token")
	helper.Copy(up.Str|up.Null, "mattermost", "server_url")
	helper.Copy(up.Str|up.Null, "mattermost", "token")
	helper.Copy(up.Str, "mattermost", "displayname_template")
	helper.Copy(up.Str|up.Null, "game", "token")
	helper.Copy(up.Str, "relay", "name")
	helper.Copy(up.Str, "relay", "echo_marker")
	helper.Copy(up.Str, "relay", "command_prefix")
	helper.Copy(up.Str, "relay", "echo_ttl")
	helper.Copy(up.Str, "relay", "first_display_delay")
	helper.Copy(up.Str, "relay", "verify_interval")
	for _, group := range []string{"chat", "player_list", "server_info", "elections", "trades", "work_parties", "currencies"} {
		helper.Copy(up.List, "links", group)
	}
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Str|up.Null, "admin_api_token")
	helper.Copy(up.Str, "database", "path")
	helper.Copy(up.Str, "logging", "level")
	helper.Copy(up.Bool, "logging", "pretty")
}
