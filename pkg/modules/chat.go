// Copyright 2024-2026 Aiku AI

package modules

import (
	"context"
	"fmt"
	"strings"

	"github.com/aiku/discordlink/pkg/events"
	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/relay"
	"github.com/aiku/discordlink/pkg/remote"
)

// GameChatFeed relays game chat to the linked remote channels.
type GameChatFeed struct {
	env *Env
}

func (m *GameChatFeed) Name() string          { return "game_chat_feed" }
func (m *GameChatFeed) Purpose() link.Purpose { return link.PurposeChat }
func (m *GameChatFeed) Triggers() events.Kind { return events.ChatOut }

func (m *GameChatFeed) Feed(ctx context.Context, trigger events.Kind, data any, target link.Target) error {
	msg, ok := data.(game.ChatSent)
	if !ok || !target.Link.MatchesGameChannel(msg.Channel) {
		return nil
	}
	log := m.env.Log.With().Str("module", m.Name()).Str("target", target.Key()).Logger()
	if !relay.ShouldRelay(trigger, relay.SideGame, target.Link) {
		log.Debug().Msg("Dropping game chat against link direction")
		m.env.Metrics.Dropped("direction")
		return nil
	}
	if relay.IsEcho(msg.Sender.Name, m.env.RelayName, msg.Text, m.env.EchoMarker) {
		log.Debug().Str("sender", msg.Sender.Name).Msg("Dropping echo of relayed message")
		m.env.Metrics.Dropped("echo")
		return nil
	}

	out := relay.FormatForRemote(msg, target, m.env.Platform, m.env.EchoMarker)
	sent, err := m.env.Platform.SendMessage(ctx, target.ChannelID, out)
	m.env.Metrics.RemoteCall("send", err)
	if err != nil {
		return fmt.Errorf("failed to relay game chat: %w", err)
	}
	m.env.Echo.Record(relay.SideRemote, sent.Author.ID, sent.Text)
	m.env.Metrics.Relayed("game_to_remote")
	return nil
}

// RemoteChatFeed relays remote channel messages into the linked game
// channel.
type RemoteChatFeed struct {
	env *Env
}

func (m *RemoteChatFeed) Name() string          { return "remote_chat_feed" }
func (m *RemoteChatFeed) Purpose() link.Purpose { return link.PurposeChat }
func (m *RemoteChatFeed) Triggers() events.Kind { return events.ChatIn }

func (m *RemoteChatFeed) Feed(ctx context.Context, trigger events.Kind, data any, target link.Target) error {
	msg, ok := data.(remote.Message)
	if !ok || msg.ChannelID != target.ChannelID {
		return nil
	}
	log := m.env.Log.With().Str("module", m.Name()).Str("target", target.Key()).Logger()
	if self := m.env.Platform.Self(); self.ID != "" && msg.Author.ID == self.ID {
		return nil
	}
	if m.env.CommandPrefix != "" && strings.HasPrefix(msg.Text, m.env.CommandPrefix) {
		log.Debug().Msg("Ignoring bot command")
		m.env.Metrics.Dropped("command")
		return nil
	}
	if !relay.ShouldRelay(trigger, relay.SideRemote, target.Link) {
		log.Debug().Msg("Dropping remote chat against link direction")
		m.env.Metrics.Dropped("direction")
		return nil
	}

	line := relay.FormatForGame(msg, platformTitle(m.env.Platform), m.env.Platform)
	if strings.TrimSpace(line) == "" {
		return nil
	}
	if err := m.env.Server.SendChat(ctx, target.Link.GameChannel, m.env.RelayName, line); err != nil {
		return fmt.Errorf("failed to relay remote chat: %w", err)
	}
	m.env.Echo.Record(relay.SideGame, m.env.RelayName, line)
	m.env.Metrics.Relayed("remote_to_game")
	return nil
}
