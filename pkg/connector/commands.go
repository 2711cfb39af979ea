// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aiku/discordlink/pkg/events"
	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/relay"
	"github.com/aiku/discordlink/pkg/remote"
	"github.com/aiku/discordlink/pkg/store"
)

// Command results returned by SendMessage and SendMessageAsUser.
const (
	ResultNoClient    = "No client connected"
	ResultNoGuild     = "No guild of that name found"
	ResultNoChannel   = "No channel of that name or ID found in that guild"
	ResultMessageSent = "Message sent"
)

var (
	// ErrNoStore is returned by user linking when no database is configured.
	ErrNoStore = errors.New("no database configured")
	// ErrUnknownGuild is returned when a guild reference matches nothing.
	ErrUnknownGuild = errors.New("no guild of that name or ID found")
	// ErrNotTracked is returned when untracking a name with no trade board.
	ErrNotTracked = errors.New("no trade board for that name")
)

// SendMessage posts text verbatim to a channel and returns a status line
// for the issuer.
func (c *Connector) SendMessage(ctx context.Context, text, channelRef, guildRef string) string {
	return c.send(ctx, channelRef, guildRef, func(link.Target, remote.Platform) remote.OutgoingMessage {
		return remote.OutgoingMessage{Text: text}
	})
}

// SendMessageAsUser posts text as a chat line of a game user, with mentions
// rewritten the way chat relaying does.
func (c *Connector) SendMessageAsUser(ctx context.Context, text string, user game.User, channelRef, guildRef string) string {
	return c.send(ctx, channelRef, guildRef, func(target link.Target, platform remote.Platform) remote.OutgoingMessage {
		return relay.FormatForRemote(game.ChatSent{Sender: user, Text: text}, target, platform, c.cfg.Relay.EchoMarker)
	})
}

func (c *Connector) send(ctx context.Context, channelRef, guildRef string, build func(link.Target, remote.Platform) remote.OutgoingMessage) string {
	s := c.current()
	if s == nil || c.GetStatus() != StatusConnected {
		return ResultNoClient
	}
	guild, ok := s.platform.GuildByNameOrID(strings.TrimSpace(guildRef))
	if !ok {
		return ResultNoGuild
	}
	channel, ok := s.platform.ChannelByNameOrID(guild.ID, strings.TrimSpace(channelRef))
	if !ok {
		return ResultNoChannel
	}
	target := link.Target{Link: link.Default(link.Chat), GuildID: guild.ID, ChannelID: channel.ID}
	_, err := s.platform.SendMessage(ctx, channel.ID, build(target, s.platform))
	c.metrics.RemoteCall("send", err)
	if err != nil {
		c.log.Warn().Err(err).Str("channel_id", channel.ID).Msg("Failed to send command message")
		return fmt.Sprintf("Failed to send message: %v", err)
	}
	return ResultMessageSent
}

// LinkUser associates a remote account with a game user name so reactions
// by that account act as the game user.
func (c *Connector) LinkUser(ctx context.Context, remoteID, gameUser string) error {
	if c.store == nil {
		return ErrNoStore
	}
	if err := c.store.LinkUser(ctx, remoteID, gameUser); err != nil {
		return fmt.Errorf("failed to link user: %w", err)
	}
	c.log.Info().Str("remote_id", remoteID).Str("game_user", gameUser).Msg("Linked user")
	return nil
}

// UnlinkUser removes the game user link of a remote account.
func (c *Connector) UnlinkUser(ctx context.Context, remoteID string) error {
	if c.store == nil {
		return ErrNoStore
	}
	if err := c.store.UnlinkUser(ctx, remoteID); err != nil {
		return fmt.Errorf("failed to unlink user: %w", err)
	}
	c.log.Info().Str("remote_id", remoteID).Msg("Unlinked user")
	return nil
}

// LinkedUsers lists the linked remote accounts.
func (c *Connector) LinkedUsers(ctx context.Context) ([]store.LinkedUser, error) {
	if c.store == nil {
		return nil, ErrNoStore
	}
	users, err := c.store.LinkedUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked users: %w", err)
	}
	return users, nil
}

// ListGuilds returns the guilds the bridge can see, sorted by name.
func (c *Connector) ListGuilds() ([]remote.Guild, error) {
	s := c.current()
	if s == nil || c.GetStatus() != StatusConnected {
		return nil, remote.ErrNotConnected
	}
	guilds := s.platform.Guilds()
	sort.Slice(guilds, func(i, j int) bool {
		return strings.ToLower(guilds[i].Name) < strings.ToLower(guilds[j].Name)
	})
	return guilds, nil
}

// ListChannels returns the text and voice channels of the referenced guild,
// sorted by name.
func (c *Connector) ListChannels(guildRef string) ([]remote.Channel, error) {
	s := c.current()
	if s == nil || c.GetStatus() != StatusConnected {
		return nil, remote.ErrNotConnected
	}
	guild, ok := s.platform.GuildByNameOrID(strings.TrimSpace(guildRef))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGuild, guildRef)
	}
	channels := s.platform.GuildChannels(guild.ID)
	if channels == nil {
		channels = []remote.Channel{}
	}
	sort.Slice(channels, func(i, j int) bool {
		return strings.ToLower(channels[i].Name) < strings.ToLower(channels[j].Name)
	})
	return channels, nil
}

// TrackTrades adds a live trade board for a user or item name and reports
// whether the name was new. The watchlist is persisted when a store is
// configured.
func (c *Connector) TrackTrades(ctx context.Context, term string) (bool, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return false, errors.New("name is required")
	}
	added := c.watchlist.Add(term)
	if c.store != nil {
		if _, err := c.store.TrackTrades(ctx, term); err != nil {
			if added {
				c.watchlist.Remove(term)
			}
			return false, fmt.Errorf("failed to track trades: %w", err)
		}
	}
	if added {
		c.log.Info().Str("term", term).Msg("Tracking trades")
		c.publish(events.WatchlistChanged, nil)
	}
	return added, nil
}

// UntrackTrades removes the trade board of a name.
func (c *Connector) UntrackTrades(ctx context.Context, term string) error {
	term = strings.TrimSpace(term)
	if !c.watchlist.Remove(term) {
		return ErrNotTracked
	}
	if c.store != nil {
		if err := c.store.UntrackTrades(ctx, term); err != nil && !errors.Is(err, store.ErrNotFound) {
			c.watchlist.Add(term)
			return fmt.Errorf("failed to untrack trades: %w", err)
		}
	}
	c.log.Info().Str("term", term).Msg("Stopped tracking trades")
	c.publish(events.WatchlistChanged, nil)
	return nil
}

// TrackedTrades lists the names with a trade board.
func (c *Connector) TrackedTrades() []string {
	terms := c.watchlist.Terms()
	if terms == nil {
		terms = []string{}
	}
	return terms
}

// loadWatchlist restores the persisted trade watchlist.
func (c *Connector) loadWatchlist(ctx context.Context) {
	if c.store == nil {
		return
	}
	terms, err := c.store.TrackedTrades(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to load tracked trades")
		return
	}
	c.watchlist.Replace(terms)
	if len(terms) > 0 {
		c.log.Debug().Int("count", len(terms)).Msg("Loaded tracked trades")
	}
}
