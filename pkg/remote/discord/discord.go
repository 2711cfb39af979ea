// Copyright 2024-2026 Aiku AI

// Package discord implements remote.Platform on top of a discordgo bot
// session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/remote"
)

// Platform is a Discord bot session. Lookups are served from the discordgo
// state cache. Thread-safe.
type Platform struct {
	remote.Subscribers

	session *discordgo.Session
	log     zerolog.Logger
}

var _ remote.Platform = (*Platform)(nil)

// New creates an unopened session for the bot token.
func New(token string, log zerolog.Logger) (*Platform, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("discord bot token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	p := &Platform{
		session: session,
		log:     log.With().Str("component", "discord").Logger(),
	}
	session.AddHandler(p.onReady)
	session.AddHandler(p.onMessageCreate)
	session.AddHandler(p.onMessageDelete)
	session.AddHandler(p.onReactionAdd)
	session.AddHandler(p.onReactionRemove)
	return p, nil
}

func (p *Platform) Name() string { return "discord" }

// Open connects the gateway. Connected is emitted once the session is ready.
func (p *Platform) Open(context.Context) error {
	if err := p.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}
	return nil
}

func (p *Platform) Close() error {
	if err := p.session.Close(); err != nil {
		return fmt.Errorf("failed to close Discord session: %w", err)
	}
	return nil
}

func (p *Platform) Self() remote.User {
	state := p.session.State
	state.RLock()
	defer state.RUnlock()
	if state.User == nil {
		return remote.User{}
	}
	return toUser(state.User, nil)
}

func (p *Platform) Guilds() []remote.Guild {
	state := p.session.State
	state.RLock()
	defer state.RUnlock()
	out := make([]remote.Guild, 0, len(state.Guilds))
	for _, g := range state.Guilds {
		out = append(out, remote.Guild{ID: g.ID, Name: g.Name})
	}
	return out
}

func (p *Platform) GuildChannels(guildID string) []remote.Channel {
	guild, err := p.session.State.Guild(guildID)
	if err != nil {
		return nil
	}
	p.session.State.RLock()
	defer p.session.State.RUnlock()
	var out []remote.Channel
	for _, ch := range guild.Channels {
		if isMessageChannel(ch) || isVoiceChannel(ch) {
			out = append(out, toChannel(ch))
		}
	}
	return out
}

func (p *Platform) GuildByNameOrID(ref string) (remote.Guild, bool) {
	state := p.session.State
	state.RLock()
	defer state.RUnlock()
	for _, g := range state.Guilds {
		if g.ID == ref || strings.EqualFold(g.Name, ref) {
			return remote.Guild{ID: g.ID, Name: g.Name}, true
		}
	}
	return remote.Guild{}, false
}

func (p *Platform) ChannelByNameOrID(guildID, ref string) (remote.Channel, bool) {
	guild, err := p.session.State.Guild(guildID)
	if err != nil {
		return remote.Channel{}, false
	}
	name := strings.TrimPrefix(ref, "#")
	p.session.State.RLock()
	defer p.session.State.RUnlock()
	for _, ch := range guild.Channels {
		if ch.ID == ref {
			return toChannel(ch), true
		}
	}
	for _, ch := range guild.Channels {
		if isMessageChannel(ch) || isVoiceChannel(ch) {
			if strings.EqualFold(ch.Name, name) {
				return toChannel(ch), true
			}
		}
	}
	return remote.Channel{}, false
}

func (p *Platform) MemberByName(guildID, name string) (remote.User, bool) {
	guild, err := p.session.State.Guild(guildID)
	if err != nil {
		return remote.User{}, false
	}
	p.session.State.RLock()
	defer p.session.State.RUnlock()
	for _, m := range guild.Members {
		if m.User == nil {
			continue
		}
		if strings.EqualFold(m.Nick, name) || strings.EqualFold(m.User.Username, name) || strings.EqualFold(m.User.GlobalName, name) {
			return toUser(m.User, m), true
		}
	}
	return remote.User{}, false
}

func (p *Platform) RoleByName(guildID, name string) (remote.Role, bool) {
	guild, err := p.session.State.Guild(guildID)
	if err != nil {
		return remote.Role{}, false
	}
	p.session.State.RLock()
	defer p.session.State.RUnlock()
	for _, r := range guild.Roles {
		if strings.EqualFold(r.Name, name) {
			return remote.Role{ID: r.ID, Name: r.Name}, true
		}
	}
	return remote.Role{}, false
}

func (p *Platform) UserByID(guildID, id string) (remote.User, bool) {
	m, err := p.session.State.Member(guildID, id)
	if err != nil || m.User == nil {
		return remote.User{}, false
	}
	return toUser(m.User, m), true
}

func (p *Platform) RoleByID(guildID, id string) (remote.Role, bool) {
	r, err := p.session.State.Role(guildID, id)
	if err != nil {
		return remote.Role{}, false
	}
	return remote.Role{ID: r.ID, Name: r.Name}, true
}

func (p *Platform) ChannelByID(id string) (remote.Channel, bool) {
	ch, err := p.session.State.Channel(id)
	if err != nil {
		return remote.Channel{}, false
	}
	return toChannel(ch), true
}

func (p *Platform) SendMessage(ctx context.Context, channelID string, msg remote.OutgoingMessage) (remote.Message, error) {
	send := &discordgo.MessageSend{
		Content:         msg.Text,
		AllowedMentions: allowedMentions(msg.Mentions),
	}
	if msg.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{toEmbed(msg.Embed)}
	}
	sent, err := p.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return remote.Message{}, fmt.Errorf("failed to send message: %w", classify(err))
	}
	return toMessage(sent), nil
}

func (p *Platform) EditMessage(ctx context.Context, channelID, messageID string, msg remote.OutgoingMessage) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(msg.Text)
	embeds := []*discordgo.MessageEmbed{}
	if msg.Embed != nil {
		embeds = append(embeds, toEmbed(msg.Embed))
	}
	edit.SetEmbeds(embeds)
	edit.AllowedMentions = allowedMentions(msg.Mentions)
	if _, err := p.session.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to edit message: %w", classify(err))
	}
	return nil
}

func (p *Platform) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := p.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to delete message: %w", classify(err))
	}
	return nil
}

func (p *Platform) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	emoji = strings.Trim(emoji, ":")
	if err := p.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to add reaction: %w", classify(err))
	}
	return nil
}

func (p *Platform) ClearReactions(ctx context.Context, channelID, messageID string) error {
	if err := p.session.MessageReactionsRemoveAll(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to clear reactions: %w", classify(err))
	}
	return nil
}

// CanAddReactions reports whether the bot holds the add reactions permission
// in the channel.
func (p *Platform) CanAddReactions(channelID string) bool {
	self := p.Self()
	if self.ID == "" {
		return false
	}
	perms, err := p.session.State.UserChannelPermissions(self.ID, channelID)
	if err != nil {
		p.log.Debug().Err(err).Str("channel_id", channelID).Msg("Failed to compute channel permissions")
		return false
	}
	return perms&discordgo.PermissionAddReactions != 0
}

func isMessageChannel(ch *discordgo.Channel) bool {
	return ch.Type == discordgo.ChannelTypeGuildText || ch.Type == discordgo.ChannelTypeGuildNews
}

func isVoiceChannel(ch *discordgo.Channel) bool {
	return ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice
}

func toChannel(ch *discordgo.Channel) remote.Channel {
	return remote.Channel{ID: ch.ID, GuildID: ch.GuildID, Name: ch.Name, Voice: isVoiceChannel(ch)}
}

// toUser prefers the guild nickname, then the global display name.
func toUser(u *discordgo.User, m *discordgo.Member) remote.User {
	name := u.Username
	if u.GlobalName != "" {
		name = u.GlobalName
	}
	if m != nil && m.Nick != "" {
		name = m.Nick
	}
	return remote.User{ID: u.ID, Name: name, Bot: u.Bot}
}

func toMessage(m *discordgo.Message) remote.Message {
	msg := remote.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Text:      m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		msg.Author = toUser(m.Author, m.Member)
	}
	return msg
}

func toEmbed(e *remote.Embed) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		URL:         e.URL,
		Color:       e.Color,
	}
	if e.Thumbnail != "" {
		embed.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.Thumbnail}
	}
	if e.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	for _, f := range e.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return embed
}

func allowedMentions(m remote.AllowedMentions) *discordgo.MessageAllowedMentions {
	parse := []discordgo.AllowedMentionType{}
	if m.Users {
		parse = append(parse, discordgo.AllowedMentionTypeUsers)
	}
	if m.Roles {
		parse = append(parse, discordgo.AllowedMentionTypeRoles)
	}
	if m.Everyone {
		parse = append(parse, discordgo.AllowedMentionTypeEveryone)
	}
	return &discordgo.MessageAllowedMentions{Parse: parse}
}

// classify maps a REST failure onto the remote error sentinels.
func classify(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return err
	}
	switch restErr.Response.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", remote.ErrNotFound, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", remote.ErrForbidden, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", remote.ErrRateLimited, err)
	default:
		return err
	}
}
