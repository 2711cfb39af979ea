// Copyright 2024-2026 Aiku AI

package discord

import (
	"github.com/bwmarrin/discordgo"

	"github.com/aiku/discordlink/pkg/remote"
)

func (p *Platform) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	p.log.Info().
		Str("user_id", r.User.ID).
		Str("username", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("Discord session ready")
	p.Emit(remote.Connected{})
}

func (p *Platform) isSelf(userID string) bool {
	self := p.Self()
	return self.ID != "" && self.ID == userID
}

func (p *Platform) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}
	// Echo prevention: skip own and other bot messages.
	if p.isSelf(m.Author.ID) || m.Author.Bot {
		return
	}
	if m.GuildID == "" {
		p.log.Trace().Str("channel_id", m.ChannelID).Msg("Ignoring direct message")
		return
	}
	msg := toMessage(m.Message)
	if m.Member == nil {
		if user, ok := p.UserByID(m.GuildID, m.Author.ID); ok {
			msg.Author = user
		}
	}
	p.Emit(remote.MessageCreated{Message: msg})
}

func (p *Platform) onMessageDelete(_ *discordgo.Session, m *discordgo.MessageDelete) {
	if m.Message == nil {
		return
	}
	p.Emit(remote.MessageDeleted{ChannelID: m.ChannelID, MessageID: m.ID})
}

func (p *Platform) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil {
		return
	}
	user := p.reactionUser(r.MessageReaction)
	if r.Member != nil && r.Member.User != nil {
		user = toUser(r.Member.User, r.Member)
	}
	p.emitReaction(r.MessageReaction, user, remote.ReactionAdded)
}

func (p *Platform) onReactionRemove(_ *discordgo.Session, r *discordgo.MessageReactionRemove) {
	if r.MessageReaction == nil {
		return
	}
	p.emitReaction(r.MessageReaction, p.reactionUser(r.MessageReaction), remote.ReactionRemoved)
}

func (p *Platform) reactionUser(r *discordgo.MessageReaction) remote.User {
	if user, ok := p.UserByID(r.GuildID, r.UserID); ok {
		return user
	}
	return remote.User{ID: r.UserID}
}

func (p *Platform) emitReaction(r *discordgo.MessageReaction, user remote.User, change remote.ReactionChange) {
	if p.isSelf(r.UserID) {
		return
	}
	p.Emit(remote.ReactionChanged{Reaction: remote.Reaction{
		User:      user,
		GuildID:   r.GuildID,
		ChannelID: r.ChannelID,
		MessageID: r.MessageID,
		Emoji:     emojiString(r.Emoji),
		Change:    change,
	}})
}

// emojiString returns the unicode symbol, or ":name:" for custom emoji.
func emojiString(e discordgo.Emoji) string {
	if e.ID != "" {
		return ":" + e.Name + ":"
	}
	return e.Name
}
