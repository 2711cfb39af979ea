// Copyright 2024-2026 Aiku AI

package relay

import (
	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/relay/discordfmt"
	"github.com/aiku/discordlink/pkg/relay/gamefmt"
	"github.com/aiku/discordlink/pkg/remote"
)

// Lookup is what the formatters need from the remote platform.
type Lookup interface {
	remote.Resolver
	remote.Directory
}

// guildLookup adapts a Lookup to the formatter resolvers for one guild.
type guildLookup struct {
	lookup  Lookup
	guildID string
}

func (g guildLookup) MemberID(name string) (string, bool) {
	u, ok := g.lookup.MemberByName(g.guildID, name)
	return u.ID, ok
}

func (g guildLookup) RoleID(name string) (string, bool) {
	r, ok := g.lookup.RoleByName(g.guildID, name)
	return r.ID, ok
}

func (g guildLookup) ChannelID(name string) (string, bool) {
	c, ok := g.lookup.ChannelByNameOrID(g.guildID, name)
	if !ok || c.Voice {
		return "", false
	}
	return c.ID, true
}

func (g guildLookup) UserName(id string) (string, bool) {
	u, ok := g.lookup.UserByID(g.guildID, id)
	return u.Name, ok
}

func (g guildLookup) RoleName(id string) (string, bool) {
	r, ok := g.lookup.RoleByID(g.guildID, id)
	return r.Name, ok
}

func (g guildLookup) ChannelName(id string) (string, bool) {
	c, ok := g.lookup.ChannelByID(id)
	return c.Name, ok
}

// FormatForRemote renders a game chat message for a chat target. Mention
// rewriting and the allowed-mentions envelope follow the link's permissions.
func FormatForRemote(msg game.ChatSent, target link.Target, lookup Lookup, marker string) remote.OutgoingMessage {
	l := target.Link
	opts := discordfmt.Options{
		AllowUserMentions:    l.AllowUserMentions,
		AllowRoleMentions:    l.AllowRoleMentions,
		AllowChannelMentions: l.AllowChannelMentions,
		AllowGlobalMentions:  l.GlobalMentions.Permits(msg.Sender.IsAdmin),
	}
	var resolver discordfmt.Resolver
	if lookup != nil {
		resolver = guildLookup{lookup: lookup, guildID: target.GuildID}
	}
	body := discordfmt.Format(StripEchoMarker(msg.Text, marker), resolver, opts)
	return remote.OutgoingMessage{
		Text: discordfmt.ChatLine(msg.Sender.Name, body),
		Mentions: remote.AllowedMentions{
			Users:    opts.AllowUserMentions,
			Roles:    opts.AllowRoleMentions,
			Everyone: opts.AllowGlobalMentions,
		},
	}
}

// FormatForGame renders a remote message as a game chat line.
func FormatForGame(msg remote.Message, platform string, lookup Lookup) string {
	var resolver gamefmt.Resolver
	if lookup != nil {
		resolver = guildLookup{lookup: lookup, guildID: msg.GuildID}
	}
	return gamefmt.ChatLine(platform, msg.Author.Name, gamefmt.Parse(msg.Text, resolver))
}
