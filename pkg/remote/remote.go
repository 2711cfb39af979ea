// Copyright 2024-2026 Aiku AI

// Package remote defines the contract between the bridge and an external chat
// platform. Implementations live in the discord and mattermost sub-packages.
package remote

import (
	"context"
	"errors"
	"time"
)

// Errors returned by Platform implementations. Callers match them with
// errors.Is; implementations wrap them with request context.
var (
	ErrNotFound     = errors.New("remote object not found")
	ErrForbidden    = errors.New("missing permission on remote platform")
	ErrRateLimited  = errors.New("rate limited by remote platform")
	ErrNotConnected = errors.New("remote platform not connected")
)

// Guild is a server (Discord) or team (Mattermost).
type Guild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Channel is a channel inside a guild.
type Channel struct {
	ID      string `json:"id"`
	GuildID string `json:"guild_id"`
	Name    string `json:"name"`
	Voice   bool   `json:"voice"`
}

// User is an account on the remote platform.
type User struct {
	ID   string
	Name string
	Bot  bool
}

// Role is a mentionable group of users.
type Role struct {
	ID   string
	Name string
}

// EmbedField is one titled block of an embed.
type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

// Embed is a structured rich message body.
type Embed struct {
	Title       string
	Description string
	URL         string
	Color       int
	Thumbnail   string
	Fields      []EmbedField
	Footer      string
}

// AllowedMentions restricts which mention classes a message may ping.
type AllowedMentions struct {
	Users    bool
	Roles    bool
	Everyone bool
}

// OutgoingMessage is the content of a message the bridge sends or edits.
type OutgoingMessage struct {
	Text     string
	Embed    *Embed
	Mentions AllowedMentions
}

// Message is a message received from or returned by the remote platform.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	Author    User
	Text      string
	Timestamp time.Time
}

// ReactionChange tells whether a reaction was added or removed.
type ReactionChange int

const (
	ReactionAdded ReactionChange = iota
	ReactionRemoved
)

func (c ReactionChange) String() string {
	if c == ReactionAdded {
		return "added"
	}
	return "removed"
}

// Reaction is a single reaction add/remove on a remote message.
type Reaction struct {
	User      User
	GuildID   string
	ChannelID string
	MessageID string
	// Emoji is the unicode symbol, or ":name:" for custom emoji.
	Emoji  string
	Change ReactionChange
}

// Event is anything the platform pushes to subscribers.
type Event interface {
	isEvent()
}

// Connected is emitted after the platform session is ready.
type Connected struct{}

// MessageCreated is emitted for new messages authored by someone other than
// the bridge itself.
type MessageCreated struct {
	Message Message
}

// MessageDeleted is emitted when a message is removed.
type MessageDeleted struct {
	ChannelID string
	MessageID string
}

// ReactionChanged is emitted when a reaction is added or removed.
type ReactionChanged struct {
	Reaction Reaction
}

func (Connected) isEvent()       {}
func (MessageCreated) isEvent()  {}
func (MessageDeleted) isEvent()  {}
func (ReactionChanged) isEvent() {}

// Resolver looks up guilds and channels by display name or ID.
type Resolver interface {
	GuildByNameOrID(ref string) (Guild, bool)
	ChannelByNameOrID(guildID, ref string) (Channel, bool)
}

// Directory resolves mention targets in both directions.
type Directory interface {
	MemberByName(guildID, name string) (User, bool)
	RoleByName(guildID, name string) (Role, bool)
	UserByID(guildID, id string) (User, bool)
	RoleByID(guildID, id string) (Role, bool)
	ChannelByID(id string) (Channel, bool)
}

// Platform is a connected remote chat platform.
type Platform interface {
	Resolver
	Directory

	// Name identifies the implementation ("discord", "mattermost").
	Name() string
	Open(ctx context.Context) error
	Close() error
	// Self returns the bridge's own account. Zero until Open succeeds.
	Self() User
	Guilds() []Guild
	// GuildChannels lists the text and voice channels of a guild the bridge
	// can see.
	GuildChannels(guildID string) []Channel

	SendMessage(ctx context.Context, channelID string, msg OutgoingMessage) (Message, error)
	EditMessage(ctx context.Context, channelID, messageID string, msg OutgoingMessage) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	ClearReactions(ctx context.Context, channelID, messageID string) error
	CanAddReactions(channelID string) bool

	// Subscribe registers fn for every Event. The returned func removes it.
	Subscribe(fn func(Event)) (unsubscribe func())
}
