// Copyright 2024-2026 Aiku AI

// Package remotetest provides an in-memory remote.Platform for tests.
package remotetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aiku/discordlink/pkg/remote"
)

// Call is one recorded platform call.
type Call struct {
	Op        string
	ChannelID string
	MessageID string
	Message   remote.OutgoingMessage
	Emoji     string
}

// Platform is a fake remote platform with one guild. Exported fields may be
// set before the platform is shared between goroutines.
type Platform struct {
	remote.Subscribers

	SelfUser remote.User
	GuildRef remote.Guild
	Channels []remote.Channel
	Members  []remote.User
	Roles    []remote.Role
	// NoReactions lists channel IDs where CanAddReactions is false.
	NoReactions map[string]bool
	// OpenErr is returned by Open when set.
	OpenErr error

	mu       sync.Mutex
	calls    []Call
	messages map[string]remote.OutgoingMessage
	fail     map[string]error
	next     int
	open     bool
}

// New returns a platform with guild "Eco" (g1) and text channels "general"
// (c1) and "elections" (c2).
func New() *Platform {
	return &Platform{
		SelfUser: remote.User{ID: "bot", Name: "DiscordLink", Bot: true},
		GuildRef: remote.Guild{ID: "g1", Name: "Eco"},
		Channels: []remote.Channel{
			{ID: "c1", GuildID: "g1", Name: "general"},
			{ID: "c2", GuildID: "g1", Name: "elections"},
			{ID: "v1", GuildID: "g1", Name: "Lobby", Voice: true},
		},
		messages: make(map[string]remote.OutgoingMessage),
		fail:     make(map[string]error),
	}
}

// Fail makes calls of op return err until cleared with a nil err. op is an
// operation name ("send", "edit", "delete", "react", "clear_reactions"),
// optionally suffixed with ":channelID" to fail only in one channel.
func (p *Platform) Fail(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.fail, op)
		return
	}
	p.fail[op] = err
}

// Calls returns a copy of the recorded calls.
func (p *Platform) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsTo returns the recorded calls of one operation.
func (p *Platform) CallsTo(op string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets the recorded calls.
func (p *Platform) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// Message returns the current content of a posted message.
func (p *Platform) Message(messageID string) (remote.OutgoingMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg, ok := p.messages[messageID]
	return msg, ok
}

// MessageCount returns the number of live messages.
func (p *Platform) MessageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

// Drop removes a message without recording a call, as if a user deleted it.
func (p *Platform) Drop(messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.messages, messageID)
}

func (p *Platform) record(c Call) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, c)
	if err, ok := p.fail[c.Op+":"+c.ChannelID]; ok {
		return err
	}
	return p.fail[c.Op]
}

func (p *Platform) Name() string { return "fake" }

func (p *Platform) Open(context.Context) error {
	if p.OpenErr != nil {
		return p.OpenErr
	}
	p.mu.Lock()
	p.open = true
	p.mu.Unlock()
	p.Emit(remote.Connected{})
	return nil
}

func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

// IsOpen reports whether Open was called after the last Close.
func (p *Platform) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Platform) Self() remote.User { return p.SelfUser }

func (p *Platform) Guilds() []remote.Guild { return []remote.Guild{p.GuildRef} }

func (p *Platform) GuildChannels(guildID string) []remote.Channel {
	var out []remote.Channel
	for _, c := range p.Channels {
		if c.GuildID == guildID {
			out = append(out, c)
		}
	}
	return out
}

func (p *Platform) GuildByNameOrID(ref string) (remote.Guild, bool) {
	if ref == p.GuildRef.ID || strings.EqualFold(ref, p.GuildRef.Name) {
		return p.GuildRef, true
	}
	return remote.Guild{}, false
}

func (p *Platform) ChannelByNameOrID(guildID, ref string) (remote.Channel, bool) {
	for _, c := range p.Channels {
		if c.GuildID == guildID && (c.ID == ref || strings.EqualFold(c.Name, ref)) {
			return c, true
		}
	}
	return remote.Channel{}, false
}

func (p *Platform) MemberByName(guildID, name string) (remote.User, bool) {
	for _, u := range p.Members {
		if strings.EqualFold(u.Name, name) {
			return u, true
		}
	}
	return remote.User{}, false
}

func (p *Platform) RoleByName(guildID, name string) (remote.Role, bool) {
	for _, r := range p.Roles {
		if strings.EqualFold(r.Name, name) {
			return r, true
		}
	}
	return remote.Role{}, false
}

func (p *Platform) UserByID(guildID, id string) (remote.User, bool) {
	for _, u := range p.Members {
		if u.ID == id {
			return u, true
		}
	}
	return remote.User{}, false
}

func (p *Platform) RoleByID(guildID, id string) (remote.Role, bool) {
	for _, r := range p.Roles {
		if r.ID == id {
			return r, true
		}
	}
	return remote.Role{}, false
}

func (p *Platform) ChannelByID(id string) (remote.Channel, bool) {
	for _, c := range p.Channels {
		if c.ID == id {
			return c, true
		}
	}
	return remote.Channel{}, false
}

func (p *Platform) SendMessage(_ context.Context, channelID string, msg remote.OutgoingMessage) (remote.Message, error) {
	if err := p.record(Call{Op: "send", ChannelID: channelID, Message: msg}); err != nil {
		return remote.Message{}, err
	}
	p.mu.Lock()
	p.next++
	id := fmt.Sprintf("m%d", p.next)
	p.messages[id] = msg
	p.mu.Unlock()
	return remote.Message{
		ID:        id,
		ChannelID: channelID,
		GuildID:   p.GuildRef.ID,
		Author:    p.SelfUser,
		Text:      msg.Text,
		Timestamp: time.Now(),
	}, nil
}

func (p *Platform) EditMessage(_ context.Context, channelID, messageID string, msg remote.OutgoingMessage) error {
	if err := p.record(Call{Op: "edit", ChannelID: channelID, MessageID: messageID, Message: msg}); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.messages[messageID]; !ok {
		return fmt.Errorf("edit %s: %w", messageID, remote.ErrNotFound)
	}
	p.messages[messageID] = msg
	return nil
}

func (p *Platform) DeleteMessage(_ context.Context, channelID, messageID string) error {
	if err := p.record(Call{Op: "delete", ChannelID: channelID, MessageID: messageID}); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.messages[messageID]; !ok {
		return fmt.Errorf("delete %s: %w", messageID, remote.ErrNotFound)
	}
	delete(p.messages, messageID)
	return nil
}

func (p *Platform) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	return p.record(Call{Op: "react", ChannelID: channelID, MessageID: messageID, Emoji: emoji})
}

func (p *Platform) ClearReactions(_ context.Context, channelID, messageID string) error {
	return p.record(Call{Op: "clear_reactions", ChannelID: channelID, MessageID: messageID})
}

func (p *Platform) CanAddReactions(channelID string) bool {
	return !p.NoReactions[channelID]
}

var _ remote.Platform = (*Platform)(nil)
