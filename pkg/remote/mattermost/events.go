// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/discordlink/pkg/remote"
)

// handleEvent dispatches a Mattermost WebSocket event to the appropriate handler.
func (p *Platform) handleEvent(evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		p.handlePosted(evt)
	case model.WebsocketEventPostDeleted:
		p.handlePostDeleted(evt)
	case model.WebsocketEventReactionAdded:
		p.handleReaction(evt, remote.ReactionAdded)
	case model.WebsocketEventReactionRemoved:
		p.handleReaction(evt, remote.ReactionRemoved)
	default:
		p.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts and validates a post from a WebSocket event,
// applying echo prevention. Returns (nil, nil) to skip silently, (nil, err)
// to log an error, or (post, nil) to proceed.
func (p *Platform) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts.
	if post.UserId == p.Self().ID {
		return nil, nil
	}

	// Skip non-default post types (system messages).
	if post.Type != "" && post.Type != model.PostTypeDefault {
		return nil, nil
	}
	return &post, nil
}

// parsePostDeletedEvent extracts a deleted post. Returns (nil, nil) to skip.
func (p *Platform) parsePostDeletedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, nil
	}
	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deleted post: %w", err)
	}
	return &post, nil
}

// parseReactionEvent extracts and validates a reaction from a WebSocket event.
// Returns (nil, nil) to skip, (nil, err) for errors, or (reaction, nil) to proceed.
func (p *Platform) parseReactionEvent(evt *model.WebSocketEvent) (*model.Reaction, error) {
	reactionJSON, ok := evt.GetData()["reaction"].(string)
	if !ok {
		return nil, nil
	}

	var reaction model.Reaction
	if err := json.Unmarshal([]byte(reactionJSON), &reaction); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reaction: %w", err)
	}

	// Echo prevention: skip own reactions.
	if reaction.UserId == p.Self().ID {
		return nil, nil
	}
	return &reaction, nil
}

func (p *Platform) handlePosted(evt *model.WebSocketEvent) {
	post, err := p.parsePostedEvent(evt)
	if err != nil {
		p.log.Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil {
		return
	}

	author, ok := p.UserByID("", post.UserId)
	if !ok {
		senderName, _ := evt.GetData()["sender_name"].(string)
		author = remote.User{ID: post.UserId, Name: strings.TrimPrefix(senderName, "@")}
	}
	channel, _ := p.ChannelByID(post.ChannelId)
	p.Emit(remote.MessageCreated{Message: remote.Message{
		ID:        post.Id,
		ChannelID: post.ChannelId,
		GuildID:   channel.GuildID,
		Author:    author,
		Text:      post.Message,
		Timestamp: time.UnixMilli(post.CreateAt),
	}})
}

func (p *Platform) handlePostDeleted(evt *model.WebSocketEvent) {
	post, err := p.parsePostDeletedEvent(evt)
	if err != nil {
		p.log.Err(err).Msg("Failed to parse post deleted event")
		return
	}
	if post == nil {
		return
	}
	p.Emit(remote.MessageDeleted{ChannelID: post.ChannelId, MessageID: post.Id})
}

func (p *Platform) handleReaction(evt *model.WebSocketEvent, change remote.ReactionChange) {
	reaction, err := p.parseReactionEvent(evt)
	if err != nil {
		p.log.Err(err).Msg("Failed to parse reaction event")
		return
	}
	if reaction == nil {
		return
	}

	user, ok := p.UserByID("", reaction.UserId)
	if !ok {
		user = remote.User{ID: reaction.UserId}
	}
	channelID := reaction.ChannelId
	if channelID == "" {
		channelID = evt.GetBroadcast().ChannelId
	}
	channel, _ := p.ChannelByID(channelID)
	p.Emit(remote.ReactionChanged{Reaction: remote.Reaction{
		User:      user,
		GuildID:   channel.GuildID,
		ChannelID: channelID,
		MessageID: reaction.PostId,
		Emoji:     reactionToEmoji(reaction.EmojiName),
		Change:    change,
	}})
}
