// Copyright 2024-2026 Aiku AI

package connector

import (
	"github.com/aiku/discordlink/pkg/events"
	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/relay"
	"github.com/aiku/discordlink/pkg/remote"
)

// handleGameAction classifies a game action and publishes it to the modules
// of the current session.
func (c *Connector) handleGameAction(a game.Action) {
	kind, data, ok := events.Classify(a)
	if !ok {
		c.log.Debug().Str("action", a.ActionType()).Msg("Dropping unmapped game action")
		return
	}
	if msg, ok := data.(game.ChatSent); ok {
		if len(c.links.ChatTargetsForGameChannel(msg.Channel)) == 0 {
			c.log.Trace().Str("channel", msg.Channel).Msg("Dropping game chat in unlinked channel")
			c.metrics.Dropped("unlinked")
			return
		}
		if c.echo.Seen(relay.SideGame, msg.Sender.Name, msg.Text) {
			c.log.Debug().Str("sender", msg.Sender.Name).Msg("Dropping echo of relayed game chat")
			c.metrics.Dropped("echo")
			return
		}
	}
	c.publish(kind, data)
}

// handlePlatformEvent classifies a remote platform event and publishes it.
// Reactions are delivered to modules by their own platform subscription.
func (c *Connector) handlePlatformEvent(evt remote.Event) {
	if _, ok := evt.(remote.ReactionChanged); ok {
		return
	}
	kind, data, ok := events.Classify(evt)
	if !ok {
		c.log.Trace().Type("event", evt).Msg("Dropping unmapped platform event")
		return
	}
	if msg, ok := data.(remote.Message); ok {
		if len(c.links.ChatTargetsForRemoteChannel(msg.ChannelID)) == 0 {
			c.log.Trace().Str("channel_id", msg.ChannelID).Msg("Dropping message in unlinked channel")
			c.metrics.Dropped("unlinked")
			return
		}
		if c.echo.Redelivered(relay.SideRemote, msg.ID) {
			c.log.Debug().Str("message_id", msg.ID).Msg("Dropping redelivered remote message")
			c.metrics.Dropped("duplicate")
			return
		}
		if c.echo.Seen(relay.SideRemote, msg.Author.ID, msg.Text) {
			c.log.Debug().Str("author_id", msg.Author.ID).Msg("Dropping echo of relayed remote message")
			c.metrics.Dropped("echo")
			return
		}
	}
	c.publish(kind, data)
}

// handleSnapshot re-renders every display after the game plugin reloaded
// the world state.
func (c *Connector) handleSnapshot() {
	c.log.Debug().Msg("Game snapshot loaded")
	c.publish(events.Startup, nil)
}

func (c *Connector) publish(kind events.Kind, data any) {
	s := c.current()
	if s == nil {
		c.log.Debug().Stringer("kind", kind).Msg("No client session, dropping event")
		return
	}
	n := s.bus.Publish(kind, data)
	c.log.Trace().Stringer("kind", kind).Int("subscribers", n).Msg("Published event")
}
