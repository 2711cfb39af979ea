// Copyright 2024-2026 Aiku AI

// Package reaction turns reactions on live election messages into votes.
package reaction

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/metrics"
	"github.com/aiku/discordlink/pkg/remote"
)

// Vote symbols for boolean elections, in the order they are offered.
const (
	VoteFor     = "\u2705"
	VoteAgainst = "\u274c"
)

// BooleanChoices maps vote symbols to election choices.
var BooleanChoices = map[string]string{
	VoteFor:     "Yes",
	VoteAgainst: "No",
}

// Identities resolves the game account linked to a remote user.
type Identities interface {
	GameUser(ctx context.Context, u remote.User) (game.User, bool)
}

// UserLinks is the persisted remote user to game user mapping.
type UserLinks interface {
	LinkedGameUser(ctx context.Context, remoteID string) (string, bool, error)
}

// LinkedIdentities resolves identities through UserLinks and fills in the
// account details the game server knows about.
type LinkedIdentities struct {
	Links  UserLinks
	Server game.Server
}

func (l LinkedIdentities) GameUser(ctx context.Context, u remote.User) (game.User, bool) {
	name, ok, err := l.Links.LinkedGameUser(ctx, u.ID)
	if err != nil || !ok {
		return game.User{}, false
	}
	if gu, ok := l.Server.UserByName(name); ok {
		return gu, true
	}
	return game.User{Name: name}, true
}

// Outcome is the result of reducing one reaction.
type Outcome string

const (
	Ignored    Outcome = "ignored"
	Unresolved Outcome = "unresolved"
	Voted      Outcome = "voted"
	Failed     Outcome = "failed"
)

// Reducer applies reaction votes. Thread-safe.
type Reducer struct {
	server     game.Server
	platform   remote.Platform
	identities Identities
	metrics    *metrics.Metrics
	log        zerolog.Logger
}

// NewReducer creates a reducer voting on server.
func NewReducer(server game.Server, platform remote.Platform, identities Identities, m *metrics.Metrics, log zerolog.Logger) *Reducer {
	return &Reducer{
		server:     server,
		platform:   platform,
		identities: identities,
		metrics:    m,
		log:        log.With().Str("component", "reaction").Logger(),
	}
}

// AddVoteReactions offers the vote symbols on a message when the bot may
// react in its channel.
func (r *Reducer) AddVoteReactions(ctx context.Context, channelID, messageID string) error {
	if !r.platform.CanAddReactions(channelID) {
		r.log.Debug().Str("channel_id", channelID).Msg("No permission to add vote reactions")
		return nil
	}
	for _, symbol := range []string{VoteFor, VoteAgainst} {
		if err := r.platform.AddReaction(ctx, channelID, messageID, symbol); err != nil {
			return fmt.Errorf("failed to add vote reaction: %w", err)
		}
	}
	return nil
}

// ReduceVote casts the vote a reaction on an election message stands for.
// Only added reactions count; removing one never retracts a vote. Anonymous
// elections get their reactions reset after each vote so the tally stays
// hidden.
func (r *Reducer) ReduceVote(ctx context.Context, rx remote.Reaction, election game.Election) Outcome {
	choice, ok := BooleanChoices[rx.Emoji]
	if !ok || rx.Change != remote.ReactionAdded || !election.Boolean {
		return r.record(Ignored)
	}
	voter, ok := r.identities.GameUser(ctx, rx.User)
	if !ok {
		return r.record(Unresolved)
	}

	outcome := Voted
	if err := r.server.CastVote(ctx, election.ID, voter, choice); err != nil {
		r.log.Debug().Err(err).
			Str("remote_user", rx.User.Name).
			Int("election_id", election.ID).
			Str("choice", choice).
			Msg("Failed to cast reaction vote")
		outcome = Failed
	}

	if election.Anonymous {
		if err := r.platform.ClearReactions(ctx, rx.ChannelID, rx.MessageID); err != nil {
			r.log.Warn().Err(err).Str("message_id", rx.MessageID).Msg("Failed to clear reactions of anonymous election")
		} else if err := r.AddVoteReactions(ctx, rx.ChannelID, rx.MessageID); err != nil {
			r.log.Warn().Err(err).Str("message_id", rx.MessageID).Msg("Failed to restore vote reactions")
		}
	}
	return r.record(outcome)
}

func (r *Reducer) record(o Outcome) Outcome {
	r.metrics.Vote(string(o))
	return o
}
