// Copyright 2024-2026 Aiku AI

package modules

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aiku/discordlink/pkg/display"
	"github.com/aiku/discordlink/pkg/events"
	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/remote"
)

// Tags of single-message displays.
const (
	PlayerListTag = "players"
	ServerInfoTag = "server_info"
	CurrencyTag   = "currencies"
)

// PlayerDisplay keeps a live list of online players.
type PlayerDisplay struct {
	env *Env
}

func (m *PlayerDisplay) Name() string          { return "player_display" }
func (m *PlayerDisplay) Purpose() link.Purpose { return link.PurposePlayerList }

func (m *PlayerDisplay) Triggers() events.Kind {
	return events.Startup | events.ClientConnected | events.Timer | events.Join | events.Login | events.Logout
}

func (m *PlayerDisplay) Refresh() (time.Duration, time.Duration) {
	return 5 * time.Second, time.Minute
}

func (m *PlayerDisplay) DisplayContent(target link.Target) []display.Content {
	msg := PlayerListMessage(m.env.Server.OnlineUsers(), target.Link.PlayerListOptions, m.env.now())
	return []display.Content{{Tag: PlayerListTag, Message: msg}}
}

// ElectionDisplay keeps one live report per active election and turns vote
// reactions into ballots.
type ElectionDisplay struct {
	env *Env
}

func (m *ElectionDisplay) Name() string          { return "election_display" }
func (m *ElectionDisplay) Purpose() link.Purpose { return link.PurposeElections }

func (m *ElectionDisplay) Triggers() events.Kind {
	return events.Startup | events.ClientStarted | events.Timer | events.Login | events.Vote | events.ElectionStart | events.ElectionStop
}

func (m *ElectionDisplay) Refresh() (time.Duration, time.Duration) {
	return 15 * time.Second, time.Minute
}

func (m *ElectionDisplay) DisplayContent(link.Target) []display.Content {
	now := m.env.now()
	var out []display.Content
	for _, e := range m.env.Server.ActiveElections() {
		out = append(out, display.Content{Tag: strconv.Itoa(e.ID), Message: ElectionMessage(e, now)})
	}
	return out
}

// election resolves the active election a tracked message shows.
func (m *ElectionDisplay) election(msg display.Tracked) (game.Election, bool) {
	id, err := strconv.Atoi(msg.Tag)
	if err != nil {
		return game.Election{}, false
	}
	e, ok := m.env.Server.Election(id)
	if !ok || !e.Active {
		return game.Election{}, false
	}
	return e, true
}

func (m *ElectionDisplay) PostDisplayCreated(ctx context.Context, _ link.Target, msg display.Tracked) error {
	e, ok := m.election(msg)
	if !ok || !e.Boolean || m.env.Reducer == nil {
		return nil
	}
	if err := m.env.Reducer.AddVoteReactions(ctx, msg.ChannelID, msg.MessageID); err != nil {
		return fmt.Errorf("failed to add vote reactions to election %d: %w", e.ID, err)
	}
	return nil
}

func (m *ElectionDisplay) HandleReactionChange(ctx context.Context, r remote.Reaction, _ link.Target, msg display.Tracked) {
	e, ok := m.election(msg)
	if !ok || m.env.Reducer == nil {
		return
	}
	outcome := m.env.Reducer.ReduceVote(ctx, r, e)
	m.env.Log.Debug().
		Str("module", m.Name()).
		Int("election_id", e.ID).
		Str("emoji", r.Emoji).
		Stringer("change", r.Change).
		Str("outcome", string(outcome)).
		Msg("Handled election reaction")
}

// ServerInfoDisplay keeps a live server overview.
type ServerInfoDisplay struct {
	env *Env
}

func (m *ServerInfoDisplay) Name() string          { return "server_info_display" }
func (m *ServerInfoDisplay) Purpose() link.Purpose { return link.PurposeServerInfo }

func (m *ServerInfoDisplay) Triggers() events.Kind {
	return events.Startup | events.ClientConnected | events.Timer | events.Join | events.Login | events.Logout | events.ElectionStart | events.ElectionStop
}

func (m *ServerInfoDisplay) Refresh() (time.Duration, time.Duration) {
	return 5 * time.Second, time.Minute
}

func (m *ServerInfoDisplay) DisplayContent(target link.Target) []display.Content {
	msg := ServerInfoMessage(m.env.Server, target.Link.Display, m.env.now())
	return []display.Content{{Tag: ServerInfoTag, Message: msg}}
}

// WorkPartyDisplay keeps one live message per active work party.
type WorkPartyDisplay struct {
	env *Env
}

func (m *WorkPartyDisplay) Name() string          { return "work_party_display" }
func (m *WorkPartyDisplay) Purpose() link.Purpose { return link.PurposeWorkParties }

func (m *WorkPartyDisplay) Triggers() events.Kind {
	return events.Startup | events.Timer | events.WorkParty
}

func (m *WorkPartyDisplay) Refresh() (time.Duration, time.Duration) {
	return 20 * time.Second, time.Minute
}

func (m *WorkPartyDisplay) DisplayContent(link.Target) []display.Content {
	var out []display.Content
	for _, p := range m.env.Server.WorkParties() {
		out = append(out, display.Content{Tag: strconv.Itoa(p.ID), Message: WorkPartyMessage(p)})
	}
	return out
}

// CurrencyDisplay keeps a live overview of the traded currencies.
type CurrencyDisplay struct {
	env *Env
}

func (m *CurrencyDisplay) Name() string          { return "currency_display" }
func (m *CurrencyDisplay) Purpose() link.Purpose { return link.PurposeCurrencies }

func (m *CurrencyDisplay) Triggers() events.Kind {
	return events.Startup | events.Timer | events.Trade
}

func (m *CurrencyDisplay) Refresh() (time.Duration, time.Duration) {
	return 20 * time.Second, time.Minute
}

func (m *CurrencyDisplay) DisplayContent(link.Target) []display.Content {
	return []display.Content{{Tag: CurrencyTag, Message: CurrencyMessage(m.env.Server.Currencies())}}
}

// TradeFeed posts every store transaction.
type TradeFeed struct {
	env *Env
}

func (m *TradeFeed) Name() string          { return "trade_feed" }
func (m *TradeFeed) Purpose() link.Purpose { return link.PurposeTrades }
func (m *TradeFeed) Triggers() events.Kind { return events.Trade }

func (m *TradeFeed) Feed(ctx context.Context, _ events.Kind, data any, target link.Target) error {
	trade, ok := data.(game.CurrencyTrade)
	if !ok {
		return nil
	}
	_, err := m.env.Platform.SendMessage(ctx, target.ChannelID, TradeMessage(trade))
	m.env.Metrics.RemoteCall("send", err)
	if err != nil {
		return fmt.Errorf("failed to post trade: %w", err)
	}
	return nil
}

// TrackedTradesDisplay keeps one live trade board per watched user or item.
type TrackedTradesDisplay struct {
	env *Env
}

func (m *TrackedTradesDisplay) Name() string          { return "tracked_trades_display" }
func (m *TrackedTradesDisplay) Purpose() link.Purpose { return link.PurposeTrades }

func (m *TrackedTradesDisplay) Triggers() events.Kind {
	return events.Startup | events.ClientStarted | events.Timer | events.Trade | events.WatchlistChanged
}

func (m *TrackedTradesDisplay) Refresh() (time.Duration, time.Duration) {
	return 20 * time.Second, 5 * time.Minute
}

func (m *TrackedTradesDisplay) DisplayContent(link.Target) []display.Content {
	terms := m.env.Watchlist.Terms()
	if len(terms) == 0 {
		return nil
	}
	trades := m.env.Server.RecentTrades()
	out := make([]display.Content, 0, len(terms))
	for _, term := range terms {
		out = append(out, display.Content{Tag: TradeBoardTag(term), Message: TradeBoardMessage(term, trades)})
	}
	return out
}

// TradeBoardTag is the content tag of the trade board for term.
func TradeBoardTag(term string) string {
	return "trades:" + strings.ToLower(strings.TrimSpace(term))
}
