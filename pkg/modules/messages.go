// Copyright 2024-2026 Aiku AI

package modules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/reaction"
	"github.com/aiku/discordlink/pkg/relay/discordfmt"
	"github.com/aiku/discordlink/pkg/remote"
)

// maxEmbedFields is the most fields a remote embed can carry.
const maxEmbedFields = 25

const embedColor = 0x3BA55C

// plain renders game rich text as escaped remote text.
func plain(s string) string {
	return discordfmt.EscapeMarkdown(discordfmt.StripTags(s))
}

func listOrNone(lines []string) string {
	if len(lines) == 0 {
		return "None"
	}
	return strings.Join(lines, "\n")
}

// FormatDuration renders d as "1d 2h 3m", dropping leading zero units.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	days := int(d / (24 * time.Hour))
	hours := int(d/time.Hour) % 24
	minutes := int(d/time.Minute) % 60
	var parts []string
	if days > 0 {
		parts = append(parts, strconv.Itoa(days)+"d")
	}
	if days > 0 || hours > 0 {
		parts = append(parts, strconv.Itoa(hours)+"h")
	}
	parts = append(parts, strconv.Itoa(minutes)+"m")
	return strings.Join(parts, " ")
}

// PlayerListMessage builds the live player list.
func PlayerListMessage(users []game.User, opts link.PlayerListOptions, now time.Time) remote.OutgoingMessage {
	title := "Players"
	if opts.UsePlayerCount {
		title = fmt.Sprintf("%d Players Online", len(users))
	}
	names := make([]string, 0, len(users))
	sessions := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, plain(u.Name))
		if u.LoginTime.IsZero() {
			sessions = append(sessions, "-")
		} else {
			sessions = append(sessions, FormatDuration(now.Sub(u.LoginTime)))
		}
	}
	embed := &remote.Embed{
		Title:  title,
		Color:  embedColor,
		Fields: []remote.EmbedField{{Name: "Online Players", Value: listOrNone(names), Inline: true}},
	}
	if opts.UseLoggedInTime {
		embed.Fields = append(embed.Fields, remote.EmbedField{Name: "Session Time", Value: listOrNone(sessions), Inline: true})
	}
	return remote.OutgoingMessage{Embed: embed}
}

// ElectionMessage builds the live report of one election.
func ElectionMessage(e game.Election, now time.Time) remote.OutgoingMessage {
	embed := &remote.Embed{
		Title:       "Election: " + plain(e.Name),
		Description: discordfmt.StripTags(e.Description),
		Color:       embedColor,
	}
	if e.Proposer != "" {
		embed.Fields = append(embed.Fields, remote.EmbedField{Name: "Proposer", Value: plain(e.Proposer), Inline: true})
	}
	if !e.EndTime.IsZero() {
		embed.Fields = append(embed.Fields, remote.EmbedField{Name: "Time Left", Value: FormatDuration(e.EndTime.Sub(now)), Inline: true})
	}

	if e.Anonymous {
		total := 0
		for _, c := range e.Choices {
			total += c.Votes
		}
		embed.Fields = append(embed.Fields, remote.EmbedField{Name: "Votes", Value: fmt.Sprintf("%d votes cast (anonymous)", total)})
	} else {
		lines := make([]string, 0, len(e.Choices))
		for _, c := range e.Choices {
			lines = append(lines, fmt.Sprintf("%s: %d", plain(c.Name), c.Votes))
		}
		embed.Fields = append(embed.Fields, remote.EmbedField{Name: "Votes", Value: listOrNone(lines)})
	}
	if e.Boolean {
		embed.Footer = fmt.Sprintf("React with %s to vote yes or %s to vote no", reaction.VoteFor, reaction.VoteAgainst)
	}
	return remote.OutgoingMessage{Embed: embed}
}

// ServerInfoMessage builds the server overview with the sections selected by
// opts.
func ServerInfoMessage(s game.Server, opts link.ServerInfoOptions, now time.Time) remote.OutgoingMessage {
	info := s.Info()
	embed := &remote.Embed{Color: embedColor}
	if opts.Name {
		embed.Title = plain(info.Name)
	}
	if opts.Description {
		embed.Description = discordfmt.StripTags(info.Description)
	}
	add := func(name, value string, inline bool) {
		if len(embed.Fields) < maxEmbedFields {
			embed.Fields = append(embed.Fields, remote.EmbedField{Name: name, Value: value, Inline: inline})
		}
	}

	if opts.ConnectionInfo {
		switch {
		case info.ConnectionLink != "":
			add("Connection Info", info.ConnectionLink, false)
		case info.Address != "":
			add("Connection Info", fmt.Sprintf("%s:%d", info.Address, info.Port), false)
		}
	}
	users := s.OnlineUsers()
	if opts.PlayerCount {
		count := strconv.Itoa(len(users))
		if info.MaxPlayers > 0 {
			count += "/" + strconv.Itoa(info.MaxPlayers)
		}
		add("Online Players", count, true)
	}
	if opts.PlayerList || opts.PlayerListLogin {
		lines := make([]string, 0, len(users))
		for _, u := range users {
			line := plain(u.Name)
			if opts.PlayerListLogin && !u.LoginTime.IsZero() {
				line += " (" + FormatDuration(now.Sub(u.LoginTime)) + ")"
			}
			lines = append(lines, line)
		}
		add("Players", listOrNone(lines), false)
	}
	if opts.CurrentTime && !info.WorldStart.IsZero() {
		add("Current Time", "Day "+strconv.Itoa(int(now.Sub(info.WorldStart)/(24*time.Hour))+1), true)
	}
	if opts.TimeRemaining && !info.MeteorImpact.IsZero() && !info.MeteorHasHit {
		add("Time Left Until Meteor", FormatDuration(info.MeteorImpact.Sub(now)), true)
	}
	if opts.MeteorHasHit {
		hit := "No"
		if info.MeteorHasHit {
			hit = "Yes"
		}
		add("Meteor Has Hit", hit, true)
	}

	elections := s.ActiveElections()
	if opts.ElectionCount {
		add("Active Elections", strconv.Itoa(len(elections)), true)
	}
	if opts.ElectionList {
		lines := make([]string, 0, len(elections))
		for _, e := range elections {
			lines = append(lines, plain(e.Name))
		}
		add("Elections", listOrNone(lines), false)
	}
	laws := s.ActiveLaws()
	if opts.LawCount {
		add("Active Laws", strconv.Itoa(len(laws)), true)
	}
	if opts.LawList {
		lines := make([]string, 0, len(laws))
		for _, l := range laws {
			lines = append(lines, plain(l.Name))
		}
		add("Laws", listOrNone(lines), false)
	}
	return remote.OutgoingMessage{Embed: embed}
}

// TradeMessage renders one store transaction.
func TradeMessage(t game.CurrencyTrade) remote.OutgoingMessage {
	return remote.OutgoingMessage{Text: tradeLine(t)}
}

func tradeLine(t game.CurrencyTrade) string {
	verb := "sold"
	if t.Bought {
		verb = "bought"
	}
	text := fmt.Sprintf("**%s** %s %d %s for %.2f %s at %s",
		plain(t.Citizen.Name), verb, t.Quantity, plain(t.Item), t.Price, plain(t.Currency), plain(t.Store))
	if t.Owner != "" {
		text += " (owned by " + plain(t.Owner) + ")"
	}
	return text
}

// maxBoardTrades is how many trades a trade board lists.
const maxBoardTrades = 10

// TradeBoardMessage builds the live board of the latest trades involving
// term. trades must be newest first.
func TradeBoardMessage(term string, trades []game.CurrencyTrade) remote.OutgoingMessage {
	var lines []string
	for _, t := range trades {
		if !TradeInvolves(t, term) {
			continue
		}
		lines = append(lines, tradeLine(t))
		if len(lines) == maxBoardTrades {
			break
		}
	}
	desc := "No recent trades"
	if len(lines) > 0 {
		desc = strings.Join(lines, "\n")
	}
	return remote.OutgoingMessage{Embed: &remote.Embed{
		Title:       "Trades: " + plain(term),
		Description: desc,
		Color:       embedColor,
	}}
}

// TradeInvolves reports whether term names the citizen, store owner, store or
// item of a trade.
func TradeInvolves(t game.CurrencyTrade, term string) bool {
	term = strings.TrimSpace(term)
	for _, name := range []string{t.Citizen.Name, t.Owner, t.Store, t.Item} {
		if name != "" && strings.EqualFold(name, term) {
			return true
		}
	}
	return false
}

// WorkPartyMessage builds the live status of a work party.
func WorkPartyMessage(p game.WorkParty) remote.OutgoingMessage {
	participants := make([]string, 0, len(p.Participants))
	for _, name := range p.Participants {
		participants = append(participants, plain(name))
	}
	sort.Strings(participants)
	return remote.OutgoingMessage{Embed: &remote.Embed{
		Title: "Work Party: " + plain(p.Name),
		Color: embedColor,
		Fields: []remote.EmbedField{
			{Name: "Creator", Value: plain(p.Creator), Inline: true},
			{Name: "Progress", Value: fmt.Sprintf("%.0f%%", p.Progress*100), Inline: true},
			{Name: "Participants", Value: listOrNone(participants)},
		},
	}}
}

// CurrencyMessage builds the overview of the busiest currencies.
func CurrencyMessage(currencies []game.Currency) remote.OutgoingMessage {
	sorted := append([]game.Currency(nil), currencies...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Trades > sorted[j].Trades })
	if len(sorted) > maxEmbedFields {
		sorted = sorted[:maxEmbedFields]
	}
	embed := &remote.Embed{Title: "Currencies", Color: embedColor}
	for _, c := range sorted {
		kind := "Minted"
		if c.Backed {
			kind = "Backed"
		}
		embed.Fields = append(embed.Fields, remote.EmbedField{
			Name:   plain(c.Name),
			Value:  fmt.Sprintf("%s\nCirculation: %.2f\nTrades: %d", kind, c.Circulation, c.Trades),
			Inline: true,
		})
	}
	if len(embed.Fields) == 0 {
		embed.Description = "No currencies"
	}
	return remote.OutgoingMessage{Embed: embed}
}
