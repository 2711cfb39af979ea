// Copyright 2024-2026 Aiku AI

// Package game models the game server side of the bridge: its users,
// elections, economy and the actions it reports.
package game

import (
	"context"
	"time"
)

// User is a game account.
type User struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	SlgID     string    `json:"slg_id,omitempty"`
	SteamID   string    `json:"steam_id,omitempty"`
	IsAdmin   bool      `json:"is_admin,omitempty"`
	Online    bool      `json:"online"`
	LoginTime time.Time `json:"login_time,omitempty"`
}

// Choice is one option of an election.
type Choice struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Votes int    `json:"votes"`
}

// Election is a running or finished vote.
type Election struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Proposer    string    `json:"proposer,omitempty"`
	Boolean     bool      `json:"boolean"`
	Anonymous   bool      `json:"anonymous"`
	Choices     []Choice  `json:"choices"`
	EndTime     time.Time `json:"end_time"`
	Active      bool      `json:"active"`
	// Ballots maps voter name to the chosen choice name.
	Ballots map[string]string `json:"ballots,omitempty"`
}

// ChoiceByName returns the choice with the given name, case-insensitively.
func (e *Election) ChoiceByName(name string) (Choice, bool) {
	for _, c := range e.Choices {
		if equalFold(c.Name, name) {
			return c, true
		}
	}
	return Choice{}, false
}

// Law is an enacted law.
type Law struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Currency is a tradeable currency.
type Currency struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	Backed      bool    `json:"backed"`
	Circulation float64 `json:"circulation"`
	Trades      int     `json:"trades"`
}

// WorkParty is a group project players can contribute to.
type WorkParty struct {
	ID           int      `json:"id"`
	Name         string   `json:"name"`
	Creator      string   `json:"creator"`
	Participants []string `json:"participants,omitempty"`
	Progress     float64  `json:"progress"`
	Active       bool     `json:"active"`
}

// ServerInfo describes the game server.
type ServerInfo struct {
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Address        string    `json:"address"`
	Port           int       `json:"port"`
	MaxPlayers     int       `json:"max_players"`
	WorldStart     time.Time `json:"world_start"`
	MeteorImpact   time.Time `json:"meteor_impact,omitempty"`
	MeteorHasHit   bool      `json:"meteor_has_hit"`
	ServerTime     time.Time `json:"server_time"`
	DiscordInvite  string    `json:"discord_invite,omitempty"`
	ConnectionLink string    `json:"connection_link,omitempty"`
}

// Snapshot is the full state the game plugin reports on connect.
type Snapshot struct {
	Info        ServerInfo  `json:"info"`
	Users       []User      `json:"users"`
	Elections   []Election  `json:"elections"`
	Laws        []Law       `json:"laws"`
	Currencies  []Currency  `json:"currencies"`
	WorkParties []WorkParty `json:"work_parties"`
}

// Server is the game-side collaborator the bridge reads from and writes to.
type Server interface {
	// Subscribe registers fn for every game action. The returned func
	// removes it.
	Subscribe(fn func(Action)) (unsubscribe func())

	Info() ServerInfo
	OnlineUsers() []User
	UserByName(name string) (User, bool)
	ActiveElections() []Election
	Election(id int) (Election, bool)
	ActiveLaws() []Law
	Currencies() []Currency
	CurrencyByNameOrID(ref string) (Currency, bool)
	WorkParties() []WorkParty
	// RecentTrades returns the latest store transactions, newest first.
	RecentTrades() []CurrencyTrade

	// SendChat posts text into a game channel under the given sender name.
	SendChat(ctx context.Context, channel, sender, text string) error
	// CastVote records voter's choice in an election.
	CastVote(ctx context.Context, electionID int, voter User, choice string) error
}
