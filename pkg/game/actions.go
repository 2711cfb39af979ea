// Copyright 2024-2026 Aiku AI

package game

import (
	"strings"
	"time"
)

// Action is something that happened on the game server.
type Action interface {
	// ActionType is the wire name of the action.
	ActionType() string
}

// ChatSent is a chat message posted in a game channel.
type ChatSent struct {
	Sender  User      `json:"sender"`
	Channel string    `json:"channel"`
	Text    string    `json:"text"`
	Time    time.Time `json:"time"`
}

// UserJoined is a user's first ever login.
type UserJoined struct {
	User User `json:"user"`
}

// UserLoggedIn is a user connecting.
type UserLoggedIn struct {
	User User `json:"user"`
}

// UserLoggedOut is a user disconnecting.
type UserLoggedOut struct {
	User User `json:"user"`
}

// CurrencyTrade is a store purchase or sale.
type CurrencyTrade struct {
	Citizen  User    `json:"citizen"`
	Store    string  `json:"store"`
	Owner    string  `json:"owner"`
	Item     string  `json:"item"`
	Quantity int     `json:"quantity"`
	Currency string  `json:"currency"`
	Price    float64 `json:"price"`
	Bought   bool    `json:"bought"`
}

// VoteCast is a ballot cast in an election.
type VoteCast struct {
	Voter      User   `json:"voter"`
	ElectionID int    `json:"election_id"`
	Choice     string `json:"choice"`
}

// ElectionStarted is a new election being opened.
type ElectionStarted struct {
	Election Election `json:"election"`
}

// ElectionStopped is an election being won, lost or cancelled.
type ElectionStopped struct {
	ElectionID int  `json:"election_id"`
	Won        bool `json:"won"`
}

// WorkOrderCreated is a crafting work order being queued.
type WorkOrderCreated struct {
	Citizen  User   `json:"citizen"`
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
	Table    string `json:"table"`
}

// WorkPartyPosted is a work party being published.
type WorkPartyPosted struct {
	Party WorkParty `json:"party"`
}

// WorkPartyJoined is a user joining a work party.
type WorkPartyJoined struct {
	PartyID int  `json:"party_id"`
	User    User `json:"user"`
}

// WorkPartyLeft is a user leaving a work party.
type WorkPartyLeft struct {
	PartyID int  `json:"party_id"`
	User    User `json:"user"`
}

// WorkPartyWorked is a user contributing labor to a work party.
type WorkPartyWorked struct {
	PartyID  int     `json:"party_id"`
	User     User    `json:"user"`
	Progress float64 `json:"progress"`
}

// WorkPartyCompleted is a work party finishing.
type WorkPartyCompleted struct {
	PartyID int `json:"party_id"`
}

func (ChatSent) ActionType() string           { return "chat_sent" }
func (UserJoined) ActionType() string         { return "user_joined" }
func (UserLoggedIn) ActionType() string       { return "user_logged_in" }
func (UserLoggedOut) ActionType() string      { return "user_logged_out" }
func (CurrencyTrade) ActionType() string      { return "currency_trade" }
func (VoteCast) ActionType() string           { return "vote_cast" }
func (ElectionStarted) ActionType() string    { return "election_started" }
func (ElectionStopped) ActionType() string    { return "election_stopped" }
func (WorkOrderCreated) ActionType() string   { return "work_order_created" }
func (WorkPartyPosted) ActionType() string    { return "work_party_posted" }
func (WorkPartyJoined) ActionType() string    { return "work_party_joined" }
func (WorkPartyLeft) ActionType() string      { return "work_party_left" }
func (WorkPartyWorked) ActionType() string    { return "work_party_worked" }
func (WorkPartyCompleted) ActionType() string { return "work_party_completed" }

// newAction returns an empty action for a wire name, or nil when unknown.
func newAction(actionType string) Action {
	switch actionType {
	case "chat_sent":
		return &ChatSent{}
	case "user_joined":
		return &UserJoined{}
	case "user_logged_in":
		return &UserLoggedIn{}
	case "user_logged_out":
		return &UserLoggedOut{}
	case "currency_trade":
		return &CurrencyTrade{}
	case "vote_cast":
		return &VoteCast{}
	case "election_started":
		return &ElectionStarted{}
	case "election_stopped":
		return &ElectionStopped{}
	case "work_order_created":
		return &WorkOrderCreated{}
	case "work_party_posted":
		return &WorkPartyPosted{}
	case "work_party_joined":
		return &WorkPartyJoined{}
	case "work_party_left":
		return &WorkPartyLeft{}
	case "work_party_worked":
		return &WorkPartyWorked{}
	case "work_party_completed":
		return &WorkPartyCompleted{}
	default:
		return nil
	}
}

// deref turns the pointer returned by newAction back into the value type
// subscribers switch on.
func deref(a Action) Action {
	switch v := a.(type) {
	case *ChatSent:
		return *v
	case *UserJoined:
		return *v
	case *UserLoggedIn:
		return *v
	case *UserLoggedOut:
		return *v
	case *CurrencyTrade:
		return *v
	case *VoteCast:
		return *v
	case *ElectionStarted:
		return *v
	case *ElectionStopped:
		return *v
	case *WorkOrderCreated:
		return *v
	case *WorkPartyPosted:
		return *v
	case *WorkPartyJoined:
		return *v
	case *WorkPartyLeft:
		return *v
	case *WorkPartyWorked:
		return *v
	case *WorkPartyCompleted:
		return *v
	default:
		return a
	}
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
