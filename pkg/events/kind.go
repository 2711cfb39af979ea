// Copyright 2024-2026 Aiku AI

// Package events classifies game actions and remote platform events into a
// single trigger vocabulary and fans them out to subscribed modules.
package events

import (
	"strings"

	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/remote"
)

// Kind is a bitmask of trigger kinds. A module declares the set it reacts to.
type Kind uint64

const (
	Startup Kind = 1 << iota
	Timer
	ClientStarted
	ClientConnected
	Join
	Login
	Logout
	// ChatIn is a remote message headed into the game.
	ChatIn
	// ChatOut is a game message headed out to the remote platform.
	ChatOut
	Vote
	ElectionStart
	ElectionStop
	Trade
	WorkOrderCreated
	WorkPartyPosted
	WorkPartyJoined
	WorkPartyLeft
	WorkPartyWorked
	WorkPartyCompleted
	RemoteMessageDeleted
	// WatchlistChanged is raised when the trade watchlist is edited.
	WatchlistChanged
)

// None is the empty set.
const None Kind = 0

// WorkParty is every work party kind.
const WorkParty = WorkPartyPosted | WorkPartyJoined | WorkPartyLeft | WorkPartyWorked | WorkPartyCompleted

var kindNames = []struct {
	kind Kind
	name string
}{
	{Startup, "startup"},
	{Timer, "timer"},
	{ClientStarted, "client_started"},
	{ClientConnected, "client_connected"},
	{Join, "join"},
	{Login, "login"},
	{Logout, "logout"},
	{ChatIn, "chat_in"},
	{ChatOut, "chat_out"},
	{Vote, "vote"},
	{ElectionStart, "election_start"},
	{ElectionStop, "election_stop"},
	{Trade, "trade"},
	{WorkOrderCreated, "work_order_created"},
	{WorkPartyPosted, "work_party_posted"},
	{WorkPartyJoined, "work_party_joined"},
	{WorkPartyLeft, "work_party_left"},
	{WorkPartyWorked, "work_party_worked"},
	{WorkPartyCompleted, "work_party_completed"},
	{RemoteMessageDeleted, "remote_message_deleted"},
	{WatchlistChanged, "watchlist_changed"},
}

// Has reports whether every bit of other is set in k.
func (k Kind) Has(other Kind) bool {
	return other != None && k&other == other
}

// Overlaps reports whether k and other share any bit.
func (k Kind) Overlaps(other Kind) bool {
	return k&other != 0
}

func (k Kind) String() string {
	if k == None {
		return "none"
	}
	var parts []string
	for _, kn := range kindNames {
		if k&kn.kind != 0 {
			parts = append(parts, kn.name)
		}
	}
	return strings.Join(parts, "|")
}

// Classify maps a raw game action or remote event to its trigger kind and the
// payload modules receive. It returns false for inputs that no module reacts
// to.
func Classify(raw any) (Kind, any, bool) {
	switch v := raw.(type) {
	case game.ChatSent:
		return ChatOut, v, true
	case game.UserJoined:
		return Join, v, true
	case game.UserLoggedIn:
		return Login, v, true
	case game.UserLoggedOut:
		return Logout, v, true
	case game.CurrencyTrade:
		return Trade, v, true
	case game.VoteCast:
		return Vote, v, true
	case game.ElectionStarted:
		return ElectionStart, v, true
	case game.ElectionStopped:
		return ElectionStop, v, true
	case game.WorkOrderCreated:
		return WorkOrderCreated, v, true
	case game.WorkPartyPosted:
		return WorkPartyPosted, v, true
	case game.WorkPartyJoined:
		return WorkPartyJoined, v, true
	case game.WorkPartyLeft:
		return WorkPartyLeft, v, true
	case game.WorkPartyWorked:
		return WorkPartyWorked, v, true
	case game.WorkPartyCompleted:
		return WorkPartyCompleted, v, true
	case remote.MessageCreated:
		return ChatIn, v.Message, true
	case remote.MessageDeleted:
		return RemoteMessageDeleted, v, true
	case remote.Connected:
		return ClientConnected, v, true
	default:
		return None, nil, false
	}
}
