// Copyright 2024-2026 Aiku AI

package game

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrNotConnected    = errors.New("game server not connected")
	ErrUnknownElection = errors.New("unknown election")
	ErrElectionClosed  = errors.New("election is not active")
	ErrUnknownChoice   = errors.New("unknown election choice")
)

// maxRecentTrades bounds the trade history kept for trade boards.
const maxRecentTrades = 100

// Command is an instruction sent to the game plugin.
type Command struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// SendChatPayload asks the game to post a chat message.
type SendChatPayload struct {
	Channel string `json:"channel"`
	Sender  string `json:"sender"`
	Text    string `json:"text"`
}

// CastVotePayload asks the game to record a ballot.
type CastVotePayload struct {
	ElectionID int    `json:"election_id"`
	Voter      string `json:"voter"`
	Choice     string `json:"choice"`
}

// Sink delivers commands to the game plugin.
type Sink interface {
	Send(ctx context.Context, cmd Command) error
}

// World is the bridge's view of the game state, kept current from the actions
// and snapshots the game plugin reports. It implements Server. Thread-safe.
type World struct {
	mu         sync.RWMutex
	info       ServerInfo
	users      map[string]User
	elections  map[int]Election
	laws       map[int]Law
	currencies map[int]Currency
	parties    map[int]WorkParty
	trades     []CurrencyTrade // newest last, at most maxRecentTrades
	sink       Sink

	subMu sync.RWMutex
	subID uint64
	subs  map[uint64]func(Action)

	log zerolog.Logger
}

var _ Server = (*World)(nil)

// NewWorld creates an empty world.
func NewWorld(log zerolog.Logger) *World {
	return &World{
		users:      make(map[string]User),
		elections:  make(map[int]Election),
		laws:       make(map[int]Law),
		currencies: make(map[int]Currency),
		parties:    make(map[int]WorkParty),
		subs:       make(map[uint64]func(Action)),
		log:        log.With().Str("component", "world").Logger(),
	}
}

// SetSink sets where outbound commands go. A nil sink disconnects.
func (w *World) SetSink(s Sink) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sink = s
}

// Connected reports whether a sink is attached.
func (w *World) Connected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sink != nil
}

func (w *World) Subscribe(fn func(Action)) func() {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	w.subID++
	id := w.subID
	w.subs[id] = fn
	return func() {
		w.subMu.Lock()
		defer w.subMu.Unlock()
		delete(w.subs, id)
	}
}

func (w *World) notify(a Action) {
	w.subMu.RLock()
	fns := make([]func(Action), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.subMu.RUnlock()
	for _, fn := range fns {
		fn(a)
	}
}

// LoadSnapshot replaces the world state.
func (w *World) LoadSnapshot(s Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.info = s.Info
	w.users = make(map[string]User, len(s.Users))
	for _, u := range s.Users {
		w.users[userKey(u.Name)] = u
	}
	w.elections = make(map[int]Election, len(s.Elections))
	for _, e := range s.Elections {
		w.elections[e.ID] = e
	}
	w.laws = make(map[int]Law, len(s.Laws))
	for _, l := range s.Laws {
		w.laws[l.ID] = l
	}
	w.currencies = make(map[int]Currency, len(s.Currencies))
	for _, c := range s.Currencies {
		w.currencies[c.ID] = c
	}
	w.parties = make(map[int]WorkParty, len(s.WorkParties))
	for _, p := range s.WorkParties {
		w.parties[p.ID] = p
	}
	w.log.Info().
		Int("users", len(s.Users)).
		Int("elections", len(s.Elections)).
		Int("currencies", len(s.Currencies)).
		Msg("Loaded game snapshot")
}

// Apply folds an action into the state and notifies subscribers.
func (w *World) Apply(a Action) {
	w.mu.Lock()
	switch v := a.(type) {
	case UserJoined:
		v.User.Online = true
		w.users[userKey(v.User.Name)] = v.User
	case UserLoggedIn:
		v.User.Online = true
		w.users[userKey(v.User.Name)] = v.User
	case UserLoggedOut:
		u := v.User
		if known, ok := w.users[userKey(u.Name)]; ok {
			u = known
		}
		u.Online = false
		w.users[userKey(u.Name)] = u
	case ElectionStarted:
		v.Election.Active = true
		w.elections[v.Election.ID] = v.Election
	case ElectionStopped:
		if e, ok := w.elections[v.ElectionID]; ok {
			e.Active = false
			w.elections[v.ElectionID] = e
		}
	case VoteCast:
		if e, ok := w.elections[v.ElectionID]; ok {
			w.elections[v.ElectionID] = withBallot(e, v.Voter.Name, v.Choice)
		}
	case CurrencyTrade:
		w.trades = append(w.trades, v)
		if len(w.trades) > maxRecentTrades {
			w.trades = slices.Clone(w.trades[len(w.trades)-maxRecentTrades:])
		}
		for id, c := range w.currencies {
			if equalFold(c.Name, v.Currency) {
				c.Trades++
				w.currencies[id] = c
			}
		}
	case WorkPartyPosted:
		v.Party.Active = true
		w.parties[v.Party.ID] = v.Party
	case WorkPartyJoined:
		if p, ok := w.parties[v.PartyID]; ok {
			p.Participants = appendUnique(p.Participants, v.User.Name)
			w.parties[v.PartyID] = p
		}
	case WorkPartyLeft:
		if p, ok := w.parties[v.PartyID]; ok {
			p.Participants = remove(p.Participants, v.User.Name)
			w.parties[v.PartyID] = p
		}
	case WorkPartyWorked:
		if p, ok := w.parties[v.PartyID]; ok {
			p.Participants = appendUnique(p.Participants, v.User.Name)
			p.Progress = v.Progress
			w.parties[v.PartyID] = p
		}
	case WorkPartyCompleted:
		if p, ok := w.parties[v.PartyID]; ok {
			p.Active = false
			p.Progress = 1
			w.parties[v.PartyID] = p
		}
	}
	w.mu.Unlock()
	w.notify(a)
}

func (w *World) Info() ServerInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.info
}

func (w *World) OnlineUsers() []User {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []User
	for _, u := range w.users {
		if u.Online {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out
}

func (w *World) UserByName(name string) (User, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	u, ok := w.users[userKey(name)]
	return u, ok
}

func (w *World) ActiveElections() []Election {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []Election
	for _, e := range w.elections {
		if e.Active {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) Election(id int) (Election, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.elections[id]
	return e, ok
}

func (w *World) ActiveLaws() []Law {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Law, 0, len(w.laws))
	for _, l := range w.laws {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) Currencies() []Currency {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]Currency, 0, len(w.currencies))
	for _, c := range w.currencies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) CurrencyByNameOrID(ref string) (Currency, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if id, err := strconv.Atoi(ref); err == nil {
		if c, ok := w.currencies[id]; ok {
			return c, true
		}
	}
	for _, c := range w.currencies {
		if equalFold(c.Name, ref) {
			return c, true
		}
	}
	return Currency{}, false
}

func (w *World) WorkParties() []WorkParty {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var out []WorkParty
	for _, p := range w.parties {
		if p.Active {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RecentTrades returns the last trades seen, newest first.
func (w *World) RecentTrades() []CurrencyTrade {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := slices.Clone(w.trades)
	slices.Reverse(out)
	return out
}

func (w *World) currentSink() Sink {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sink
}

func (w *World) SendChat(ctx context.Context, channel, sender, text string) error {
	sink := w.currentSink()
	if sink == nil {
		return ErrNotConnected
	}
	err := sink.Send(ctx, Command{Type: "send_chat", Payload: SendChatPayload{
		Channel: channel,
		Sender:  sender,
		Text:    text,
	}})
	if err != nil {
		return fmt.Errorf("failed to send chat to game: %w", err)
	}
	return nil
}

// CastVote validates the ballot against the known election, forwards it to
// the game and applies it locally, which notifies subscribers with VoteCast.
func (w *World) CastVote(ctx context.Context, electionID int, voter User, choice string) error {
	election, ok := w.Election(electionID)
	switch {
	case !ok:
		return fmt.Errorf("%w: %d", ErrUnknownElection, electionID)
	case !election.Active:
		return fmt.Errorf("%w: %d", ErrElectionClosed, electionID)
	}
	c, ok := election.ChoiceByName(choice)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownChoice, choice)
	}
	sink := w.currentSink()
	if sink == nil {
		return ErrNotConnected
	}
	err := sink.Send(ctx, Command{Type: "cast_vote", Payload: CastVotePayload{
		ElectionID: electionID,
		Voter:      voter.Name,
		Choice:     c.Name,
	}})
	if err != nil {
		return fmt.Errorf("failed to send vote to game: %w", err)
	}
	w.Apply(VoteCast{Voter: voter, ElectionID: electionID, Choice: c.Name})
	return nil
}

// withBallot returns a copy of e with voter's ballot set. A voter changing
// their mind moves their vote rather than adding a second one.
func withBallot(e Election, voter, choice string) Election {
	key := userKey(voter)
	prev, hadPrev := e.Ballots[key]
	ballots := make(map[string]string, len(e.Ballots)+1)
	for k, v := range e.Ballots {
		ballots[k] = v
	}
	ballots[key] = choice
	e.Ballots = ballots

	choices := make([]Choice, len(e.Choices))
	copy(choices, e.Choices)
	for i := range choices {
		if hadPrev && equalFold(choices[i].Name, prev) && choices[i].Votes > 0 {
			choices[i].Votes--
		}
		if equalFold(choices[i].Name, choice) {
			choices[i].Votes++
		}
	}
	e.Choices = choices
	return e
}

func userKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func appendUnique(list []string, name string) []string {
	for _, n := range list {
		if equalFold(n, name) {
			return list
		}
	}
	return append(append([]string(nil), list...), name)
}

func remove(list []string, name string) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		if !equalFold(n, name) {
			out = append(out, n)
		}
	}
	return out
}
