// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/config"
	"github.com/aiku/discordlink/pkg/display"
	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/remote"
	"github.com/aiku/discordlink/pkg/remote/remotetest"
	"github.com/aiku/discordlink/pkg/store"
)

// recordingSink captures commands the world sends to the game.
type recordingSink struct {
	mu   sync.Mutex
	cmds []game.Command
}

func (s *recordingSink) Send(_ context.Context, cmd game.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return nil
}

func (s *recordingSink) Commands() []game.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]game.Command(nil), s.cmds...)
}

// memStore is an in-memory Store.
type memStore struct {
	mu     sync.Mutex
	users  map[string]string
	trades []string
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]string)}
}

func (s *memStore) DisplayMessages(context.Context, string) ([]display.StoredMessage, error) {
	return nil, nil
}

func (s *memStore) SaveDisplayMessage(context.Context, display.StoredMessage) error {
	return nil
}

func (s *memStore) DeleteDisplayMessage(context.Context, string, string, string) error {
	return nil
}

func (s *memStore) LinkedGameUser(_ context.Context, remoteID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.users[remoteID]
	return name, ok, nil
}

func (s *memStore) LinkUser(_ context.Context, remoteID, gameUser string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[remoteID] = gameUser
	return nil
}

func (s *memStore) UnlinkUser(_ context.Context, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[remoteID]; !ok {
		return store.ErrNotFound
	}
	delete(s.users, remoteID)
	return nil
}

func (s *memStore) LinkedUsers(context.Context) ([]store.LinkedUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.LinkedUser, 0, len(s.users))
	for id, name := range s.users {
		out = append(out, store.LinkedUser{RemoteID: id, GameUser: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

func (s *memStore) TrackTrades(_ context.Context, term string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if strings.EqualFold(t, term) {
			return false, nil
		}
	}
	s.trades = append(s.trades, term)
	return true, nil
}

func (s *memStore) UntrackTrades(_ context.Context, term string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.trades {
		if strings.EqualFold(t, term) {
			s.trades = append(s.trades[:i], s.trades[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *memStore) TrackedTrades(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.trades...), nil
}

func chatLink(channel, gameChannel string) link.Link {
	l := link.Default(link.Chat)
	l.Guild = "Eco"
	l.Channel = channel
	l.GameChannel = gameChannel
	return l
}

func testConfig(chat ...link.Link) *config.Config {
	return &config.Config{
		Platform: config.PlatformDiscord,
		Relay: config.RelayConfig{
			Name:              "DiscordLink",
			EchoTTL:           5 * time.Second,
			FirstDisplayDelay: 10 * time.Millisecond,
			VerifyInterval:    time.Hour,
		},
		Links: config.Links{Chat: chat},
	}
}

type harness struct {
	conn  *Connector
	world *game.World
	sink  *recordingSink

	mu        sync.Mutex
	platforms []*remotetest.Platform
	// openErrs are handed to the platforms built next, in order.
	openErrs []error
}

func newHarness(t *testing.T, cfg *config.Config, store Store) *harness {
	t.Helper()
	h := &harness{
		world: game.NewWorld(zerolog.Nop()),
		sink:  &recordingSink{},
	}
	h.world.SetSink(h.sink)
	h.world.LoadSnapshot(game.Snapshot{
		Info:  game.ServerInfo{Name: "Eco World"},
		Users: []game.User{{ID: 1, Name: "Alice", Online: true}},
	})
	conn, err := New(Options{
		Config:      cfg,
		Server:      h.world,
		NewPlatform: h.newPlatform,
		Store:       store,
		Log:         zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.conn = conn
	t.Cleanup(conn.Stop)
	return h
}

func (h *harness) newPlatform() (remote.Platform, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := remotetest.New()
	if len(h.openErrs) > 0 {
		p.OpenErr = h.openErrs[0]
		h.openErrs = h.openErrs[1:]
	}
	h.platforms = append(h.platforms, p)
	return p, nil
}

// platform returns the most recently built platform.
func (h *harness) platform() *remotetest.Platform {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.platforms) == 0 {
		return nil
	}
	return h.platforms[len(h.platforms)-1]
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.conn.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// chatCommands returns the send_chat commands the world forwarded.
func (h *harness) chatCommands() []game.SendChatPayload {
	var out []game.SendChatPayload
	for _, cmd := range h.sink.Commands() {
		if p, ok := cmd.Payload.(game.SendChatPayload); ok {
			out = append(out, p)
		}
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// settle waits long enough for an event that should be dropped to have been
// delivered had it not been.
func settle() {
	time.Sleep(50 * time.Millisecond)
}
