// Copyright 2024-2026 Aiku AI

package discord

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/aiku/discordlink/pkg/remote"
)

type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeDiscord simulates the Discord REST API for the message and reaction
// endpoints the platform uses.
type fakeDiscord struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// MissingMessages makes message endpoints for these IDs return 404.
	MissingMessages map[string]bool
}

func newFakeDiscord(t *testing.T) *fakeDiscord {
	t.Helper()
	f := &fakeDiscord{MissingMessages: make(map[string]bool)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *fakeDiscord) LastCall(method, path string) (endpointCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].Method == method && strings.Contains(f.calls[i].Path, path) {
			return f.calls[i], true
		}
	}
	return endpointCall{}, false
}

func (f *fakeDiscord) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.calls = append(f.calls, endpointCall{Method: r.Method, Path: r.URL.Path, Body: string(body)})
	f.mu.Unlock()

	// /api/v9/channels/{channel_id}/messages[/{message_id}[/reactions...]]
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 5 || parts[2] != "channels" || parts[4] != "messages" {
		writeError(w, http.StatusNotFound, "Unknown route")
		return
	}
	channelID := parts[3]
	messageID := ""
	if len(parts) > 5 {
		messageID = parts[5]
	}
	if f.MissingMessages[messageID] {
		writeError(w, http.StatusNotFound, "Unknown Message")
		return
	}

	switch {
	case r.Method == http.MethodPost && messageID == "":
		var send discordgo.MessageSend
		_ = json.Unmarshal(body, &send)
		writeJSON(w, http.StatusOK, messageJSON("m1", channelID, send.Content))
	case r.Method == http.MethodPatch && len(parts) == 6:
		writeJSON(w, http.StatusOK, messageJSON(messageID, channelID, ""))
	case r.Method == http.MethodDelete && len(parts) == 6:
		w.WriteHeader(http.StatusNoContent)
	case strings.Contains(r.URL.Path, "/reactions"):
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusNotFound, "Unknown route")
	}
}

func messageJSON(id, channelID, content string) map[string]any {
	return map[string]any{
		"id":         id,
		"channel_id": channelID,
		"guild_id":   "g1",
		"content":    content,
		"timestamp":  "2026-01-02T03:04:05Z",
		"author":     map[string]any{"id": "bot-id", "username": "discordlink", "bot": true},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"message": message, "code": 10008})
}

// redirectTransport sends every request to the fake server.
type redirectTransport struct {
	target *url.URL
}

func (rt redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	req.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

// newTestPlatform returns a platform whose state holds the guild "Eco
// Server" (g1) with text channels general, elections and announcements
// (reactions denied), the voice channel Lobby, the role Admins and the
// members alice (nick Alice) and bob. REST calls go to the fake server.
func newTestPlatform(t *testing.T) (*Platform, *fakeDiscord) {
	t.Helper()
	f := newFakeDiscord(t)
	target, err := url.Parse(f.Server.URL)
	require.NoError(t, err)

	p, err := New("test-token", zerolog.Nop())
	require.NoError(t, err)
	p.session.Client = &http.Client{Transport: redirectTransport{target: target}}

	self := &discordgo.User{ID: "bot-id", Username: "discordlink", Bot: true}
	p.session.State.User = self
	var everyone int64 = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionAddReactions
	err = p.session.State.GuildAdd(&discordgo.Guild{
		ID:      "g1",
		Name:    "Eco Server",
		OwnerID: "owner-id",
		Roles: []*discordgo.Role{
			{ID: "g1", Name: "@everyone", Permissions: everyone},
			{ID: "r-admin", Name: "Admins"},
		},
		Channels: []*discordgo.Channel{
			{ID: "c-general", GuildID: "g1", Name: "general", Type: discordgo.ChannelTypeGuildText},
			{ID: "c-elections", GuildID: "g1", Name: "elections", Type: discordgo.ChannelTypeGuildText},
			{ID: "c-announce", GuildID: "g1", Name: "announcements", Type: discordgo.ChannelTypeGuildNews,
				PermissionOverwrites: []*discordgo.PermissionOverwrite{
					{ID: "g1", Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionAddReactions},
				}},
			{ID: "c-lobby", GuildID: "g1", Name: "Lobby", Type: discordgo.ChannelTypeGuildVoice},
		},
		Members: []*discordgo.Member{
			{GuildID: "g1", User: self},
			{GuildID: "g1", User: &discordgo.User{ID: "alice-id", Username: "alice", GlobalName: "Alice A"}, Nick: "Alice"},
			{GuildID: "g1", User: &discordgo.User{ID: "bob-id", Username: "bob"}},
		},
	})
	require.NoError(t, err)
	return p, f
}

// recordEvents subscribes to p and returns the captured events.
func recordEvents(p *Platform) func() []remote.Event {
	var mu sync.Mutex
	var events []remote.Event
	p.Subscribe(func(evt remote.Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
	})
	return func() []remote.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]remote.Event(nil), events...)
	}
}
