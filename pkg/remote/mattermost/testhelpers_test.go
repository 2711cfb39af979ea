// Copyright 2024-2026 Aiku AI

package mattermost

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/remote"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Body   string
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu    sync.Mutex
	calls []endpointCall

	// Me is returned by GetMe for the test token.
	Me *model.User
	// Teams lists the teams of the bot.
	Teams []*model.Team
	// Channels maps team ID to its channels.
	Channels map[string][]*model.Channel
	// Members maps team ID to its users.
	Members map[string][]*model.User
	// Reactions maps post ID to its reactions.
	Reactions map[string][]*model.Reaction
	// MissingPosts makes post endpoints for these IDs return 404.
	MissingPosts map[string]bool
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM(t *testing.T) *fakeMM {
	t.Helper()
	f := &fakeMM{
		Me:            &model.User{Id: "bot-id", Username: "discordlink", IsBot: true},
		Channels:      make(map[string][]*model.Channel),
		Members:       make(map[string][]*model.User),
		Reactions:     make(map[string][]*model.Reaction),
		MissingPosts:  make(map[string]bool),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(f.Server.Close)
	return f
}

func (f *fakeMM) record(method, path, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: method, Path: path, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]endpointCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

// LastCall returns the last call made with method to a path containing path.
func (f *fakeMM) LastCall(method, path string) (endpointCall, bool) {
	calls := f.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method && strings.Contains(calls[i].Path, path) {
			return calls[i], true
		}
	}
	return endpointCall{}, false
}

func (f *fakeMM) CountCalls(method, path string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method && strings.Contains(c.Path, path) {
			n++
		}
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r.Method, r.URL.Path, string(body))

	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"message": "fake error", "status_code": 500})
			return
		}
	}

	path := r.URL.Path
	parts := strings.Split(path, "/")

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		if r.Header.Get("Authorization") != "Bearer test-token" && r.Header.Get("Authorization") != "BEARER test-token" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "unauthorized", "status_code": 401})
			return
		}
		writeJSON(w, http.StatusOK, f.Me)

	// GET /api/v4/users/{user_id}/teams/{team_id}/channels
	case r.Method == "GET" && strings.Contains(path, "/teams/") && strings.HasSuffix(path, "/channels") && len(parts) >= 8:
		writeJSON(w, http.StatusOK, f.Channels[parts[6]])

	// GET /api/v4/users/{user_id}/teams
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/users/") && strings.HasSuffix(path, "/teams"):
		writeJSON(w, http.StatusOK, f.Teams)

	// GET /api/v4/users?in_team={team_id}&page=N
	case r.Method == "GET" && path == "/api/v4/users":
		if r.URL.Query().Get("page") != "0" {
			writeJSON(w, http.StatusOK, []*model.User{})
			return
		}
		writeJSON(w, http.StatusOK, f.Members[r.URL.Query().Get("in_team")])

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = "created-post-id"
		post.UserId = f.Me.Id
		post.CreateAt = 1700000000000
		writeJSON(w, http.StatusCreated, &post)

	// PUT /api/v4/posts/{post_id}/patch
	case r.Method == "PUT" && strings.HasSuffix(path, "/patch"):
		if f.MissingPosts[parts[4]] {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "post not found", "status_code": 404})
			return
		}
		writeJSON(w, http.StatusOK, &model.Post{Id: parts[4]})

	// GET /api/v4/posts/{post_id}/reactions
	case r.Method == "GET" && strings.HasPrefix(path, "/api/v4/posts/") && strings.HasSuffix(path, "/reactions"):
		writeJSON(w, http.StatusOK, f.Reactions[parts[4]])

	// DELETE /api/v4/posts/{post_id}
	case r.Method == "DELETE" && strings.HasPrefix(path, "/api/v4/posts/"):
		if f.MissingPosts[parts[4]] {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "post not found", "status_code": 404})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})

	// POST /api/v4/reactions
	case r.Method == "POST" && path == "/api/v4/reactions":
		var reaction model.Reaction
		_ = json.Unmarshal(body, &reaction)
		writeJSON(w, http.StatusCreated, &reaction)

	// DELETE /api/v4/users/{user_id}/posts/{post_id}/reactions/{emoji_name}
	case r.Method == "DELETE" && strings.Contains(path, "/posts/") && strings.Contains(path, "/reactions/"):
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "not found: " + path, "status_code": 404})
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// newTestPlatform returns a platform for the fake server with the team
// "eco" (Eco Server), channels general and elections, and members alice and
// bob. The WebSocket connection is skipped.
func newTestPlatform(t *testing.T) (*Platform, *fakeMM) {
	t.Helper()
	f := newFakeMM(t)
	f.Teams = []*model.Team{{Id: "team1", Name: "eco", DisplayName: "Eco Server"}}
	f.Channels["team1"] = []*model.Channel{
		{Id: "ch-general", TeamId: "team1", Name: "general", DisplayName: "General", Type: model.ChannelTypeOpen},
		{Id: "ch-elections", TeamId: "team1", Name: "elections", DisplayName: "Elections", Type: model.ChannelTypeOpen},
		{Id: "ch-dm", Name: "bot-id__alice-id", Type: model.ChannelTypeDirect},
	}
	f.Members["team1"] = []*model.User{
		{Id: "alice-id", Username: "alice", Nickname: "Alice"},
		{Id: "bob-id", Username: "bob"},
	}

	p, err := New(Config{
		ServerURL:           f.Server.URL,
		Token:               "test-token",
		DisplaynameTemplate: "{{if .Nickname}}{{.Nickname}}{{else}}{{.Username}}{{end}}",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.connectWS = func() error { return nil }
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
