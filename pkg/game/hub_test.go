// Copyright 2024-2026 Aiku AI

package game

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func newHubServer(t *testing.T, token string) (*World, *Hub, *httptest.Server) {
	t.Helper()
	world := NewWorld(zerolog.Nop())
	hub := NewHub(world, token, zerolog.Nop())
	router := mux.NewRouter()
	hub.RegisterWithRouter(router, "/ws/game")
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return world, hub, srv
}

func dialHub(t *testing.T, srv *httptest.Server, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/game"
	header := http.Header{}
	if token != "" {
		header.Set(TokenHeader, token)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHubRejectsBadToken(t *testing.T) {
	t.Parallel()
	_, _, srv := newHubServer(t, "secret")
	_, resp, err := dialHub(t, srv, "wrong")
	if err == nil {
		t.Fatal("dial with wrong token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status: got %v, want 401", resp)
	}
}

func TestHubAppliesFrames(t *testing.T) {
	t.Parallel()
	world, hub, srv := newHubServer(t, "secret")
	actions := make(chan Action, 4)
	world.Subscribe(func(a Action) { actions <- a })
	snapshots := make(chan struct{}, 1)
	hub.OnSnapshot = func() { snapshots <- struct{}{} }

	conn, _, err := dialHub(t, srv, "secret")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 && world.Connected() })

	snap, _ := json.Marshal(Snapshot{Users: []User{{ID: 1, Name: "Alice", Online: true}}})
	if err := conn.WriteJSON(Envelope{Type: "snapshot", Payload: snap}); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	chat, _ := json.Marshal(ChatSent{Sender: User{Name: "Alice"}, Channel: "General", Text: "hello"})
	if err := conn.WriteJSON(Envelope{Type: "chat_sent", Payload: chat}); err != nil {
		t.Fatalf("write chat: %v", err)
	}

	select {
	case a := <-actions:
		cs, ok := a.(ChatSent)
		if !ok {
			t.Fatalf("action type: got %T, want ChatSent", a)
		}
		if cs.Text != "hello" || cs.Channel != "General" {
			t.Errorf("chat: got %+v", cs)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no action received")
	}
	select {
	case <-snapshots:
	default:
		t.Error("OnSnapshot not called")
	}
	if _, ok := world.UserByName("alice"); !ok {
		t.Error("snapshot user not loaded")
	}
}

func TestHubSendsCommands(t *testing.T) {
	t.Parallel()
	world, hub, srv := newHubServer(t, "")
	conn, _, err := dialHub(t, srv, "")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return hub.ConnectionCount() == 1 })

	if err := world.SendChat(context.Background(), "General", "DiscordLink", "hi there"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != "send_chat" {
		t.Errorf("type: got %q, want send_chat", env.Type)
	}
	var p SendChatPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Text != "hi there" || p.Sender != "DiscordLink" {
		t.Errorf("payload: got %+v", p)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ConnectionCount() == 0 })
	if world.Connected() {
		t.Error("world still has a sink after the last plugin disconnected")
	}
}
