// Copyright 2024-2026 Aiku AI

package relay

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aiku/discordlink/pkg/events"
	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/remote"
)

func chatLink(dir link.Direction) link.Link {
	l := link.Default(link.Chat)
	l.Guild = "Eco"
	l.Channel = "general"
	l.GameChannel = "General"
	l.Direction = dir
	return l
}

func TestShouldRelay(t *testing.T) {
	t.Parallel()
	tests := []struct {
		kind   events.Kind
		source Side
		dir    link.Direction
		want   bool
	}{
		{events.ChatOut, SideGame, link.Duplex, true},
		{events.ChatOut, SideGame, link.GameToRemote, true},
		{events.ChatOut, SideGame, link.RemoteToGame, false},
		{events.ChatIn, SideRemote, link.Duplex, true},
		{events.ChatIn, SideRemote, link.RemoteToGame, true},
		{events.ChatIn, SideRemote, link.GameToRemote, false},
		{events.ChatIn, SideGame, link.Duplex, false},
		{events.ChatOut, SideRemote, link.Duplex, false},
		{events.Login, SideGame, link.Duplex, false},
	}
	for _, tt := range tests {
		if got := ShouldRelay(tt.kind, tt.source, chatLink(tt.dir)); got != tt.want {
			t.Errorf("ShouldRelay(%s, %s, %s): got %v, want %v", tt.kind, tt.source, tt.dir, got, tt.want)
		}
	}
}

func TestShouldRelayIgnoresNonChatLinks(t *testing.T) {
	t.Parallel()
	l := chatLink(link.Duplex)
	l.Variant = link.PlayerList
	if ShouldRelay(events.ChatOut, SideGame, l) {
		t.Error("player list link relayed chat")
	}
}

func TestIsEcho(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sender, text string
		want         bool
	}{
		{"DiscordLink", "hello", true},
		{"discordlink ", "hello", true},
		{"DiscordLink", "[relay] deliberate", false},
		{"Alice", "hello", false},
	}
	for _, tt := range tests {
		if got := IsEcho(tt.sender, "DiscordLink", tt.text, "[relay]"); got != tt.want {
			t.Errorf("IsEcho(%q, %q): got %v, want %v", tt.sender, tt.text, got, tt.want)
		}
	}
	if IsEcho("Alice", "", "hello", "") {
		t.Error("empty relay name matched")
	}
}

func TestStripEchoMarker(t *testing.T) {
	t.Parallel()
	if got := StripEchoMarker("[relay] hi", "[relay]"); got != "hi" {
		t.Errorf("StripEchoMarker: got %q", got)
	}
	if got := StripEchoMarker("hi", ""); got != "hi" {
		t.Errorf("StripEchoMarker without marker: got %q", got)
	}
}

func TestEchoWindow(t *testing.T) {
	t.Parallel()
	w := NewEchoWindow(5 * time.Second)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	if w.Seen(SideGame, "DiscordLink", "[Discord] Carol: hi") {
		t.Fatal("unrecorded message reported as seen")
	}
	w.Record(SideGame, "DiscordLink", "[Discord] Carol: hi")
	if !w.Seen(SideGame, "discordlink", "[Discord] Carol: hi") {
		t.Error("recorded relay not detected")
	}
	if !w.Seen(SideGame, "DiscordLink", "[Discord] Carol: hi") {
		t.Error("lookup consumed the record")
	}
	if w.Seen(SideRemote, "DiscordLink", "[Discord] Carol: hi") {
		t.Error("same text on the other side reported as seen")
	}
	if w.Len() != 1 {
		t.Errorf("Len: got %d, want 1", w.Len())
	}

	now = now.Add(time.Minute)
	if w.Seen(SideGame, "DiscordLink", "[Discord] Carol: hi") {
		t.Error("record still seen after the TTL")
	}
	if w.Len() != 0 {
		t.Errorf("Len after pruning: got %d, want 0", w.Len())
	}
}

func TestEchoWindowIgnoresRepeatedUserMessages(t *testing.T) {
	t.Parallel()
	w := NewEchoWindow(5 * time.Second)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }

	for i := range 3 {
		if w.Seen(SideGame, "Alice", "ok") {
			t.Errorf("message %d from a user reported as seen", i)
		}
		if w.Redelivered(SideRemote, fmt.Sprintf("m%d", i)) {
			t.Errorf("new message ID %d reported as redelivered", i)
		}
		now = now.Add(time.Second)
	}
	if !w.Redelivered(SideRemote, "m2") {
		t.Error("redelivered ID not detected")
	}
	if w.Redelivered(SideRemote, "") {
		t.Error("empty ID reported as redelivered")
	}
}

func TestEchoWindowDisabled(t *testing.T) {
	t.Parallel()
	w := NewEchoWindow(0)
	w.Record(SideGame, "DiscordLink", "hi")
	if w.Seen(SideGame, "DiscordLink", "hi") || w.Redelivered(SideRemote, "m1") || w.Redelivered(SideRemote, "m1") {
		t.Error("disabled window reported a match")
	}
}

type fakeLookup struct{}

func (fakeLookup) GuildByNameOrID(ref string) (remote.Guild, bool) {
	return remote.Guild{ID: "g1", Name: "Eco"}, ref == "Eco" || ref == "g1"
}

func (fakeLookup) ChannelByNameOrID(guildID, ref string) (remote.Channel, bool) {
	if guildID == "g1" && ref == "trade" {
		return remote.Channel{ID: "333", GuildID: "g1", Name: "trade"}, true
	}
	return remote.Channel{}, false
}

func (fakeLookup) MemberByName(guildID, name string) (remote.User, bool) {
	if guildID == "g1" && strings.EqualFold(name, "bob") {
		return remote.User{ID: "111", Name: "Bob"}, true
	}
	return remote.User{}, false
}

func (fakeLookup) RoleByName(string, string) (remote.Role, bool) { return remote.Role{}, false }

func (fakeLookup) UserByID(guildID, id string) (remote.User, bool) {
	if id == "111" {
		return remote.User{ID: "111", Name: "Bob"}, true
	}
	return remote.User{}, false
}

func (fakeLookup) RoleByID(string, string) (remote.Role, bool) { return remote.Role{}, false }

func (fakeLookup) ChannelByID(id string) (remote.Channel, bool) {
	if id == "333" {
		return remote.Channel{ID: "333", Name: "trade"}, true
	}
	return remote.Channel{}, false
}

func TestFormatForRemote(t *testing.T) {
	t.Parallel()
	target := link.Target{Link: chatLink(link.Duplex), GuildID: "g1", ChannelID: "c1"}
	msg := game.ChatSent{
		Sender: game.User{Name: "Alice"},
		Text:   "<b>hey</b> @Bob see #trade @everyone",
	}
	got := FormatForRemote(msg, target, fakeLookup{}, "")
	want := "**Alice**: **hey** <@111> see <#333> @\u200beveryone"
	if got.Text != want {
		t.Errorf("Text: got %q, want %q", got.Text, want)
	}
	if !got.Mentions.Users || got.Mentions.Everyone {
		t.Errorf("Mentions: got %+v", got.Mentions)
	}
}

func TestFormatForRemoteAdminGlobalMention(t *testing.T) {
	t.Parallel()
	l := chatLink(link.Duplex)
	l.GlobalMentions = link.GlobalAdminOnly
	target := link.Target{Link: l, GuildID: "g1", ChannelID: "c1"}

	admin := FormatForRemote(game.ChatSent{Sender: game.User{Name: "Root", IsAdmin: true}, Text: "@here"}, target, nil, "")
	if admin.Text != "**Root**: @here" || !admin.Mentions.Everyone {
		t.Errorf("admin: got %+v", admin)
	}
	user := FormatForRemote(game.ChatSent{Sender: game.User{Name: "Al"}, Text: "@here"}, target, nil, "")
	if user.Mentions.Everyone {
		t.Errorf("non-admin allowed global mention: %+v", user)
	}
}

func TestFormatForGame(t *testing.T) {
	t.Parallel()
	msg := remote.Message{GuildID: "g1", Author: remote.User{Name: "Carol"}, Text: "**hi** <@111> in <#333>"}
	got := FormatForGame(msg, "Discord", fakeLookup{})
	want := "[Discord] <b>Carol</b>: <b>hi</b> @Bob in #trade"
	if got != want {
		t.Errorf("FormatForGame: got %q, want %q", got, want)
	}
}
