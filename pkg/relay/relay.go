// Copyright 2024-2026 Aiku AI

// Package relay decides whether a chat message crosses the bridge and renders
// it for the other side.
package relay

import (
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/aiku/discordlink/pkg/events"
	"github.com/aiku/discordlink/pkg/link"
)

// Side is where a message originated.
type Side int

const (
	SideGame Side = iota
	SideRemote
)

func (s Side) String() string {
	if s == SideGame {
		return "game"
	}
	return "remote"
}

// ShouldRelay reports whether a chat message of kind from source may cross
// the chat link.
func ShouldRelay(kind events.Kind, source Side, l link.Link) bool {
	if l.Variant != link.Chat {
		return false
	}
	switch {
	case kind == events.ChatOut && source == SideGame:
		return l.Direction == link.Duplex || l.Direction == link.GameToRemote
	case kind == events.ChatIn && source == SideRemote:
		return l.Direction == link.Duplex || l.Direction == link.RemoteToGame
	default:
		return false
	}
}

// IsEcho reports whether a game message was posted by the bridge's own relay
// identity and therefore must not be sent back out. Messages carrying the
// echo marker prefix are deliberate and pass.
func IsEcho(sender, relayName, text, marker string) bool {
	if relayName == "" || !strings.EqualFold(strings.TrimSpace(sender), relayName) {
		return false
	}
	return marker == "" || !strings.HasPrefix(text, marker)
}

// StripEchoMarker removes the echo marker prefix if present.
func StripEchoMarker(text, marker string) string {
	if marker == "" {
		return text
	}
	return strings.TrimSpace(strings.TrimPrefix(text, marker))
}

// EchoWindow remembers what the bridge itself relayed so the copy the other
// side reports back is not relayed again. Messages users send are never
// recorded, only looked up. Entries are pruned on access.
// Thread-safe.
type EchoWindow struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[[32]byte]time.Time
	now  func() time.Time
}

// NewEchoWindow creates a window with the given TTL. A non-positive TTL
// disables it.
func NewEchoWindow(ttl time.Duration) *EchoWindow {
	return &EchoWindow{
		ttl:  ttl,
		seen: make(map[[32]byte]time.Time),
		now:  time.Now,
	}
}

// Record remembers a message the bridge posted on side as sender.
func (w *EchoWindow) Record(side Side, sender, text string) {
	if w == nil || w.ttl <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.prune(now)
	w.seen[echoKey(side, "msg", sender, text)] = now
}

// Seen reports whether a message matching sender and text was recorded on
// side within the TTL. It records nothing.
func (w *EchoWindow) Seen(side Side, sender, text string) bool {
	if w == nil || w.ttl <= 0 {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(w.now())
	_, ok := w.seen[echoKey(side, "msg", sender, text)]
	return ok
}

// Redelivered records a platform message ID and reports whether the same ID
// was already delivered within the TTL.
func (w *EchoWindow) Redelivered(side Side, id string) bool {
	if w == nil || w.ttl <= 0 || id == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	now := w.now()
	w.prune(now)
	key := echoKey(side, "id", id, "")
	if _, ok := w.seen[key]; ok {
		return true
	}
	w.seen[key] = now
	return false
}

func (w *EchoWindow) prune(now time.Time) {
	for k, ts := range w.seen {
		if now.Sub(ts) > w.ttl {
			delete(w.seen, k)
		}
	}
}

func echoKey(side Side, class, sender, text string) [32]byte {
	return blake3.Sum256([]byte(side.String() + "\x00" + class + "\x00" + strings.ToLower(sender) + "\x00" + text))
}

// Len returns the number of remembered messages.
func (w *EchoWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}
