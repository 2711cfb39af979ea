// Copyright 2024-2026 Aiku AI

// Package modules contains the concrete relay and display behaviors run by
// the display engine.
package modules

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/display"
	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/metrics"
	"github.com/aiku/discordlink/pkg/reaction"
	"github.com/aiku/discordlink/pkg/relay"
	"github.com/aiku/discordlink/pkg/remote"
)

// Env is what modules read from and write to.
type Env struct {
	Server   game.Server
	Platform remote.Platform
	Reducer  *reaction.Reducer
	Echo     *relay.EchoWindow
	Metrics  *metrics.Metrics
	Log      zerolog.Logger
	// Watchlist holds the names with a live trade board. May be nil.
	Watchlist *TradeWatchlist

	// RelayName is the game chat identity the bridge posts under.
	RelayName string
	// EchoMarker prefixes relay-user messages that should still be relayed.
	EchoMarker string
	// CommandPrefix marks remote messages addressed to a bot, never relayed.
	CommandPrefix string

	// Now defaults to time.Now.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// All returns every module behavior.
func All(env *Env) []display.Behavior {
	return []display.Behavior{
		&GameChatFeed{env: env},
		&RemoteChatFeed{env: env},
		&PlayerDisplay{env: env},
		&ElectionDisplay{env: env},
		&ServerInfoDisplay{env: env},
		&TradeFeed{env: env},
		&TrackedTradesDisplay{env: env},
		&WorkPartyDisplay{env: env},
		&CurrencyDisplay{env: env},
	}
}

// TradeWatchlist is the set of user and item names that get a live trade
// board. Names compare case-insensitively and keep the spelling they were
// first added with. A nil watchlist is empty. Thread-safe.
type TradeWatchlist struct {
	mu    sync.RWMutex
	terms []string
}

// NewTradeWatchlist creates a watchlist holding terms.
func NewTradeWatchlist(terms ...string) *TradeWatchlist {
	w := &TradeWatchlist{}
	w.Replace(terms)
	return w
}

// Add inserts term and reports whether it was new.
func (w *TradeWatchlist) Add(term string) bool {
	term = strings.TrimSpace(term)
	if term == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.indexLocked(term) >= 0 {
		return false
	}
	w.terms = append(w.terms, term)
	return true
}

// Remove deletes term and reports whether it was present.
func (w *TradeWatchlist) Remove(term string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.indexLocked(strings.TrimSpace(term))
	if i < 0 {
		return false
	}
	w.terms = append(w.terms[:i:i], w.terms[i+1:]...)
	return true
}

// Replace swaps the whole set.
func (w *TradeWatchlist) Replace(terms []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.terms = nil
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" && w.indexLocked(t) < 0 {
			w.terms = append(w.terms, t)
		}
	}
}

// Terms returns the names in insertion order.
func (w *TradeWatchlist) Terms() []string {
	if w == nil {
		return nil
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.terms...)
}

func (w *TradeWatchlist) indexLocked(term string) int {
	for i, t := range w.terms {
		if strings.EqualFold(t, term) {
			return i
		}
	}
	return -1
}

// platformTitle is the platform name as shown in game chat.
func platformTitle(p remote.Platform) string {
	name := p.Name()
	if name == "" {
		return "Remote"
	}
	return strings.ToUpper(name[:1]) + name[1:]
}
