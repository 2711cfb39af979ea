// Copyright 2024-2026 Aiku AI

package link

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/remote"
)

// Purpose names the configuration group a link belongs to. Each module reads
// the targets of exactly one purpose.
type Purpose string

const (
	PurposeChat        Purpose = "chat"
	PurposePlayerList  Purpose = "player_list"
	PurposeServerInfo  Purpose = "server_info"
	PurposeElections   Purpose = "elections"
	PurposeTrades      Purpose = "trades"
	PurposeWorkParties Purpose = "work_parties"
	PurposeCurrencies  Purpose = "currencies"
)

// VariantFor returns the variant used for links of the purpose.
func VariantFor(p Purpose) Variant {
	switch p {
	case PurposeChat:
		return Chat
	case PurposePlayerList:
		return PlayerList
	case PurposeServerInfo:
		return ServerInfo
	default:
		return Text
	}
}

// Status describes one configured link for status reporting.
type Status struct {
	Purpose  Purpose
	Link     Link
	Err      error
	Verified bool
}

// Registry holds the configured links and the verified subset. Replace and
// Verify take the write lock; readers see either the old or the new link set.
// Thread-safe.
type Registry struct {
	mu       sync.RWMutex
	links    map[Purpose][]Link
	invalid  map[Purpose][]Status
	verified map[Purpose]map[string]Target
	failures map[Purpose]map[string]error
	log      zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		links:    make(map[Purpose][]Link),
		invalid:  make(map[Purpose][]Status),
		verified: make(map[Purpose]map[string]Target),
		failures: make(map[Purpose]map[string]error),
		log:      log.With().Str("component", "links").Logger(),
	}
}

// Replace swaps in a new link set. Corrections are applied, invalid links are
// logged and excluded, and all verification state is cleared. Returns the
// number of accepted links.
func (r *Registry) Replace(groups map[Purpose][]Link) int {
	links := make(map[Purpose][]Link, len(groups))
	invalid := make(map[Purpose][]Status)
	accepted := 0
	for purpose, group := range groups {
		for _, l := range group {
			l.Variant = VariantFor(purpose)
			if l.MakeCorrections() {
				r.log.Info().
					Str("purpose", string(purpose)).
					Stringer("link", l).
					Msg("Corrected channel link")
			}
			if err := l.Validate(); err != nil {
				r.log.Warn().Err(err).
					Str("purpose", string(purpose)).
					Stringer("link", l).
					Msg("Skipping invalid channel link")
				invalid[purpose] = append(invalid[purpose], Status{Purpose: purpose, Link: l, Err: err})
				continue
			}
			links[purpose] = append(links[purpose], l)
			accepted++
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = links
	r.invalid = invalid
	r.verified = make(map[Purpose]map[string]Target)
	r.failures = make(map[Purpose]map[string]error)
	return accepted
}

// Verify resolves every valid link against the remote platform and records
// which ones are usable. Returns the number of verified and failed links.
func (r *Registry) Verify(res remote.Resolver) (verified, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verified = make(map[Purpose]map[string]Target, len(r.links))
	r.failures = make(map[Purpose]map[string]error)
	for purpose, group := range r.links {
		for _, l := range group {
			target, err := l.Verify(res)
			if err != nil {
				if r.failures[purpose] == nil {
					r.failures[purpose] = make(map[string]error)
				}
				r.failures[purpose][l.Key()] = err
				r.log.Warn().Err(err).
					Str("purpose", string(purpose)).
					Stringer("link", l).
					Msg("Channel link could not be verified")
				failed++
				continue
			}
			if r.verified[purpose] == nil {
				r.verified[purpose] = make(map[string]Target)
			}
			r.verified[purpose][target.Key()] = target
			verified++
		}
	}
	return verified, failed
}

// Targets returns the verified targets of a purpose, ordered by key.
func (r *Registry) Targets(p Purpose) []Target {
	r.mu.RLock()
	defer r.mu.RUnlock()
	targets := make([]Target, 0, len(r.verified[p]))
	for _, t := range r.verified[p] {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Key() < targets[j].Key() })
	return targets
}

// ChatTargetsForGameChannel returns verified chat targets bound to the game
// channel.
func (r *Registry) ChatTargetsForGameChannel(gameChannel string) []Target {
	var out []Target
	for _, t := range r.Targets(PurposeChat) {
		if t.Link.MatchesGameChannel(gameChannel) {
			out = append(out, t)
		}
	}
	return out
}

// ChatTargetsForRemoteChannel returns verified chat targets bound to the
// remote channel ID.
func (r *Registry) ChatTargetsForRemoteChannel(channelID string) []Target {
	var out []Target
	for _, t := range r.Targets(PurposeChat) {
		if t.ChannelID == channelID {
			out = append(out, t)
		}
	}
	return out
}

// Statuses lists every configured link with its validation and verification
// state.
func (r *Registry) Statuses() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Status
	for purpose, group := range r.links {
		for _, l := range group {
			st := Status{Purpose: purpose, Link: l}
			if _, ok := r.verified[purpose][l.Key()]; ok {
				st.Verified = true
			} else if err, ok := r.failures[purpose][l.Key()]; ok {
				st.Err = err
			} else {
				st.Err = ErrUnverified
			}
			out = append(out, st)
		}
	}
	for _, group := range r.invalid {
		out = append(out, group...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Purpose != out[j].Purpose {
			return out[i].Purpose < out[j].Purpose
		}
		return out[i].Link.Key() < out[j].Link.Key()
	})
	return out
}

// VerifiedCount returns the number of verified links across all purposes.
func (r *Registry) VerifiedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, group := range r.verified {
		n += len(group)
	}
	return n
}

// Describe renders a status line for the link.
func (s Status) Describe() string {
	var b strings.Builder
	b.WriteString(string(s.Purpose))
	b.WriteString(" ")
	b.WriteString(s.Link.String())
	switch {
	case s.Verified:
		b.WriteString(": verified")
	case errors.Is(s.Err, ErrInvalid):
		b.WriteString(": invalid (")
		b.WriteString(s.Err.Error())
		b.WriteString(")")
	case s.Err != nil:
		b.WriteString(": unverified (")
		b.WriteString(s.Err.Error())
		b.WriteString(")")
	}
	return b.String()
}
