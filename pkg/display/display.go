// Copyright 2024-2026 Aiku AI

// Package display runs modules: it keeps one live remote message per content
// tag and target, editing it in place as the content changes.
package display

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zeebo/blake3"

	"github.com/aiku/discordlink/pkg/events"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/remote"
)

// State is the lifecycle state of a Module.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Content is one logical item a display shows. Tag identifies the item across
// update passes independently of its rendered text.
type Content struct {
	Tag     string
	Message remote.OutgoingMessage
}

// Tracked is a posted remote message owned by a module.
type Tracked struct {
	Tag       string
	ChannelID string
	MessageID string
	Hash      string
}

// Behavior is what every module declares.
type Behavior interface {
	Name() string
	// Purpose selects the link group the module renders into.
	Purpose() link.Purpose
	// Triggers is the set of kinds Update reacts to.
	Triggers() events.Kind
}

// Displayer is a module that maintains live messages.
type Displayer interface {
	Behavior
	// DisplayContent returns the desired messages for target. It must not
	// have side effects.
	DisplayContent(target link.Target) []Content
}

// Feeder is a module that posts a new message per event instead of keeping
// live messages.
type Feeder interface {
	Behavior
	Feed(ctx context.Context, trigger events.Kind, data any, target link.Target) error
}

// Refresher is implemented by modules that update on a timer.
type Refresher interface {
	// Refresh returns the delay before the first timer update and the period
	// after it.
	Refresh() (delay, period time.Duration)
}

// CreationHook is called once after a live message is first posted.
type CreationHook interface {
	PostDisplayCreated(ctx context.Context, target link.Target, msg Tracked) error
}

// ReactionHandler receives reaction changes on messages the module posted.
type ReactionHandler interface {
	HandleReactionChange(ctx context.Context, r remote.Reaction, target link.Target, msg Tracked)
}

// StoredMessage is the persisted form of a Tracked message.
type StoredMessage struct {
	Module    string
	TargetKey string
	Tag       string
	ChannelID string
	MessageID string
	Hash      string
}

// Store persists the module, target and tag to message mapping so a restart
// edits existing messages instead of posting duplicates.
type Store interface {
	DisplayMessages(ctx context.Context, module string) ([]StoredMessage, error)
	SaveDisplayMessage(ctx context.Context, msg StoredMessage) error
	DeleteDisplayMessage(ctx context.Context, module, targetKey, tag string) error
}

// Fingerprint hashes the rendered form of a message.
func Fingerprint(msg remote.OutgoingMessage) string {
	// Only strings, ints and bools, so Marshal cannot fail.
	data, _ := json.Marshal(msg)
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
