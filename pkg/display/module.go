// Copyright 2024-2026 Aiku AI

package display

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/discordlink/pkg/events"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/metrics"
	"github.com/aiku/discordlink/pkg/remote"
)

// Deps are the collaborators shared by every module.
type Deps struct {
	Links    *link.Registry
	Platform remote.Platform
	// Store may be nil, in which case nothing survives a restart.
	Store   Store
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

// Module runs one Behavior against every target of its purpose.
// Thread-safe.
type Module struct {
	behavior Behavior
	deps     Deps
	log      zerolog.Logger

	mu      sync.RWMutex
	state   State
	epoch   uint64
	sub     *events.Subscription
	unsub   func()
	cancel  context.CancelFunc
	done    chan struct{}
	tracked map[string]map[string]Tracked // target key -> tag -> message
	passes  map[string]*sync.Mutex        // target key -> pass lock

	handlers sync.WaitGroup
}

// New creates a stopped module.
func New(b Behavior, deps Deps) *Module {
	return &Module{
		behavior: b,
		deps:     deps,
		log:      deps.Log.With().Str("component", "display").Str("module", b.Name()).Logger(),
		tracked:  make(map[string]map[string]Tracked),
		passes:   make(map[string]*sync.Mutex),
	}
}

// Name returns the behavior's name.
func (m *Module) Name() string {
	return m.behavior.Name()
}

// State returns the current lifecycle state.
func (m *Module) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// StartIfRelevant starts the module when at least one verified target exists
// for its purpose and reports whether it is running afterwards.
func (m *Module) StartIfRelevant(ctx context.Context, bus *events.Bus) bool {
	m.mu.Lock()
	if m.state != Stopped {
		running := m.state == Running
		m.mu.Unlock()
		return running
	}
	if len(m.deps.Links.Targets(m.behavior.Purpose())) == 0 {
		m.mu.Unlock()
		m.log.Debug().Msg("No verified targets, not starting")
		return false
	}
	m.state = Starting
	m.mu.Unlock()

	m.rehydrate(ctx)

	sub := bus.Subscribe(m.behavior.Triggers(), m.Update)
	var unsub func()
	if m.deps.Platform != nil {
		unsub = m.deps.Platform.Subscribe(m.onPlatformEvent)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var done chan struct{}
	if r, ok := m.behavior.(Refresher); ok {
		delay, period := r.Refresh()
		if period > 0 {
			done = make(chan struct{})
			go m.runTimer(runCtx, delay, period, done)
		}
	}

	m.mu.Lock()
	m.sub, m.unsub, m.cancel, m.done = sub, unsub, cancel, done
	m.state = Running
	m.mu.Unlock()
	m.log.Info().Msg("Module started")
	return true
}

// Stop cancels the timer, releases subscriptions and forgets tracked
// messages. Remote messages are left in place. Results of passes still in
// flight are discarded.
func (m *Module) Stop() {
	m.mu.Lock()
	if m.state != Running {
		m.mu.Unlock()
		return
	}
	m.state = Stopping
	m.epoch++
	sub, unsub, cancel, done := m.sub, m.unsub, m.cancel, m.done
	m.sub, m.unsub, m.cancel, m.done = nil, nil, nil, nil
	m.mu.Unlock()

	sub.Release()
	if unsub != nil {
		unsub()
	}
	cancel()
	if done != nil {
		<-done
	}
	m.handlers.Wait()

	m.mu.Lock()
	m.tracked = make(map[string]map[string]Tracked)
	m.state = Stopped
	m.mu.Unlock()
	m.log.Info().Msg("Module stopped")
}

func (m *Module) runTimer(ctx context.Context, delay, period time.Duration, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	m.Update(ctx, events.Timer, nil)

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Update(ctx, events.Timer, nil)
		}
	}
}

// Update runs one pass for every target when trigger is one of the module's
// triggers. Targets are processed concurrently; passes for the same target
// run one at a time. A failing target never stops the others.
func (m *Module) Update(ctx context.Context, trigger events.Kind, data any) {
	if !m.behavior.Triggers().Overlaps(trigger) {
		return
	}
	m.mu.RLock()
	running, epoch := m.state == Running, m.epoch
	m.mu.RUnlock()
	if !running {
		return
	}

	var eg errgroup.Group
	for _, target := range m.deps.Links.Targets(m.behavior.Purpose()) {
		eg.Go(func() error {
			lock := m.passLock(target.Key())
			lock.Lock()
			defer lock.Unlock()
			switch b := m.behavior.(type) {
			case Displayer:
				m.render(ctx, b, target, epoch)
			case Feeder:
				if err := b.Feed(ctx, trigger, data, target); err != nil {
					m.log.Warn().Err(err).Str("target", target.Key()).Stringer("trigger", trigger).Msg("Feed failed")
				}
			}
			return nil
		})
	}
	_ = eg.Wait()
}

func (m *Module) passLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.passes[key]
	if !ok {
		lock = &sync.Mutex{}
		m.passes[key] = lock
	}
	return lock
}

func (m *Module) current(key string) map[string]Tracked {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.tracked[key])
}

// render diffs the desired content for target against the tracked messages
// and creates, edits or deletes remote messages to match.
func (m *Module) render(ctx context.Context, d Displayer, target link.Target, epoch uint64) {
	key := target.Key()
	log := m.log.With().Str("target", key).Logger()
	before := m.current(key)
	after := maps.Clone(before)
	if after == nil {
		after = make(map[string]Tracked)
	}
	platform := m.deps.Platform

	wanted := make(map[string]bool)
	for _, c := range d.DisplayContent(target) {
		if wanted[c.Tag] {
			log.Debug().Str("tag", c.Tag).Msg("Duplicate content tag, keeping the first")
			continue
		}
		wanted[c.Tag] = true
		hash := Fingerprint(c.Message)

		prev, ok := after[c.Tag]
		if ok && prev.ChannelID != target.ChannelID {
			// The link now points elsewhere; the old message stays behind.
			delete(after, c.Tag)
			ok = false
		}
		switch {
		case !ok:
			msg, err := platform.SendMessage(ctx, target.ChannelID, c.Message)
			m.deps.Metrics.RemoteCall("send", err)
			if err != nil {
				log.Warn().Err(err).Str("tag", c.Tag).Msg("Failed to create display message")
				m.deps.Metrics.Render(m.Name(), "failed")
				continue
			}
			tr := Tracked{Tag: c.Tag, ChannelID: target.ChannelID, MessageID: msg.ID, Hash: hash}
			after[c.Tag] = tr
			m.deps.Metrics.Render(m.Name(), "created")
			log.Debug().Str("tag", c.Tag).Str("message_id", msg.ID).Msg("Created display message")
			if hook, ok := d.(CreationHook); ok && m.epochIs(epoch) {
				if err := hook.PostDisplayCreated(ctx, target, tr); err != nil {
					log.Warn().Err(err).Str("tag", c.Tag).Msg("Post-create hook failed")
				}
			}
		case prev.Hash != hash:
			err := platform.EditMessage(ctx, prev.ChannelID, prev.MessageID, c.Message)
			m.deps.Metrics.RemoteCall("edit", err)
			switch {
			case errors.Is(err, remote.ErrNotFound):
				log.Info().Str("tag", c.Tag).Str("message_id", prev.MessageID).Msg("Display message was deleted remotely, will recreate")
				delete(after, c.Tag)
				m.deps.Metrics.Render(m.Name(), "lost")
			case err != nil:
				log.Warn().Err(err).Str("tag", c.Tag).Msg("Failed to edit display message")
				m.deps.Metrics.Render(m.Name(), "failed")
			default:
				prev.Hash = hash
				after[c.Tag] = prev
				m.deps.Metrics.Render(m.Name(), "edited")
			}
		default:
			m.deps.Metrics.Render(m.Name(), "unchanged")
		}
	}

	for tag, tr := range after {
		if wanted[tag] {
			continue
		}
		err := platform.DeleteMessage(ctx, tr.ChannelID, tr.MessageID)
		m.deps.Metrics.RemoteCall("delete", err)
		if err != nil && !errors.Is(err, remote.ErrNotFound) {
			log.Warn().Err(err).Str("tag", tag).Msg("Failed to delete display message")
			m.deps.Metrics.Render(m.Name(), "failed")
			continue
		}
		delete(after, tag)
		m.deps.Metrics.Render(m.Name(), "deleted")
	}

	m.commit(ctx, key, epoch, before, after)
}

func (m *Module) epochIs(epoch uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch == epoch
}

// commit stores the result of a pass unless the module stopped meanwhile and
// persists the difference.
func (m *Module) commit(ctx context.Context, key string, epoch uint64, before, after map[string]Tracked) {
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		m.log.Debug().Str("target", key).Msg("Module stopped during update, discarding results")
		return
	}
	m.tracked[key] = after
	m.mu.Unlock()

	if m.deps.Store == nil {
		return
	}
	for tag, tr := range after {
		if prev, ok := before[tag]; ok && prev == tr {
			continue
		}
		err := m.deps.Store.SaveDisplayMessage(ctx, StoredMessage{
			Module:    m.Name(),
			TargetKey: key,
			Tag:       tag,
			ChannelID: tr.ChannelID,
			MessageID: tr.MessageID,
			Hash:      tr.Hash,
		})
		if err != nil {
			m.log.Warn().Err(err).Str("target", key).Str("tag", tag).Msg("Failed to persist display message")
		}
	}
	for tag := range before {
		if _, ok := after[tag]; ok {
			continue
		}
		if err := m.deps.Store.DeleteDisplayMessage(ctx, m.Name(), key, tag); err != nil {
			m.log.Warn().Err(err).Str("target", key).Str("tag", tag).Msg("Failed to remove persisted display message")
		}
	}
}

// rehydrate loads the persisted mapping so the first pass edits existing
// messages.
func (m *Module) rehydrate(ctx context.Context) {
	if m.deps.Store == nil {
		return
	}
	stored, err := m.deps.Store.DisplayMessages(ctx, m.Name())
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to load persisted display messages")
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range stored {
		if m.tracked[s.TargetKey] == nil {
			m.tracked[s.TargetKey] = make(map[string]Tracked)
		}
		m.tracked[s.TargetKey][s.Tag] = Tracked{Tag: s.Tag, ChannelID: s.ChannelID, MessageID: s.MessageID, Hash: s.Hash}
	}
	if len(stored) > 0 {
		m.log.Debug().Int("count", len(stored)).Msg("Rehydrated display messages")
	}
}

// Tracked returns the messages tracked for a target key.
func (m *Module) Tracked(targetKey string) []Tracked {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tracked, 0, len(m.tracked[targetKey]))
	for _, tr := range m.tracked[targetKey] {
		out = append(out, tr)
	}
	return out
}

// lookup finds the tracked message with the given remote ID.
func (m *Module) lookup(channelID, messageID string) (string, Tracked, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for key, tags := range m.tracked {
		for _, tr := range tags {
			if tr.MessageID == messageID && tr.ChannelID == channelID {
				return key, tr, true
			}
		}
	}
	return "", Tracked{}, false
}

func (m *Module) onPlatformEvent(evt remote.Event) {
	switch e := evt.(type) {
	case remote.ReactionChanged:
		if _, ok := m.behavior.(ReactionHandler); !ok {
			return
		}
		m.mu.RLock()
		if m.state != Running {
			m.mu.RUnlock()
			return
		}
		m.handlers.Add(1)
		m.mu.RUnlock()
		go func() {
			defer m.handlers.Done()
			m.handleReaction(context.Background(), e.Reaction)
		}()
	case remote.MessageDeleted:
		m.forget(context.Background(), e.ChannelID, e.MessageID)
	}
}

func (m *Module) handleReaction(ctx context.Context, r remote.Reaction) {
	if self := m.deps.Platform.Self(); self.ID != "" && r.User.ID == self.ID {
		return
	}
	key, tr, ok := m.lookup(r.ChannelID, r.MessageID)
	if !ok {
		return
	}
	for _, target := range m.deps.Links.Targets(m.behavior.Purpose()) {
		if target.Key() == key {
			m.behavior.(ReactionHandler).HandleReactionChange(ctx, r, target, tr)
			return
		}
	}
}

// forget drops the mapping of a message deleted on the remote platform so the
// next pass recreates it.
func (m *Module) forget(ctx context.Context, channelID, messageID string) {
	key, tr, ok := m.lookup(channelID, messageID)
	if !ok {
		return
	}
	m.mu.Lock()
	delete(m.tracked[key], tr.Tag)
	m.mu.Unlock()
	m.log.Debug().Str("target", key).Str("tag", tr.Tag).Msg("Display message deleted remotely")
	if m.deps.Store != nil {
		if err := m.deps.Store.DeleteDisplayMessage(ctx, m.Name(), key, tr.Tag); err != nil {
			m.log.Warn().Err(err).Msg("Failed to remove persisted display message")
		}
	}
}
