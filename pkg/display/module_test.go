// Copyright 2024-2026 Aiku AI

package display

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/events"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/remote"
	"github.com/aiku/discordlink/pkg/remote/remotetest"
)

// fakeDisplay renders whatever content was set per channel ID.
type fakeDisplay struct {
	mu        sync.Mutex
	content   map[string][]Content
	created   []Tracked
	reactions []remote.Reaction
	hookErr   error
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{content: make(map[string][]Content)}
}

func (f *fakeDisplay) Name() string          { return "fake" }
func (f *fakeDisplay) Purpose() link.Purpose { return link.PurposeElections }
func (f *fakeDisplay) Triggers() events.Kind { return events.Login | events.Timer }

func (f *fakeDisplay) set(channelID string, content ...Content) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content[channelID] = content
}

func (f *fakeDisplay) DisplayContent(target link.Target) []Content {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Content(nil), f.content[target.ChannelID]...)
}

func (f *fakeDisplay) PostDisplayCreated(_ context.Context, _ link.Target, msg Tracked) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, msg)
	return f.hookErr
}

func (f *fakeDisplay) HandleReactionChange(_ context.Context, r remote.Reaction, _ link.Target, msg Tracked) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.Emoji = msg.Tag + ":" + r.Emoji
	f.reactions = append(f.reactions, r)
}

func (f *fakeDisplay) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

type timedDisplay struct {
	*fakeDisplay
	delay, period time.Duration
}

func (t timedDisplay) Refresh() (time.Duration, time.Duration) {
	return t.delay, t.period
}

type fakeFeed struct {
	mu    sync.Mutex
	fed   map[string]any
	fails string
}

func (f *fakeFeed) Name() string          { return "feed" }
func (f *fakeFeed) Purpose() link.Purpose { return link.PurposeElections }
func (f *fakeFeed) Triggers() events.Kind { return events.Trade }

func (f *fakeFeed) Feed(_ context.Context, _ events.Kind, data any, target link.Target) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if target.ChannelID == f.fails {
		return errors.New("boom")
	}
	f.fed[target.ChannelID] = data
	return nil
}

// memStore is an in-memory Store.
type memStore struct {
	mu   sync.Mutex
	rows map[[3]string]StoredMessage
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[[3]string]StoredMessage)}
}

func (s *memStore) DisplayMessages(_ context.Context, module string) ([]StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StoredMessage
	for k, v := range s.rows {
		if k[0] == module {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *memStore) SaveDisplayMessage(_ context.Context, msg StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[[3]string{msg.Module, msg.TargetKey, msg.Tag}] = msg
	return nil
}

func (s *memStore) DeleteDisplayMessage(_ context.Context, module, targetKey, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, [3]string{module, targetKey, tag})
	return nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func newRegistry(t *testing.T, p *remotetest.Platform, channels ...string) *link.Registry {
	t.Helper()
	reg := link.NewRegistry(zerolog.Nop())
	var links []link.Link
	for _, ch := range channels {
		l := link.Default(link.Text)
		l.Guild = "Eco"
		l.Channel = ch
		links = append(links, l)
	}
	reg.Replace(map[link.Purpose][]link.Link{link.PurposeElections: links})
	if verified, failed := reg.Verify(p); verified != len(channels) || failed != 0 {
		t.Fatalf("Verify: got %d verified, %d failed", verified, failed)
	}
	return reg
}

func text(tag, body string) Content {
	return Content{Tag: tag, Message: remote.OutgoingMessage{Text: body}}
}

type harness struct {
	platform *remotetest.Platform
	store    *memStore
	bus      *events.Bus
	module   *Module
}

func start(t *testing.T, b Behavior, channels ...string) *harness {
	t.Helper()
	p := remotetest.New()
	h := &harness{
		platform: p,
		store:    newMemStore(),
		bus:      events.NewBus(context.Background(), zerolog.Nop()),
	}
	h.module = New(b, Deps{Links: newRegistry(t, p, channels...), Platform: p, Store: h.store, Log: zerolog.Nop()})
	if !h.module.StartIfRelevant(context.Background(), h.bus) {
		t.Fatal("StartIfRelevant: got false, want true")
	}
	t.Cleanup(h.module.Stop)
	return h
}

func (h *harness) update(trigger events.Kind) {
	h.module.Update(context.Background(), trigger, nil)
}

func TestStartIfRelevantWithoutTargets(t *testing.T) {
	t.Parallel()
	p := remotetest.New()
	reg := link.NewRegistry(zerolog.Nop())
	m := New(newFakeDisplay(), Deps{Links: reg, Platform: p, Log: zerolog.Nop()})
	if m.StartIfRelevant(context.Background(), events.NewBus(context.Background(), zerolog.Nop())) {
		t.Error("StartIfRelevant: got true without targets")
	}
	if m.State() != Stopped {
		t.Errorf("State: got %s, want stopped", m.State())
	}
	m.Update(context.Background(), events.Login, nil)
	if len(p.Calls()) != 0 {
		t.Errorf("stopped module made calls: %+v", p.Calls())
	}
}

func TestRenderCreatesThenSkipsUnchanged(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general")
	d.set("c1", text("7", "Election 7"))

	h.update(events.Login)
	h.update(events.Login)

	if got := len(h.platform.CallsTo("send")); got != 1 {
		t.Errorf("send calls: got %d, want 1", got)
	}
	if got := len(h.platform.CallsTo("edit")); got != 0 {
		t.Errorf("edit calls on unchanged content: got %d, want 0", got)
	}
	if d.createdCount() != 1 {
		t.Errorf("PostDisplayCreated calls: got %d, want 1", d.createdCount())
	}
	tracked := h.module.Tracked("eco/general")
	if len(tracked) != 1 || tracked[0].Tag != "7" || tracked[0].MessageID == "" {
		t.Errorf("Tracked: got %+v", tracked)
	}
	if h.store.len() != 1 {
		t.Errorf("persisted rows: got %d, want 1", h.store.len())
	}
}

func TestRenderEditsInPlace(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general")
	d.set("c1", text("players", "2 Players Online"))
	h.update(events.Login)
	id := h.module.Tracked("eco/general")[0].MessageID

	d.set("c1", text("players", "3 Players Online"))
	h.update(events.Login)

	edits := h.platform.CallsTo("edit")
	if len(edits) != 1 || edits[0].MessageID != id {
		t.Fatalf("edit calls: got %+v, want one edit of %s", edits, id)
	}
	if msg, _ := h.platform.Message(id); msg.Text != "3 Players Online" {
		t.Errorf("message text: got %q", msg.Text)
	}
	if got := len(h.platform.CallsTo("send")); got != 1 {
		t.Errorf("send calls: got %d, want 1", got)
	}
	if d.createdCount() != 1 {
		t.Errorf("PostDisplayCreated ran on edit")
	}
}

func TestRenderDeletesVanishedTags(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general")
	d.set("c1", text("7", "Election 7"), text("8", "Election 8"))
	h.update(events.Login)

	d.set("c1", text("8", "Election 8"))
	h.update(events.Login)

	if got := len(h.platform.CallsTo("delete")); got != 1 {
		t.Errorf("delete calls: got %d, want 1", got)
	}
	tracked := h.module.Tracked("eco/general")
	if len(tracked) != 1 || tracked[0].Tag != "8" {
		t.Errorf("Tracked: got %+v", tracked)
	}
	if h.store.len() != 1 {
		t.Errorf("persisted rows: got %d, want 1", h.store.len())
	}
	if h.platform.MessageCount() != 1 {
		t.Errorf("live messages: got %d, want 1", h.platform.MessageCount())
	}
}

func TestRenderDuplicateTagsKeepFirst(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general")
	d.set("c1", text("7", "first"), text("7", "second"))
	h.update(events.Login)

	sends := h.platform.CallsTo("send")
	if len(sends) != 1 || sends[0].Message.Text != "first" {
		t.Errorf("send calls: got %+v", sends)
	}
}

func TestRenderRecreatesRemotelyDeletedMessage(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general")
	d.set("c1", text("7", "v1"))
	h.update(events.Login)
	id := h.module.Tracked("eco/general")[0].MessageID

	h.platform.Drop(id)
	d.set("c1", text("7", "v2"))
	h.update(events.Login)
	if len(h.module.Tracked("eco/general")) != 0 {
		t.Fatal("mapping kept after edit returned not found")
	}

	h.update(events.Login)
	tracked := h.module.Tracked("eco/general")
	if len(tracked) != 1 || tracked[0].MessageID == id {
		t.Errorf("Tracked after recreate: got %+v", tracked)
	}
	if got := len(h.platform.CallsTo("send")); got != 2 {
		t.Errorf("send calls: got %d, want 2", got)
	}
}

func TestMessageDeletedEventInvalidatesMapping(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general")
	d.set("c1", text("7", "v1"))
	h.update(events.Login)
	id := h.module.Tracked("eco/general")[0].MessageID

	h.platform.Drop(id)
	h.platform.Emit(remote.MessageDeleted{ChannelID: "c1", MessageID: id})
	if len(h.module.Tracked("eco/general")) != 0 {
		t.Fatal("mapping kept after MessageDeleted")
	}
	if h.store.len() != 0 {
		t.Errorf("persisted rows: got %d, want 0", h.store.len())
	}

	h.update(events.Login)
	if got := len(h.platform.CallsTo("send")); got != 2 {
		t.Errorf("send calls: got %d, want 2", got)
	}
}

func TestFailingTargetDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general", "elections")
	d.set("c1", text("7", "a"))
	d.set("c2", text("7", "b"))
	h.platform.Fail("send:c1", remote.ErrForbidden)

	h.update(events.Login)

	if len(h.module.Tracked("eco/general")) != 0 {
		t.Error("failed create was tracked")
	}
	if len(h.module.Tracked("eco/elections")) != 1 {
		t.Error("healthy target was not rendered")
	}

	h.platform.Fail("send:c1", nil)
	h.update(events.Login)
	if len(h.module.Tracked("eco/general")) != 1 {
		t.Error("failed target not retried on the next pass")
	}
}

func TestFailedDeleteKeepsMapping(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general")
	d.set("c1", text("7", "a"))
	h.update(events.Login)

	h.platform.Fail("delete", remote.ErrRateLimited)
	d.set("c1")
	h.update(events.Login)
	if len(h.module.Tracked("eco/general")) != 1 {
		t.Fatal("mapping dropped after failed delete")
	}

	h.platform.Fail("delete", nil)
	h.update(events.Login)
	if len(h.module.Tracked("eco/general")) != 0 {
		t.Error("mapping kept after successful delete")
	}
}

func TestPostDisplayCreatedFailureKeepsMessage(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	d.hookErr = remote.ErrForbidden
	h := start(t, d, "general")
	d.set("c1", text("7", "a"))
	h.update(events.Login)
	if len(h.module.Tracked("eco/general")) != 1 {
		t.Error("hook failure rolled back the post")
	}
}

func TestConcurrentUpdatesCreateOnce(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general", "elections")
	d.set("c1", text("7", "a"), text("8", "b"))
	d.set("c2", text("7", "a"))

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.update(events.Login)
		}()
	}
	wg.Wait()

	if got := len(h.platform.CallsTo("send")); got != 3 {
		t.Errorf("send calls: got %d, want 3", got)
	}
}

func TestUpdateIgnoresOtherTriggers(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general")
	d.set("c1", text("7", "a"))
	h.update(events.Trade)
	if len(h.platform.Calls()) != 0 {
		t.Errorf("calls on unrelated trigger: %+v", h.platform.Calls())
	}
}

func TestBusDeliversTriggers(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general")
	d.set("c1", text("7", "a"))

	if n := h.bus.Publish(events.Login, nil); n != 1 {
		t.Fatalf("Publish: got %d deliveries, want 1", n)
	}
	h.bus.Wait()
	if got := len(h.platform.CallsTo("send")); got != 1 {
		t.Errorf("send calls: got %d, want 1", got)
	}
}

func TestRehydrateEditsExistingMessages(t *testing.T) {
	t.Parallel()
	p := remotetest.New()
	reg := newRegistry(t, p, "general")
	store := newMemStore()
	bus := events.NewBus(context.Background(), zerolog.Nop())
	deps := Deps{Links: reg, Platform: p, Store: store, Log: zerolog.Nop()}

	d := newFakeDisplay()
	d.set("c1", text("7", "v1"))
	first := New(d, deps)
	first.StartIfRelevant(context.Background(), bus)
	first.Update(context.Background(), events.Login, nil)
	first.Stop()
	if len(first.Tracked("eco/general")) != 0 {
		t.Fatal("Stop kept tracked messages")
	}

	d.set("c1", text("7", "v2"))
	second := New(d, deps)
	second.StartIfRelevant(context.Background(), bus)
	defer second.Stop()
	second.Update(context.Background(), events.Login, nil)

	if got := len(p.CallsTo("send")); got != 1 {
		t.Errorf("send calls: got %d, want 1", got)
	}
	if got := len(p.CallsTo("edit")); got != 1 {
		t.Errorf("edit calls: got %d, want 1", got)
	}
}

func TestReactionsReachHandler(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, d, "general")
	d.set("c1", text("7", "a"))
	h.update(events.Login)
	id := h.module.Tracked("eco/general")[0].MessageID

	h.platform.Emit(remote.ReactionChanged{Reaction: remote.Reaction{
		User: remote.User{ID: "u1"}, ChannelID: "c1", MessageID: id, Emoji: "\u2705",
	}})
	h.platform.Emit(remote.ReactionChanged{Reaction: remote.Reaction{
		User: remote.User{ID: "bot"}, ChannelID: "c1", MessageID: id, Emoji: "\u2705",
	}})
	h.platform.Emit(remote.ReactionChanged{Reaction: remote.Reaction{
		User: remote.User{ID: "u1"}, ChannelID: "c1", MessageID: "untracked", Emoji: "\u2705",
	}})
	h.module.Stop()

	if len(d.reactions) != 1 {
		t.Fatalf("reactions handled: got %d, want 1", len(d.reactions))
	}
	if d.reactions[0].Emoji != "7:\u2705" || d.reactions[0].User.ID != "u1" {
		t.Errorf("reaction: got %+v", d.reactions[0])
	}
}

func TestStopReleasesEverything(t *testing.T) {
	t.Parallel()
	d := newFakeDisplay()
	h := start(t, timedDisplay{fakeDisplay: d, delay: time.Millisecond, period: 5 * time.Millisecond}, "general")
	d.set("c1", text("7", "a"))

	deadline := time.Now().Add(5 * time.Second)
	for len(h.platform.CallsTo("send")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timer never fired")
		}
		time.Sleep(time.Millisecond)
	}

	h.module.Stop()
	if h.module.State() != Stopped {
		t.Errorf("State: got %s, want stopped", h.module.State())
	}
	if h.bus.Len() != 0 {
		t.Errorf("bus subscriptions: got %d, want 0", h.bus.Len())
	}
	if h.platform.Len() != 0 {
		t.Errorf("platform subscriptions: got %d, want 0", h.platform.Len())
	}

	d.set("c1", text("7", "changed"))
	calls := len(h.platform.Calls())
	time.Sleep(30 * time.Millisecond)
	if got := len(h.platform.Calls()); got != calls {
		t.Errorf("calls after Stop: got %d, want %d", got, calls)
	}
	if h.platform.MessageCount() != 1 {
		t.Error("Stop deleted remote messages")
	}
}

func TestFeederRunsPerTarget(t *testing.T) {
	t.Parallel()
	f := &fakeFeed{fed: make(map[string]any), fails: "c1"}
	h := start(t, f, "general", "elections")
	h.module.Update(context.Background(), events.Trade, "sold")

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fed["c2"] != "sold" {
		t.Errorf("feed for c2: got %v", f.fed["c2"])
	}
	if _, ok := f.fed["c1"]; ok {
		t.Error("failing target recorded data")
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()
	a := Fingerprint(remote.OutgoingMessage{Text: "a"})
	if a != Fingerprint(remote.OutgoingMessage{Text: "a"}) {
		t.Error("Fingerprint not deterministic")
	}
	if a == Fingerprint(remote.OutgoingMessage{Text: "a", Embed: &remote.Embed{Title: "t"}}) {
		t.Error("Fingerprint ignores the embed")
	}
	if len(a) != 32 {
		t.Errorf("Fingerprint length: got %d, want 32", len(a))
	}
}
