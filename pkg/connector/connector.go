// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/config"
	"github.com/aiku/discordlink/pkg/display"
	"github.com/aiku/discordlink/pkg/events"
	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/link"
	"github.com/aiku/discordlink/pkg/metrics"
	"github.com/aiku/discordlink/pkg/modules"
	"github.com/aiku/discordlink/pkg/reaction"
	"github.com/aiku/discordlink/pkg/relay"
	"github.com/aiku/discordlink/pkg/remote"
	"github.com/aiku/discordlink/pkg/store"
)

// Connection statuses reported by GetStatus.
const (
	StatusNotAttempted = "No Connection Attempt Made"
	StatusSettingUp    = "Setting up client"
	StatusConnecting   = "Attempting connection..."
	StatusConnected    = "Connection successful"
	StatusFailed       = "Connection failed"
)

// PlatformFactory builds a fresh, unopened remote platform client.
type PlatformFactory func() (remote.Platform, error)

// Store is the persistence the connector hands to modules and the user
// linking commands.
type Store interface {
	display.Store
	reaction.UserLinks
	LinkUser(ctx context.Context, remoteID, gameUser string) error
	UnlinkUser(ctx context.Context, remoteID string) error
	LinkedUsers(ctx context.Context) ([]store.LinkedUser, error)
	TrackTrades(ctx context.Context, term string) (bool, error)
	UntrackTrades(ctx context.Context, term string) error
	TrackedTrades(ctx context.Context) ([]string, error)
}

// Options are the collaborators of a Connector.
type Options struct {
	Config      *config.Config
	Server      game.Server
	NewPlatform PlatformFactory
	// Store may be nil, in which case display messages are not persisted
	// and reaction votes never resolve an identity.
	Store   Store
	Hub     *game.Hub
	Metrics *metrics.Metrics
	// Reload re-reads the configuration for ReloadLinks. When nil the links
	// of Config are re-applied.
	Reload func() (*config.Config, error)
	Log    zerolog.Logger
}

// session is everything that lives for one platform connection.
type session struct {
	platform remote.Platform
	bus      *events.Bus
	modules  []*display.Module
	unsub    func()
	cancel   context.CancelFunc
	// done is closed when the session loop exits. Nil until it starts.
	done chan struct{}
}

// Connector owns the process-wide relay state: the link registry, the echo
// window, the platform session and the modules running against it.
// Thread-safe.
type Connector struct {
	cfg         *config.Config
	server      game.Server
	newPlatform PlatformFactory
	store       Store
	hub         *game.Hub
	metrics     *metrics.Metrics
	reload      func() (*config.Config, error)
	log         zerolog.Logger

	links     *link.Registry
	echo      *relay.EchoWindow
	watchlist *modules.TradeWatchlist

	// lifecycle serializes Start, Stop and RestartClient.
	lifecycle sync.Mutex
	baseCtx   context.Context
	started   bool
	unsubGame func()
	apiServer *http.Server

	mu      sync.RWMutex
	status  string
	session *session
}

// New creates a stopped connector and loads the configured links.
func New(opts Options) (*Connector, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("config is required")
	case opts.Server == nil:
		return nil, errors.New("game server is required")
	case opts.NewPlatform == nil:
		return nil, errors.New("platform factory is required")
	}
	log := opts.Log.With().Str("component", "connector").Logger()
	c := &Connector{
		cfg:         opts.Config,
		server:      opts.Server,
		newPlatform: opts.NewPlatform,
		store:       opts.Store,
		hub:         opts.Hub,
		metrics:     opts.Metrics,
		reload:      opts.Reload,
		log:         log,
		links:       link.NewRegistry(opts.Log),
		echo:        relay.NewEchoWindow(opts.Config.Relay.EchoTTL),
		watchlist:   modules.NewTradeWatchlist(),
		status:      StatusNotAttempted,
	}
	if c.hub != nil {
		c.hub.OnSnapshot = c.handleSnapshot
	}
	accepted := c.links.Replace(opts.Config.Links.Groups())
	log.Info().Int("links", accepted).Msg("Loaded channel links")
	return c, nil
}

// Links returns the link registry.
func (c *Connector) Links() *link.Registry {
	return c.links
}

// Start subscribes to the game, connects the remote platform and starts the
// admin API when an address is configured. A failed connection is reported
// through GetStatus and can be retried with RestartClient.
func (c *Connector) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.started {
		return errors.New("connector already started")
	}
	c.started = true
	c.baseCtx = ctx
	c.loadWatchlist(ctx)
	c.unsubGame = c.server.Subscribe(c.handleGameAction)

	if addr := c.cfg.AdminAPIAddr; addr != "" {
		c.apiServer = &http.Server{
			Addr:         addr,
			Handler:      c.Handler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func(server *http.Server) {
			c.log.Info().Str("addr", addr).Bool("token", c.cfg.AdminAPIToken != "").Msg("Starting admin API")
			if c.cfg.AdminAPIToken == "" {
				c.log.Warn().Msg("No admin API token configured, only loopback clients can use /api")
			}
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.log.Error().Err(err).Msg("Admin API error")
			}
		}(c.apiServer)
	}

	c.connect(ctx)
	return nil
}

// Stop disconnects the platform, stops every module and shuts the admin API
// down. Remote display messages are left in place.
func (c *Connector) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if !c.started {
		return
	}
	c.started = false
	if c.unsubGame != nil {
		c.unsubGame()
		c.unsubGame = nil
	}
	c.disconnect()
	if c.apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.apiServer.Shutdown(shutdownCtx); err != nil {
			c.log.Warn().Err(err).Msg("Failed to shut down admin API")
		}
		c.apiServer = nil
	}
}

// RestartClient tears the platform session down and connects a new one.
// It reports whether the new connection succeeded.
func (c *Connector) RestartClient(ctx context.Context) bool {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.log.Info().Msg("Restarting client")
	c.disconnect()
	return c.connect(ctx)
}

// GetStatus returns the connection status line.
func (c *Connector) GetStatus() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Connector) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}

func (c *Connector) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// connect builds and opens a platform and arms the session loop. Must be
// called with lifecycle held.
func (c *Connector) connect(ctx context.Context) bool {
	c.setStatus(StatusSettingUp)
	platform, err := c.newPlatform()
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to set up client")
		c.setStatus(StatusFailed)
		return false
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(c.baseContext(ctx)))
	s := &session{
		platform: platform,
		bus:      events.NewBus(sessionCtx, c.log),
		cancel:   cancel,
	}
	s.modules = c.buildModules(platform)
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	s.unsub = platform.Subscribe(c.handlePlatformEvent)

	c.setStatus(StatusConnecting)
	if err := platform.Open(ctx); err != nil {
		c.log.Error().Err(err).Str("platform", platform.Name()).Msg("Failed to connect")
		c.setStatus(StatusFailed)
		c.teardown(s)
		return false
	}
	c.log.Info().Str("platform", platform.Name()).Msg("Connected")
	c.setStatus(StatusConnected)

	s.bus.Publish(events.ClientStarted, nil)
	c.sweep(sessionCtx, s)
	s.done = make(chan struct{})
	go c.run(sessionCtx, s)
	return true
}

func (c *Connector) baseContext(ctx context.Context) context.Context {
	if c.baseCtx != nil {
		return c.baseCtx
	}
	return ctx
}

// disconnect tears the current session down. Must be called with lifecycle
// held.
func (c *Connector) disconnect() {
	s := c.current()
	if s == nil {
		return
	}
	c.teardown(s)
	if err := s.platform.Close(); err != nil {
		c.log.Warn().Err(err).Msg("Failed to close client")
	}
}

func (c *Connector) teardown(s *session) {
	s.cancel()
	if s.unsub != nil {
		s.unsub()
	}
	if s.done != nil {
		<-s.done
	}
	for _, m := range s.modules {
		m.Stop()
	}
	s.bus.Close()
	c.metrics.SetRunningModules(0)

	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
}

// run delays the first display pass until the platform has had time to
// deliver its initial state, then re-verifies links periodically.
func (c *Connector) run(ctx context.Context, s *session) {
	defer close(s.done)
	first := time.NewTimer(c.cfg.Relay.FirstDisplayDelay)
	defer first.Stop()
	interval := c.cfg.Relay.VerifyInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-first.C:
			c.sweep(ctx, s)
			s.bus.Publish(events.Startup, nil)
		case <-ticker.C:
			c.sweep(ctx, s)
		}
	}
}

// sweep refreshes the platform caches, re-verifies every link and starts
// the modules that have verified targets.
func (c *Connector) sweep(ctx context.Context, s *session) {
	if r, ok := s.platform.(interface{ Refresh(context.Context) error }); ok {
		if err := r.Refresh(ctx); err != nil {
			c.log.Warn().Err(err).Msg("Failed to refresh platform caches")
		}
	}
	verified, failed := c.links.Verify(s.platform)
	c.metrics.SetVerifiedLinks(verified)

	running := 0
	for _, m := range s.modules {
		if m.StartIfRelevant(ctx, s.bus) {
			running++
		}
	}
	c.metrics.SetRunningModules(running)
	c.log.Debug().
		Int("verified", verified).
		Int("failed", failed).
		Int("running_modules", running).
		Msg("Verified channel links")
}

func (c *Connector) buildModules(platform remote.Platform) []*display.Module {
	var identities reaction.Identities = noIdentities{}
	var store display.Store
	if c.store != nil {
		identities = reaction.LinkedIdentities{Links: c.store, Server: c.server}
		store = c.store
	}
	env := &modules.Env{
		Server:        c.server,
		Platform:      platform,
		Reducer:       reaction.NewReducer(c.server, platform, identities, c.metrics, c.log),
		Echo:          c.echo,
		Metrics:       c.metrics,
		Log:           c.log,
		RelayName:     c.cfg.Relay.Name,
		EchoMarker:    c.cfg.Relay.EchoMarker,
		CommandPrefix: c.cfg.Relay.CommandPrefix,
		Watchlist:     c.watchlist,
	}
	deps := display.Deps{
		Links:    c.links,
		Platform: platform,
		Store:    store,
		Metrics:  c.metrics,
		Log:      c.log,
	}
	behaviors := modules.All(env)
	out := make([]*display.Module, 0, len(behaviors))
	for _, b := range behaviors {
		out = append(out, display.New(b, deps))
	}
	return out
}

type noIdentities struct{}

func (noIdentities) GameUser(context.Context, remote.User) (game.User, bool) {
	return game.User{}, false
}

// LinkReport summarizes a link reload.
type LinkReport struct {
	Accepted int `json:"accepted"`
	Verified int `json:"verified"`
	Invalid  int `json:"invalid"`
}

// ReloadLinks replaces the link set with the current configuration,
// re-verifies it and starts modules that became relevant.
func (c *Connector) ReloadLinks(ctx context.Context) (LinkReport, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	cfg := c.cfg
	if c.reload != nil {
		reloaded, err := c.reload()
		if err != nil {
			return LinkReport{}, fmt.Errorf("failed to reload config: %w", err)
		}
		cfg = reloaded
	}
	report := LinkReport{Accepted: c.links.Replace(cfg.Links.Groups())}
	if s := c.current(); s != nil {
		c.sweep(ctx, s)
	}
	for _, st := range c.links.Statuses() {
		if errors.Is(st.Err, link.ErrInvalid) {
			report.Invalid++
		}
	}
	report.Verified = c.links.VerifiedCount()
	c.log.Info().
		Int("accepted", report.Accepted).
		Int("verified", report.Verified).
		Int("invalid", report.Invalid).
		Msg("Reloaded channel links")
	return report, nil
}

// ModuleStatus is the state of one module.
type ModuleStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// StatusReport is the full bridge status.
type StatusReport struct {
	Connection    string         `json:"connection"`
	Platform      string         `json:"platform,omitempty"`
	GameConnected bool           `json:"game_connected"`
	GamePlugins   int            `json:"game_plugins"`
	Modules       []ModuleStatus `json:"modules"`
	Links         []string       `json:"links"`
}

// Report collects the status of the connection, modules and links.
func (c *Connector) Report() StatusReport {
	report := StatusReport{
		Connection: c.GetStatus(),
		Modules:    []ModuleStatus{},
		Links:      []string{},
	}
	if w, ok := c.server.(interface{ Connected() bool }); ok {
		report.GameConnected = w.Connected()
	}
	if c.hub != nil {
		report.GamePlugins = c.hub.ConnectionCount()
	}
	if s := c.current(); s != nil {
		report.Platform = s.platform.Name()
		for _, m := range s.modules {
			report.Modules = append(report.Modules, ModuleStatus{Name: m.Name(), State: m.State().String()})
		}
	}
	for _, st := range c.links.Statuses() {
		report.Links = append(report.Links, st.Describe())
	}
	return report
}
