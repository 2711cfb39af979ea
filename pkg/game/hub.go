// Copyright 2024-2026 Aiku AI

package game

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TokenHeader carries the shared secret the game plugin authenticates with.
const TokenHeader = "X-DiscordLink-Token"

const writeTimeout = 10 * time.Second

// Envelope is the frame format in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type hubConn struct {
	id      uint64
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// Hub accepts websocket connections from the game plugin, feeds the frames it
// receives into a World and acts as the World's Sink. Thread-safe.
type Hub struct {
	world    *World
	token    string
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu     sync.RWMutex
	nextID uint64
	conns  map[uint64]*hubConn

	// OnSnapshot is called after a snapshot frame has been loaded into the
	// world. Set it before serving.
	OnSnapshot func()
}

var _ Sink = (*Hub)(nil)

// NewHub creates a hub feeding world. An empty token disables authentication.
func NewHub(world *World, token string, log zerolog.Logger) *Hub {
	return &Hub{
		world: world,
		token: token,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		conns: make(map[uint64]*hubConn),
		log:   log.With().Str("component", "game_hub").Logger(),
	}
}

// RegisterWithRouter mounts the websocket endpoint at path.
func (h *Hub) RegisterWithRouter(router *mux.Router, path string) {
	router.HandleFunc(path, h.ServeHTTP)
}

// ConnectionCount returns the number of connected plugins.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" && r.Header.Get(TokenHeader) != h.token {
		h.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejecting game connection with bad token")
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}
	hc := h.add(conn)
	defer h.remove(hc)

	h.log.Info().Uint64("conn_id", hc.id).Str("remote_addr", r.RemoteAddr).Msg("Game plugin connected")

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn().Err(err).Uint64("conn_id", hc.id).Msg("Game connection closed unexpectedly")
			} else {
				h.log.Info().Uint64("conn_id", hc.id).Msg("Game plugin disconnected")
			}
			return
		}
		if err := h.handleEnvelope(env); err != nil {
			h.log.Warn().Err(err).Str("type", env.Type).Msg("Failed to handle game frame")
		}
	}
}

func (h *Hub) handleEnvelope(env Envelope) error {
	if env.Type == "snapshot" {
		var snap Snapshot
		if err := json.Unmarshal(env.Payload, &snap); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		h.world.LoadSnapshot(snap)
		if h.OnSnapshot != nil {
			h.OnSnapshot()
		}
		return nil
	}
	action := newAction(env.Type)
	if action == nil {
		h.log.Trace().Str("type", env.Type).Msg("Unhandled game frame type")
		return nil
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, action); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", env.Type, err)
		}
	}
	h.world.Apply(deref(action))
	return nil
}

func (h *Hub) add(conn *websocket.Conn) *hubConn {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	hc := &hubConn{id: h.nextID, conn: conn}
	h.conns[hc.id] = hc
	if len(h.conns) == 1 {
		h.world.SetSink(h)
	}
	return hc
}

func (h *Hub) remove(hc *hubConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = hc.conn.Close()
	delete(h.conns, hc.id)
	if len(h.conns) == 0 {
		h.world.SetSink(nil)
	}
}

// Send writes cmd to every connected plugin. It fails only when no
// connection accepted the frame.
func (h *Hub) Send(ctx context.Context, cmd Command) error {
	payload, err := json.Marshal(cmd.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", cmd.Type, err)
	}
	frame := Envelope{Type: cmd.Type, Payload: payload}

	h.mu.RLock()
	conns := make([]*hubConn, 0, len(h.conns))
	for _, hc := range h.conns {
		conns = append(conns, hc)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return ErrNotConnected
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	var errs []error
	for _, hc := range conns {
		hc.writeMu.Lock()
		_ = hc.conn.SetWriteDeadline(deadline)
		err := hc.conn.WriteJSON(frame)
		hc.writeMu.Unlock()
		if err != nil {
			errs = append(errs, fmt.Errorf("conn %d: %w", hc.id, err))
		}
	}
	if len(errs) == len(conns) {
		return fmt.Errorf("failed to send %s: %w", cmd.Type, errors.Join(errs...))
	}
	return nil
}
