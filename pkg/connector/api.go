// Copyright 2024-2026 Aiku AI

package connector

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/aiku/discordlink/pkg/game"
	"github.com/aiku/discordlink/pkg/store"
)

// maxRequestBodySize is the maximum allowed admin API request body (1 MB).
const maxRequestBodySize = 1 << 20

// SendRequest is the body of POST /api/send. User is optional; when set the
// text is formatted as that game user's chat line.
type SendRequest struct {
	Text    string `json:"text"`
	Channel string `json:"channel"`
	Guild   string `json:"guild"`
	User    string `json:"user,omitempty"`
}

// LinkUserRequest is the body of POST /api/link-user.
type LinkUserRequest struct {
	RemoteID string `json:"remote_id"`
	GameUser string `json:"game_user"`
}

// TrackTradesRequest is the body of POST /api/tracked-trades.
type TrackTradesRequest struct {
	Name string `json:"name"`
}

// Handler returns the admin API router. It also serves metrics and, when a
// hub is configured, the game plugin socket.
func (c *Connector) Handler() http.Handler {
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.Use(c.requireAdmin)
	api.HandleFunc("/status", c.HandleStatus).Methods(http.MethodGet)
	api.HandleFunc("/restart", c.HandleRestart).Methods(http.MethodPost)
	api.HandleFunc("/send", c.HandleSend).Methods(http.MethodPost)
	api.HandleFunc("/reload-links", c.HandleReloadLinks).Methods(http.MethodPost)
	api.HandleFunc("/link-user", c.HandleLinkUser).Methods(http.MethodPost)
	api.HandleFunc("/link-user/{remote_id}", c.HandleUnlinkUser).Methods(http.MethodDelete)
	api.HandleFunc("/linked-users", c.HandleLinkedUsers).Methods(http.MethodGet)
	api.HandleFunc("/guilds", c.HandleListGuilds).Methods(http.MethodGet)
	api.HandleFunc("/guilds/{guild}/channels", c.HandleListChannels).Methods(http.MethodGet)
	api.HandleFunc("/tracked-trades", c.HandleTrackedTrades).Methods(http.MethodGet)
	api.HandleFunc("/tracked-trades", c.HandleTrackTrades).Methods(http.MethodPost)
	api.HandleFunc("/tracked-trades/{name}", c.HandleUntrackTrades).Methods(http.MethodDelete)
	if c.metrics != nil {
		router.Handle("/metrics", c.metrics.Handler()).Methods(http.MethodGet)
	}
	if c.hub != nil {
		c.hub.RegisterWithRouter(router, "/ws/game")
	}
	return router
}

// requireAdmin rejects /api requests without the configured bearer token.
// Without a token only loopback clients are let through.
func (c *Connector) requireAdmin(next http.Handler) http.Handler {
	token := c.cfg.AdminAPIToken
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			if !isLoopback(r.RemoteAddr) {
				c.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejecting admin request from remote client without a configured token")
				http.Error(w, "admin API token not configured", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.log.Warn().Str("remote_addr", r.RemoteAddr).Str("path", r.URL.Path).Msg("Rejecting admin request with bad token")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// HandleStatus is an HTTP handler for GET /api/status.
func (c *Connector) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	c.writeJSON(w, http.StatusOK, c.Report())
}

// HandleRestart is an HTTP handler for POST /api/restart.
func (c *Connector) HandleRestart(w http.ResponseWriter, r *http.Request) {
	c.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Client restart requested")
	ok := c.RestartClient(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	c.writeJSON(w, status, map[string]any{
		"restarted": ok,
		"status":    c.GetStatus(),
	})
}

// HandleSend is an HTTP handler for POST /api/send.
func (c *Connector) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" || req.Channel == "" || req.Guild == "" {
		http.Error(w, "text, channel and guild are required", http.StatusBadRequest)
		return
	}

	var result string
	if req.User != "" {
		user, ok := c.server.UserByName(req.User)
		if !ok {
			user = game.User{Name: req.User}
		}
		result = c.SendMessageAsUser(r.Context(), req.Text, user, req.Channel, req.Guild)
	} else {
		result = c.SendMessage(r.Context(), req.Text, req.Channel, req.Guild)
	}
	status := http.StatusOK
	if result != ResultMessageSent {
		status = http.StatusUnprocessableEntity
	}
	c.writeJSON(w, status, map[string]string{"status": result})
}

// HandleReloadLinks is an HTTP handler for POST /api/reload-links.
func (c *Connector) HandleReloadLinks(w http.ResponseWriter, r *http.Request) {
	c.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Link reload requested")
	report, err := c.ReloadLinks(r.Context())
	if err != nil {
		c.log.Error().Err(err).Msg("Link reload failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	c.writeJSON(w, http.StatusOK, report)
}

// HandleLinkUser is an HTTP handler for POST /api/link-user.
func (c *Connector) HandleLinkUser(w http.ResponseWriter, r *http.Request) {
	var req LinkUserRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.RemoteID) == "" || strings.TrimSpace(req.GameUser) == "" {
		http.Error(w, "remote_id and game_user are required", http.StatusBadRequest)
		return
	}
	if err := c.LinkUser(r.Context(), req.RemoteID, req.GameUser); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoStore) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUnlinkUser is an HTTP handler for DELETE /api/link-user/{remote_id}.
func (c *Connector) HandleUnlinkUser(w http.ResponseWriter, r *http.Request) {
	err := c.UnlinkUser(r.Context(), mux.Vars(r)["remote_id"])
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "remote account is not linked", http.StatusNotFound)
	case errors.Is(err, ErrNoStore):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleLinkedUsers is an HTTP handler for GET /api/linked-users.
func (c *Connector) HandleLinkedUsers(w http.ResponseWriter, r *http.Request) {
	users, err := c.LinkedUsers(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoStore) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}
	c.writeJSON(w, http.StatusOK, users)
}

// HandleListGuilds is an HTTP handler for GET /api/guilds.
func (c *Connector) HandleListGuilds(w http.ResponseWriter, _ *http.Request) {
	guilds, err := c.ListGuilds()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	c.writeJSON(w, http.StatusOK, guilds)
}

// HandleListChannels is an HTTP handler for GET /api/guilds/{guild}/channels.
func (c *Connector) HandleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := c.ListChannels(mux.Vars(r)["guild"])
	switch {
	case err == nil:
		c.writeJSON(w, http.StatusOK, channels)
	case errors.Is(err, ErrUnknownGuild):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	}
}

// HandleTrackedTrades is an HTTP handler for GET /api/tracked-trades.
func (c *Connector) HandleTrackedTrades(w http.ResponseWriter, _ *http.Request) {
	c.writeJSON(w, http.StatusOK, c.TrackedTrades())
}

// HandleTrackTrades is an HTTP handler for POST /api/tracked-trades. It
// answers 201 for a new board and 200 when the name was already tracked.
func (c *Connector) HandleTrackTrades(w http.ResponseWriter, r *http.Request) {
	var req TrackTradesRequest
	if !c.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	added, err := c.TrackTrades(r.Context(), req.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	c.writeJSON(w, status, map[string]any{"name": strings.TrimSpace(req.Name), "added": added})
}

// HandleUntrackTrades is an HTTP handler for DELETE /api/tracked-trades/{name}.
func (c *Connector) HandleUntrackTrades(w http.ResponseWriter, r *http.Request) {
	err := c.UntrackTrades(r.Context(), mux.Vars(r)["name"])
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ErrNotTracked):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// decodeBody reads a size-limited JSON body into v. It writes the error
// response and returns false on failure.
func (c *Connector) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func (c *Connector) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		c.log.Warn().Err(err).Msg("Failed to write API response")
	}
}
