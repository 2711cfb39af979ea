// Copyright 2024-2026 Aiku AI

// Package mattermost implements remote.Platform on top of the Mattermost
// REST API and WebSocket event stream.
package mattermost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/discordlink/pkg/remote"
)

// usersPerPage is the page size used when listing team members.
const usersPerPage = 200

// Config holds the Mattermost connection settings.
type Config struct {
	ServerURL           string
	Token               string
	DisplaynameTemplate string
}

// DisplaynameParams holds the parameters for rendering the displayname template.
type DisplaynameParams struct {
	Username  string
	Nickname  string
	FirstName string
	LastName  string
}

// Platform is a Mattermost bot session. Teams are exposed as guilds.
// Thread-safe.
type Platform struct {
	remote.Subscribers

	serverURL   string
	token       string
	displayname *template.Template
	connectWS   func() error
	log         zerolog.Logger

	mu       sync.RWMutex
	client   *model.Client4
	wsClient *model.WebSocketClient
	self     remote.User
	teams    []remote.Guild
	channels map[string]remote.Channel
	users    map[string]*model.User

	stopOnce sync.Once
	stopChan chan struct{}
}

var _ remote.Platform = (*Platform)(nil)

// New creates an unopened platform.
func New(cfg Config, log zerolog.Logger) (*Platform, error) {
	if cfg.ServerURL == "" || cfg.Token == "" {
		return nil, errors.New("mattermost server URL and token are required")
	}
	p := &Platform{
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		token:     cfg.Token,
		log:       log.With().Str("component", "mattermost").Logger(),
		channels:  make(map[string]remote.Channel),
		users:     make(map[string]*model.User),
		stopChan:  make(chan struct{}),
	}
	if cfg.DisplaynameTemplate != "" {
		tmpl, err := template.New("displayname").Parse(cfg.DisplaynameTemplate)
		if err != nil {
			return nil, fmt.Errorf("failed to parse displayname template: %w", err)
		}
		p.displayname = tmpl
	}
	p.connectWS = p.connectWebSocket
	return p, nil
}

func (p *Platform) Name() string { return "mattermost" }

// Open authenticates, loads the teams, channels and members the bot can see
// and starts listening for events.
func (p *Platform) Open(ctx context.Context) error {
	client := model.NewAPIv4Client(p.serverURL)
	client.SetToken(p.token)

	me, resp, err := client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost session: %w", classify(resp, err))
	}
	p.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	p.mu.Lock()
	p.client = client
	p.self = remote.User{ID: me.Id, Name: me.Username, Bot: me.IsBot}
	p.mu.Unlock()

	if err := p.Refresh(ctx); err != nil {
		return err
	}
	if err := p.connectWS(); err != nil {
		return fmt.Errorf("failed to connect websocket: %w", err)
	}
	p.Emit(remote.Connected{})
	return nil
}

// Refresh reloads the team, channel and member caches used by the resolver.
func (p *Platform) Refresh(ctx context.Context) error {
	client, self := p.session()
	if client == nil {
		return remote.ErrNotConnected
	}
	mmTeams, resp, err := client.GetTeamsForUser(ctx, self.ID, "")
	if err != nil {
		return fmt.Errorf("failed to get teams: %w", classify(resp, err))
	}

	teams := make([]remote.Guild, 0, len(mmTeams))
	channels := make(map[string]remote.Channel)
	users := make(map[string]*model.User)
	for _, team := range mmTeams {
		teams = append(teams, remote.Guild{ID: team.Id, Name: team.DisplayName})
		chs, resp, err := client.GetChannelsForTeamForUser(ctx, team.Id, self.ID, false, "")
		if err != nil {
			return fmt.Errorf("failed to get channels of team %s: %w", team.Name, classify(resp, err))
		}
		for _, ch := range chs {
			if ch.Type != model.ChannelTypeOpen && ch.Type != model.ChannelTypePrivate {
				continue
			}
			channels[ch.Id] = remote.Channel{ID: ch.Id, GuildID: team.Id, Name: ch.Name}
		}
		for page := 0; ; page++ {
			members, resp, err := client.GetUsersInTeam(ctx, team.Id, page, usersPerPage, "")
			if err != nil {
				return fmt.Errorf("failed to get members of team %s: %w", team.Name, classify(resp, err))
			}
			for _, u := range members {
				users[u.Id] = u
			}
			if len(members) < usersPerPage {
				break
			}
		}
	}

	p.mu.Lock()
	p.teams = teams
	p.channels = channels
	p.users = users
	p.mu.Unlock()
	p.log.Debug().Int("teams", len(teams)).Int("channels", len(channels)).Int("users", len(users)).Msg("Refreshed caches")
	return nil
}

func (p *Platform) session() (*model.Client4, remote.User) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client, p.self
}

func (p *Platform) connectWebSocket() error {
	client, _ := p.session()
	wsURL := httpToWS(p.serverURL)
	ws, err := model.NewWebSocketClient4(wsURL, client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	ws.Listen()

	p.mu.Lock()
	p.wsClient = ws
	p.mu.Unlock()
	go p.listenWebSocket(ws)

	p.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

func (p *Platform) listenWebSocket(ws *model.WebSocketClient) {
	for {
		select {
		case <-p.stopChan:
			return
		case event, ok := <-ws.EventChannel:
			if !ok {
				p.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				p.handleWebSocketDisconnect()
				return
			}
			if event == nil {
				continue
			}
			p.handleEvent(event)
		}
	}
}

func (p *Platform) handleWebSocketDisconnect() {
	select {
	case <-p.stopChan:
		return
	default:
	}
	if err := p.connectWS(); err != nil {
		p.log.Error().Err(err).Msg("Failed to reconnect WebSocket")
		return
	}
	p.Emit(remote.Connected{})
}

// Close stops the event loop and closes the WebSocket connection.
func (p *Platform) Close() error {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wsClient != nil {
		p.wsClient.Close()
		p.wsClient = nil
	}
	p.client = nil
	return nil
}

func (p *Platform) Self() remote.User {
	_, self := p.session()
	return self
}

func (p *Platform) Guilds() []remote.Guild {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]remote.Guild(nil), p.teams...)
}

func (p *Platform) GuildChannels(guildID string) []remote.Channel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []remote.Channel
	for _, ch := range p.channels {
		if ch.GuildID == guildID {
			out = append(out, ch)
		}
	}
	return out
}

func (p *Platform) GuildByNameOrID(ref string) (remote.Guild, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, g := range p.teams {
		if g.ID == ref || strings.EqualFold(g.Name, ref) {
			return g, true
		}
	}
	return remote.Guild{}, false
}

func (p *Platform) ChannelByNameOrID(guildID, ref string) (remote.Channel, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ch, ok := p.channels[ref]; ok && ch.GuildID == guildID {
		return ch, true
	}
	name := strings.TrimPrefix(ref, "#")
	for _, ch := range p.channels {
		if ch.GuildID == guildID && strings.EqualFold(ch.Name, name) {
			return ch, true
		}
	}
	return remote.Channel{}, false
}

func (p *Platform) MemberByName(_, name string) (remote.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, u := range p.users {
		if strings.EqualFold(u.Username, name) || (u.Nickname != "" && strings.EqualFold(u.Nickname, name)) {
			return p.toUser(u), true
		}
	}
	return remote.User{}, false
}

// RoleByName always fails; Mattermost has no mentionable roles.
func (p *Platform) RoleByName(_, _ string) (remote.Role, bool) {
	return remote.Role{}, false
}

func (p *Platform) UserByID(_, id string) (remote.User, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.users[id]
	if !ok {
		return remote.User{}, false
	}
	return p.toUser(u), true
}

func (p *Platform) RoleByID(_, _ string) (remote.Role, bool) {
	return remote.Role{}, false
}

func (p *Platform) ChannelByID(id string) (remote.Channel, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ch, ok := p.channels[id]
	return ch, ok
}

// toUser converts a cached user. Callers hold p.mu.
func (p *Platform) toUser(u *model.User) remote.User {
	return remote.User{
		ID:  u.Id,
		Bot: u.IsBot,
		Name: p.FormatDisplayname(DisplaynameParams{
			Username:  u.Username,
			Nickname:  u.Nickname,
			FirstName: u.FirstName,
			LastName:  u.LastName,
		}),
	}
}

// FormatDisplayname renders the displayname template, falling back to the
// username.
func (p *Platform) FormatDisplayname(params DisplaynameParams) string {
	if p.displayname == nil {
		return params.Username
	}
	var sb strings.Builder
	if err := p.displayname.Execute(&sb, params); err != nil || strings.TrimSpace(sb.String()) == "" {
		return params.Username
	}
	return sb.String()
}

func (p *Platform) SendMessage(ctx context.Context, channelID string, msg remote.OutgoingMessage) (remote.Message, error) {
	client, self := p.session()
	if client == nil {
		return remote.Message{}, remote.ErrNotConnected
	}
	post := &model.Post{ChannelId: channelID, Message: postText(msg)}
	if msg.Embed != nil {
		post.AddProp("attachments", []*model.SlackAttachment{toAttachment(msg.Embed)})
	}
	created, resp, err := client.CreatePost(ctx, post)
	if err != nil {
		return remote.Message{}, fmt.Errorf("failed to create post: %w", classify(resp, err))
	}
	return remote.Message{
		ID:        created.Id,
		ChannelID: created.ChannelId,
		Author:    self,
		Text:      created.Message,
		Timestamp: time.UnixMilli(created.CreateAt),
	}, nil
}

func (p *Platform) EditMessage(ctx context.Context, _, messageID string, msg remote.OutgoingMessage) error {
	client, _ := p.session()
	if client == nil {
		return remote.ErrNotConnected
	}
	text := postText(msg)
	props := model.StringInterface{}
	if msg.Embed != nil {
		props["attachments"] = []*model.SlackAttachment{toAttachment(msg.Embed)}
	}
	_, resp, err := client.PatchPost(ctx, messageID, &model.PostPatch{Message: &text, Props: &props})
	if err != nil {
		return fmt.Errorf("failed to edit post: %w", classify(resp, err))
	}
	return nil
}

func (p *Platform) DeleteMessage(ctx context.Context, _, messageID string) error {
	client, _ := p.session()
	if client == nil {
		return remote.ErrNotConnected
	}
	resp, err := client.DeletePost(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete post: %w", classify(resp, err))
	}
	return nil
}

func (p *Platform) AddReaction(ctx context.Context, _, messageID, emoji string) error {
	client, self := p.session()
	if client == nil {
		return remote.ErrNotConnected
	}
	_, resp, err := client.SaveReaction(ctx, &model.Reaction{
		UserId:    self.ID,
		PostId:    messageID,
		EmojiName: emojiToReaction(emoji),
	})
	if err != nil {
		return fmt.Errorf("failed to save reaction: %w", classify(resp, err))
	}
	return nil
}

// ClearReactions removes every reaction on a post. Removing reactions of
// other users needs the manage_others_posts permission.
func (p *Platform) ClearReactions(ctx context.Context, _, messageID string) error {
	client, _ := p.session()
	if client == nil {
		return remote.ErrNotConnected
	}
	reactions, resp, err := client.GetReactions(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to get reactions: %w", classify(resp, err))
	}
	for _, r := range reactions {
		resp, err := client.DeleteReaction(ctx, r)
		if err != nil {
			return fmt.Errorf("failed to remove reaction: %w", classify(resp, err))
		}
	}
	return nil
}

// CanAddReactions reports whether the bot can see the channel. Mattermost
// lets every channel member react.
func (p *Platform) CanAddReactions(channelID string) bool {
	_, ok := p.ChannelByID(channelID)
	return ok
}

// postText renders the plain text part of a message. Without the global
// mention permission, channel-wide mentions are neutralized.
func postText(msg remote.OutgoingMessage) string {
	text := msg.Text
	if !msg.Mentions.Everyone {
		for _, m := range []string{"@all", "@channel", "@here"} {
			text = strings.ReplaceAll(text, m, "@\u200b"+m[1:])
		}
	}
	return text
}

func toAttachment(e *remote.Embed) *model.SlackAttachment {
	att := &model.SlackAttachment{
		Fallback:  e.Title,
		Title:     e.Title,
		TitleLink: e.URL,
		Text:      e.Description,
		ThumbURL:  e.Thumbnail,
		Footer:    e.Footer,
	}
	if e.Color != 0 {
		att.Color = fmt.Sprintf("#%06X", e.Color)
	}
	for _, f := range e.Fields {
		att.Fields = append(att.Fields, &model.SlackAttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: model.SlackCompatibleBool(f.Inline),
		})
	}
	return att
}

// classify maps an API failure onto the remote error sentinels.
func classify(resp *model.Response, err error) error {
	if resp == nil {
		return err
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w", remote.ErrNotFound, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", remote.ErrForbidden, err)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", remote.ErrRateLimited, err)
	default:
		return err
	}
}
