// Copyright 2024-2026 Aiku AI

// Package link describes the configured pairings between remote channels and
// game channels or displays.
package link

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aiku/discordlink/pkg/remote"
)

var (
	// ErrInvalid marks a link whose fields fail validation.
	ErrInvalid = errors.New("invalid channel link")
	// ErrUnverified marks a valid link that does not resolve on the remote platform.
	ErrUnverified = errors.New("unverified channel link")
)

// Variant is the closed set of link kinds.
type Variant int

const (
	Text Variant = iota
	Chat
	PlayerList
	ServerInfo
	Voice
)

type capabilities struct {
	name string
	// voice links point at voice channels and keep their name as typed.
	voice bool
	// requiresGameChannel links relay chat and need a game-side channel.
	requiresGameChannel bool
	// normalizeRemote lowercases remote channel names and replaces spaces.
	normalizeRemote bool
}

var capabilityTable = [...]capabilities{
	Text:       {name: "text", normalizeRemote: true},
	Chat:       {name: "chat", requiresGameChannel: true, normalizeRemote: true},
	PlayerList: {name: "player_list", normalizeRemote: true},
	ServerInfo: {name: "server_info", normalizeRemote: true},
	Voice:      {name: "voice", voice: true},
}

func (v Variant) caps() capabilities {
	if v < 0 || int(v) >= len(capabilityTable) {
		return capabilities{name: "unknown"}
	}
	return capabilityTable[v]
}

func (v Variant) String() string {
	return v.caps().name
}

// IsVoice reports whether the variant targets a voice channel.
func (v Variant) IsVoice() bool {
	return v.caps().voice
}

// Direction controls which way a chat link relays messages.
type Direction int

const (
	Duplex Direction = iota
	RemoteToGame
	GameToRemote
)

var directionNames = map[Direction]string{
	Duplex:       "duplex",
	RemoteToGame: "remote_to_game",
	GameToRemote: "game_to_remote",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return "direction(" + strconv.Itoa(int(d)) + ")"
}

func (d *Direction) UnmarshalText(text []byte) error {
	for k, v := range directionNames {
		if strings.EqualFold(v, string(text)) {
			*d = k
			return nil
		}
	}
	return fmt.Errorf("unknown sync direction %q", text)
}

// GlobalMentions controls who may trigger @everyone/@here through the bridge.
type GlobalMentions int

const (
	GlobalForbidden GlobalMentions = iota
	GlobalAdminOnly
	GlobalAnyUser
)

var globalMentionNames = map[GlobalMentions]string{
	GlobalForbidden: "forbidden",
	GlobalAdminOnly: "admin",
	GlobalAnyUser:   "any_user",
}

func (g GlobalMentions) String() string {
	if name, ok := globalMentionNames[g]; ok {
		return name
	}
	return "global_mentions(" + strconv.Itoa(int(g)) + ")"
}

func (g *GlobalMentions) UnmarshalText(text []byte) error {
	for k, v := range globalMentionNames {
		if strings.EqualFold(v, string(text)) {
			*g = k
			return nil
		}
	}
	return fmt.Errorf("unknown global mention permission %q", text)
}

// Permits reports whether a sender with the given admin flag may use global
// mentions under this permission.
func (g GlobalMentions) Permits(senderIsAdmin bool) bool {
	switch g {
	case GlobalAnyUser:
		return true
	case GlobalAdminOnly:
		return senderIsAdmin
	default:
		return false
	}
}

// ChatOptions configures a Chat link.
type ChatOptions struct {
	AllowUserMentions    bool           `yaml:"allow_user_mentions"`
	AllowRoleMentions    bool           `yaml:"allow_role_mentions"`
	AllowChannelMentions bool           `yaml:"allow_channel_mentions"`
	Direction            Direction      `yaml:"direction"`
	GlobalMentions       GlobalMentions `yaml:"global_mentions"`
}

// PlayerListOptions configures a PlayerList link.
type PlayerListOptions struct {
	UsePlayerCount  bool `yaml:"use_player_count"`
	UseLoggedInTime bool `yaml:"use_logged_in_time"`
}

// ServerInfoOptions selects the sections of a ServerInfo display.
type ServerInfoOptions struct {
	Name             bool `yaml:"name"`
	Description      bool `yaml:"description"`
	ConnectionInfo   bool `yaml:"connection_info"`
	PlayerCount      bool `yaml:"player_count"`
	PlayerList       bool `yaml:"player_list"`
	PlayerListLogin  bool `yaml:"player_list_logged_in_time"`
	CurrentTime      bool `yaml:"current_time"`
	TimeRemaining    bool `yaml:"time_remaining"`
	MeteorHasHit     bool `yaml:"meteor_has_hit"`
	ElectionCount    bool `yaml:"election_count"`
	ElectionList     bool `yaml:"election_list"`
	LawCount         bool `yaml:"law_count"`
	LawList          bool `yaml:"law_list"`
}

// Link is one configured pairing. Which option block applies depends on the
// Variant, which is set by the configuration group the link was read from.
type Link struct {
	Variant     Variant `yaml:"-"`
	Guild       string  `yaml:"guild"`
	Channel     string  `yaml:"channel"`
	GameChannel string  `yaml:"game_channel"`
	// Voice switches a display link to the Voice variant.
	Voice bool `yaml:"voice"`

	ChatOptions       `yaml:",inline"`
	PlayerListOptions `yaml:",inline"`
	Display           ServerInfoOptions `yaml:"display"`
}

// Default returns a link with the defaults applied to omitted YAML keys.
func Default(v Variant) Link {
	return Link{
		Variant: v,
		ChatOptions: ChatOptions{
			AllowUserMentions:    true,
			AllowRoleMentions:    true,
			AllowChannelMentions: true,
			Direction:            Duplex,
			GlobalMentions:       GlobalForbidden,
		},
		PlayerListOptions: PlayerListOptions{
			UsePlayerCount: true,
		},
		Display: ServerInfoOptions{
			Name:           true,
			Description:    true,
			ConnectionInfo: true,
			PlayerCount:    true,
			ElectionCount:  true,
			LawCount:       true,
		},
	}
}

func (l *Link) UnmarshalYAML(node *yaml.Node) error {
	type rawLink Link
	raw := rawLink(Default(l.Variant))
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*l = Link(raw)
	return nil
}

// Validate returns an error wrapping ErrInvalid describing the first problem.
func (l *Link) Validate() error {
	caps := l.Variant.caps()
	switch {
	case caps.name == "unknown":
		return fmt.Errorf("%w: unknown variant %d", ErrInvalid, int(l.Variant))
	case strings.TrimSpace(l.Guild) == "":
		return fmt.Errorf("%w: missing guild", ErrInvalid)
	case strings.TrimSpace(l.Channel) == "":
		return fmt.Errorf("%w: missing channel", ErrInvalid)
	case caps.requiresGameChannel && strings.Trim(strings.TrimSpace(l.GameChannel), "#") == "":
		return fmt.Errorf("%w: missing game channel", ErrInvalid)
	}
	if _, ok := directionNames[l.Direction]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalid, l.Direction)
	}
	if _, ok := globalMentionNames[l.GlobalMentions]; !ok {
		return fmt.Errorf("%w: %s", ErrInvalid, l.GlobalMentions)
	}
	return nil
}

// IsValid reports whether all fields required by the variant are present.
func (l *Link) IsValid() bool {
	return l.Validate() == nil
}

// MakeCorrections normalizes user-entered names in place and reports whether
// anything changed. Applying it twice changes nothing the second time.
func (l *Link) MakeCorrections() bool {
	before := *l
	if l.Voice && l.Variant != Chat {
		l.Variant = Voice
	}
	l.Guild = strings.TrimSpace(l.Guild)
	l.Channel = strings.TrimSpace(l.Channel)
	l.GameChannel = strings.TrimSpace(l.GameChannel)

	caps := l.Variant.caps()
	if caps.normalizeRemote && !IsSnowflake(l.Channel) {
		l.Channel = strings.ReplaceAll(strings.ToLower(l.Channel), " ", "-")
	}
	if caps.requiresGameChannel {
		l.GameChannel = trimGameChannel(l.GameChannel)
	}
	return *l != before
}

// Key is the stable identity of the link's remote target.
func (l *Link) Key() string {
	return strings.ToLower(l.Guild) + "/" + strings.ToLower(l.Channel)
}

func (l Link) String() string {
	if l.Variant.caps().requiresGameChannel {
		return fmt.Sprintf("%s:%s#%s<->%s", l.Variant, l.Guild, l.Channel, l.GameChannel)
	}
	return fmt.Sprintf("%s:%s#%s", l.Variant, l.Guild, l.Channel)
}

// MatchesGameChannel reports whether a chat in the named game channel
// belongs to this link.
func (l *Link) MatchesGameChannel(name string) bool {
	return strings.EqualFold(l.GameChannel, trimGameChannel(name))
}

// trimGameChannel strips the leading and trailing channel decoration users
// type around game channel names.
func trimGameChannel(name string) string {
	return strings.Trim(name, "# \t")
}

// Verify resolves the link against the remote platform.
func (l *Link) Verify(r remote.Resolver) (Target, error) {
	guild, ok := r.GuildByNameOrID(l.Guild)
	if !ok {
		return Target{}, fmt.Errorf("%w: guild %q not found", ErrUnverified, l.Guild)
	}
	channel, ok := r.ChannelByNameOrID(guild.ID, l.Channel)
	if !ok {
		return Target{}, fmt.Errorf("%w: channel %q not found in guild %q", ErrUnverified, l.Channel, guild.Name)
	}
	if channel.Voice != l.Variant.IsVoice() {
		return Target{}, fmt.Errorf("%w: channel %q has the wrong type for a %s link", ErrUnverified, l.Channel, l.Variant)
	}
	return Target{Link: *l, GuildID: guild.ID, ChannelID: channel.ID}, nil
}

// Target is a verified link with its remote IDs resolved.
type Target struct {
	Link      Link
	GuildID   string
	ChannelID string
}

// Key returns the link key of the target.
func (t Target) Key() string {
	return t.Link.Key()
}

// IsSnowflake reports whether ref looks like a Discord snowflake ID rather than
// a display name.
func IsSnowflake(ref string) bool {
	id, err := strconv.ParseUint(ref, 10, 64)
	return err == nil && id > 0xFFFFFFFFFFFFF
}
