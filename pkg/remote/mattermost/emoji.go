// Copyright 2024-2026 Aiku AI

package mattermost

import "strings"

// emojiByName maps Mattermost emoji short names to unicode symbols.
var emojiByName = map[string]string{
	"+1":               "\U0001f44d",
	"-1":               "\U0001f44e",
	"heart":            "\u2764\ufe0f",
	"smile":            "\U0001f604",
	"laughing":         "\U0001f606",
	"thumbsup":         "\U0001f44d",
	"thumbsdown":       "\U0001f44e",
	"wave":             "\U0001f44b",
	"clap":             "\U0001f44f",
	"fire":             "\U0001f525",
	"100":              "\U0001f4af",
	"tada":             "\U0001f389",
	"eyes":             "\U0001f440",
	"thinking":         "\U0001f914",
	"white_check_mark": "\u2705",
	"heavy_check_mark": "\u2714\ufe0f",
	"x":                "\u274c",
	"warning":          "\u26a0\ufe0f",
	"rocket":           "\U0001f680",
	"star":             "\u2b50",
	"pray":             "\U0001f64f",
}

// emojiAliases are names that map to a symbol already covered by another
// name.
var emojiAliases = map[string]bool{"thumbsup": true, "thumbsdown": true}

// nameByEmoji is the reverse of emojiByName without the aliases.
var nameByEmoji = func() map[string]string {
	out := make(map[string]string, len(emojiByName))
	for name, emoji := range emojiByName {
		if !emojiAliases[name] {
			out[emoji] = name
		}
	}
	return out
}()

// reactionToEmoji converts a Mattermost emoji name to a unicode symbol, or
// ":name:" for custom emoji.
func reactionToEmoji(name string) string {
	if emoji, ok := emojiByName[name]; ok {
		return emoji
	}
	return ":" + name + ":"
}

// emojiToReaction converts a unicode symbol or ":name:" to a Mattermost emoji
// name.
func emojiToReaction(emoji string) string {
	if name, ok := nameByEmoji[emoji]; ok {
		return name
	}
	if len(emoji) > 2 && strings.HasPrefix(emoji, ":") && strings.HasSuffix(emoji, ":") {
		return emoji[1 : len(emoji)-1]
	}
	return emoji
}
