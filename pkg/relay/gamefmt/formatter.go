// Copyright 2024-2026 Aiku AI

// Package gamefmt converts remote platform markdown into game rich text.
package gamefmt

import (
	"regexp"
	"strconv"
	"strings"
)

// Resolver names mention targets by ID.
type Resolver interface {
	UserName(id string) (string, bool)
	RoleName(id string) (string, bool)
	ChannelName(id string) (string, bool)
}

var (
	userMentionRe    = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionRe    = regexp.MustCompile(`<@&(\d+)>`)
	channelMentionRe = regexp.MustCompile(`<#(\d+)>`)
	customEmojiRe    = regexp.MustCompile(`<a?:(\w+):\d+>`)
	richTextTagRe    = regexp.MustCompile(`(?i)</?(b|i|s|u|color|size|style|link|sprite|icon|font|mark|align|voffset|material)\b[^<>]*>`)
	codeBlockRe      = regexp.MustCompile("(?s)```(?:\\w+\\n)?(.*?)```")
	inlineCodeRe     = regexp.MustCompile("`([^`]+)`")
	boldRe           = regexp.MustCompile(`\*\*(.+?)\*\*`)
	underlineRe      = regexp.MustCompile(`__(.+?)__`)
	italicStarRe     = regexp.MustCompile(`\*([^*\s][^*]*?)\*`)
	italicUnderRe    = regexp.MustCompile(`(^|\W)_([^_\s][^_]*?)_(\W|$)`)
	strikeRe         = regexp.MustCompile(`~~(.+?)~~`)
	spoilerRe        = regexp.MustCompile(`\|\|(.+?)\|\|`)
	escapeRe         = regexp.MustCompile(`\\([*_~` + "`" + `|>\\])`)
)

// Parse converts remote markdown to game rich text. Mentions are replaced by
// names when r resolves them and left untouched otherwise.
func Parse(text string, r Resolver) string {
	if text == "" {
		return ""
	}

	// Game rich text typed by a remote user must not style the game chat.
	text = richTextTagRe.ReplaceAllString(text, "")

	if r != nil {
		text = userMentionRe.ReplaceAllStringFunc(text, func(match string) string {
			id := userMentionRe.FindStringSubmatch(match)[1]
			if name, ok := r.UserName(id); ok {
				return "@" + name
			}
			return match
		})
		text = roleMentionRe.ReplaceAllStringFunc(text, func(match string) string {
			id := roleMentionRe.FindStringSubmatch(match)[1]
			if name, ok := r.RoleName(id); ok {
				return "@" + name
			}
			return match
		})
		text = channelMentionRe.ReplaceAllStringFunc(text, func(match string) string {
			id := channelMentionRe.FindStringSubmatch(match)[1]
			if name, ok := r.ChannelName(id); ok {
				return "#" + name
			}
			return match
		})
	}
	text = customEmojiRe.ReplaceAllString(text, ":$1:")

	// Code and escaped characters are held in placeholders so the inline
	// rules below leave them alone.
	var code []string
	hold := func(s string) string {
		code = append(code, s)
		return "\x00" + strconv.Itoa(len(code)-1) + "\x00"
	}
	text = codeBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		return hold(strings.TrimSpace(codeBlockRe.FindStringSubmatch(match)[1]))
	})
	text = inlineCodeRe.ReplaceAllStringFunc(text, func(match string) string {
		return hold(inlineCodeRe.FindStringSubmatch(match)[1])
	})
	text = escapeRe.ReplaceAllStringFunc(text, func(match string) string {
		return hold(match[1:])
	})

	text = boldRe.ReplaceAllString(text, "<b>$1</b>")
	text = underlineRe.ReplaceAllString(text, "<u>$1</u>")
	text = italicStarRe.ReplaceAllString(text, "<i>$1</i>")
	text = italicUnderRe.ReplaceAllString(text, "$1<i>$2</i>$3")
	text = strikeRe.ReplaceAllString(text, "<s>$1</s>")
	text = spoilerRe.ReplaceAllString(text, "$1")

	for i, c := range code {
		text = strings.Replace(text, "\x00"+strconv.Itoa(i)+"\x00", c, 1)
	}
	return strings.TrimSpace(text)
}

// ChatLine renders a relayed remote message for the game chat.
func ChatLine(platform, author, text string) string {
	return "[" + platform + "] <b>" + author + "</b>: " + text
}
