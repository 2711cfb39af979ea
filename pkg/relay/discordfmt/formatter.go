// Copyright 2024-2026 Aiku AI

// Package discordfmt converts game rich text into remote platform markdown.
package discordfmt

import (
	"regexp"
	"strings"
)

// Resolver looks up mention targets by name in the destination guild.
type Resolver interface {
	MemberID(name string) (string, bool)
	RoleID(name string) (string, bool)
	ChannelID(name string) (string, bool)
}

// Options gates which mention classes are rewritten.
type Options struct {
	AllowUserMentions    bool
	AllowRoleMentions    bool
	AllowChannelMentions bool
	AllowGlobalMentions  bool
}

// zeroWidthSpace breaks @everyone/@here without visibly changing the text.
const zeroWidthSpace = "\u200b"

var (
	boldRe     = regexp.MustCompile(`(?is)<b>(.*?)</b>`)
	italicRe   = regexp.MustCompile(`(?is)<i>(.*?)</i>`)
	strikeRe   = regexp.MustCompile(`(?is)<s>(.*?)</s>`)
	underRe    = regexp.MustCompile(`(?is)<u>(.*?)</u>`)
	tagRe      = regexp.MustCompile(`<[^<>]*>`)
	globalRe   = regexp.MustCompile(`@(everyone|here)\b`)
	mentionRe  = regexp.MustCompile(`(^|[\s(])@([\p{L}\p{N}_][\p{L}\p{N}_.-]*)`)
	channelRe  = regexp.MustCompile(`(^|[\s(])#([\p{L}\p{N}_][\p{L}\p{N}_-]*)`)
	markdownRe = regexp.MustCompile("([*_~`|>])")
)

// StripTags converts game style tags to markdown and drops every other tag.
func StripTags(text string) string {
	text = boldRe.ReplaceAllString(text, "**$1**")
	text = italicRe.ReplaceAllString(text, "*$1*")
	text = strikeRe.ReplaceAllString(text, "~~$1~~")
	text = underRe.ReplaceAllString(text, "__${1}__")
	text = tagRe.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// EscapeMarkdown escapes characters with markdown meaning, for text such as
// player names that should render literally.
func EscapeMarkdown(text string) string {
	return markdownRe.ReplaceAllString(text, `\$1`)
}

// Format converts game chat text into remote markdown. Mentions that cannot
// be resolved, or whose class is not allowed, are left as typed.
func Format(text string, r Resolver, opts Options) string {
	text = StripTags(text)

	if !opts.AllowGlobalMentions {
		text = globalRe.ReplaceAllString(text, "@"+zeroWidthSpace+"$1")
	}

	if r != nil && (opts.AllowUserMentions || opts.AllowRoleMentions) {
		text = mentionRe.ReplaceAllStringFunc(text, func(match string) string {
			parts := mentionRe.FindStringSubmatch(match)
			prefix, name := parts[1], parts[2]
			if name == "everyone" || name == "here" {
				return match
			}
			if opts.AllowRoleMentions {
				if id, ok := r.RoleID(name); ok {
					return prefix + "<@&" + id + ">"
				}
			}
			if opts.AllowUserMentions {
				if id, ok := r.MemberID(name); ok {
					return prefix + "<@" + id + ">"
				}
			}
			return match
		})
	}

	if r != nil && opts.AllowChannelMentions {
		text = channelRe.ReplaceAllStringFunc(text, func(match string) string {
			parts := channelRe.FindStringSubmatch(match)
			if id, ok := r.ChannelID(parts[2]); ok {
				return parts[1] + "<#" + id + ">"
			}
			return match
		})
	}

	return text
}

// ChatLine renders one relayed chat message as "**sender**: text".
func ChatLine(sender, text string) string {
	return "**" + EscapeMarkdown(strings.TrimPrefix(sender, "@")) + "**: " + text
}
